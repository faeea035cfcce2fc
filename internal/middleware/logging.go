package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// responseMeter はステータスコードと書き込みバイト数を記録する。
type responseMeter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (m *responseMeter) WriteHeader(code int) {
	if m.status == 0 {
		m.status = code
	}
	m.ResponseWriter.WriteHeader(code)
}

func (m *responseMeter) Write(b []byte) (int, error) {
	if m.status == 0 {
		m.status = http.StatusOK
	}
	n, err := m.ResponseWriter.Write(b)
	m.bytes += n
	return n, err
}

// statusCode はハンドラーが何も書かなかった場合に200を返す。
func (m *responseMeter) statusCode() int {
	if m.status == 0 {
		return http.StatusOK
	}
	return m.status
}

// HTTPStatusRecorder はレスポンスステータスを記録する。
type HTTPStatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// levelForStatus は5xxをERROR、4xxをWARNとする。
func levelForStatus(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// NewLoggingMiddleware は1リクエストごとに"http_request"ログを出力する。
// 認証済みリクエストにはappuser_idを付ける。
func NewLoggingMiddleware(logger *slog.Logger, recorder HTTPStatusRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			meter := &responseMeter{ResponseWriter: w}

			// Principalは内側の認証ミドルウェアが設定する
			holder := &principalHolder{}
			next.ServeHTTP(meter, r.WithContext(contextWithHolder(r.Context(), holder)))

			status := meter.statusCode()
			args := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", meter.bytes),
				slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
			}
			if holder.id != "" {
				args = append(args, slog.String("appuser_id", holder.id))
			}

			if recorder != nil {
				recorder.RecordHTTPStatus(status)
			}
			logger.Log(r.Context(), levelForStatus(status), "http_request", args...)
		})
	}
}
