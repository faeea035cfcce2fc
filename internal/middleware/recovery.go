package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

// NewRecoveryMiddleware はハンドラー内のpanicを500レスポンスに変換するミドルウェアを返す。
// http.ErrAbortHandlerによる中断はnet/httpに任せるため再送出する。
// レスポンスの書き込みが始まっていた場合はステータスを書き換えない。
func NewRecoveryMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tw := &trackingWriter{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}

				args := []any{
					slog.String("panic", fmt.Sprint(rec)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				}
				if p, ok := PrincipalFromContext(r.Context()); ok {
					args = append(args, slog.String("appuser_id", p.ID))
				}
				logger.ErrorContext(r.Context(), "ハンドラーでpanicが発生しました", args...)

				if !tw.wroteHeader {
					WriteInternalServerError(tw)
				}
			}()
			next.ServeHTTP(tw, r)
		})
	}
}

// trackingWriter はヘッダー送信済みかどうかを記録する。
type trackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wroteHeader = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.wroteHeader = true
	return t.ResponseWriter.Write(b)
}
