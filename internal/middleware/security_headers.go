package middleware

import "net/http"

// hstsValue はHTTPS経由のレスポンスに付与するStrict-Transport-Security。
const hstsValue = "max-age=63072000; includeSubDomains"

// NewSecurityHeadersMiddleware はAPIレスポンス用のセキュリティヘッダーを付与する。
// トークンや利用者情報を返すためキャッシュは禁止する。
// HSTSはTLS終端（またはX-Forwarded-Proto: https）のリクエストにのみ付ける。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
				h.Set("Strict-Transport-Security", hstsValue)
			}
			next.ServeHTTP(w, r)
		})
	}
}
