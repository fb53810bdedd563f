package middleware

import (
	"net/http"

	"github.com/uploadkit/uploadkit/internal/storage"
)

// SignedURL verifies the signed token on temporary file URLs. The token's
// embedded path must match the path actually requested, so a leaked token
// cannot be replayed against another file. With no secret configured the
// check is skipped (local development).
func SignedURL(secret string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next(w, r)
				return
			}

			path, err := storage.VerifyPath([]byte(secret), r.URL.Query().Get("token"))
			if err != nil || path != r.PathValue("path") {
				http.Error(w, "invalid or expired link", http.StatusForbidden)
				return
			}

			next(w, r)
		}
	}
}
