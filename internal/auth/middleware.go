package auth

import (
	"net/http"

	"github.com/vitrin/marketplace/internal/shared"
)

// RequireUser sends anonymous requests to the login page. GET targets are
// remembered so login can return to them.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess != nil && sess.User() != "" {
			next.ServeHTTP(w, r)
			return
		}
		if sess != nil {
			if r.Method == http.MethodGet {
				sess.Set(ReturnToKey, r.URL.RequestURI())
			}
			sess.AddFlash(shared.FlashMessage{Kind: shared.FlashError, Title: "Hata", Message: "Oturum açmanız gerekiyor"})
		}
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
	})
}
