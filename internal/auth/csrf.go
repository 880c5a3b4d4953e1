package auth

import (
	"crypto/subtle"
	"net/http"

	"membership-manager/internal/common/utils"
)

const (
	CSRFCookie = "csrf"
	CSRFField  = "csrf"
	CSRFHeader = "X-CSRFToken"

	CSRFFailMessage = "CSRF check fail. Make sure you have cookies enabled. Reload this page and try again."
)

// CSRFToken sets a fresh double-submit cookie and returns its value
func (a *Auth) CSRFToken(w http.ResponseWriter, r *http.Request) {
	random, err := utils.RandomToken(32)
	if err != nil {
		a.logger.Error("Failed to generate CSRF token", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	token := "csrf" + random
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookie,
		Value:    token,
		Path:     "/",
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(token))
}

// RequireCSRF rejects state-changing requests whose form value or header
// does not match the csrf cookie
func RequireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(CSRFCookie)
		if err != nil || cookie.Value == "" {
			http.Error(w, CSRFFailMessage, http.StatusForbidden)
			return
		}

		submitted := r.Header.Get(CSRFHeader)
		if submitted == "" {
			submitted = r.FormValue(CSRFField)
		}
		if subtle.ConstantTimeCompare([]byte(submitted), []byte(cookie.Value)) != 1 {
			http.Error(w, CSRFFailMessage, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
