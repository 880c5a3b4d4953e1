// Package auth signs admins in with a Google ID token and keeps them signed
// in with a JWT session cookie. Every request also checks that the email
// is still on the authorized list, through a short-lived cache.
package auth

import (
	"context"
	"crypto/sha256"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/pbkdf2"
	"google.golang.org/api/idtoken"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
)

const (
	SessionCookie = "session"

	// AuthorizedCacheTTL bounds how long a revoked user keeps access
	AuthorizedCacheTTL = 5 * time.Minute

	NotAuthorizedMessage = "You are not an authorized user. Please contact your administrator."

	sessionKeySalt = "membership-manager-session"
)

// TokenVerifier checks a Google sign-in token and returns its email
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Authorizer reports whether an email may use the admin pages
type Authorizer interface {
	IsUserAuthorized(ctx context.Context, email string) (bool, error)
}

// GoogleVerifier validates ID tokens against Google's published keys
type GoogleVerifier struct {
	ClientID string
}

// Verify requires a verified email claim for ClientID
func (g GoogleVerifier) Verify(ctx context.Context, token string) (string, error) {
	payload, err := idtoken.Validate(ctx, token, g.ClientID)
	if err != nil {
		return "", errors.AuthError("invalid sign-in token").WithCause(err)
	}
	email, _ := payload.Claims["email"].(string)
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return "", errors.AuthError("sign-in email not verified")
	}
	if email == "" {
		return "", errors.AuthError("sign-in token has no email")
	}
	return email, nil
}

// Config controls session cookies
type Config struct {
	Secret string
	TTL    time.Duration
	// Secure is false only when debugging over plain HTTP
	Secure bool
}

// Auth issues and checks admin sessions
type Auth struct {
	key        []byte
	ttl        time.Duration
	secure     bool
	verifier   TokenVerifier
	authorizer Authorizer
	authorized *cache.Cache
	now        func() time.Time
	logger     logging.Logger
}

// New derives the session signing key from cfg.Secret
func New(cfg Config, verifier TokenVerifier, authorizer Authorizer, logger logging.Logger) (*Auth, error) {
	if cfg.Secret == "" {
		return nil, errors.ConfigError("session secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Auth{
		key:        pbkdf2.Key([]byte(cfg.Secret), []byte(sessionKeySalt), 10000, 32, sha256.New),
		ttl:        cfg.TTL,
		secure:     cfg.Secure,
		verifier:   verifier,
		authorizer: authorizer,
		authorized: cache.New(AuthorizedCacheTTL, 2*AuthorizedCacheTTL),
		now:        time.Now,
		logger:     logger.WithFields(logging.Field{"component", "auth"}),
	}, nil
}

// IssueSession returns a signed session token for email
func (a *Auth) IssueSession(email string) (string, time.Time, error) {
	now := a.now()
	expires := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", time.Time{}, errors.InternalError("failed to sign session", err)
	}
	return signed, expires, nil
}

// ParseSession returns the email a valid session token was issued to
func (a *Auth) ParseSession(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", errors.AuthError("user not logged in")
	}
	return claims.Subject, nil
}

// IsAuthorized consults the authorized sheet at most once per cache TTL
// per email
func (a *Auth) IsAuthorized(ctx context.Context, email string) (bool, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if v, ok := a.authorized.Get(key); ok {
		return v.(bool), nil
	}

	ok, err := a.authorizer.IsUserAuthorized(ctx, email)
	if err != nil {
		return false, err
	}
	a.authorized.Set(key, ok, cache.DefaultExpiration)
	return ok, nil
}

// Forget drops email from the authorized cache
func (a *Auth) Forget(email string) {
	a.authorized.Delete(strings.ToLower(strings.TrimSpace(email)))
}

// TokenSignIn exchanges a Google ID token for a session cookie
func (a *Auth) TokenSignIn(w http.ResponseWriter, r *http.Request) {
	token := r.FormValue("idtoken")
	if token == "" {
		http.Error(w, NotAuthorizedMessage, http.StatusUnauthorized)
		return
	}

	email, err := a.verifier.Verify(r.Context(), token)
	if err != nil {
		a.logger.Warn("Sign-in token rejected", logging.Err(err))
		http.Error(w, NotAuthorizedMessage, http.StatusUnauthorized)
		return
	}

	ok, err := a.IsAuthorized(r.Context(), email)
	if err != nil {
		a.logger.Error("Failed to check authorization", err, logging.String("email", email))
		http.Error(w, errors.PublicMessage(err), errors.HTTPStatus(err))
		return
	}
	if !ok {
		a.logger.Warn("Unauthorized sign-in attempt", logging.String("email", email))
		http.Error(w, NotAuthorizedMessage, http.StatusUnauthorized)
		return
	}

	session, expires, err := a.IssueSession(email)
	if err != nil {
		http.Error(w, errors.PublicMessage(err), errors.HTTPStatus(err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    session,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
	a.logger.Info("User signed in", logging.String("email", email))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(email))
}

// Logout clears the session cookie
func (a *Auth) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/login", http.StatusFound)
}

// RequireAuth admits requests with a valid session for a still-authorized
// email and records the email in the request context
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil {
			a.reject(w, r, "user not logged in")
			return
		}
		email, err := a.ParseSession(cookie.Value)
		if err != nil {
			a.reject(w, r, "user not logged in")
			return
		}

		ok, err := a.IsAuthorized(r.Context(), email)
		if err != nil {
			a.logger.Error("Failed to check authorization", err, logging.String("email", email))
			http.Error(w, errors.PublicMessage(err), errors.HTTPStatus(err))
			return
		}
		if !ok {
			a.reject(w, r, "user not authorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(logging.ContextWithUser(r.Context(), email)))
	})
}

// reject answers API-style requests with 401 and sends browsers to /login
func (a *Auth) reject(w http.ResponseWriter, r *http.Request, msg string) {
	if wantsPage(r) {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	http.Error(w, msg, http.StatusUnauthorized)
}

func wantsPage(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// User returns the signed-in email stored by RequireAuth
func User(r *http.Request) string {
	return logging.UserFromContext(r.Context())
}
