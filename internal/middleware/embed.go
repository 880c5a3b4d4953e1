package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"membership-manager/internal/common/logging"
)

// EmbedderField is the form value self-serve pages post their host page in
const EmbedderField = "_embedder"

// EmbedCheck only admits self-serve requests from pages on allowed
// origins. POSTs name the page in the _embedder form value; GETs are
// judged by Referer. With skip set (debugging) everything passes.
func EmbedCheck(allowed []string, skip bool) func(http.Handler) http.Handler {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[strings.TrimRight(strings.ToLower(o), "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip {
				logging.WithContext(r.Context()).Warn("Skipping embed origin check", logging.String("path", r.URL.Path))
				next.ServeHTTP(w, r)
				return
			}

			embedder := r.Referer()
			if r.Method == http.MethodPost {
				embedder = r.FormValue(EmbedderField)
			}

			origin, ok := Origin(embedder)
			if !ok {
				http.Error(w, "missing embed origin", http.StatusForbidden)
				return
			}
			if !origins[origin] {
				logging.WithContext(r.Context()).Warn("Rejected embed origin", logging.String("origin", origin))
				http.Error(w, "bad embed origin", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Origin reduces a page URL to scheme://host[:port]
func Origin(page string) (string, bool) {
	u, err := url.Parse(page)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}
