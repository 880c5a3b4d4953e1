package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"membership-manager/internal/common/logging"
	"membership-manager/internal/metrics"
)

func ok(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestRequestID(t *testing.T) {
	var seen interface{}
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Context().Value(logging.RequestIDKey)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := rec.Header().Get(RequestIDHeader)
	assert.True(t, strings.HasPrefix(generated, "req_"))
	assert.Equal(t, generated, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req_given")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req_given", rec.Header().Get(RequestIDHeader))
}

func TestLogging_RecordsRouteTemplate(t *testing.T) {
	m := metrics.NewRegistry()
	router := mux.NewRouter()
	router.Use(Logging(m))
	router.HandleFunc("/self-serve/join", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/self-serve/join", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	count, err := testutil.GatherAndCount(m.Gatherer(), "membership_http_requests_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestOrigin(t *testing.T) {
	tests := []struct {
		page   string
		origin string
		ok     bool
	}{
		{"https://example.org/join/", "https://example.org", true},
		{"http://Example.org:8080/x?y=1", "http://example.org:8080", true},
		{"example.org/join", "", false},
		{"", "", false},
		{"/relative/path", "", false},
	}
	for _, tt := range tests {
		got, ok := Origin(tt.page)
		assert.Equal(t, tt.ok, ok, tt.page)
		assert.Equal(t, tt.origin, got, tt.page)
	}
}

func TestEmbedCheck(t *testing.T) {
	h := EmbedCheck([]string{"https://example.org", "http://localhost:8000/"}, false)(http.HandlerFunc(ok))

	get := func(referer string) int {
		req := httptest.NewRequest(http.MethodGet, "/self-serve/join", nil)
		if referer != "" {
			req.Header.Set("Referer", referer)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	post := func(embedder string) (int, string) {
		form := url.Values{EmbedderField: {embedder}}
		req := httptest.NewRequest(http.MethodPost, "/self-serve/join", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code, rec.Body.String()
	}

	assert.Equal(t, http.StatusOK, get("https://example.org/membership"))
	assert.Equal(t, http.StatusOK, get("http://localhost:8000/page"))
	assert.Equal(t, http.StatusForbidden, get(""))
	assert.Equal(t, http.StatusForbidden, get("https://evil.example.com/"))

	code, body := post("https://example.org/join")
	assert.Equal(t, http.StatusOK, code)

	code, body = post("")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Contains(t, body, "missing embed origin")

	code, body = post("https://evil.example.com/join")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Contains(t, body, "bad embed origin")
}

func TestEmbedCheck_Skip(t *testing.T) {
	h := EmbedCheck(nil, true)(http.HandlerFunc(ok))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/self-serve/join", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
