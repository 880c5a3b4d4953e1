package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
)

type MockVerifier struct {
	mock.Mock
}

func (m *MockVerifier) Verify(ctx context.Context, token string) (string, error) {
	args := m.Called(token)
	return args.String(0), args.Error(1)
}

type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) IsUserAuthorized(ctx context.Context, email string) (bool, error) {
	args := m.Called(email)
	return args.Bool(0), args.Error(1)
}

func newTestAuth(t *testing.T) (*Auth, *MockVerifier, *MockAuthorizer) {
	t.Helper()
	v := &MockVerifier{}
	z := &MockAuthorizer{}
	a, err := New(Config{Secret: "test-secret", TTL: time.Hour}, v, z, nil)
	require.NoError(t, err)
	return a, v, z
}

func signInRequest(token string) *http.Request {
	form := url.Values{"idtoken": {token}}
	req := httptest.NewRequest(http.MethodPost, "/tokensignin", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestSessionRoundTrip(t *testing.T) {
	a, _, _ := newTestAuth(t)

	token, expires, err := a.IssueSession("admin@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	email, err := a.ParseSession(token)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", email)
}

func TestParseSession_Rejects(t *testing.T) {
	a, _, _ := newTestAuth(t)

	t.Run("garbage", func(t *testing.T) {
		_, err := a.ParseSession("not-a-jwt")
		assert.True(t, errors.IsType(err, errors.ErrTypeAuth))
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := New(Config{Secret: "different"}, nil, nil, nil)
		require.NoError(t, err)
		token, _, err := other.IssueSession("admin@example.com")
		require.NoError(t, err)
		_, err = a.ParseSession(token)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, _, err := a.IssueSession("admin@example.com")
		require.NoError(t, err)
		a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { a.now = time.Now }()
		_, err = a.ParseSession(token)
		assert.Error(t, err)
	})
}

func TestTokenSignIn(t *testing.T) {
	t.Run("success sets cookie", func(t *testing.T) {
		a, v, z := newTestAuth(t)
		v.On("Verify", "good").Return("admin@example.com", nil)
		z.On("IsUserAuthorized", "admin@example.com").Return(true, nil)

		rec := httptest.NewRecorder()
		a.TokenSignIn(rec, signInRequest("good"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "admin@example.com", rec.Body.String())

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, SessionCookie, cookies[0].Name)
		assert.True(t, cookies[0].HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

		email, err := a.ParseSession(cookies[0].Value)
		require.NoError(t, err)
		assert.Equal(t, "admin@example.com", email)
	})

	t.Run("missing token", func(t *testing.T) {
		a, _, _ := newTestAuth(t)
		rec := httptest.NewRecorder()
		a.TokenSignIn(rec, signInRequest(""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), NotAuthorizedMessage)
	})

	t.Run("invalid token", func(t *testing.T) {
		a, v, _ := newTestAuth(t)
		v.On("Verify", "bad").Return("", errors.AuthError("invalid sign-in token"))
		rec := httptest.NewRecorder()
		a.TokenSignIn(rec, signInRequest("bad"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("not authorized", func(t *testing.T) {
		a, v, z := newTestAuth(t)
		v.On("Verify", "good").Return("stranger@example.com", nil)
		z.On("IsUserAuthorized", "stranger@example.com").Return(false, nil)
		rec := httptest.NewRecorder()
		a.TokenSignIn(rec, signInRequest("good"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, rec.Result().Cookies())
	})
}

func TestIsAuthorized_Cached(t *testing.T) {
	a, _, z := newTestAuth(t)
	z.On("IsUserAuthorized", "admin@example.com").Return(true, nil).Once()

	for i := 0; i < 3; i++ {
		ok, err := a.IsAuthorized(context.Background(), "admin@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	z.AssertNumberOfCalls(t, "IsUserAuthorized", 1)

	a.Forget("ADMIN@example.com")
	z.On("IsUserAuthorized", "admin@example.com").Return(false, nil).Once()
	ok, err := a.IsAuthorized(context.Background(), "admin@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRequireAuth(t *testing.T) {
	a, _, z := newTestAuth(t)
	z.On("IsUserAuthorized", "admin@example.com").Return(true, nil)
	z.On("IsUserAuthorized", "revoked@example.com").Return(false, nil)

	var seen string
	protected := a.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = User(r)
		assert.Equal(t, seen, logging.UserFromContext(r.Context()))
	}))

	withSession := func(email string) *http.Request {
		token, _, err := a.IssueSession(email)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/all-members-json", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token})
		return req
	}

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, withSession("admin@example.com"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin@example.com", seen)

	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, withSession("revoked@example.com"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "user not authorized")

	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/all-members-json", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "user not logged in")

	page := httptest.NewRequest(http.MethodGet, "/", nil)
	page.Header.Set("Accept", "text/html,application/xhtml+xml")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, page)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestLogout(t *testing.T) {
	a, _, _ := newTestAuth(t)
	rec := httptest.NewRecorder()
	a.Logout(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].MaxAge < 0)
}
