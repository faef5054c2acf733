package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chris/classifieds-wallet/pkg/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToken(t *testing.T) {
	auth := middleware.NewAuthenticator("secret")

	t.Run("Success", func(t *testing.T) {
		tok, err := auth.IssueToken("user-1", middleware.RoleUser, time.Hour)
		require.NoError(t, err)

		claims, err := auth.ParseToken(tok)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.Subject)
		assert.Equal(t, middleware.RoleUser, claims.Role)
	})

	t.Run("Wrong Secret", func(t *testing.T) {
		tok, err := middleware.NewAuthenticator("other").IssueToken("user-1", middleware.RoleUser, time.Hour)
		require.NoError(t, err)

		_, err = auth.ParseToken(tok)
		assert.ErrorIs(t, err, middleware.ErrInvalidToken)
	})

	t.Run("Expired", func(t *testing.T) {
		tok, err := auth.IssueToken("user-1", middleware.RoleUser, -time.Minute)
		require.NoError(t, err)

		_, err = auth.ParseToken(tok)
		assert.ErrorIs(t, err, middleware.ErrInvalidToken)
	})

	t.Run("Missing Role", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-1"}).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = auth.ParseToken(tok)
		assert.ErrorIs(t, err, middleware.ErrInvalidToken)
	})

	t.Run("Unsigned", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, middleware.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}, Role: middleware.RoleReviewer,
		}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = auth.ParseToken(tok)
		assert.ErrorIs(t, err, middleware.ErrInvalidToken)
	})
}

func TestAuthenticate(t *testing.T) {
	auth := middleware.NewAuthenticator("secret")
	handler := auth.Authenticate(middleware.RequireRole(middleware.RoleReviewer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.ClaimsFromContext(r.Context())
		w.Write([]byte(claims.Subject))
	})))

	call := func(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	t.Run("Success", func(t *testing.T) {
		tok, _ := auth.IssueToken("rev-1", middleware.RoleReviewer, time.Hour)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)

		rr := call(t, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "rev-1", rr.Body.String())
	})

	t.Run("Query Token", func(t *testing.T) {
		tok, _ := auth.IssueToken("rev-1", middleware.RoleReviewer, time.Hour)
		rr := call(t, httptest.NewRequest(http.MethodGet, "/?token="+tok, nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Missing Token", func(t *testing.T) {
		rr := call(t, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("Wrong Role", func(t *testing.T) {
		tok, _ := auth.IssueToken("user-1", middleware.RoleUser, time.Hour)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)

		rr := call(t, req)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Contains(t, rr.Body.String(), "forbidden")
	})
}
