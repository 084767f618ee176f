package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiqh-rag/internal/pkg/jwtutil"
)

const secret = "middleware-secret"

type revocations struct {
	revoked map[string]bool
	err     error
}

func (r *revocations) IsRevoked(_ context.Context, jti string) (bool, error) {
	return r.revoked[jti], r.err
}

func router(rev RevocationChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AccessLog(nil))
	r.GET("/me", AuthJWT(secret, rev, nil), func(c *gin.Context) {
		uid, _ := UserUID(c)
		claims, ok := Claims(c)
		if !ok {
			c.String(http.StatusInternalServerError, "no claims")
			return
		}
		c.String(http.StatusOK, uid+"|"+claims.Username)
	})
	return r
}

func get(r http.Handler, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthJWT(t *testing.T) {
	token, err := jwtutil.GenerateToken(secret, time.Hour, "user-1", "amina")
	require.NoError(t, err)
	claims, err := jwtutil.ParseToken(secret, token)
	require.NoError(t, err)

	rev := &revocations{revoked: map[string]bool{}}
	r := router(rev)

	w := get(r, "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-1|amina", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Token "+token).Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "Bearer garbage").Code)

	rev.revoked[claims.JTI()] = true
	w = get(r, "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "revoked")
}

func TestAuthJWTRevocationLookupFails(t *testing.T) {
	token, err := jwtutil.GenerateToken(secret, time.Hour, "user-1", "amina")
	require.NoError(t, err)

	r := router(&revocations{err: errors.New("redis down")})
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "Bearer "+token).Code)

	assert.Equal(t, http.StatusOK, get(router(nil), "Bearer "+token).Code)
}

func TestAuthJWTRejectsRefreshToken(t *testing.T) {
	refresh, err := jwtutil.GenerateRefreshToken(secret, time.Hour, "user-1", "amina")
	require.NoError(t, err)

	w := get(router(&revocations{revoked: map[string]bool{}}), "Bearer "+refresh)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "access token required")
}

func TestBearerToken(t *testing.T) {
	token, err := BearerToken("  Bearer abc ")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	for _, header := range []string{"", "Bearer", "Basic abc", "bearer abc"} {
		_, err := BearerToken(header)
		assert.Error(t, err, header)
	}
}
