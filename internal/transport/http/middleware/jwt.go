package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fiqh-rag/internal/pkg/jwtutil"
	"fiqh-rag/internal/pkg/logger"
	"fiqh-rag/internal/transport/http/response"
)

const (
	ContextUserUIDKey  = "user_uid"
	ContextUsernameKey = "username"
	ContextClaimsKey   = "claims"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errAuthorizationScheme  = errors.New("invalid authorization scheme")
)

// RevocationChecker reports whether a token id was logged out.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// AuthJWT accepts a valid bearer access token that has not been revoked.
// Refresh tokens are refused. A failing revocation lookup rejects the request.
func AuthJWT(secret string, revocations RevocationChecker, log logrus.FieldLogger) gin.HandlerFunc {
	log = logger.OrDiscard(log).WithField("component", "auth_middleware")
	return func(c *gin.Context) {
		token, err := BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, err.Error())
			c.Abort()
			return
		}

		claims, err := jwtutil.ParseAccessToken(secret, token)
		if errors.Is(err, jwtutil.ErrAccessRequired) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, err.Error())
			c.Abort()
			return
		}
		if err != nil {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		if revocations != nil {
			revoked, err := revocations.IsRevoked(c.Request.Context(), claims.JTI())
			if err != nil {
				log.WithError(err).Error("token revocation lookup failed")
				response.Error(c, http.StatusServiceUnavailable, response.CodeInternalServer, "token check unavailable")
				c.Abort()
				return
			}
			if revoked {
				response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "token has been revoked")
				c.Abort()
				return
			}
		}

		c.Set(ContextUserUIDKey, claims.UserUID)
		c.Set(ContextUsernameKey, claims.Username)
		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingAuthorization
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errAuthorizationScheme
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errMissingAuthorization
	}
	return token, nil
}

// UserUID returns the authenticated user set by AuthJWT.
func UserUID(c *gin.Context) (string, bool) {
	uid := c.GetString(ContextUserUIDKey)
	return uid, uid != ""
}

func Claims(c *gin.Context) (*jwtutil.Claims, bool) {
	v, ok := c.Get(ContextClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwtutil.Claims)
	return claims, ok
}
