package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	ats "github.com/muasya/ats-go"
	"github.com/muasya/ats-go/audit"
)

// Context keys for request data stored in gin.Context.
const (
	KeyUserID    = "ats_user_id"
	KeyClaims    = "ats_claims"
	KeyRequestID = "ats_request_id"

	headerRequestID = "X-Request-ID"
)

// RequestID tags every request with an id, taken from X-Request-ID when the
// caller supplies one. The id reaches audit events through the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(KeyRequestID, id)
		c.Header(headerRequestID, id)
		c.Request = c.Request.WithContext(audit.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// RequireSession rejects requests while the store is signed out. With a
// verifier configured the bearer token must also verify and belong to the
// signed-in identity.
func (s *Server) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := s.store.Session().UserID()
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
			return
		}

		ctx := ats.WithUserID(c.Request.Context(), userID)
		if s.verifier != nil {
			tokenStr := extractBearerToken(c.Request)
			if tokenStr == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
				return
			}
			claims, err := s.verifier.Verify(c.Request.Context(), tokenStr)
			if err != nil {
				s.logger.Debug("token rejected", "err", err)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			if claims.Subject != userID {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "token belongs to another identity"})
				return
			}
			c.Set(KeyClaims, claims)
			ctx = ats.WithClaims(ctx, claims)
		}
		if id := s.store.Tenant().CurrentID(); id != "" {
			ctx = ats.WithCompanyID(ctx, id)
		}

		c.Set(KeyUserID, userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetUserID returns the identity set by RequireSession.
func GetUserID(c *gin.Context) string {
	return c.GetString(KeyUserID)
}

// GetClaims returns the verified claims set by RequireSession, if any.
func GetClaims(c *gin.Context) *ats.Claims {
	v, _ := c.Get(KeyClaims)
	claims, _ := v.(*ats.Claims)
	return claims
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
