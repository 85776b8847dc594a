package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"reconciliation-service/common/auth"
	apperrors "reconciliation-service/common/errors"
	"reconciliation-service/services"
)

const (
	UserContextKey  = "userID"
	RoleContextKey  = "role"
	EmailContextKey = "email"
	AdminRole       = "admin"
)

type identity struct {
	userID string
	role   string
	email  string
}

// fromGateway reads the identity headers the API gateway injects after it
// has verified the caller's session.
func fromGateway(c *gin.Context) identity {
	return identity{
		userID: c.GetHeader("X-User-ID"),
		role:   c.GetHeader("X-User-Role"),
		email:  c.GetHeader("X-User-Email"),
	}
}

// fromBearer validates an access token. ok is false when no bearer token
// was presented at all.
func fromBearer(c *gin.Context, secret []byte) (id identity, ok bool, err error) {
	raw, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !found || raw == "" {
		return identity{}, false, nil
	}
	claims, err := auth.ParseAndValidateToken(raw, secret, "access")
	if err != nil {
		return identity{}, true, err
	}
	return identity{userID: claims.UserID, role: claims.Role, email: claims.Email}, true, nil
}

// AuthMiddleware trusts gateway-injected identity first and falls back to a
// bearer access token signed with jwtSecret for direct callers. Cookies are
// never read: nothing signs them on the way in.
func AuthMiddleware(jwtSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		who := fromGateway(c)
		if who.userID == "" {
			bearer, presented, err := fromBearer(c, jwtSecret)
			if err != nil {
				apperrors.Respond(c, apperrors.Unauthorized("Invalid or expired token"))
				return
			}
			if presented {
				who = bearer
			}
		}
		if who.userID == "" {
			apperrors.Respond(c, apperrors.Unauthorized("Unauthorized"))
			return
		}

		id, err := uuid.Parse(who.userID)
		if err != nil {
			apperrors.Respond(c, apperrors.Unauthorized("invalid user ID format"))
			return
		}

		c.Set(UserContextKey, id)
		c.Set(RoleContextKey, who.role)
		c.Set(EmailContextKey, who.email)
		c.Next()
	}
}

// AdminOnly restricts access to admin role.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(RoleContextKey) != AdminRole {
			apperrors.Respond(c, apperrors.Forbidden("Admin role required"))
			return
		}
		c.Next()
	}
}

// GetUserID extracts the user ID from the Gin context.
func GetUserID(c *gin.Context) (uuid.UUID, error) {
	if id, ok := c.Value(UserContextKey).(uuid.UUID); ok && id != uuid.Nil {
		return id, nil
	}
	return uuid.Nil, errors.New("user ID not found in context")
}

// GetRequester returns the authenticated caller as the services see it.
func GetRequester(c *gin.Context) (services.Requester, error) {
	id, err := GetUserID(c)
	if err != nil {
		return services.Requester{}, err
	}
	return services.Requester{UserID: id, Admin: c.GetString(RoleContextKey) == AdminRole}, nil
}
