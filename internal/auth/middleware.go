package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenCalibrationCore/internal/types"
)

// Context keys set by AuthMiddleware.
const (
	permissionsKey = "permissions"
	usernameKey    = "username"
	roleKey        = "role"
	userIDKey      = "user_id"
)

// Caller describes who sent a request. Machine tokens report their
// configured name as Username and an empty Role.
type Caller struct {
	Username    string       `json:"username"`
	Role        string       `json:"role,omitempty"`
	Permissions []Permission `json:"permissions"`
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func abort(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, types.NewErrorResponse(code, message, details))
}

// AuthMiddleware resolves the bearer token into permissions. With auth
// disabled every request acts as admin.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Set(permissionsKey, RoleToPermissions("admin"))
			c.Set(roleKey, "admin")
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, http.StatusUnauthorized, "AUTH_401", "Missing authorization header", nil)
			return
		}
		token, ok := bearerToken(header)
		if !ok {
			abort(c, http.StatusUnauthorized, "AUTH_401", "Invalid authorization header format", nil)
			return
		}

		if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
			c.Set(permissionsKey, RoleToPermissions(claims.Role))
			c.Set(userIDKey, claims.Subject)
			c.Set(usernameKey, claims.Username)
			c.Set(roleKey, claims.Role)
			c.Next()
			return
		}

		mt, err := a.lookupMachineToken(token, c.ClientIP(), c.GetHeader("User-Agent"))
		if err != nil {
			abort(c, http.StatusUnauthorized, "AUTH_401", "Invalid or expired token", nil)
			return
		}
		c.Set(permissionsKey, mt.permissions)
		c.Set(usernameKey, mt.name)
		c.Next()
	}
}

// RequirePermission rejects callers without required.
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(permissionsKey); !exists {
			abort(c, http.StatusForbidden, "AUTH_403", "No permissions found", nil)
			return
		}
		if !HasPermission(c, required) {
			abort(c, http.StatusForbidden, "AUTH_403", "Insufficient permissions", gin.H{"required": string(required)})
			return
		}
		c.Next()
	}
}

// HasPermission reports whether the authenticated caller holds required.
func HasPermission(c *gin.Context, required Permission) bool {
	for _, p := range permissions(c) {
		if p == required {
			return true
		}
	}
	return false
}

func permissions(c *gin.Context) []Permission {
	perms, ok := c.Get(permissionsKey)
	if !ok {
		return nil
	}
	p, _ := perms.([]Permission)
	return p
}

// CallerFrom returns the caller set by AuthMiddleware.
func CallerFrom(c *gin.Context) Caller {
	return Caller{
		Username:    c.GetString(usernameKey),
		Role:        c.GetString(roleKey),
		Permissions: permissions(c),
	}
}
