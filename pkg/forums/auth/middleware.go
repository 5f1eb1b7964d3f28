package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/permissions"
)

const (
	// ContextKeyUserID is the key for user ID in gin context
	ContextKeyUserID = "user_id"
	// ContextKeyEmail is the key for email in gin context
	ContextKeyEmail = "email"
	// ContextKeySystemRole is the key for system role in gin context
	ContextKeySystemRole = "system_role"

	// CookieName carries the session token for the HTML pages
	CookieName = "forums_token"
)

var (
	ErrAuthRequired  = errs.New(errs.CodeUnauthorized, "authentication required")
	ErrHeaderFormat  = errs.New(errs.CodeUnauthorized, "invalid authorization header format")
	ErrTokenRejected = errs.New(errs.CodeUnauthorized, "invalid token")
	ErrTokenExpired  = errs.New(errs.CodeUnauthorized, "token has expired")
	ErrAdminRequired = errs.New(errs.CodeForbidden, "admin access required")
	ErrAccountGone   = errs.New(errs.CodeUnauthorized, "account no longer exists")
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
// It reports false when the header is absent and errors when it is malformed.
func BearerToken(c *gin.Context) (string, bool, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false, nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", true, ErrHeaderFormat
	}
	return parts[1], true, nil
}

// SetIdentity stores the authenticated user in the gin context
func SetIdentity(c *gin.Context, userID uint, email, systemRole string) {
	c.Set(ContextKeyUserID, userID)
	c.Set(ContextKeyEmail, email)
	c.Set(ContextKeySystemRole, systemRole)
}

func tokenError(err error) error {
	if errors.Is(err, ErrExpiredToken) {
		return ErrTokenExpired
	}
	return ErrTokenRejected
}

// AuthMiddleware validates JWT bearer tokens and sets user info in context
func AuthMiddleware(tokens *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present, err := BearerToken(c)
		if err != nil {
			errs.Abort(c, err)
			return
		}
		if !present {
			errs.Abort(c, ErrAuthRequired)
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			errs.Abort(c, tokenError(err))
			return
		}

		SetIdentity(c, claims.UserID, claims.Email, claims.SystemRole)
		c.Next()
	}
}

// OptionalAuth identifies the user from a bearer token or the session cookie
// when one is present and valid. Anyone else continues as a guest.
func OptionalAuth(tokens *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, present, err := BearerToken(c)
		if err != nil || !present {
			token, err = c.Cookie(CookieName)
			if err != nil {
				token = ""
			}
		}
		if token != "" {
			if claims, err := tokens.Validate(token); err == nil {
				SetIdentity(c, claims.UserID, claims.Email, claims.SystemRole)
			}
		}
		c.Next()
	}
}

// ActiveUser loads the user a token was issued to. Deleted users are
// rejected with ErrAccountGone.
func ActiveUser(ctx context.Context, db *gorm.DB, userID uint) (*models.User, error) {
	var user models.User
	err := db.WithContext(ctx).Take(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountGone
	}
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "failed to load user")
	}
	return &user, nil
}

// RequireActiveUser replaces the identity taken from the token with the
// stored user, so role changes and deletions apply before the token expires.
// It runs after AuthMiddleware.
func RequireActiveUser(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok || userID == 0 {
			errs.Abort(c, ErrAuthRequired)
			return
		}
		user, err := ActiveUser(c.Request.Context(), db, userID)
		if err != nil {
			errs.Abort(c, err)
			return
		}
		SetIdentity(c, user.ID, user.Email, string(user.SystemRole))
		c.Next()
	}
}

// OptionalActiveUser is RequireActiveUser for pages open to guests.
// A token whose user is gone continues as a guest.
func OptionalActiveUser(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID, ok := GetUserID(c); ok && userID != 0 {
			if user, err := ActiveUser(c.Request.Context(), db, userID); err == nil {
				SetIdentity(c, user.ID, user.Email, string(user.SystemRole))
			} else {
				SetIdentity(c, 0, "", "")
			}
		}
		c.Next()
	}
}

// RequireAdmin middleware checks if the user has admin system role
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := GetSystemRole(c)
		if !exists {
			errs.Abort(c, ErrAuthRequired)
			return
		}

		if role != string(models.SystemRoleAdmin) {
			errs.Abort(c, ErrAdminRequired)
			return
		}

		c.Next()
	}
}

// GetUserID returns the user ID from the gin context
func GetUserID(c *gin.Context) (uint, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, false
	}
	id, ok := userID.(uint)
	return id, ok
}

// GetEmail returns the email from the gin context
func GetEmail(c *gin.Context) (string, bool) {
	email, exists := c.Get(ContextKeyEmail)
	if !exists {
		return "", false
	}
	s, ok := email.(string)
	return s, ok
}

// GetSystemRole returns the system role from the gin context
func GetSystemRole(c *gin.Context) (string, bool) {
	role, exists := c.Get(ContextKeySystemRole)
	if !exists {
		return "", false
	}
	s, ok := role.(string)
	return s, ok
}

// GetSession returns the permission session for the request, a guest when unauthenticated
func GetSession(c *gin.Context) permissions.Session {
	userID, ok := GetUserID(c)
	if !ok || userID == 0 {
		return permissions.Guest()
	}
	role, _ := GetSystemRole(c)
	return permissions.NewSession(userID, models.SystemRole(role))
}
