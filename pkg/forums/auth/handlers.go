package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/logger"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
)

var (
	ErrEmailTaken         = errs.New(errs.CodeConflict, "email already registered")
	ErrNameTaken          = errs.New(errs.CodeConflict, "name already taken")
	ErrInvalidCredentials = errs.New(errs.CodeUnauthorized, "invalid email or password")
)

// Handler handles authentication requests
type Handler struct {
	db     *gorm.DB
	tokens *TokenManager
	log    *logger.Logger
}

// NewHandler creates a new auth handler
func NewHandler(db *gorm.DB, tokens *TokenManager, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{db: db, tokens: tokens, log: log}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required,max=64"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// UserResponse represents user data in responses
type UserResponse struct {
	ID         uint   `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	SystemRole string `json:"system_role"`
}

func toUserResponse(u models.User) UserResponse {
	return UserResponse{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		SystemRole: string(u.SystemRole),
	}
}

// Register handles user registration
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeValidation, err, "invalid request body"))
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)

	var count int64
	if err := h.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&count).Error; err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to look up user"))
		return
	}
	if count > 0 {
		errs.Abort(c, ErrEmailTaken)
		return
	}
	if err := h.db.Model(&models.User{}).Where("name = ?", req.Name).Count(&count).Error; err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to look up user"))
		return
	}
	if count > 0 {
		errs.Abort(c, ErrNameTaken)
		return
	}

	hashedPassword, err := HashPassword(req.Password)
	if err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to process password"))
		return
	}

	user := models.User{
		Email:        req.Email,
		PasswordHash: hashedPassword,
		Name:         req.Name,
		SystemRole:   models.SystemRoleMember,
	}
	if err := h.db.Create(&user).Error; err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to create user"))
		return
	}

	token, err := h.tokens.Generate(user.ID, user.Email, string(user.SystemRole))
	if err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to generate token"))
		return
	}

	h.log.InfoContext(c.Request.Context(), "user registered", zap.Uint("user_id", user.ID))
	c.JSON(http.StatusCreated, AuthResponse{Token: token, User: toUserResponse(user)})
}

// Login handles user login. The token is returned in the body and also set
// as the session cookie used by the HTML pages.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeValidation, err, "invalid request body"))
		return
	}

	var user models.User
	err := h.db.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		errs.Abort(c, ErrInvalidCredentials)
		return
	}
	if err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to look up user"))
		return
	}

	if !CheckPassword(req.Password, user.PasswordHash) {
		errs.Abort(c, ErrInvalidCredentials)
		return
	}

	token, err := h.tokens.Generate(user.ID, user.Email, string(user.SystemRole))
	if err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to generate token"))
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(CookieName, token, int(h.tokens.TTL().Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, AuthResponse{Token: token, User: toUserResponse(user)})
}

// Me returns the current authenticated user
func (h *Handler) Me(c *gin.Context) {
	userID, exists := GetUserID(c)
	if !exists {
		errs.Abort(c, ErrAuthRequired)
		return
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		errs.Abort(c, errs.New(errs.CodeNotFound, "user not found"))
		return
	}

	c.JSON(http.StatusOK, toUserResponse(user))
}

// Logout clears the session cookie; bearer tokens are discarded client-side
func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie(CookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// RegisterRoutes registers auth routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/register", h.Register)
	rg.POST("/login", h.Login)
	rg.POST("/logout", h.Logout)
	rg.GET("/me", AuthMiddleware(h.tokens), h.Me)
}
