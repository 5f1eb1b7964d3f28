package apikeys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/auth"
	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/logger"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
)

const (
	// KeyLength is the length of the generated API key in bytes (32 bytes = 64 hex chars)
	KeyLength = 32
	// KeyPrefixLength is the number of characters to store as prefix for identification
	KeyPrefixLength = 8
)

var (
	ErrKeyNotFound = errs.New(errs.CodeNotFound, "API key not found")
	ErrKeyRejected = errs.New(errs.CodeUnauthorized, "invalid API key")
)

// Handler handles API key requests
type Handler struct {
	db *gorm.DB
}

// NewHandler creates a new API keys handler
func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

// APIKeyResponse represents an API key in responses
type APIKeyResponse struct {
	ID         uint       `json:"id"`
	KeyPrefix  string     `json:"key_prefix"`
	Label      string     `json:"label"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// CreateAPIKeyRequest represents a request to create an API key
type CreateAPIKeyRequest struct {
	Label string `json:"label" binding:"max=100"`
}

// CreateAPIKeyResponse includes the full key (only shown once)
type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

func generateAPIKey() (string, error) {
	bytes := make([]byte, KeyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func hashAPIKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

func toResponse(k models.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		KeyPrefix:  k.KeyPrefix,
		Label:      k.Label,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}

// Create creates a new API key for the authenticated user
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req CreateAPIKeyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			errs.Abort(c, errs.Wrap(errs.CodeValidation, err, "invalid request body"))
			return
		}
	}

	key, err := generateAPIKey()
	if err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to generate API key"))
		return
	}

	apiKey := models.APIKey{
		UserID:    userID,
		KeyHash:   hashAPIKey(key),
		KeyPrefix: key[:KeyPrefixLength],
		Label:     strings.TrimSpace(req.Label),
	}
	if err := h.db.Create(&apiKey).Error; err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to create API key"))
		return
	}

	// The full key is only visible in this response
	c.JSON(http.StatusCreated, CreateAPIKeyResponse{APIKeyResponse: toResponse(apiKey), Key: key})
}

// List returns all API keys for the authenticated user
func (h *Handler) List(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var apiKeys []models.APIKey
	if err := h.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&apiKeys).Error; err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to fetch API keys"))
		return
	}

	responses := make([]APIKeyResponse, len(apiKeys))
	for i, key := range apiKeys {
		responses[i] = toResponse(key)
	}
	c.JSON(http.StatusOK, responses)
}

// Delete revokes one of the user's API keys
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.GetUserID(c)
	keyID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		errs.Abort(c, errs.New(errs.CodeValidation, "invalid API key ID"))
		return
	}

	var apiKey models.APIKey
	if err := h.db.Where("id = ? AND user_id = ?", keyID, userID).First(&apiKey).Error; err != nil {
		errs.Abort(c, ErrKeyNotFound)
		return
	}

	if err := h.db.Delete(&apiKey).Error; err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to delete API key"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "API key deleted"})
}

// ValidateAPIKey looks up a key by its hash together with its owner
func ValidateAPIKey(db *gorm.DB, key string) (*models.APIKey, error) {
	var apiKey models.APIKey
	if err := db.Preload("User").Where("key_hash = ?", hashAPIKey(key)).First(&apiKey).Error; err != nil {
		return nil, err
	}
	return &apiKey, nil
}

// UpdateLastUsed updates the last_used_at timestamp for an API key
func UpdateLastUsed(db *gorm.DB, apiKeyID uint) error {
	return db.Model(&models.APIKey{}).Where("id = ?", apiKeyID).Update("last_used_at", time.Now()).Error
}

// CombinedAuthMiddleware authenticates via JWT or API key.
// Both are passed as "Authorization: Bearer <token>"; JWTs contain dots, API keys are hex.
func CombinedAuthMiddleware(db *gorm.DB, tokens *auth.TokenManager, log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		token, present, err := auth.BearerToken(c)
		if err != nil {
			errs.Abort(c, err)
			return
		}
		if !present {
			errs.Abort(c, auth.ErrAuthRequired)
			return
		}

		if strings.Contains(token, ".") {
			claims, err := tokens.Validate(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					errs.Abort(c, auth.ErrTokenExpired)
				} else {
					errs.Abort(c, auth.ErrTokenRejected)
				}
				return
			}
			user, err := auth.ActiveUser(c.Request.Context(), db, claims.UserID)
			if err != nil {
				errs.Abort(c, err)
				return
			}
			auth.SetIdentity(c, user.ID, user.Email, string(user.SystemRole))
			c.Next()
			return
		}

		apiKey, err := ValidateAPIKey(db, token)
		if err != nil || apiKey.User.ID == 0 {
			errs.Abort(c, ErrKeyRejected)
			return
		}
		if err := UpdateLastUsed(db, apiKey.ID); err != nil {
			log.WarnContext(c.Request.Context(), "failed to record API key use", zap.Uint("api_key_id", apiKey.ID), zap.Error(err))
		}

		auth.SetIdentity(c, apiKey.UserID, apiKey.User.Email, string(apiKey.User.SystemRole))
		c.Next()
	}
}

// RegisterRoutes registers API key routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/api-keys", h.Create)
	rg.GET("/api-keys", h.List)
	rg.DELETE("/api-keys/:id", h.Delete)
}
