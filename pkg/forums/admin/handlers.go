package admin

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/auth"
	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/groups"
	"github.com/topcoder-platform/forums-groups/pkg/forums/logger"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
)

var (
	ErrCannotDemoteSelf = errs.New(errs.CodeValidation, "cannot demote yourself")
	ErrCannotDeleteSelf = errs.New(errs.CodeValidation, "cannot delete yourself")
	ErrUserOwnsGroups   = errs.New(errs.CodeConflict, "user still owns groups; transfer or delete them first")
)

// Handler handles admin requests
type Handler struct {
	db     *gorm.DB
	groups *groups.Service
	log    *logger.Logger
}

// NewHandler creates a new admin handler
func NewHandler(db *gorm.DB, groupSvc *groups.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{db: db, groups: groupSvc, log: log}
}

// UserResponse represents user data in admin responses
type UserResponse struct {
	ID         uint   `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	SystemRole string `json:"system_role"`
	CreatedAt  string `json:"created_at"`
	GroupCount int64  `json:"group_count"`
	OwnedCount int64  `json:"owned_count"`
}

// UpdateUserRequest represents the request to update a user
type UpdateUserRequest struct {
	Name       *string `json:"name"`
	SystemRole *string `json:"system_role"`
}

// StatsResponse represents forum-wide group statistics
type StatsResponse struct {
	TotalUsers          int64 `json:"total_users"`
	AdminUsers          int64 `json:"admin_users"`
	ModeratorUsers      int64 `json:"moderator_users"`
	TotalGroups         int64 `json:"total_groups"`
	ArchivedGroups      int64 `json:"archived_groups"`
	ChallengeGroups     int64 `json:"challenge_groups"`
	RegularGroups       int64 `json:"regular_groups"`
	TotalMemberships    int64 `json:"total_memberships"`
	PendingInvitations  int64 `json:"pending_invitations"`
	AcceptedInvitations int64 `json:"accepted_invitations"`
	GroupCategories     int64 `json:"group_categories"`
	GroupDiscussions    int64 `json:"group_discussions"`
	ActiveAPIKeys       int64 `json:"active_api_keys"`
}

func (h *Handler) toResponse(user models.User) UserResponse {
	resp := UserResponse{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		SystemRole: string(user.SystemRole),
		CreatedAt:  user.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	h.db.Model(&models.UserGroup{}).Where("user_id = ?", user.ID).Count(&resp.GroupCount)
	h.db.Model(&models.Group{}).Where("owner_id = ?", user.ID).Count(&resp.OwnedCount)
	return resp
}

func (h *Handler) loadUser(c *gin.Context) (*models.User, bool) {
	id, err := groups.ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return nil, false
	}
	var user models.User
	err = h.db.WithContext(c.Request.Context()).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		errs.Abort(c, groups.ErrUserNotFound)
		return nil, false
	}
	if err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to load user"))
		return nil, false
	}
	return &user, true
}

// ListUsers returns all users (admin only)
func (h *Handler) ListUsers(c *gin.Context) {
	var users []models.User

	query := h.db.WithContext(c.Request.Context()).Order("created_at DESC, id DESC")

	// Optional search by email or name
	if search := strings.TrimSpace(c.Query("q")); search != "" {
		query = query.Where("email LIKE ? OR name LIKE ?", "%"+search+"%", "%"+search+"%")
	}

	// Optional filter by role
	if role := c.Query("role"); role != "" {
		query = query.Where("system_role = ?", role)
	}

	if err := query.Find(&users).Error; err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to fetch users"))
		return
	}

	responses := make([]UserResponse, len(users))
	for i, user := range users {
		responses[i] = h.toResponse(user)
	}
	c.JSON(http.StatusOK, responses)
}

// GetUser returns a single user by ID (admin only)
func (h *Handler) GetUser(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.toResponse(*user))
}

// UpdateUser changes a user's handle or system role (admin only)
func (h *Handler) UpdateUser(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeValidation, err, "invalid request body"))
		return
	}

	currentUserID, _ := auth.GetUserID(c)
	if user.ID == currentUserID && req.SystemRole != nil && *req.SystemRole != string(models.SystemRoleAdmin) {
		errs.Abort(c, ErrCannotDemoteSelf)
		return
	}

	var v errs.Validation
	updates := make(map[string]interface{})
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			v.Add("name", "is required")
		}
		updates["name"] = name
	}
	if req.SystemRole != nil {
		switch models.SystemRole(*req.SystemRole) {
		case models.SystemRoleAdmin, models.SystemRoleModerator, models.SystemRoleMember:
			updates["system_role"] = *req.SystemRole
		default:
			v.Add("system_role", "must be one of admin moderator member")
		}
	}
	if err := v.Err(); err != nil {
		errs.Abort(c, err)
		return
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(c.Request.Context()).Model(user).Updates(updates).Error; err != nil {
			errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to update user"))
			return
		}
		h.log.InfoContext(c.Request.Context(), "user updated by admin",
			zap.Uint("user_id", user.ID),
			zap.Uint("admin_id", currentUserID))
	}

	h.db.First(user, user.ID)
	c.JSON(http.StatusOK, h.toResponse(*user))
}

// DeleteUser soft-deletes a user and drops their memberships, watch
// preferences and API keys. Pending invitations are declined, never removed (admin only)
func (h *Handler) DeleteUser(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	currentUserID, _ := auth.GetUserID(c)
	if user.ID == currentUserID {
		errs.Abort(c, ErrCannotDeleteSelf)
		return
	}

	var owned int64
	if err := h.db.WithContext(ctx).Model(&models.Group{}).Where("owner_id = ?", user.ID).Count(&owned).Error; err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to check owned groups"))
		return
	}
	if owned > 0 {
		errs.Abort(c, ErrUserOwnsGroups)
		return
	}

	var groupIDs []uint
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.UserGroup{}).Where("user_id = ?", user.ID).Pluck("group_id", &groupIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.APIKey{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.UserGroup{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.GroupInvitation{}).
			Where("invitee_user_id = ? AND status = ?", user.ID, models.InvitationPending).
			Update("status", models.InvitationDeclined).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.UserMeta{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.UserCategory{}).Error; err != nil {
			return err
		}
		return tx.Delete(user).Error
	})
	if err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeInternal, err, "failed to delete user"))
		return
	}

	for _, gid := range groupIDs {
		h.groups.Invalidate(ctx, gid, user.ID)
	}
	h.log.InfoContext(ctx, "user deleted by admin",
		zap.Uint("user_id", user.ID),
		zap.Uint("admin_id", currentUserID),
		zap.Int("memberships", len(groupIDs)))

	c.JSON(http.StatusOK, gin.H{"message": "User deleted successfully"})
}

// GetStats returns forum-wide group statistics (admin only)
func (h *Handler) GetStats(c *gin.Context) {
	var stats StatsResponse
	db := h.db.WithContext(c.Request.Context())

	db.Model(&models.User{}).Count(&stats.TotalUsers)
	db.Model(&models.User{}).Where("system_role = ?", models.SystemRoleAdmin).Count(&stats.AdminUsers)
	db.Model(&models.User{}).Where("system_role = ?", models.SystemRoleModerator).Count(&stats.ModeratorUsers)

	db.Model(&models.Group{}).Count(&stats.TotalGroups)
	db.Model(&models.Group{}).Where("archived = ?", true).Count(&stats.ArchivedGroups)
	db.Model(&models.Group{}).Where("type = ?", models.GroupTypeChallenge).Count(&stats.ChallengeGroups)
	db.Model(&models.Group{}).Where("type = ?", models.GroupTypeRegular).Count(&stats.RegularGroups)
	db.Model(&models.UserGroup{}).Count(&stats.TotalMemberships)

	db.Model(&models.GroupInvitation{}).
		Where("status = ? AND date_expires > ?", models.InvitationPending, time.Now()).
		Count(&stats.PendingInvitations)
	db.Model(&models.GroupInvitation{}).Where("status = ?", models.InvitationAccepted).Count(&stats.AcceptedInvitations)

	db.Model(&models.Category{}).Where("group_id IS NOT NULL").Count(&stats.GroupCategories)
	db.Model(&models.Discussion{}).Where("group_id IS NOT NULL").Count(&stats.GroupDiscussions)
	db.Model(&models.APIKey{}).Count(&stats.ActiveAPIKeys)

	c.JSON(http.StatusOK, stats)
}

// RegisterRoutes registers admin routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", h.GetStats)
	rg.GET("/users", h.ListUsers)
	rg.GET("/users/:id", h.GetUser)
	rg.PUT("/users/:id", h.UpdateUser)
	rg.DELETE("/users/:id", h.DeleteUser)
}
