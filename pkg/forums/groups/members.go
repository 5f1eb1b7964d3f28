package groups

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/topcoder-platform/forums-groups/pkg/forums/auth"
	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
)

// MembersResponse is one page of a group's members
type MembersResponse struct {
	Members []Member `json:"members"`
	Total   int64    `json:"total"`
	Page    int      `json:"page"`
	Limit   int      `json:"limit"`
}

// UpdateMemberRequest represents a request to update a member's role
type UpdateMemberRequest struct {
	Role models.GroupRole `json:"role" binding:"required"`
}

// ListMembers returns a page of the group's members, leaders first
func (h *Handler) ListMembers(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	result, err := h.svc.ListMembers(c.Request.Context(), auth.GetSession(c), groupID, page, limit)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, MembersResponse{
		Members: result.Members,
		Total:   result.Total,
		Page:    result.Page,
		Limit:   result.Limit,
	})
}

// AddMember adds a user to a group directly (leaders, owner, moderators)
func (h *Handler) AddMember(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	var req AddMemberInput
	if !bindJSON(c, &req) {
		return
	}
	member, err := h.svc.AddMember(c.Request.Context(), auth.GetSession(c), groupID, req)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

// UpdateMember changes a member's role
func (h *Handler) UpdateMember(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	userID, err := ParseID(c, "userID")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	var req UpdateMemberRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.svc.SetRole(c.Request.Context(), auth.GetSession(c), groupID, userID, req.Role); err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "role": req.Role})
}

// RemoveMember removes a member from a group
func (h *Handler) RemoveMember(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	userID, err := ParseID(c, "userID")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	if err := h.svc.RemoveMember(c.Request.Context(), auth.GetSession(c), groupID, userID); err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Member removed"})
}

// RegisterMemberRoutes registers member management routes
func (h *Handler) RegisterMemberRoutes(rg *gin.RouterGroup) {
	rg.GET("/:id/members", h.ListMembers)
	rg.POST("/:id/members", h.AddMember)
	rg.PATCH("/:id/members/:userID", h.UpdateMember)
	rg.DELETE("/:id/members/:userID", h.RemoveMember)
}
