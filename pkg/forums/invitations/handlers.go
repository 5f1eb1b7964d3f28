package invitations

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/topcoder-platform/forums-groups/pkg/forums/auth"
	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/groups"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
)

// Handler handles invitation requests
type Handler struct {
	svc *Service
}

// NewHandler creates a new invitations handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// InvitationResponse represents an invitation in API responses.
// Token is only filled in for the invitee.
type InvitationResponse struct {
	ID              uint                    `json:"id"`
	GroupID         uint                    `json:"group_id"`
	GroupName       string                  `json:"group_name,omitempty"`
	InviteeUserID   uint                    `json:"invitee_user_id"`
	InviteeName     string                  `json:"invitee_name,omitempty"`
	InvitedByUserID uint                    `json:"invited_by_user_id"`
	InvitedByName   string                  `json:"invited_by_name,omitempty"`
	Status          models.InvitationStatus `json:"status"`
	Expired         bool                    `json:"expired"`
	Token           string                  `json:"token,omitempty"`
	DateExpires     time.Time               `json:"date_expires"`
	DateInserted    time.Time               `json:"date_inserted"`
	DateAccepted    *time.Time              `json:"date_accepted,omitempty"`
}

func (h *Handler) toResponse(ctx context.Context, inv models.GroupInvitation) InvitationResponse {
	resp := InvitationResponse{
		ID:              inv.GroupInvitationID,
		GroupID:         inv.GroupID,
		InviteeUserID:   inv.InviteeUserID,
		InviteeName:     inv.Invitee.Name,
		InvitedByUserID: inv.InvitedByUserID,
		InvitedByName:   inv.InvitedBy.Name,
		Status:          inv.Status,
		Expired:         inv.IsExpired(h.svc.now()),
		DateExpires:     inv.DateExpires,
		DateInserted:    inv.DateInserted,
		DateAccepted:    inv.DateAccepted,
	}
	if g, err := h.svc.groups.Load(ctx, inv.GroupID); err == nil {
		resp.GroupName = g.Name
	}
	return resp
}

// Create issues an invitation to join the group
// @Summary Invite a user to a group
// @Tags invitations
// @Router /groups/{id}/invitations [post]
func (h *Handler) Create(c *gin.Context) {
	groupID, err := groups.ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	var in IssueInput
	if err := c.ShouldBindJSON(&in); err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeValidation, err, "invalid request body"))
		return
	}
	inv, err := h.svc.Issue(c.Request.Context(), auth.GetSession(c), groupID, in)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.toResponse(c.Request.Context(), *inv))
}

// ListForGroup returns the group's invitation history
// @Router /groups/{id}/invitations [get]
func (h *Handler) ListForGroup(c *gin.Context) {
	groupID, err := groups.ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	list, err := h.svc.ListForGroup(c.Request.Context(), auth.GetSession(c), groupID)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	out := make([]InvitationResponse, len(list))
	for i, inv := range list {
		out[i] = h.toResponse(c.Request.Context(), inv)
	}
	c.JSON(http.StatusOK, out)
}

// Pending returns the caller's open invitations, tokens included
// @Router /invitations [get]
func (h *Handler) Pending(c *gin.Context) {
	list, err := h.svc.Pending(c.Request.Context(), auth.GetSession(c))
	if err != nil {
		errs.Abort(c, err)
		return
	}
	out := make([]InvitationResponse, len(list))
	for i, inv := range list {
		out[i] = h.toResponse(c.Request.Context(), inv)
		out[i].Token = inv.Token
	}
	c.JSON(http.StatusOK, out)
}

// Accept redeems an invitation token
// @Router /invitations/{token}/accept [post]
func (h *Handler) Accept(c *gin.Context) {
	inv, err := h.svc.Accept(c.Request.Context(), auth.GetSession(c), c.Param("token"))
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(c.Request.Context(), *inv))
}

// Decline turns an invitation down
// @Router /invitations/{token}/decline [post]
func (h *Handler) Decline(c *gin.Context) {
	inv, err := h.svc.Decline(c.Request.Context(), auth.GetSession(c), c.Param("token"))
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(c.Request.Context(), *inv))
}

// RegisterGroupRoutes registers the per-group invitation routes on the /groups router group
func (h *Handler) RegisterGroupRoutes(rg *gin.RouterGroup) {
	rg.POST("/:id/invitations", h.Create)
	rg.GET("/:id/invitations", h.ListForGroup)
}

// RegisterRoutes registers the invitee routes on the /invitations router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.Pending)
	rg.POST("/:token/accept", h.Accept)
	rg.POST("/:token/decline", h.Decline)
}
