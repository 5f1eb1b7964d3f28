package groups

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/topcoder-platform/forums-groups/pkg/forums/auth"
	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/permissions"
	"github.com/topcoder-platform/forums-groups/pkg/forums/watch"
)

var ErrInvalidID = errs.New(errs.CodeValidation, "invalid id")

// Handler handles group-related requests
type Handler struct {
	svc *Service
}

// NewHandler creates a new groups handler
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// GroupResponse represents a group in API responses
type GroupResponse struct {
	models.Group
	Role        models.GroupRole    `json:"role,omitempty"` // Session user's role in this group
	MemberCount int64               `json:"member_count"`
	Actions     permissions.Actions `json:"actions"`
}

// ListResponse is one page of groups
type ListResponse struct {
	Groups []GroupResponse `json:"groups"`
	Total  int64           `json:"total"`
	Page   int             `json:"page"`
	Pages  int             `json:"pages"`
	Limit  int             `json:"limit"`
	Filter string          `json:"filter,omitempty"`
	Sort   string          `json:"sort"`
}

func toGroupResponse(s Summary) GroupResponse {
	return GroupResponse{Group: s.Group, Role: s.Role, MemberCount: s.MemberCount, Actions: s.Actions}
}

// ParseID reads a numeric path parameter
func ParseID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, ErrInvalidID
	}
	return uint(id), nil
}

func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeValidation, err, "invalid request body"))
		return false
	}
	return true
}

// List returns the groups visible to the caller
// @Summary List groups
// @Description Query parameters: filter, sort, page, limit, mine
// @Tags groups
// @Router /groups [get]
func (h *Handler) List(c *gin.Context) {
	q := h.svc.Filters().Parse(c.Request.URL.Query(), h.svc.ItemsPerPage())
	mine := c.Query("mine") == "true" || c.Query("mine") == "1"

	result, err := h.svc.List(c.Request.Context(), auth.GetSession(c), q, mine)
	if err != nil {
		errs.Abort(c, err)
		return
	}

	groups := make([]GroupResponse, len(result.Groups))
	for i, s := range result.Groups {
		groups[i] = toGroupResponse(s)
	}
	c.JSON(http.StatusOK, ListResponse{
		Groups: groups,
		Total:  result.Total,
		Page:   result.Query.Page,
		Pages:  result.Pages(),
		Limit:  result.Query.Limit,
		Filter: result.Query.Filter,
		Sort:   h.svc.Filters().Sort(result.Query.Sort).Key,
	})
}

// Create creates a new group with the caller as owner and leader
// @Summary Create a group
// @Tags groups
// @Router /groups [post]
func (h *Handler) Create(c *gin.Context) {
	var in CreateInput
	if !bindJSON(c, &in) {
		return
	}
	sess := auth.GetSession(c)
	g, err := h.svc.Create(c.Request.Context(), sess, in)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	summary, err := h.svc.Get(c.Request.Context(), sess, g.GroupID)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, toGroupResponse(*summary))
}

// Get returns a single group
// @Summary Get a group
// @Tags groups
// @Router /groups/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	summary, err := h.svc.Get(c.Request.Context(), auth.GetSession(c), groupID)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, toGroupResponse(*summary))
}

// Update changes a group's editable attributes
// @Summary Update a group
// @Tags groups
// @Router /groups/{id} [patch]
func (h *Handler) Update(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	var in UpdateInput
	if !bindJSON(c, &in) {
		return
	}
	sess := auth.GetSession(c)
	if _, err := h.svc.Update(c.Request.Context(), sess, groupID, in); err != nil {
		errs.Abort(c, err)
		return
	}
	summary, err := h.svc.Get(c.Request.Context(), sess, groupID)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, toGroupResponse(*summary))
}

// Delete deletes a group
// @Summary Delete a group
// @Tags groups
// @Router /groups/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	if err := h.svc.Delete(c.Request.Context(), auth.GetSession(c), groupID); err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Group deleted"})
}

// Archive freezes a group
// @Router /groups/{id}/archive [put]
func (h *Handler) Archive(c *gin.Context) {
	h.setArchived(c, true)
}

// Unarchive restores an archived group
// @Router /groups/{id}/archive [delete]
func (h *Handler) Unarchive(c *gin.Context) {
	h.setArchived(c, false)
}

func (h *Handler) setArchived(c *gin.Context, archived bool) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	sess := auth.GetSession(c)
	if archived {
		_, err = h.svc.Archive(c.Request.Context(), sess, groupID)
	} else {
		_, err = h.svc.Unarchive(c.Request.Context(), sess, groupID)
	}
	if err != nil {
		errs.Abort(c, err)
		return
	}
	summary, err := h.svc.Get(c.Request.Context(), sess, groupID)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, toGroupResponse(*summary))
}

// Join adds the caller to a public group
// @Router /groups/{id}/join [post]
func (h *Handler) Join(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	if err := h.svc.Join(c.Request.Context(), auth.GetSession(c), groupID); err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Joined group"})
}

// Leave removes the caller from a group
// @Router /groups/{id}/leave [post]
func (h *Handler) Leave(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	if err := h.svc.Leave(c.Request.Context(), auth.GetSession(c), groupID); err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Left group"})
}

// ListCategories returns the group's categories
// @Router /groups/{id}/categories [get]
func (h *Handler) ListCategories(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	list, err := h.svc.ListCategories(c.Request.Context(), auth.GetSession(c), groupID)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateCategory adds a child category to the group
// @Router /groups/{id}/categories [post]
func (h *Handler) CreateCategory(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	var in CategoryInput
	if !bindJSON(c, &in) {
		return
	}
	category, err := h.svc.CreateCategory(c.Request.Context(), auth.GetSession(c), groupID, in)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

// AttachCategory links an existing category to a challenge group
// @Router /groups/{id}/categories/{categoryID} [put]
func (h *Handler) AttachCategory(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	categoryID, err := ParseID(c, "categoryID")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	category, err := h.svc.AttachCategory(c.Request.Context(), auth.GetSession(c), groupID, categoryID)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, category)
}

// WatchStatus reports the caller's watch and follow state
// @Router /groups/{id}/watch [get]
func (h *Handler) WatchStatus(c *gin.Context) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	st, err := h.svc.WatchStatus(c.Request.Context(), auth.GetSession(c), groupID)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Watch, Unwatch, Follow and Unfollow share the same shape
func (h *Handler) Watch(c *gin.Context)    { h.applyWatch(c, h.svc.Watch) }
func (h *Handler) Unwatch(c *gin.Context)  { h.applyWatch(c, h.svc.Unwatch) }
func (h *Handler) Follow(c *gin.Context)   { h.applyWatch(c, h.svc.Follow) }
func (h *Handler) Unfollow(c *gin.Context) { h.applyWatch(c, h.svc.Unfollow) }

func (h *Handler) applyWatch(c *gin.Context, op func(context.Context, permissions.Session, uint) (watch.Status, error)) {
	groupID, err := ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	st, err := op(c.Request.Context(), auth.GetSession(c), groupID)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// RegisterRoutes registers group routes on the given router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/:id", h.Get)
	rg.PATCH("/:id", h.Update)
	rg.DELETE("/:id", h.Delete)
	rg.PUT("/:id/archive", h.Archive)
	rg.DELETE("/:id/archive", h.Unarchive)
	rg.POST("/:id/join", h.Join)
	rg.POST("/:id/leave", h.Leave)

	rg.GET("/:id/categories", h.ListCategories)
	rg.POST("/:id/categories", h.CreateCategory)
	rg.PUT("/:id/categories/:categoryID", h.AttachCategory)

	rg.GET("/:id/watch", h.WatchStatus)
	rg.PUT("/:id/watch", h.Watch)
	rg.DELETE("/:id/watch", h.Unwatch)
	rg.PUT("/:id/follow", h.Follow)
	rg.DELETE("/:id/follow", h.Unfollow)

	h.RegisterMemberRoutes(rg)
}
