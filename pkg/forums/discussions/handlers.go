package discussions

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/topcoder-platform/forums-groups/pkg/forums/auth"
	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/groups"
)

// Handler handles group discussion requests
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// List returns a page of the group's discussions
// @Router /groups/{id}/discussions [get]
func (h *Handler) List(c *gin.Context) {
	groupID, err := groups.ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	result, err := h.svc.List(c.Request.Context(), auth.GetSession(c), groupID, page, limit)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Create posts a discussion in the group
// @Router /groups/{id}/discussions [post]
func (h *Handler) Create(c *gin.Context) {
	groupID, err := groups.ParseID(c, "id")
	if err != nil {
		errs.Abort(c, err)
		return
	}
	var in AddInput
	if err := c.ShouldBindJSON(&in); err != nil {
		errs.Abort(c, errs.Wrap(errs.CodeValidation, err, "invalid request body"))
		return
	}
	d, err := h.svc.Add(c.Request.Context(), auth.GetSession(c), groupID, in)
	if err != nil {
		errs.Abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// RegisterGroupRoutes registers discussion routes on the /groups router group
func (h *Handler) RegisterGroupRoutes(rg *gin.RouterGroup) {
	rg.GET("/:id/discussions", h.List)
	rg.POST("/:id/discussions", h.Create)
}
