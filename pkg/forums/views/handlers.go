package views

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/topcoder-platform/forums-groups/pkg/forums/auth"
	"github.com/topcoder-platform/forums-groups/pkg/forums/discussions"
	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/filters"
	"github.com/topcoder-platform/forums-groups/pkg/forums/groups"
	"github.com/topcoder-platform/forums-groups/pkg/forums/invitations"
	"github.com/topcoder-platform/forums-groups/pkg/forums/logger"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/permissions"
)

const (
	recentDiscussions = 10
	membersShown      = 20
)

// Handler serves the HTML group pages
type Handler struct {
	groups      *groups.Service
	invitations *invitations.Service
	discussions *discussions.Service
	pages       *PageRenderer
	log         *logger.Logger
}

func NewHandler(pages *PageRenderer, groupSvc *groups.Service, inviteSvc *invitations.Service, discussionSvc *discussions.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{groups: groupSvc, invitations: inviteSvc, discussions: discussionSvc, pages: pages, log: log}
}

// base carries what the layout needs on every page
type base struct {
	Title    string
	SignedIn bool
}

func baseFor(c *gin.Context, title string) base {
	return base{Title: title, SignedIn: !auth.GetSession(c).IsGuest()}
}

type link struct {
	Label  string
	URL    string
	Active bool
}

type groupsPage struct {
	base
	Groups  []groups.Summary
	Filters []link
	Sorts   []link
	CanAdd  bool
	Page    int
	Pages   int
	PrevURL string
	NextURL string
}

type groupPage struct {
	base
	Group       *groups.Summary
	ShowContent bool
	Discussions []discussions.Discussion
	Members     []groups.Member
}

type addGroupPage struct {
	base
	Form   groups.CreateInput
	Errors map[string]string
	Error  string
}

type messagePage struct {
	base
	Message  string
	LinkURL  string
	LinkText string
}

// render buffers the page so that a template failure can still become a clean 500
func (h *Handler) render(c *gin.Context, status int, name string, data any) {
	var buf bytes.Buffer
	if err := h.pages.Render(&buf, name, data); err != nil {
		h.log.ErrorContext(c.Request.Context(), "failed to render page", zap.String("page", name), zap.Error(err))
		c.String(http.StatusInternalServerError, "internal server error")
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

func (h *Handler) renderError(c *gin.Context, err error) {
	status, body := errs.ToResponse(err)
	if status >= http.StatusInternalServerError {
		h.log.ErrorContext(c.Request.Context(), "page failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	}
	page := messagePage{base: baseFor(c, http.StatusText(status)), Message: body.Error, LinkURL: "/groups", LinkText: "Back to groups"}
	if status == http.StatusUnauthorized {
		page.Message = "Please sign in to continue."
	}
	h.render(c, status, PageMessage, page)
}

func listURL(q filters.Query, mine bool, page int) string {
	v := q.Values(page)
	if mine {
		v.Set("mine", "1")
	}
	if len(v) == 0 {
		return "/groups"
	}
	return "/groups?" + v.Encode()
}

// ListGroups renders the group directory
func (h *Handler) ListGroups(c *gin.Context) {
	sess := auth.GetSession(c)
	registry := h.groups.Filters()
	q := registry.Parse(c.Request.URL.Query(), h.groups.ItemsPerPage())
	mine := c.Query("mine") == "1" || c.Query("mine") == "true"

	result, err := h.groups.List(c.Request.Context(), sess, q, mine)
	if err != nil {
		h.renderError(c, err)
		return
	}

	title := "Groups"
	if mine {
		title = "My Groups"
	}
	page := groupsPage{
		base:   baseFor(c, title),
		Groups: result.Groups,
		CanAdd: sess.CanAddGroup(),
		Page:   result.Query.Page,
		Pages:  result.Pages(),
	}

	all := q
	all.Filter, all.Page = "", 1
	page.Filters = append(page.Filters, link{Label: "All", URL: listURL(all, mine, 1), Active: q.Filter == ""})
	for _, f := range registry.Filters() {
		fq := q
		fq.Filter = f.Key
		page.Filters = append(page.Filters, link{Label: f.Label, URL: listURL(fq, mine, 1), Active: q.Filter == f.Key})
	}
	for _, s := range registry.Sorts() {
		sq := q
		sq.Sort = s.Key
		page.Sorts = append(page.Sorts, link{Label: s.Label, URL: listURL(sq, mine, 1), Active: q.Sort == s.Key})
	}
	if q.Page > 1 {
		page.PrevURL = listURL(q, mine, q.Page-1)
	}
	if q.Page < page.Pages {
		page.NextURL = listURL(q, mine, q.Page+1)
	}
	h.render(c, http.StatusOK, PageGroups, page)
}

// ShowGroup renders one group with its recent discussions and members
func (h *Handler) ShowGroup(c *gin.Context) {
	groupID, err := groups.ParseID(c, "id")
	if err != nil {
		h.renderError(c, err)
		return
	}
	ctx := c.Request.Context()
	sess := auth.GetSession(c)

	summary, err := h.groups.Get(ctx, sess, groupID)
	if err != nil {
		h.renderError(c, err)
		return
	}
	page := groupPage{base: baseFor(c, summary.Group.Name), Group: summary}

	members, err := h.groups.ListMembers(ctx, sess, groupID, 1, membersShown)
	switch {
	case errors.Is(err, groups.ErrPermission):
	case err != nil:
		h.renderError(c, err)
		return
	default:
		page.ShowContent = true
		page.Members = members.Members
	}

	if page.ShowContent && h.discussions != nil {
		recent, err := h.discussions.Recent(ctx, sess, groupID, recentDiscussions)
		switch {
		case errors.Is(err, discussions.ErrDisabled), errors.Is(err, groups.ErrPermission):
		case err != nil:
			h.renderError(c, err)
			return
		default:
			page.Discussions = recent
		}
	}
	h.render(c, http.StatusOK, PageGroup, page)
}

// Join adds the signed-in user to a public group and returns to the group page
func (h *Handler) Join(c *gin.Context) {
	h.membershipAction(c, h.groups.Join)
}

// Leave removes the signed-in user from the group and returns to the group page
func (h *Handler) Leave(c *gin.Context) {
	h.membershipAction(c, h.groups.Leave)
}

func (h *Handler) membershipAction(c *gin.Context, op func(ctx context.Context, sess permissions.Session, groupID uint) error) {
	groupID, err := groups.ParseID(c, "id")
	if err != nil {
		h.renderError(c, err)
		return
	}
	if err := op(c.Request.Context(), auth.GetSession(c), groupID); err != nil {
		h.renderError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, fmt.Sprintf("/group/%d", groupID))
}

// AcceptInvitation redeems the token from an invitation email and sends the
// new member to the group page
func (h *Handler) AcceptInvitation(c *gin.Context) {
	sess := auth.GetSession(c)
	if sess.IsGuest() {
		h.renderError(c, groups.ErrAuthRequired)
		return
	}
	inv, err := h.invitations.Accept(c.Request.Context(), sess, c.Param("token"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, fmt.Sprintf("/group/%d", inv.GroupID))
}

// AddGroupForm renders the empty new group form
func (h *Handler) AddGroupForm(c *gin.Context) {
	if err := h.canAdd(auth.GetSession(c)); err != nil {
		h.renderError(c, err)
		return
	}
	h.render(c, http.StatusOK, PageAddGroup, addGroupPage{
		base:   baseFor(c, "New Group"),
		Form:   groups.CreateInput{Type: models.GroupTypeRegular, Privacy: models.PrivacyPublic},
		Errors: map[string]string{},
	})
}

// AddGroup handles the new group form. Validation problems re-render the
// form with a message next to each field.
func (h *Handler) AddGroup(c *gin.Context) {
	sess := auth.GetSession(c)
	if err := h.canAdd(sess); err != nil {
		h.renderError(c, err)
		return
	}
	page := addGroupPage{base: baseFor(c, "New Group"), Errors: map[string]string{}}
	if err := c.ShouldBind(&page.Form); err != nil {
		page.Error = "The form could not be read."
		h.render(c, http.StatusBadRequest, PageAddGroup, page)
		return
	}

	group, err := h.groups.Create(c.Request.Context(), sess, page.Form)
	if err != nil {
		e := errs.As(err)
		if e == nil || e.Code() != errs.CodeValidation {
			h.renderError(c, err)
			return
		}
		for field, msg := range e.Details() {
			page.Errors[field] = msg
		}
		page.Error = "Please correct the errors below."
		h.render(c, http.StatusBadRequest, PageAddGroup, page)
		return
	}
	c.Redirect(http.StatusSeeOther, fmt.Sprintf("/group/%d", group.GroupID))
}

func (h *Handler) canAdd(sess permissions.Session) error {
	if sess.IsGuest() {
		return groups.ErrAuthRequired
	}
	if !sess.CanAddGroup() {
		return groups.ErrPermission
	}
	return nil
}

// RegisterRoutes registers the HTML pages on the root router group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/groups", h.ListGroups)
	rg.GET("/groups/add", h.AddGroupForm)
	rg.POST("/groups/add", h.AddGroup)
	rg.GET("/group/:id", h.ShowGroup)
	rg.POST("/group/:id/join", h.Join)
	rg.POST("/group/:id/leave", h.Leave)
	rg.GET("/group/accept/:token", h.AcceptInvitation)
}
