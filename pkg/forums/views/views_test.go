package views

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/auth"
	"github.com/topcoder-platform/forums-groups/pkg/forums/config"
	"github.com/topcoder-platform/forums-groups/pkg/forums/database"
	"github.com/topcoder-platform/forums-groups/pkg/forums/discussions"
	"github.com/topcoder-platform/forums-groups/pkg/forums/groups"
	"github.com/topcoder-platform/forums-groups/pkg/forums/invitations"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/notifications"
	"github.com/topcoder-platform/forums-groups/pkg/forums/permissions"
)

type site struct {
	db          *gorm.DB
	router      *gin.Engine
	tokens      *auth.TokenManager
	groups      *groups.Service
	invitations *invitations.Service
	discussions *discussions.Service

	owner, member, outsider models.User
}

func newSite(t *testing.T) *site {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	renderer, err := notifications.NewRenderer()
	require.NoError(t, err)
	notifier := notifications.NewNotifier(renderer, &notifications.Recorder{}, "http://localhost")

	s := &site{db: db, tokens: auth.NewTokenManager(config.JWTConfig{Secret: "test-secret", TTL: time.Hour})}
	s.groups = groups.NewService(db, groups.Options{ItemsPerPage: 2})
	s.invitations = invitations.NewService(db, s.groups, invitations.Options{Notifier: notifier})
	s.discussions = discussions.NewService(db, s.groups, discussions.Options{Notifier: notifier})

	for _, u := range []*models.User{&s.owner, &s.member, &s.outsider} {
		u.SystemRole = models.SystemRoleMember
	}
	s.owner.Name, s.member.Name, s.outsider.Name = "owner", "member", "outsider"
	for _, u := range []*models.User{&s.owner, &s.member, &s.outsider} {
		u.Email = u.Name + "@example.com"
		require.NoError(t, db.Create(u).Error)
	}

	pages, err := NewPageRenderer()
	require.NoError(t, err)
	gin.SetMode(gin.TestMode)
	s.router = gin.New()
	NewHandler(pages, s.groups, s.invitations, s.discussions, nil).
		RegisterRoutes(s.router.Group("", auth.OptionalAuth(s.tokens)))
	return s
}

func sessionOf(u models.User) permissions.Session {
	return permissions.NewSession(u.ID, u.SystemRole)
}

func (s *site) createGroup(t *testing.T, name string, typ models.GroupType, privacy models.GroupPrivacy) *models.Group {
	t.Helper()
	in := groups.CreateInput{Name: name, Type: typ, Privacy: privacy}
	if typ == models.GroupTypeChallenge {
		in.ChallengeID = "c-" + name
	}
	g, err := s.groups.Create(context.Background(), sessionOf(s.owner), in)
	require.NoError(t, err)
	return g
}

// get issues a request, signed in through the session cookie when user is not nil
func (s *site) do(t *testing.T, method, path string, user *models.User, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != nil {
		token, err := s.tokens.Generate(user.ID, user.Email, string(user.SystemRole))
		require.NoError(t, err)
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func groupPath(id uint) string {
	return "/group/" + strconv.FormatUint(uint64(id), 10)
}

func TestRendererKnowsEveryPage(t *testing.T) {
	pages, err := NewPageRenderer()
	require.NoError(t, err)
	for _, name := range []string{PageGroups, PageGroup, PageAddGroup, PageMessage} {
		_, ok := pages.templates[name]
		assert.True(t, ok, name)
	}
	assert.Error(t, pages.Render(&strings.Builder{}, "missing", nil))
}

func TestListGroupsPage(t *testing.T) {
	s := newSite(t)
	s.createGroup(t, "Alpha", models.GroupTypeRegular, models.PrivacyPublic)
	s.createGroup(t, "Bravo", models.GroupTypeChallenge, models.PrivacyPrivate)
	s.createGroup(t, "Hidden", models.GroupTypeRegular, models.PrivacySecret)

	w := s.do(t, "GET", "/groups", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Bravo")
	assert.Contains(t, body, "Page 1 of 1")
	assert.NotContains(t, body, "Hidden")
	assert.NotContains(t, body, "New Group", "guests cannot add groups")
	assert.Contains(t, body, `href="/groups?filter=challenge"`)

	w = s.do(t, "GET", "/groups", &s.owner, nil)
	body = w.Body.String()
	assert.Contains(t, body, "Page 1 of 2")
	assert.Contains(t, body, `rel="next" href="/groups?page=2"`)
	assert.Contains(t, body, "New Group")
	assert.NotContains(t, body, "Alpha", "oldest group is on the second page")

	w = s.do(t, "GET", "/groups?filter=challenge", nil, nil)
	body = w.Body.String()
	assert.Contains(t, body, "Bravo")
	assert.NotContains(t, body, "group-1\"")
	assert.Contains(t, body, `<a href="/groups?filter=challenge" class="active">`)

	w = s.do(t, "GET", "/groups?mine=1", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Please sign in")

	w = s.do(t, "GET", "/groups?mine=1", &s.outsider, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No groups found.")
}

func TestShowGroupPage(t *testing.T) {
	s := newSite(t)
	ctx := context.Background()
	public := s.createGroup(t, "Open Door", models.GroupTypeRegular, models.PrivacyPublic)
	private := s.createGroup(t, "Back Room", models.GroupTypeRegular, models.PrivacyPrivate)
	secret := s.createGroup(t, "Vault", models.GroupTypeRegular, models.PrivacySecret)

	_, err := s.discussions.Add(ctx, sessionOf(s.owner), public.GroupID, discussions.AddInput{Name: "Kickoff thread", Body: "hi"})
	require.NoError(t, err)

	w := s.do(t, "GET", groupPath(public.GroupID), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Open Door")
	assert.Contains(t, body, "Kickoff thread")
	assert.Contains(t, body, "owner")
	assert.NotContains(t, body, ">Join</button>", "guests get no join button")

	w = s.do(t, "GET", groupPath(public.GroupID), &s.outsider, nil)
	assert.Contains(t, w.Body.String(), ">Join</button>")

	w = s.do(t, "GET", groupPath(private.GroupID), &s.outsider, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "This group is private")

	w = s.do(t, "GET", groupPath(private.GroupID), &s.owner, nil)
	body = w.Body.String()
	assert.NotContains(t, body, "This group is private")
	assert.Contains(t, body, "Manage Members")
	assert.Contains(t, body, "Archive")

	w = s.do(t, "GET", groupPath(secret.GroupID), &s.outsider, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "GET", "/group/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJoinAndLeaveForms(t *testing.T) {
	s := newSite(t)
	g := s.createGroup(t, "Open Door", models.GroupTypeRegular, models.PrivacyPublic)

	w := s.do(t, "POST", groupPath(g.GroupID)+"/join", &s.member, url.Values{})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, groupPath(g.GroupID), w.Header().Get("Location"))

	role, err := s.groups.RoleOf(context.Background(), g.GroupID, s.member.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupRoleMember, role)

	w = s.do(t, "POST", groupPath(g.GroupID)+"/join", &s.member, url.Values{})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, "POST", groupPath(g.GroupID)+"/leave", &s.member, url.Values{})
	assert.Equal(t, http.StatusSeeOther, w.Code)

	w = s.do(t, "POST", groupPath(g.GroupID)+"/leave", &s.owner, url.Values{})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAddGroupForm(t *testing.T) {
	s := newSite(t)

	w := s.do(t, "GET", "/groups/add", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "GET", "/groups/add", &s.member, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<form method="post" action="/groups/add">`)

	w = s.do(t, "POST", "/groups/add", &s.member, url.Values{
		"name":           {""},
		"type":           {"regular"},
		"privacy":        {"public"},
		"challenge_link": {"not a url"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Please correct the errors below.")
	assert.Contains(t, body, `<span class="error">is required</span>`)
	assert.Contains(t, body, `<span class="error">must be a valid URL</span>`)
	assert.Contains(t, body, `value="not a url"`, "submitted values are kept")

	w = s.do(t, "POST", "/groups/add", &s.member, url.Values{
		"name":    {"Night Owls"},
		"type":    {"regular"},
		"privacy": {"private"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())

	var g models.Group
	require.NoError(t, s.db.Where("name = ?", "Night Owls").Take(&g).Error)
	assert.Equal(t, groupPath(g.GroupID), w.Header().Get("Location"))
	assert.Equal(t, s.member.ID, g.OwnerID)
	assert.Equal(t, models.PrivacyPrivate, g.Privacy)
}

func TestAcceptInvitationPage(t *testing.T) {
	s := newSite(t)
	ctx := context.Background()
	g := s.createGroup(t, "Back Room", models.GroupTypeRegular, models.PrivacyPrivate)

	inv, err := s.invitations.Issue(ctx, sessionOf(s.owner), g.GroupID, invitations.IssueInput{UserID: s.member.ID})
	require.NoError(t, err)
	path := "/group/accept/" + inv.Token

	w := s.do(t, "GET", path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "GET", path, &s.outsider, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "someone else's token is invalid")

	w = s.do(t, "GET", path, &s.member, nil)
	require.Equal(t, http.StatusSeeOther, w.Code, w.Body.String())
	assert.Equal(t, groupPath(g.GroupID), w.Header().Get("Location"))

	role, err := s.groups.RoleOf(ctx, g.GroupID, s.member.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupRoleMember, role)

	w = s.do(t, "GET", path, &s.member, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "tokens are single use")
	assert.Contains(t, w.Body.String(), "Back to groups")
}
