package discussions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/auth"
	"github.com/topcoder-platform/forums-groups/pkg/forums/config"
	"github.com/topcoder-platform/forums-groups/pkg/forums/database"
	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/groups"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/notifications"
	"github.com/topcoder-platform/forums-groups/pkg/forums/permissions"
)

type fixture struct {
	db     *gorm.DB
	groups *groups.Service
	svc    *Service
	mail   *notifications.Recorder

	owner, member, watcher, outsider models.User
	group                            *models.Group
}

func newFixture(t *testing.T, privacy models.GroupPrivacy, disabled bool) *fixture {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	renderer, err := notifications.NewRenderer()
	require.NoError(t, err)
	f := &fixture{db: db, mail: &notifications.Recorder{}}
	f.groups = groups.NewService(db, groups.Options{})
	f.svc = NewService(db, f.groups, Options{
		Notifier: notifications.NewNotifier(renderer, f.mail, "https://forums.example.com"),
		Disabled: disabled,
	})

	for _, u := range []*models.User{&f.owner, &f.member, &f.watcher, &f.outsider} {
		*u = models.User{SystemRole: models.SystemRoleMember}
	}
	f.owner.Name, f.member.Name, f.watcher.Name, f.outsider.Name = "owner", "member", "watcher", "outsider"
	for _, u := range []*models.User{&f.owner, &f.member, &f.watcher, &f.outsider} {
		u.Email = u.Name + "@example.com"
		require.NoError(t, db.Create(u).Error)
	}

	ctx := context.Background()
	f.group, err = f.groups.Create(ctx, sess(f.owner), groups.CreateInput{Name: "Gophers", Type: models.GroupTypeRegular, Privacy: privacy})
	require.NoError(t, err)
	for _, u := range []models.User{f.member, f.watcher} {
		_, err = f.groups.AddMember(ctx, sess(f.owner), f.group.GroupID, groups.AddMemberInput{UserID: u.ID})
		require.NoError(t, err)
	}
	return f
}

func sess(u models.User) permissions.Session {
	return permissions.NewSession(u.ID, u.SystemRole)
}

func TestAddNotifiesWatchers(t *testing.T) {
	f := newFixture(t, models.PrivacyPublic, false)
	ctx := context.Background()

	_, err := f.groups.Watch(ctx, sess(f.watcher), f.group.GroupID)
	require.NoError(t, err)
	_, err = f.groups.Watch(ctx, sess(f.owner), f.group.GroupID)
	require.NoError(t, err)

	d, err := f.svc.Add(ctx, sess(f.owner), f.group.GroupID, AddInput{Name: "Welcome", Body: "Hello all"})
	require.NoError(t, err)
	assert.Equal(t, "owner", d.AuthorName)
	assert.Equal(t, "Gophers", d.CategoryName)
	require.NotNil(t, d.GroupID)
	assert.Equal(t, f.group.GroupID, *d.GroupID)

	msgs := f.mail.Messages()
	require.Len(t, msgs, 1, "only the watcher is mailed; the author is skipped")
	assert.Equal(t, []string{"watcher@example.com"}, msgs[0].To)
	assert.Equal(t, "[Gophers] Welcome", msgs[0].Subject)
	assert.Contains(t, msgs[0].HTMLBody, "https://forums.example.com/group/"+strconv.FormatUint(uint64(f.group.GroupID), 10)+"#discussion-")
}

func TestAddEmailFailureDoesNotFailPost(t *testing.T) {
	f := newFixture(t, models.PrivacyPublic, false)
	ctx := context.Background()
	_, err := f.groups.Watch(ctx, sess(f.watcher), f.group.GroupID)
	require.NoError(t, err)
	f.mail.Err = errors.New("relay down")

	_, err = f.svc.Add(ctx, sess(f.member), f.group.GroupID, AddInput{Name: "Hi", Body: "x"})
	assert.NoError(t, err)
}

func TestAddPermissions(t *testing.T) {
	f := newFixture(t, models.PrivacyPublic, false)
	ctx := context.Background()

	_, err := f.svc.Add(ctx, sess(f.outsider), f.group.GroupID, AddInput{Name: "Hi", Body: "x"})
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err))

	_, err = f.svc.Add(ctx, permissions.Guest(), f.group.GroupID, AddInput{Name: "Hi", Body: "x"})
	assert.Equal(t, errs.CodeUnauthorized, errs.CodeOf(err))

	_, err = f.svc.Add(ctx, sess(f.member), f.group.GroupID, AddInput{Name: "Hi", Body: "x", Announce: true})
	assert.True(t, errors.Is(err, groups.ErrPermission), "members cannot announce")

	d, err := f.svc.Add(ctx, sess(f.owner), f.group.GroupID, AddInput{Name: "Rules", Body: "Be nice", Announce: true})
	require.NoError(t, err)
	assert.True(t, d.Announce)

	_, err = f.svc.Add(ctx, sess(f.member), f.group.GroupID, AddInput{})
	e := errs.As(err)
	require.NotNil(t, e)
	assert.Equal(t, errs.CodeValidation, e.Code())
	assert.Contains(t, e.Details(), "name")
	assert.Contains(t, e.Details(), "body")

	foreign := models.Category{Name: "Elsewhere", UrlCode: "elsewhere"}
	require.NoError(t, f.db.Create(&foreign).Error)
	_, err = f.svc.Add(ctx, sess(f.member), f.group.GroupID, AddInput{CategoryID: foreign.CategoryID, Name: "Hi", Body: "x"})
	e = errs.As(err)
	require.NotNil(t, e)
	assert.Contains(t, e.Details(), "category_id")

	_, err = f.groups.Archive(ctx, sess(f.owner), f.group.GroupID)
	require.NoError(t, err)
	_, err = f.svc.Add(ctx, sess(f.owner), f.group.GroupID, AddInput{Name: "Late", Body: "x"})
	assert.True(t, errors.Is(err, groups.ErrArchived))
}

func TestListOrderAndVisibility(t *testing.T) {
	f := newFixture(t, models.PrivacyPrivate, false)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		_, err := f.svc.Add(ctx, sess(f.member), f.group.GroupID, AddInput{Name: name, Body: "x"})
		require.NoError(t, err)
	}
	_, err := f.svc.Add(ctx, sess(f.owner), f.group.GroupID, AddInput{Name: "pinned", Body: "x", Announce: true})
	require.NoError(t, err)

	page, err := f.svc.List(ctx, sess(f.member), f.group.GroupID, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	require.Len(t, page.Discussions, 3)
	assert.Equal(t, "pinned", page.Discussions[0].Name)
	assert.Equal(t, "third", page.Discussions[1].Name)
	assert.Equal(t, "member", page.Discussions[1].AuthorName)

	_, err = f.svc.List(ctx, sess(f.outsider), f.group.GroupID, 1, 10)
	assert.True(t, errors.Is(err, groups.ErrPermission), "private group discussions are members only")

	recent, err := f.svc.Recent(ctx, sess(f.owner), f.group.GroupID, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestDisabled(t *testing.T) {
	f := newFixture(t, models.PrivacyPublic, true)
	_, err := f.svc.Add(context.Background(), sess(f.owner), f.group.GroupID, AddInput{Name: "x", Body: "y"})
	assert.True(t, errors.Is(err, ErrDisabled))
	_, err = f.svc.List(context.Background(), sess(f.owner), f.group.GroupID, 1, 10)
	assert.True(t, errors.Is(err, ErrDisabled))
}

func TestHandlers(t *testing.T) {
	f := newFixture(t, models.PrivacyPublic, false)
	tokens := auth.NewTokenManager(config.JWTConfig{Secret: "test-secret", TTL: time.Hour})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(f.svc).RegisterGroupRoutes(r.Group("/groups", auth.AuthMiddleware(tokens)))

	path := "/groups/" + strconv.FormatUint(uint64(f.group.GroupID), 10) + "/discussions"
	do := func(method string, user models.User, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			json.NewEncoder(&buf).Encode(body)
		}
		req, _ := http.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		token, _ := tokens.Generate(user.ID, user.Email, string(user.SystemRole))
		req.Header.Set("Authorization", "Bearer "+token)
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		return resp
	}

	resp := do("POST", f.member, map[string]any{"name": "Hello", "body": "World"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = do("POST", f.outsider, map[string]any{"name": "Hello", "body": "World"})
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = do("GET", f.outsider, nil)
	require.Equal(t, http.StatusOK, resp.Code, "public group discussions are readable by anyone")
	var page Page
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &page))
	assert.Equal(t, int64(1), page.Total)
	assert.Equal(t, "Hello", page.Discussions[0].Name)
}
