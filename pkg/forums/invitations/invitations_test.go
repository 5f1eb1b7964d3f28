package invitations

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/auth"
	"github.com/topcoder-platform/forums-groups/pkg/forums/config"
	"github.com/topcoder-platform/forums-groups/pkg/forums/database"
	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/groups"
	"github.com/topcoder-platform/forums-groups/pkg/forums/metrics"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/notifications"
	"github.com/topcoder-platform/forums-groups/pkg/forums/permissions"
)

type fixture struct {
	db       *gorm.DB
	groups   *groups.Service
	svc      *Service
	mail     *notifications.Recorder
	registry *prometheus.Registry
	clock    time.Time

	owner, member, invitee, other models.User
	group                         *models.Group
}

func (f *fixture) now() time.Time { return f.clock }

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	f := &fixture{
		db:       db,
		mail:     &notifications.Recorder{},
		registry: prometheus.NewRegistry(),
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	m := metrics.New(f.registry)
	f.groups = groups.NewService(db, groups.Options{Metrics: m})

	renderer, err := notifications.NewRenderer()
	require.NoError(t, err)
	opts.Notifier = notifications.NewNotifier(renderer, f.mail, "https://forums.example.com")
	opts.Metrics = m
	opts.Now = f.now
	f.svc = NewService(db, f.groups, opts)

	f.owner = f.user(t, "owner", models.SystemRoleMember)
	f.member = f.user(t, "member", models.SystemRoleMember)
	f.invitee = f.user(t, "invitee", models.SystemRoleMember)
	f.other = f.user(t, "other", models.SystemRoleMember)

	f.group, err = f.groups.Create(context.Background(), f.session(f.owner), groups.CreateInput{
		Name:    "Gophers",
		Type:    models.GroupTypeRegular,
		Privacy: models.PrivacyPrivate,
	})
	require.NoError(t, err)
	_, err = f.groups.AddMember(context.Background(), f.session(f.owner), f.group.GroupID, groups.AddMemberInput{UserID: f.member.ID})
	require.NoError(t, err)
	return f
}

func (f *fixture) user(t *testing.T, name string, role models.SystemRole) models.User {
	u := models.User{Email: name + "@example.com", Name: name, SystemRole: role}
	require.NoError(t, f.db.Create(&u).Error)
	return u
}

func (f *fixture) session(u models.User) permissions.Session {
	return permissions.NewSession(u.ID, u.SystemRole)
}

func (f *fixture) counter(name, label, value string) float64 {
	families, _ := f.registry.Gather()
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestNewToken(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)

	assert.Len(t, a, 2*TokenBytes)
	assert.NotEqual(t, a, b)
	_, err = hex.DecodeString(a)
	assert.NoError(t, err)
}

func TestIssueSendsEmail(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	inv, err := f.svc.Issue(ctx, f.session(f.owner), f.group.GroupID, IssueInput{Email: "Invitee@example.com"})
	require.NoError(t, err)

	assert.Equal(t, models.InvitationPending, inv.Status)
	assert.Equal(t, f.invitee.ID, inv.InviteeUserID)
	assert.Equal(t, f.owner.ID, inv.InvitedByUserID)
	assert.Equal(t, f.clock.Add(DefaultExpiration), inv.DateExpires)
	assert.Len(t, inv.Token, 32)

	msgs := f.mail.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"invitee@example.com"}, msgs[0].To)
	assert.Contains(t, msgs[0].Subject, "Gophers")
	assert.Contains(t, msgs[0].HTMLBody, "https://forums.example.com/group/accept/"+inv.Token)
	assert.Equal(t, 1.0, f.counter("forums_invitations_total", "outcome", "issued"))
}

func TestIssueRoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	owner := f.session(f.owner)

	first, err := f.svc.Issue(ctx, owner, f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	require.NoError(t, err)

	_, err = f.svc.Issue(ctx, owner, f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	assert.True(t, errors.Is(err, ErrAlreadyInvited), "second pending invitation must be rejected, got %v", err)
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))

	_, err = f.svc.Accept(ctx, f.session(f.invitee), first.Token)
	require.NoError(t, err)

	role, err := f.groups.RoleOf(ctx, f.group.GroupID, f.invitee.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GroupRoleMember, role)

	var stored models.GroupInvitation
	require.NoError(t, f.db.First(&stored, first.GroupInvitationID).Error)
	assert.Equal(t, models.InvitationAccepted, stored.Status)
	require.NotNil(t, stored.DateAccepted)

	// A member cannot be invited; after leaving, a fresh invitation is fine
	_, err = f.svc.Issue(ctx, owner, f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	assert.True(t, errors.Is(err, ErrInviteeIsMember))

	require.NoError(t, f.groups.Leave(ctx, f.session(f.invitee), f.group.GroupID))
	second, err := f.svc.Issue(ctx, owner, f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	_, err = f.svc.Accept(ctx, f.session(f.invitee), first.Token)
	assert.True(t, errors.Is(err, ErrUsed), "tokens are single use, got %v", err)
}

func TestConcurrentIssueKeepsOnePending(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	owner := f.session(f.owner)

	const callers = 5
	results := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Issue(ctx, owner, f.group.GroupID, IssueInput{UserID: f.invitee.ID})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, ErrAlreadyInvited), "unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)

	var pending int64
	require.NoError(t, f.db.Model(&models.GroupInvitation{}).
		Where("group_id = ? AND invitee_user_id = ? AND status = ?", f.group.GroupID, f.invitee.ID, models.InvitationPending).
		Count(&pending).Error)
	assert.Equal(t, int64(1), pending)
}

func TestIssueAfterExpiry(t *testing.T) {
	f := newFixture(t, Options{Expiration: time.Hour})
	ctx := context.Background()
	owner := f.session(f.owner)

	first, err := f.svc.Issue(ctx, owner, f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	require.NoError(t, err)

	f.clock = f.clock.Add(59 * time.Minute)
	_, err = f.svc.Issue(ctx, owner, f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	assert.True(t, errors.Is(err, ErrAlreadyInvited))

	f.clock = f.clock.Add(time.Minute)
	_, err = f.svc.Validate(ctx, f.session(f.invitee), first.Token)
	assert.True(t, errors.Is(err, ErrExpired), "expected expired, got %v", err)

	_, err = f.svc.Accept(ctx, f.session(f.invitee), first.Token)
	assert.True(t, errors.Is(err, ErrExpired))

	_, err = f.svc.Issue(ctx, owner, f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	assert.NoError(t, err)
}

func TestValidateRejectsOtherUsersToken(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	inv, err := f.svc.Issue(ctx, f.session(f.owner), f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	require.NoError(t, err)

	_, err = f.svc.Validate(ctx, f.session(f.other), inv.Token)
	assert.True(t, errors.Is(err, ErrInvalid))
	_, err = f.svc.Accept(ctx, f.session(f.other), inv.Token)
	assert.True(t, errors.Is(err, ErrInvalid))

	role, _ := f.groups.RoleOf(ctx, f.group.GroupID, f.other.ID)
	assert.Empty(t, role)

	_, err = f.svc.Validate(ctx, f.session(f.invitee), "deadbeef")
	assert.True(t, errors.Is(err, ErrInvalid))
	_, err = f.svc.Validate(ctx, permissions.Guest(), inv.Token)
	assert.Equal(t, errs.CodeUnauthorized, errs.CodeOf(err))

	got, err := f.svc.Validate(ctx, f.session(f.invitee), inv.Token)
	require.NoError(t, err)
	assert.Equal(t, inv.GroupInvitationID, got.GroupInvitationID)
}

func TestDecline(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	inv, err := f.svc.Issue(ctx, f.session(f.owner), f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	require.NoError(t, err)

	declined, err := f.svc.Decline(ctx, f.session(f.invitee), inv.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationDeclined, declined.Status)

	_, err = f.svc.Accept(ctx, f.session(f.invitee), inv.Token)
	assert.True(t, errors.Is(err, ErrUsed))

	role, _ := f.groups.RoleOf(ctx, f.group.GroupID, f.invitee.ID)
	assert.Empty(t, role)

	// A declined invitation is no longer active, so a new one may be sent
	_, err = f.svc.Issue(ctx, f.session(f.owner), f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	assert.NoError(t, err)
}

func TestIssuePermissions(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, f.session(f.member), f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err), "plain members cannot invite")

	_, err = f.svc.Issue(ctx, f.session(f.other), f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err))

	_, err = f.svc.Issue(ctx, f.session(f.owner), f.group.GroupID, IssueInput{UserID: f.member.ID})
	assert.True(t, errors.Is(err, ErrInviteeIsMember))

	_, err = f.svc.Issue(ctx, f.session(f.owner), f.group.GroupID, IssueInput{UserID: f.owner.ID})
	assert.True(t, errors.Is(err, ErrInviteeIsMember))

	_, err = f.svc.Issue(ctx, f.session(f.owner), f.group.GroupID, IssueInput{Email: "ghost@example.com"})
	assert.True(t, errors.Is(err, groups.ErrUserNotFound))

	_, err = f.svc.Issue(ctx, f.session(f.owner), f.group.GroupID, IssueInput{})
	assert.Equal(t, errs.CodeValidation, errs.CodeOf(err))

	_, err = f.groups.Archive(ctx, f.session(f.owner), f.group.GroupID)
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, f.session(f.owner), f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	assert.True(t, errors.Is(err, groups.ErrArchived))
}

func TestAcceptIntoArchivedGroup(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	inv, err := f.svc.Issue(ctx, f.session(f.owner), f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	require.NoError(t, err)
	_, err = f.groups.Archive(ctx, f.session(f.owner), f.group.GroupID)
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, f.session(f.invitee), inv.Token)
	assert.True(t, errors.Is(err, groups.ErrArchived))

	var stored models.GroupInvitation
	require.NoError(t, f.db.First(&stored, inv.GroupInvitationID).Error)
	assert.Equal(t, models.InvitationPending, stored.Status, "a failed accept must not change the invitation")
}

func TestEmailFailure(t *testing.T) {
	t.Run("logged only", func(t *testing.T) {
		f := newFixture(t, Options{})
		f.mail.Err = errors.New("relay down")

		inv, err := f.svc.Issue(context.Background(), f.session(f.owner), f.group.GroupID, IssueInput{UserID: f.invitee.ID})
		require.NoError(t, err)
		require.NotNil(t, inv)
		assert.Equal(t, 1.0, f.counter("forums_invitations_total", "outcome", "email_failed"))
	})

	t.Run("debug surfaces the error", func(t *testing.T) {
		f := newFixture(t, Options{Debug: true})
		f.mail.Err = errors.New("relay down")

		inv, err := f.svc.Issue(context.Background(), f.session(f.owner), f.group.GroupID, IssueInput{UserID: f.invitee.ID})
		require.Error(t, err)
		assert.Equal(t, errs.CodeInternal, errs.CodeOf(err))
		require.NotNil(t, inv)

		var count int64
		f.db.Model(&models.GroupInvitation{}).Count(&count)
		assert.Equal(t, int64(1), count, "the invitation stays persisted")
	})
}

func TestDisabledAndDelete(t *testing.T) {
	f := newFixture(t, Options{Disabled: true})
	ctx := context.Background()

	assert.False(t, f.svc.Enabled())
	_, err := f.svc.Issue(ctx, f.session(f.owner), f.group.GroupID, IssueInput{UserID: f.invitee.ID})
	assert.True(t, errors.Is(err, ErrDisabled))
	_, err = f.svc.Accept(ctx, f.session(f.invitee), "abc")
	assert.True(t, errors.Is(err, ErrDisabled))

	err = f.svc.Delete(ctx, f.session(f.owner), 1)
	assert.Equal(t, errs.CodeForbidden, errs.CodeOf(err))
}

func TestHandlers(t *testing.T) {
	f := newFixture(t, Options{})
	tokens := auth.NewTokenManager(config.JWTConfig{Secret: "test-secret", TTL: time.Hour})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(f.svc)
	api := r.Group("", auth.AuthMiddleware(tokens))
	h.RegisterGroupRoutes(api.Group("/groups"))
	h.RegisterRoutes(api.Group("/invitations"))

	do := func(method, path string, user models.User, body any) *httptest.ResponseRecorder {
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
	groupPath := "/groups/" + strconv.FormatUint(uint64(f.group.GroupID), 10) + "/invitations"

	resp := do("POST", groupPath, f.owner, map[string]any{"user_id": f.invitee.ID})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created InvitationResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &created))
	assert.Empty(t, created.Token, "the inviter never sees the token")
	assert.Equal(t, "Gophers", created.GroupName)

	resp = do("POST", groupPath, f.owner, map[string]any{"user_id": f.invitee.ID})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do("GET", groupPath, f.member, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = do("GET", groupPath, f.owner, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var history []InvitationResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "invitee", history[0].InviteeName)
	assert.Empty(t, history[0].Token)

	resp = do("GET", "/invitations", f.invitee, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var pending []InvitationResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	require.NotEmpty(t, pending[0].Token)

	resp = do("POST", "/invitations/"+pending[0].Token+"/accept", f.other, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = do("POST", "/invitations/"+pending[0].Token+"/accept", f.invitee, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var accepted InvitationResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &accepted))
	assert.Equal(t, models.InvitationAccepted, accepted.Status)

	resp = do("POST", "/invitations/"+pending[0].Token+"/decline", f.invitee, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.True(t, strings.Contains(resp.Body.String(), ErrUsed.Message()))
}
