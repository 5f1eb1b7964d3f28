// Package groups implements group CRUD, membership and the per-group
// category and watch operations, together with their JSON API.
//
// Every operation loads the group, resolves the caller's role and evaluates
// the permissions predicates before touching anything.
package groups

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/topcoder-platform/forums-groups/pkg/forums/cache"
	"github.com/topcoder-platform/forums-groups/pkg/forums/categories"
	"github.com/topcoder-platform/forums-groups/pkg/forums/errs"
	"github.com/topcoder-platform/forums-groups/pkg/forums/filters"
	"github.com/topcoder-platform/forums-groups/pkg/forums/logger"
	"github.com/topcoder-platform/forums-groups/pkg/forums/metrics"
	"github.com/topcoder-platform/forums-groups/pkg/forums/models"
	"github.com/topcoder-platform/forums-groups/pkg/forums/permissions"
	"github.com/topcoder-platform/forums-groups/pkg/forums/validate"
	"github.com/topcoder-platform/forums-groups/pkg/forums/watch"
)

var (
	ErrAuthRequired     = errs.New(errs.CodeUnauthorized, "authentication required")
	ErrGroupNotFound    = errs.New(errs.CodeNotFound, "group not found")
	ErrUserNotFound     = errs.New(errs.CodeNotFound, "user not found")
	ErrNotMember        = errs.New(errs.CodeNotFound, "user is not a member of this group")
	ErrAlreadyMember    = errs.New(errs.CodeConflict, "user is already a member of this group")
	ErrPermission       = errs.New(errs.CodeForbidden, "permission denied")
	ErrArchived         = errs.New(errs.CodeForbidden, "group is archived")
	ErrOwnerImmutable   = errs.New(errs.CodeForbidden, "the group owner cannot be removed or demoted")
	ErrOwnerCannotLeave = errs.New(errs.CodeForbidden, "the group owner cannot leave the group")
)

// Service owns group persistence and enforces the permission predicates
type Service struct {
	db         *gorm.DB
	cache      cache.Cache
	categories *categories.Repository
	watch      *watch.Repository
	filters    *filters.Registry
	metrics    *metrics.Metrics
	log        *logger.Logger
	perPage    int
}

// Options carries the optional collaborators of a Service
type Options struct {
	Cache        cache.Cache
	Metrics      *metrics.Metrics
	Logger       *logger.Logger
	Filters      *filters.Registry
	ItemsPerPage int
}

func NewService(db *gorm.DB, opts Options) *Service {
	s := &Service{
		db:         db,
		cache:      opts.Cache,
		categories: categories.NewRepository(db),
		watch:      watch.NewRepository(db),
		filters:    opts.Filters,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		perPage:    opts.ItemsPerPage,
	}
	if s.cache == nil {
		s.cache = cache.NewMemory(5 * time.Minute)
	}
	if s.filters == nil {
		s.filters = filters.Default()
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.perPage <= 0 {
		s.perPage = 30
	}
	return s
}

func (s *Service) DB() *gorm.DB                       { return s.db }
func (s *Service) Filters() *filters.Registry         { return s.filters }
func (s *Service) ItemsPerPage() int                  { return s.perPage }
func (s *Service) Categories() *categories.Repository { return s.categories }
func (s *Service) WatchRepo() *watch.Repository       { return s.watch }

// deny picks the error for a failed mutation predicate
func deny(g *models.Group) error {
	if g.Archived {
		return ErrArchived
	}
	return ErrPermission
}

func internal(err error, msg string) error {
	return errs.Wrap(errs.CodeInternal, err, msg)
}

func (s *Service) cacheSet(ctx context.Context, key string, value any) {
	if err := s.cache.Set(ctx, key, value); err != nil {
		s.log.WarnContext(ctx, "cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate drops the cached group row and the given users' roles in it
func (s *Service) Invalidate(ctx context.Context, groupID uint, userIDs ...uint) {
	keys := []string{cache.GroupKey(groupID)}
	for _, id := range userIDs {
		keys = append(keys, cache.RoleKey(groupID, id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.WarnContext(ctx, "cache invalidation failed", zap.Uint("group_id", groupID), zap.Error(err))
	}
}

// Load returns the group row, memoized
func (s *Service) Load(ctx context.Context, groupID uint) (*models.Group, error) {
	key := cache.GroupKey(groupID)
	var g models.Group
	found, err := s.cache.Get(ctx, key, &g)
	if err != nil {
		s.log.WarnContext(ctx, "cache read failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		return &g, nil
	}

	err = s.db.WithContext(ctx).First(&g, "group_id = ?", groupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, internal(err, "failed to load group")
	}
	s.cacheSet(ctx, key, g)
	return &g, nil
}

// RoleOf returns userID's role in the group, empty when not a member. Memoized.
func (s *Service) RoleOf(ctx context.Context, groupID, userID uint) (models.GroupRole, error) {
	if userID == 0 {
		return "", nil
	}
	key := cache.RoleKey(groupID, userID)
	var role models.GroupRole
	found, err := s.cache.Get(ctx, key, &role)
	if err != nil {
		s.log.WarnContext(ctx, "cache read failed", zap.String("key", key), zap.Error(err))
	}
	if found {
		return role, nil
	}

	var ug models.UserGroup
	err = s.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).Take(&ug).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		role = ""
	case err != nil:
		return "", internal(err, "failed to load membership")
	default:
		role = ug.Role
	}
	s.cacheSet(ctx, key, role)
	return role, nil
}

// CheckFor evaluates the predicates for sess on a group. Groups the session
// may not see are reported as not found.
func (s *Service) CheckFor(ctx context.Context, sess permissions.Session, groupID uint) (permissions.Check, error) {
	g, err := s.Load(ctx, groupID)
	if err != nil {
		return permissions.Check{}, err
	}
	role, err := s.RoleOf(ctx, groupID, sess.UserID)
	if err != nil {
		return permissions.Check{}, err
	}
	c := permissions.For(sess, g, role)
	if !c.CanView() {
		return c, ErrGroupNotFound
	}
	return c, nil
}

// Summary is a group as seen by one session
type Summary struct {
	Group       models.Group
	Role        models.GroupRole
	MemberCount int64
	Actions     permissions.Actions
}

// ListResult is one page of groups
type ListResult struct {
	Groups []Summary
	Total  int64
	Query  filters.Query
}

// Pages is the number of pages at the query's limit
func (r *ListResult) Pages() int {
	if r.Query.Limit <= 0 || r.Total == 0 {
		return 1
	}
	return int((r.Total + int64(r.Query.Limit) - 1) / int64(r.Query.Limit))
}

// List returns the groups visible to sess. With mine set, only groups the
// session owns or belongs to.
func (s *Service) List(ctx context.Context, sess permissions.Session, q filters.Query, mine bool) (*ListResult, error) {
	if q.Limit <= 0 {
		q.Limit = filters.NormalizeLimit(0, s.perPage)
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	base := s.db.WithContext(ctx).Model(&models.Group{})
	memberOf := s.db.Model(&models.UserGroup{}).Select("group_id").Where("user_id = ?", sess.UserID)
	switch {
	case mine:
		if sess.IsGuest() {
			return nil, ErrAuthRequired
		}
		base = base.Where("groups.owner_id = ? OR groups.group_id IN (?)", sess.UserID, memberOf)
	case sess.CheckPermission(permissions.ModerationManage):
	case sess.IsGuest():
		base = base.Where("groups.privacy <> ?", models.PrivacySecret)
	default:
		base = base.Where("groups.privacy <> ? OR groups.owner_id = ? OR groups.group_id IN (?)",
			models.PrivacySecret, sess.UserID, memberOf)
	}

	var total int64
	if err := base.Session(&gorm.Session{}).Scopes(s.filters.Where(q)).Count(&total).Error; err != nil {
		return nil, internal(err, "failed to count groups")
	}

	var rows []models.Group
	if err := base.Session(&gorm.Session{}).Scopes(s.filters.Scope(q), filters.Paginate(q)).Find(&rows).Error; err != nil {
		return nil, internal(err, "failed to list groups")
	}

	summaries, err := s.summarize(ctx, sess, rows)
	if err != nil {
		return nil, err
	}
	return &ListResult{Groups: summaries, Total: total, Query: q}, nil
}

// summarize attaches the session's role, member counts and actions to each group
func (s *Service) summarize(ctx context.Context, sess permissions.Session, rows []models.Group) ([]Summary, error) {
	out := make([]Summary, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]uint, len(rows))
	for i, g := range rows {
		ids[i] = g.GroupID
	}

	var counts []struct {
		GroupID uint
		N       int64
	}
	if err := s.db.WithContext(ctx).Model(&models.UserGroup{}).
		Select("group_id, COUNT(*) AS n").
		Where("group_id IN ?", ids).
		Group("group_id").
		Scan(&counts).Error; err != nil {
		return nil, internal(err, "failed to count members")
	}
	countByGroup := make(map[uint]int64, len(counts))
	for _, c := range counts {
		countByGroup[c.GroupID] = c.N
	}

	roleByGroup := make(map[uint]models.GroupRole)
	if !sess.IsGuest() {
		var memberships []models.UserGroup
		if err := s.db.WithContext(ctx).
			Where("user_id = ? AND group_id IN ?", sess.UserID, ids).
			Find(&memberships).Error; err != nil {
			return nil, internal(err, "failed to load memberships")
		}
		for _, m := range memberships {
			roleByGroup[m.GroupID] = m.Role
		}
	}

	for i := range rows {
		g := rows[i]
		role := roleByGroup[g.GroupID]
		out[i] = Summary{
			Group:       g,
			Role:        role,
			MemberCount: countByGroup[g.GroupID],
			Actions:     permissions.For(sess, &g, role).Actions(),
		}
	}
	return out, nil
}

// Get returns one group with the session's view of it
func (s *Service) Get(ctx context.Context, sess permissions.Session, groupID uint) (*Summary, error) {
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.UserGroup{}).Where("group_id = ?", groupID).Count(&count).Error; err != nil {
		return nil, internal(err, "failed to count members")
	}
	return &Summary{Group: *c.Group, Role: c.Role, MemberCount: count, Actions: c.Actions()}, nil
}

// CreateInput is the payload for a new group. It binds from JSON and from the HTML form.
type CreateInput struct {
	Name          string              `json:"name" form:"name" validate:"required,max=100"`
	Description   string              `json:"description" form:"description" validate:"max=2000"`
	Type          models.GroupType    `json:"type" form:"type" validate:"required,oneof=challenge regular"`
	Privacy       models.GroupPrivacy `json:"privacy" form:"privacy" validate:"required,oneof=public private secret"`
	ChallengeID   string              `json:"challenge_id" form:"challenge_id" validate:"required_if=Type challenge,max=100"`
	ChallengeLink string              `json:"challenge_link" form:"challenge_link" validate:"omitempty,url"`
	UrlCode       string              `json:"url_code" form:"url_code" validate:"max=255"`
	Icon          string              `json:"icon" form:"icon" validate:"omitempty,url"`
	Banner        string              `json:"banner" form:"banner" validate:"omitempty,url"`
}

func (in *CreateInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.ChallengeID = strings.TrimSpace(in.ChallengeID)
	in.ChallengeLink = strings.TrimSpace(in.ChallengeLink)
	in.UrlCode = strings.TrimSpace(strings.ToLower(in.UrlCode))
}

// Create validates and stores a new group owned by the session user.
// A regular group gets its category in the same transaction.
func (s *Service) Create(ctx context.Context, sess permissions.Session, in CreateInput) (*models.Group, error) {
	if sess.IsGuest() {
		return nil, ErrAuthRequired
	}
	if !sess.CanAddGroup() {
		return nil, ErrPermission
	}
	in.normalize()

	var v errs.Validation
	validate.Collect(&v, in)

	if in.Name != "" {
		taken, err := s.nameTaken(ctx, in.Name, 0)
		if err != nil {
			return nil, err
		}
		if taken {
			v.Add("name", "is already taken")
		}
	}

	urlCode := ""
	if in.Type == models.GroupTypeRegular {
		urlCode = in.UrlCode
		if urlCode == "" {
			urlCode = categories.Slugify(in.Name)
		}
		if urlCode == "" {
			v.Add("url_code", "is required")
		} else {
			exists, err := s.categories.UrlCodeExists(ctx, urlCode)
			if err != nil {
				return nil, internal(err, "failed to check url code")
			}
			if exists {
				v.Add("url_code", "is already in use by another category")
			}
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	g := models.Group{
		Name:          in.Name,
		Description:   in.Description,
		Type:          in.Type,
		Privacy:       in.Privacy,
		OwnerID:       sess.UserID,
		ChallengeID:   in.ChallengeID,
		ChallengeLink: in.ChallengeLink,
		Icon:          in.Icon,
		Banner:        in.Banner,
		InsertUserID:  sess.UserID,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&g).Error; err != nil {
			return err
		}
		leader := models.UserGroup{UserID: sess.UserID, GroupID: g.GroupID, Role: models.GroupRoleLeader}
		if err := tx.Create(&leader).Error; err != nil {
			return err
		}
		if g.Type != models.GroupTypeRegular {
			return nil
		}
		groupID := g.GroupID
		return s.categories.WithTx(tx).Create(ctx, &models.Category{
			Name:        g.Name,
			UrlCode:     urlCode,
			Description: g.Description,
			DisplayAs:   models.DisplayAsDiscussions,
			GroupID:     &groupID,
		})
	})
	if err != nil {
		return nil, internal(err, "failed to create group")
	}

	s.Invalidate(ctx, g.GroupID, sess.UserID)
	s.metrics.GroupOp("create")
	s.log.InfoContext(ctx, "group created",
		zap.Uint("group_id", g.GroupID),
		zap.String("type", string(g.Type)),
		zap.Uint("owner_id", g.OwnerID))
	return &g, nil
}

func (s *Service) nameTaken(ctx context.Context, name string, exceptID uint) (bool, error) {
	var count int64
	q := s.db.WithContext(ctx).Model(&models.Group{}).Where("name = ?", name)
	if exceptID != 0 {
		q = q.Where("group_id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, internal(err, "failed to check group name")
	}
	return count > 0, nil
}

// UpdateInput changes the editable attributes; nil fields are left alone.
// Type and owner are fixed at creation.
type UpdateInput struct {
	Name          *string              `json:"name" validate:"omitempty,min=1,max=100"`
	Description   *string              `json:"description" validate:"omitempty,max=2000"`
	Privacy       *models.GroupPrivacy `json:"privacy" validate:"omitempty,oneof=public private secret"`
	ChallengeLink *string              `json:"challenge_link" validate:"omitempty,url"`
	Icon          *string              `json:"icon" validate:"omitempty,url"`
	Banner        *string              `json:"banner" validate:"omitempty,url"`
}

func (s *Service) Update(ctx context.Context, sess permissions.Session, groupID uint, in UpdateInput) (*models.Group, error) {
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !c.CanEdit() {
		return nil, deny(c.Group)
	}

	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
	}
	var v errs.Validation
	if in.Name != nil && *in.Name == "" {
		v.Add("name", "is required")
	}
	validate.Collect(&v, in)
	if in.Name != nil && *in.Name != "" {
		taken, err := s.nameTaken(ctx, *in.Name, groupID)
		if err != nil {
			return nil, err
		}
		if taken {
			v.Add("name", "is already taken")
		}
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"update_user_id": sess.UserID}
	if in.Name != nil {
		updates["name"] = *in.Name
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.Privacy != nil {
		updates["privacy"] = *in.Privacy
	}
	if in.ChallengeLink != nil {
		updates["challenge_link"] = *in.ChallengeLink
	}
	if in.Icon != nil {
		updates["icon"] = *in.Icon
	}
	if in.Banner != nil {
		updates["banner"] = *in.Banner
	}

	if err := s.db.WithContext(ctx).Model(&models.Group{}).Where("group_id = ?", groupID).Updates(updates).Error; err != nil {
		return nil, internal(err, "failed to update group")
	}
	s.Invalidate(ctx, groupID)
	s.metrics.GroupOp("update")
	return s.Load(ctx, groupID)
}

// Delete removes the group and its memberships and detaches its categories.
// Invitations are kept as history.
func (s *Service) Delete(ctx context.Context, sess permissions.Session, groupID uint) error {
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return err
	}
	if !c.CanDelete() {
		return deny(c.Group)
	}

	var memberIDs []uint
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.UserGroup{}).Where("group_id = ?", groupID).Pluck("user_id", &memberIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&models.UserGroup{}).Error; err != nil {
			return err
		}
		if err := s.categories.WithTx(tx).DetachGroup(ctx, groupID); err != nil {
			return err
		}
		return tx.Where("group_id = ?", groupID).Delete(&models.Group{}).Error
	})
	if err != nil {
		return internal(err, "failed to delete group")
	}

	s.Invalidate(ctx, groupID, append(memberIDs, sess.UserID)...)
	s.metrics.GroupOp("delete")
	s.log.InfoContext(ctx, "group deleted", zap.Uint("group_id", groupID), zap.Uint("user_id", sess.UserID))
	return nil
}

// Archive freezes a group; Unarchive restores it
func (s *Service) Archive(ctx context.Context, sess permissions.Session, groupID uint) (*models.Group, error) {
	return s.setArchived(ctx, sess, groupID, true)
}

func (s *Service) Unarchive(ctx context.Context, sess permissions.Session, groupID uint) (*models.Group, error) {
	return s.setArchived(ctx, sess, groupID, false)
}

func (s *Service) setArchived(ctx context.Context, sess permissions.Session, groupID uint, archived bool) (*models.Group, error) {
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !c.CanArchive() {
		return nil, ErrPermission
	}
	if c.Group.Archived != archived {
		err := s.db.WithContext(ctx).Model(&models.Group{}).Where("group_id = ?", groupID).
			Updates(map[string]interface{}{"archived": archived, "update_user_id": sess.UserID}).Error
		if err != nil {
			return nil, internal(err, "failed to archive group")
		}
		s.Invalidate(ctx, groupID)
		if archived {
			s.metrics.GroupOp("archive")
		} else {
			s.metrics.GroupOp("unarchive")
		}
	}
	return s.Load(ctx, groupID)
}
