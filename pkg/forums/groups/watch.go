package groups

import (
	"context"

	"github.com/topcoder-platform/forums-groups/pkg/forums/permissions"
	"github.com/topcoder-platform/forums-groups/pkg/forums/watch"
)

// watchTarget checks pred for the session and returns the group's category ids
func (s *Service) watchTarget(ctx context.Context, sess permissions.Session, groupID uint, pred func(permissions.Check) bool) ([]uint, error) {
	if sess.IsGuest() {
		return nil, ErrAuthRequired
	}
	c, err := s.CheckFor(ctx, sess, groupID)
	if err != nil {
		return nil, err
	}
	if !pred(c) {
		return nil, ErrNotMember
	}
	ids, err := s.categories.IDsByGroup(ctx, groupID)
	if err != nil {
		return nil, internal(err, "failed to load group categories")
	}
	return ids, nil
}

// WatchStatus reports whether the session user watches and follows every category of the group
func (s *Service) WatchStatus(ctx context.Context, sess permissions.Session, groupID uint) (watch.Status, error) {
	ids, err := s.watchTarget(ctx, sess, groupID, permissions.Check.CanWatch)
	if err != nil {
		return watch.Status{}, err
	}
	st, err := s.watch.Status(ctx, sess.UserID, ids)
	if err != nil {
		return st, internal(err, "failed to load watch status")
	}
	return st, nil
}

func (s *Service) Watch(ctx context.Context, sess permissions.Session, groupID uint) (watch.Status, error) {
	return s.applyWatch(ctx, sess, groupID, permissions.Check.CanWatch, s.watch.Watch)
}

func (s *Service) Unwatch(ctx context.Context, sess permissions.Session, groupID uint) (watch.Status, error) {
	return s.applyWatch(ctx, sess, groupID, permissions.Check.CanWatch, s.watch.Unwatch)
}

func (s *Service) Follow(ctx context.Context, sess permissions.Session, groupID uint) (watch.Status, error) {
	return s.applyWatch(ctx, sess, groupID, permissions.Check.CanFollow, s.watch.Follow)
}

func (s *Service) Unfollow(ctx context.Context, sess permissions.Session, groupID uint) (watch.Status, error) {
	return s.applyWatch(ctx, sess, groupID, permissions.Check.CanFollow, s.watch.Unfollow)
}

func (s *Service) applyWatch(
	ctx context.Context,
	sess permissions.Session,
	groupID uint,
	pred func(permissions.Check) bool,
	apply func(context.Context, uint, []uint) error,
) (watch.Status, error) {
	ids, err := s.watchTarget(ctx, sess, groupID, pred)
	if err != nil {
		return watch.Status{}, err
	}
	if err := apply(ctx, sess.UserID, ids); err != nil {
		return watch.Status{}, internal(err, "failed to update watch preferences")
	}
	st, err := s.watch.Status(ctx, sess.UserID, ids)
	if err != nil {
		return st, internal(err, "failed to load watch status")
	}
	return st, nil
}
