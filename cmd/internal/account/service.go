// Package account closes accounts: it detaches the user from every group, removes the
// account row and clears the per-user state that the store does not cascade.
package account

import (
	"context"
	"strings"

	"spotline/cmd/identity"
	"spotline/cmd/internal/fault"

	"go.uber.org/zap"
)

// Accounts is the identity side of a deletion.
type Accounts interface {
	GetByID(ctx context.Context, id string) (identity.User, error)
	Delete(ctx context.Context, id string) error
}

// Detacher drops a user's group memberships before the account goes away.
type Detacher interface {
	DetachUser(ctx context.Context, userID string) error
}

// Purger clears state keyed by a deleted account.
type Purger interface {
	PurgeUser(ctx context.Context, userID string) error
}

// Service deletes accounts.
type Service struct {
	users   Accounts
	groups  Detacher
	purgers []Purger
	log     *zap.Logger
}

// Option configures the Service.
type Option func(*Service) error

// WithPurgers registers cleanups run after an account is deleted.
func WithPurgers(p ...Purger) Option {
	return func(s *Service) error {
		for _, pg := range p {
			if pg != nil {
				s.purgers = append(s.purgers, pg)
			}
		}
		return nil
	}
}

// WithLogger sets the logger (default: no-op).
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// NewService constructs a Service.
func NewService(users Accounts, groups Detacher, opts ...Option) (*Service, error) {
	if users == nil || groups == nil {
		return nil, fault.Invalid("account.NewService", "nil dependency")
	}
	s := &Service{users: users, groups: groups, log: zap.NewNop()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Delete removes targetID's account. The actor is the account holder or a site admin.
//
// A user who is the only admin of a group with other members cannot be deleted
// (group.ErrSoleAdmin); nothing is changed in that case.
func (s *Service) Delete(ctx context.Context, actorID, targetID string) error {
	const op = "account.Delete"
	if err := ctx.Err(); err != nil {
		return err
	}
	actorID, targetID = strings.TrimSpace(actorID), strings.TrimSpace(targetID)
	if actorID == "" || targetID == "" {
		return fault.Invalid(op, "missing user id")
	}

	if actorID != targetID {
		actor, err := s.users.GetByID(ctx, actorID)
		if err != nil {
			return err
		}
		if actor.Role != identity.RoleAdmin {
			return fault.Forbidden(op, "only site admins can delete other accounts")
		}
	}
	if _, err := s.users.GetByID(ctx, targetID); err != nil {
		return err
	}

	if err := s.groups.DetachUser(ctx, targetID); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, targetID); err != nil {
		return err
	}
	for _, p := range s.purgers {
		if err := p.PurgeUser(ctx, targetID); err != nil {
			s.log.Warn("account.purge.fail", zap.String("user_id", targetID), zap.Error(err))
		}
	}

	s.log.Info("account.deleted", zap.String("user_id", targetID), zap.String("actor_id", actorID))
	return nil
}
