package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/events"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-account-go/internal/user/repo"
)

// LoginUpdate is the bookkeeping one login attempt persists on the account,
// whether or not the password turns out to be right.
type LoginUpdate struct {
	NotLocked            bool
	NewlyLocked          bool
	LastLoginDate        time.Time
	LastLoginDateDisplay *time.Time

	user *entity.User
}

func (lu *LoginUpdate) apply(u *entity.User) {
	u.NotLocked = lu.NotLocked
	u.LastLoginDateDisplay = lu.LastLoginDateDisplay
	last := lu.LastLoginDate
	u.LastLoginDate = &last
}

type LoginResult struct {
	User  *entity.User
	Token string
}

// Authenticate loads username for a credential check. It decides the lock state from the
// login attempt store and shifts the login timestamps; the returned principal reflects
// both. Nothing is written until ApplyLogin.
func (s *UserService) Authenticate(ctx context.Context, username string) (*entity.Principal, *LoginUpdate, error) {
	u, err := s.dir.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		return nil, nil, err
	}

	notLocked := s.lockDecision(ctx, u)
	upd := &LoginUpdate{
		NotLocked:            notLocked,
		NewlyLocked:          u.NotLocked && !notLocked,
		LastLoginDate:        s.now(),
		LastLoginDateDisplay: u.LastLoginDate,
		user:                 u,
	}
	upd.apply(u)
	return entity.NewPrincipal(u), upd, nil
}

// lockDecision locks an unlocked account that has reached the attempt ceiling.
// An account that is already locked has its counter cleared and stays locked.
func (s *UserService) lockDecision(ctx context.Context, u *entity.User) bool {
	if !u.NotLocked {
		if err := s.attempts.Remove(ctx, u.Username); err != nil {
			s.logger.Warnw("clear login attempts failed", "username", u.Username, "err", err)
		}
		return false
	}
	exceeded, err := s.attempts.HasExceeded(ctx, u.Username)
	if err != nil {
		s.logger.Warnw("login attempt lookup failed", "username", u.Username, "err", err)
		return true
	}
	return !exceeded
}

// ApplyLogin persists the result of Authenticate.
func (s *UserService) ApplyLogin(ctx context.Context, upd *LoginUpdate) error {
	if upd == nil || upd.user == nil {
		return nil
	}
	saved, err := s.save(ctx, upd.user)
	if err != nil {
		return err
	}
	upd.user = saved
	if upd.NewlyLocked {
		s.logger.Infow("account locked after repeated login failures", "username", saved.Username)
		s.metrics.AccountLocked()
		s.publish(ctx, events.SubjectLocked, saved)
	}
	return nil
}

// Login runs the full credential check and issues a token on success.
// Unknown users and wrong passwords are both reported as ErrBadCredentials and both
// count as a failed attempt for the submitted username.
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	principal, upd, err := s.Authenticate(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		s.recordFailure(ctx, username)
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := s.ApplyLogin(ctx, upd); err != nil {
		return nil, err
	}
	if !principal.NotLocked {
		return nil, ErrAccountLocked
	}
	if !principal.Enabled {
		return nil, ErrAccountDisabled
	}
	if !s.hasher.Verify(principal.PasswordHash, password) {
		s.recordFailure(ctx, username)
		return nil, ErrBadCredentials
	}
	if err := s.attempts.Remove(ctx, username); err != nil {
		s.logger.Warnw("clear login attempts failed", "username", username, "err", err)
	}

	token, err := s.tokens.Issue(principal.Username, principal.Authorities)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.logger.Debugw("login succeeded", "username", principal.Username)
	return &LoginResult{User: upd.user, Token: token}, nil
}

func (s *UserService) recordFailure(ctx context.Context, username string) {
	s.metrics.LoginFailed()
	if err := s.attempts.RecordFailure(ctx, username); err != nil {
		s.logger.Warnw("record login failure failed", "username", username, "err", err)
	}
}
