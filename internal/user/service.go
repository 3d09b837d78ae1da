package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/email"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/events"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/loginattempt"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/storage"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-account-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

// Directory is the persistence contract the service needs. Absence is reported as repo.ErrNotFound.
type Directory interface {
	FindByID(ctx context.Context, id int64) (*entity.User, error)
	FindByUsername(ctx context.Context, username string) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	List(ctx context.Context) ([]*entity.User, error)
	Save(ctx context.Context, u *entity.User) (*entity.User, error)
	DeleteByID(ctx context.Context, id int64) error
}

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUsernameExists  = errors.New("username already exists")
	ErrEmailExists     = errors.New("email already exists")
	ErrEmailNotFound   = errors.New("no user found for email")
	ErrInvalidInput    = errors.New("username and email are required")
	ErrBadCredentials  = errors.New("username / password incorrect")
	ErrAccountLocked   = errors.New("account locked")
	ErrAccountDisabled = errors.New("account disabled")
)

// Deps wires the collaborators of UserService. Directory, Images, Attempts and Tokens are required.
type Deps struct {
	Directory Directory
	Images    storage.ImageStore
	Attempts  loginattempt.Store
	Tokens    *security.TokenProvider
	Hasher    security.PasswordHasher
	Mailer    email.Sender
	Events    events.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.SugaredLogger
	// BaseURL prefixes generated profile image URLs, e.g. "https://api.example.com".
	BaseURL string
	Now     func() time.Time
}

// UserService orchestrates registration, administration and authentication of accounts.
// Each call is an independent unit of work; consistency between concurrent updates of one
// account is left to the directory (last write wins).
type UserService struct {
	dir      Directory
	images   storage.ImageStore
	attempts loginattempt.Store
	tokens   *security.TokenProvider
	hasher   security.PasswordHasher
	mailer   email.Sender
	events   events.Publisher
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	baseURL  string
	now      func() time.Time
}

func NewUserService(d Deps) *UserService {
	s := &UserService{
		dir:      d.Directory,
		images:   d.Images,
		attempts: d.Attempts,
		tokens:   d.Tokens,
		hasher:   d.Hasher,
		mailer:   d.Mailer,
		events:   d.Events,
		metrics:  d.Metrics,
		logger:   d.Logger,
		baseURL:  strings.TrimRight(d.BaseURL, "/"),
		now:      d.Now,
	}
	if s.hasher == nil {
		s.hasher = security.BcryptHasher{Cost: 12}
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	if s.mailer == nil {
		s.mailer = email.NewLogSender(s.logger)
	}
	if s.events == nil {
		s.events = events.NopPublisher{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type RegisterInput struct {
	FirstName string
	LastName  string
	Username  string
	Email     string
}

type AddUserInput struct {
	FirstName string
	LastName  string
	Username  string
	Email     string
	Role      string
	NotLocked bool
	Active    bool
}

type UpdateUserInput struct {
	CurrentUsername string
	AddUserInput
}

// Register creates a ROLE_USER account with a generated password that is emailed to the user.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*entity.User, error) {
	in.Username, in.Email = strings.TrimSpace(in.Username), strings.TrimSpace(in.Email)
	if in.Username == "" || in.Email == "" {
		return nil, ErrInvalidInput
	}
	if _, err := s.validateUsernameAndEmail(ctx, "", in.Username, in.Email); err != nil {
		return nil, err
	}
	password := utilities.GeneratePassword()
	u, err := s.newUser(in.FirstName, in.LastName, in.Username, in.Email, entity.RoleUser, true, true, password)
	if err != nil {
		return nil, err
	}
	saved, err := s.save(ctx, u)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("user registered", "username", saved.Username, "user_id", saved.UserID)
	s.sendPassword(ctx, saved, password)
	s.publish(ctx, events.SubjectRegistered, saved)
	return saved, nil
}

// AddNewUser is the administrative variant of Register with caller-chosen role and flags.
// The record is persisted before the image; if the image cannot be stored the returned
// user is still valid (with its default image) alongside the error.
func (s *UserService) AddNewUser(ctx context.Context, in AddUserInput, img *storage.Upload) (*entity.User, error) {
	in.Username, in.Email = strings.TrimSpace(in.Username), strings.TrimSpace(in.Email)
	if in.Username == "" || in.Email == "" {
		return nil, ErrInvalidInput
	}
	role, err := entity.ParseRole(in.Role)
	if err != nil {
		return nil, err
	}
	if _, err := s.validateUsernameAndEmail(ctx, "", in.Username, in.Email); err != nil {
		return nil, err
	}
	password := utilities.GeneratePassword()
	u, err := s.newUser(in.FirstName, in.LastName, in.Username, in.Email, role, in.NotLocked, in.Active, password)
	if err != nil {
		return nil, err
	}
	saved, err := s.save(ctx, u)
	if err != nil {
		return nil, err
	}
	s.logger.Infow("user added", "username", saved.Username, "role", saved.Role)
	s.sendPassword(ctx, saved, password)
	s.publish(ctx, events.SubjectCreated, saved)
	if err := s.saveProfileImage(ctx, saved, img); err != nil {
		return saved, err
	}
	return saved, nil
}

// UpdateUser overwrites the mutable fields of the account currently named in.CurrentUsername.
// Password and ids are untouched. Image errors follow the same rule as AddNewUser.
// A rename does not move stored images: the old username's image directory and URL stay as
// they were, and DeleteUser later removes only the directory of the current username.
func (s *UserService) UpdateUser(ctx context.Context, in UpdateUserInput, img *storage.Upload) (*entity.User, error) {
	in.Username, in.Email = strings.TrimSpace(in.Username), strings.TrimSpace(in.Email)
	if in.Username == "" || in.Email == "" {
		return nil, ErrInvalidInput
	}
	role, err := entity.ParseRole(in.Role)
	if err != nil {
		return nil, err
	}
	currentUsername := strings.TrimSpace(in.CurrentUsername)
	if currentUsername == "" {
		return nil, fmt.Errorf("%w: empty current username", ErrUserNotFound)
	}
	current, err := s.validateUsernameAndEmail(ctx, currentUsername, in.Username, in.Email)
	if err != nil {
		return nil, err
	}
	current.FirstName = in.FirstName
	current.LastName = in.LastName
	current.Username = in.Username
	current.Email = in.Email
	current.Active = in.Active
	current.NotLocked = in.NotLocked
	current.Role = role
	current.Authorities = role.Authorities()

	saved, err := s.save(ctx, current)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.SubjectUpdated, saved)
	if err := s.saveProfileImage(ctx, saved, img); err != nil {
		return saved, err
	}
	return saved, nil
}

// DeleteUser removes the user's image storage and then the record. If the storage
// cannot be removed the record is kept and the error returned.
func (s *UserService) DeleteUser(ctx context.Context, id int64) error {
	u, err := s.dir.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return fmt.Errorf("%w: id %d", ErrUserNotFound, id)
		}
		return err
	}
	if err := s.images.DeleteAll(ctx, u.Username); err != nil {
		return fmt.Errorf("delete profile images of %s: %w", u.Username, err)
	}
	if err := s.dir.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return fmt.Errorf("%w: id %d", ErrUserNotFound, id)
		}
		return err
	}
	s.logger.Infow("user deleted", "username", u.Username, "id", id)
	s.publish(ctx, events.SubjectDeleted, u)
	return nil
}

// ResetPassword replaces the password of the account owning email and mails the new one.
func (s *UserService) ResetPassword(ctx context.Context, emailAddr string) error {
	u, err := s.lookup(ctx, s.dir.FindByEmail, strings.TrimSpace(emailAddr))
	if err != nil {
		return err
	}
	if u == nil {
		return fmt.Errorf("%w: %s", ErrEmailNotFound, emailAddr)
	}
	password := utilities.GeneratePassword()
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.Password = hash
	if _, err := s.save(ctx, u); err != nil {
		return err
	}
	s.logger.Infow("password reset", "username", u.Username)
	s.sendPassword(ctx, u, password)
	s.publish(ctx, events.SubjectPasswordReset, u)
	return nil
}

// UpdateProfileImage replaces the image of username. A nil img is a no-op.
func (s *UserService) UpdateProfileImage(ctx context.Context, username string, img *storage.Upload) (*entity.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: empty username", ErrUserNotFound)
	}
	u, err := s.validateUsernameAndEmail(ctx, username, "", "")
	if err != nil {
		return nil, err
	}
	if err := s.saveProfileImage(ctx, u, img); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *UserService) ListUsers(ctx context.Context) ([]*entity.User, error) {
	return s.dir.List(ctx)
}

func (s *UserService) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	u, err := s.lookup(ctx, s.dir.FindByUsername, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return u, nil
}

func (s *UserService) FindByEmail(ctx context.Context, emailAddr string) (*entity.User, error) {
	u, err := s.lookup(ctx, s.dir.FindByEmail, emailAddr)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrEmailNotFound, emailAddr)
	}
	return u, nil
}

// validateUsernameAndEmail enforces username/email uniqueness.
//
// With an empty currentUsername (creation) any existing owner of newUsername or newEmail is a
// conflict and nil is returned. Otherwise the current user must exist, collisions only count
// when they belong to a different id, and the current user is returned. Empty new values are
// not looked up.
func (s *UserService) validateUsernameAndEmail(ctx context.Context, currentUsername, newUsername, newEmail string) (*entity.User, error) {
	byUsername, err := s.lookup(ctx, s.dir.FindByUsername, newUsername)
	if err != nil {
		return nil, err
	}
	byEmail, err := s.lookup(ctx, s.dir.FindByEmail, newEmail)
	if err != nil {
		return nil, err
	}

	if currentUsername != "" {
		current, err := s.lookup(ctx, s.dir.FindByUsername, currentUsername)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("%w: %s", ErrUserNotFound, currentUsername)
		}
		if byUsername != nil && byUsername.ID != current.ID {
			return nil, ErrUsernameExists
		}
		if byEmail != nil && byEmail.ID != current.ID {
			return nil, ErrEmailExists
		}
		return current, nil
	}

	if byUsername != nil {
		return nil, ErrUsernameExists
	}
	if byEmail != nil {
		return nil, ErrEmailExists
	}
	return nil, nil
}

// lookup turns the directory's not-found signal into a nil user.
func (s *UserService) lookup(ctx context.Context, find func(context.Context, string) (*entity.User, error), key string) (*entity.User, error) {
	if key == "" {
		return nil, nil
	}
	u, err := find(ctx, key)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (s *UserService) newUser(firstName, lastName, username, emailAddr string, role entity.Role, notLocked, active bool, password string) (*entity.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	return &entity.User{
		UserID:          utilities.GenerateUserID(),
		FirstName:       firstName,
		LastName:        lastName,
		Username:        username,
		Email:           emailAddr,
		Password:        hash,
		ProfileImageURL: s.temporaryProfileImageURL(username),
		Role:            role,
		Authorities:     role.Authorities(),
		Active:          active,
		NotLocked:       notLocked,
		JoinDate:        s.now(),
	}, nil
}

// save maps the directory's unique-constraint errors onto the service's conflict errors.
func (s *UserService) save(ctx context.Context, u *entity.User) (*entity.User, error) {
	saved, err := s.dir.Save(ctx, u)
	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, userrepo.ErrDuplicateUsername):
		return nil, ErrUsernameExists
	case errors.Is(err, userrepo.ErrDuplicateEmail):
		return nil, ErrEmailExists
	case errors.Is(err, userrepo.ErrNotFound):
		return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, u.ID)
	default:
		return nil, fmt.Errorf("save user: %w", err)
	}
}

func (s *UserService) sendPassword(ctx context.Context, u *entity.User, password string) {
	if err := s.mailer.SendNewPasswordEmail(ctx, u.FirstName, password, u.Email); err != nil {
		s.logger.Warnw("new password email failed", "username", u.Username, "err", err)
	}
}

func (s *UserService) publish(ctx context.Context, subject string, u *entity.User) {
	evt := events.AccountEvent{
		UserID:     u.UserID,
		Username:   u.Username,
		Email:      u.Email,
		Role:       string(u.Role),
		OccurredAt: s.now(),
	}
	if err := s.events.Publish(ctx, subject, evt); err != nil {
		s.logger.Warnw("account event not published", "subject", subject, "username", u.Username, "err", err)
	}
}
