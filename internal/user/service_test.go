package user

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/events"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/loginattempt"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/security"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/storage"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-account-go/internal/user/repo"
)

const testBaseURL = "http://localhost:8431"

var (
	testNow = time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)
	pngHead = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
)

// captureSender keeps the last password mailed to each address.
type captureSender struct {
	mu        sync.Mutex
	passwords map[string]string
}

func (c *captureSender) SendNewPasswordEmail(_ context.Context, _ string, password, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.passwords == nil {
		c.passwords = map[string]string{}
	}
	c.passwords[email] = password
	return nil
}

func (c *captureSender) password(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.passwords[email]
}

type mockSender struct{ mock.Mock }

func (m *mockSender) SendNewPasswordEmail(ctx context.Context, firstName, password, email string) error {
	return m.Called(ctx, firstName, password, email).Error(0)
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, subject string, payload any) error {
	return m.Called(ctx, subject, payload).Error(0)
}

// failingStore wraps a real store and fails DeleteAll.
type failingStore struct {
	storage.ImageStore
	deleteCalls int
}

func (f *failingStore) DeleteAll(context.Context, string) error {
	f.deleteCalls++
	return errors.New("disk unavailable")
}

type fixture struct {
	svc      *UserService
	dir      *userrepo.MemoryRepo
	store    *storage.FileStore
	attempts *loginattempt.Cache
	mailer   *captureSender
	tokens   *security.TokenProvider
	now      time.Time
}

func newFixture(t *testing.T, tweak ...func(*Deps)) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		dir:      userrepo.NewMemoryRepo(node),
		store:    store,
		attempts: loginattempt.NewCache(loginattempt.Config{MaxAttempts: 5, TTL: 15 * time.Minute, Capacity: 100}),
		mailer:   &captureSender{},
		now:      testNow,
	}
	clock := func() time.Time { return f.now }
	f.attempts.WithClock(clock)
	f.tokens = security.NewTokenProvider(security.Config{Secret: []byte("test-secret-test-secret-test-secret")}).WithClock(clock)

	d := Deps{
		Directory: f.dir,
		Images:    store,
		Attempts:  f.attempts,
		Tokens:    f.tokens,
		Hasher:    security.BcryptHasher{Cost: 4},
		Mailer:    f.mailer,
		BaseURL:   testBaseURL,
		Now:       clock,
	}
	for _, fn := range tweak {
		fn(&d)
	}
	f.svc = NewUserService(d)
	return f
}

func (f *fixture) register(t *testing.T, username, email string) *entity.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{FirstName: "First", LastName: "Last", Username: username, Email: email})
	require.NoError(t, err)
	return u
}

func pngUpload() *storage.Upload {
	return &storage.Upload{FileName: "me.png", ContentType: "image/png", Body: bytes.NewReader(pngHead)}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice", "alice@example.com")

	assert.NotZero(t, u.ID)
	assert.Regexp(t, regexp.MustCompile(`^[0-9]{10}$`), u.UserID)
	assert.Equal(t, entity.RoleUser, u.Role)
	assert.Equal(t, []string{entity.AuthorityRead}, u.Authorities)
	assert.True(t, u.Active)
	assert.True(t, u.NotLocked)
	assert.True(t, testNow.Equal(u.JoinDate))
	assert.Nil(t, u.LastLoginDate)
	assert.Equal(t, testBaseURL+"/user/image/profile/alice", u.ProfileImageURL)

	password := f.mailer.password("alice@example.com")
	require.Len(t, password, 10)
	assert.NotEqual(t, password, u.Password)
	assert.True(t, security.BcryptHasher{}.Verify(u.Password, password))
}

func TestRegisterConflicts(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@example.com")
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Username: "alice", Email: "other@example.com"})
	assert.ErrorIs(t, err, ErrUsernameExists)

	_, err = f.svc.Register(ctx, RegisterInput{Username: "bob", Email: "ALICE@example.com"})
	assert.ErrorIs(t, err, ErrEmailExists)

	_, err = f.svc.Register(ctx, RegisterInput{Username: " ", Email: "bob@example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	users, err := f.svc.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestRegisterKeepsUserWhenEmailFails(t *testing.T) {
	mailer := &mockSender{}
	mailer.On("SendNewPasswordEmail", mock.Anything, "Carol", mock.AnythingOfType("string"), "carol@example.com").
		Return(errors.New("smtp down")).Once()
	f := newFixture(t, func(d *Deps) { d.Mailer = mailer })

	u, err := f.svc.Register(context.Background(), RegisterInput{FirstName: "Carol", Username: "carol", Email: "carol@example.com"})
	require.NoError(t, err)
	mailer.AssertExpectations(t)

	stored, err := f.svc.FindByUsername(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, u.ID, stored.ID)
}

func TestRegisterPublishesEvent(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, events.SubjectRegistered, mock.MatchedBy(func(e events.AccountEvent) bool {
		return e.Username == "dave" && e.Role == string(entity.RoleUser) && e.OccurredAt.Equal(testNow)
	})).Return(nil).Once()
	f := newFixture(t, func(d *Deps) { d.Events = pub })

	f.register(t, "dave", "dave@example.com")
	pub.AssertExpectations(t)
}

func TestAddNewUserWithImage(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.AddNewUser(context.Background(), AddUserInput{
		FirstName: "Bob", Username: "bob", Email: "bob@example.com", Role: "ROLE_ADMIN", Active: true, NotLocked: false,
	}, pngUpload())
	require.NoError(t, err)

	assert.Equal(t, entity.RoleAdmin, u.Role)
	assert.ElementsMatch(t, []string{entity.AuthorityRead, entity.AuthorityCreate, entity.AuthorityUpdate}, u.Authorities)
	assert.False(t, u.NotLocked)
	assert.Equal(t, testBaseURL+"/user/image/bob/bob.jpg", u.ProfileImageURL)

	b, err := os.ReadFile(filepath.Join(f.store.Root(), "bob", "bob.jpg"))
	require.NoError(t, err)
	assert.Equal(t, pngHead, b)

	stored, err := f.svc.FindByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, u.ProfileImageURL, stored.ProfileImageURL)
	assert.NotEmpty(t, f.mailer.password("bob@example.com"))
}

func TestAddNewUserRejectsNonImage(t *testing.T) {
	f := newFixture(t)
	img := &storage.Upload{FileName: "notes.txt", ContentType: "text/plain", Body: bytes.NewReader([]byte("hi"))}
	u, err := f.svc.AddNewUser(context.Background(), AddUserInput{Username: "bob", Email: "bob@example.com", Role: "user"}, img)
	require.ErrorIs(t, err, storage.ErrNotAnImage)

	require.NotNil(t, u, "the account is created before the image is stored")
	stored, err := f.svc.FindByUsername(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, testBaseURL+"/user/image/profile/bob", stored.ProfileImageURL)
	_, err = os.Stat(filepath.Join(f.store.Root(), "bob"))
	assert.True(t, os.IsNotExist(err))
}

func TestAddNewUserUnknownRole(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddNewUser(context.Background(), AddUserInput{Username: "bob", Email: "bob@example.com", Role: "ROLE_OWNER"}, nil)
	assert.ErrorIs(t, err, entity.ErrUnknownRole)
}

func TestUpdateUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice", "alice@example.com")
	f.register(t, "bob", "bob@example.com")

	updated, err := f.svc.UpdateUser(ctx, UpdateUserInput{
		CurrentUsername: "alice",
		AddUserInput: AddUserInput{
			FirstName: "Alicia", LastName: "Smith", Username: "alicia", Email: "alice@example.com",
			Role: "manager", Active: true, NotLocked: true,
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, updated.ID)
	assert.Equal(t, alice.UserID, updated.UserID)
	assert.Equal(t, alice.Password, updated.Password)
	assert.Equal(t, "alicia", updated.Username)
	assert.Equal(t, entity.RoleManager, updated.Role)
	assert.ElementsMatch(t, []string{entity.AuthorityRead, entity.AuthorityUpdate}, updated.Authorities)

	_, err = f.svc.FindByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateUserConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "alice@example.com")
	f.register(t, "bob", "bob@example.com")

	in := func(current, username, email string) UpdateUserInput {
		return UpdateUserInput{CurrentUsername: current, AddUserInput: AddUserInput{Username: username, Email: email, Role: "user"}}
	}

	_, err := f.svc.UpdateUser(ctx, in("alice", "bob", "alice@example.com"), nil)
	assert.ErrorIs(t, err, ErrUsernameExists)

	_, err = f.svc.UpdateUser(ctx, in("alice", "alice", "bob@example.com"), nil)
	assert.ErrorIs(t, err, ErrEmailExists)

	_, err = f.svc.UpdateUser(ctx, in("nobody", "nobody", "nobody@example.com"), nil)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.svc.UpdateUser(ctx, in("alice", "alice", "alice@example.com"), nil)
	assert.NoError(t, err, "keeping one's own username and email is not a conflict")
}

func TestDeleteUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice", "alice@example.com")
	_, err := f.svc.UpdateProfileImage(ctx, "alice", pngUpload())
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteUser(ctx, u.ID))

	_, err = f.svc.FindByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = os.Stat(filepath.Join(f.store.Root(), "alice"))
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, f.svc.DeleteUser(ctx, u.ID), ErrUserNotFound)
}

func TestDeleteUserKeepsRecordWhenStorageFails(t *testing.T) {
	var store *failingStore
	f := newFixture(t, func(d *Deps) {
		store = &failingStore{ImageStore: d.Images}
		d.Images = store
	})
	ctx := context.Background()
	u := f.register(t, "alice", "alice@example.com")

	assert.Error(t, f.svc.DeleteUser(ctx, u.ID))
	assert.Equal(t, 1, store.deleteCalls)
	_, err := f.svc.FindByUsername(ctx, "alice")
	assert.NoError(t, err)

	assert.ErrorIs(t, f.svc.DeleteUser(ctx, 424242), ErrUserNotFound)
	assert.Equal(t, 1, store.deleteCalls, "storage is not touched for unknown ids")
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice", "alice@example.com")
	first := f.mailer.password("alice@example.com")

	require.NoError(t, f.svc.ResetPassword(ctx, "alice@example.com"))

	second := f.mailer.password("alice@example.com")
	assert.NotEqual(t, first, second)
	stored, err := f.svc.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, u.Password, stored.Password)
	assert.True(t, security.BcryptHasher{}.Verify(stored.Password, second))
	assert.False(t, security.BcryptHasher{}.Verify(stored.Password, first))

	assert.ErrorIs(t, f.svc.ResetPassword(ctx, "ghost@example.com"), ErrEmailNotFound)
}

func TestUpdateProfileImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "alice@example.com")

	u, err := f.svc.UpdateProfileImage(ctx, "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, testBaseURL+"/user/image/profile/alice", u.ProfileImageURL)

	bad := &storage.Upload{FileName: "a.pdf", ContentType: "application/pdf", Body: bytes.NewReader([]byte("%PDF"))}
	_, err = f.svc.UpdateProfileImage(ctx, "alice", bad)
	assert.ErrorIs(t, err, storage.ErrNotAnImage)
	stored, err := f.svc.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, testBaseURL+"/user/image/profile/alice", stored.ProfileImageURL)

	u, err = f.svc.UpdateProfileImage(ctx, "alice", pngUpload())
	require.NoError(t, err)
	assert.Equal(t, testBaseURL+"/user/image/alice/alice.jpg", u.ProfileImageURL)

	rc, err := f.svc.OpenProfileImage(ctx, "alice", "alice.jpg")
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pngHead, b)

	_, err = f.svc.UpdateProfileImage(ctx, "ghost", pngUpload())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateUserRenameLeavesImageUnderOldName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice", "alice@example.com")
	_, err := f.svc.UpdateProfileImage(ctx, "alice", pngUpload())
	require.NoError(t, err)

	renamed, err := f.svc.UpdateUser(ctx, UpdateUserInput{
		CurrentUsername: "alice",
		AddUserInput:    AddUserInput{Username: "alicia", Email: "alice@example.com", Role: "user", Active: true, NotLocked: true},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, testBaseURL+"/user/image/alice/alice.jpg", renamed.ProfileImageURL)

	require.NoError(t, f.svc.DeleteUser(ctx, u.ID))
	_, err = os.Stat(filepath.Join(f.store.Root(), "alice", "alice.jpg"))
	assert.NoError(t, err, "the old username's directory is not removed")
}
