package repo

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/user/entity"
)

// MemoryRepo is a threadsafe in-memory user store for tests and single-instance runs
// without DATABASE_URL. Records are copied on the way in and out.
type MemoryRepo struct {
	mu    sync.RWMutex
	node  *snowflake.Node
	users map[int64]*entity.User
}

func NewMemoryRepo(node *snowflake.Node) *MemoryRepo {
	return &MemoryRepo{node: node, users: make(map[int64]*entity.User)}
}

func (r *MemoryRepo) FindByID(_ context.Context, id int64) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (r *MemoryRepo) FindByUsername(_ context.Context, username string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u := r.findLocked(func(u *entity.User) bool { return u.Username == username }); u != nil {
		return u.Clone(), nil
	}
	return nil, ErrNotFound
}

// FindByEmail ignores case, matching the citext column of UserRepo.
func (r *MemoryRepo) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if u := r.findLocked(func(u *entity.User) bool { return strings.EqualFold(u.Email, email) }); u != nil {
		return u.Clone(), nil
	}
	return nil, ErrNotFound
}

func (r *MemoryRepo) List(_ context.Context) ([]*entity.User, error) {
	r.mu.RLock()
	out := make([]*entity.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) Save(_ context.Context, u *entity.User) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID != 0 {
		if _, ok := r.users[u.ID]; !ok {
			return nil, ErrNotFound
		}
	}
	if other := r.findLocked(func(o *entity.User) bool { return o.Username == u.Username }); other != nil && other.ID != u.ID {
		return nil, ErrDuplicateUsername
	}
	if other := r.findLocked(func(o *entity.User) bool { return strings.EqualFold(o.Email, u.Email) }); other != nil && other.ID != u.ID {
		return nil, ErrDuplicateEmail
	}
	if u.ID == 0 {
		u.ID = r.node.Generate().Int64()
	}
	r.users[u.ID] = u.Clone()
	return u, nil
}

func (r *MemoryRepo) DeleteByID(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *MemoryRepo) findLocked(match func(*entity.User) bool) *entity.User {
	for _, u := range r.users {
		if match(u) {
			return u
		}
	}
	return nil
}
