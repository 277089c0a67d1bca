package store

import (
	"context"
	"strings"
	"sync"

	"ResearchChat/module/user/model"
	"ResearchChat/tools/errs"
)

// UserRepo is the read side of the user record store.
type UserRepo interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, userID string) (*model.User, error)
}

// SessionArchiver records invalidated sessions for audit. Best effort.
type SessionArchiver interface {
	Archive(ctx context.Context, log *model.UserSessionLog) error
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ===== memory =====

type MemoryUserRepo struct {
	mu      sync.RWMutex
	byEmail map[string]*model.User
	byID    map[string]*model.User
}

func NewMemoryUserRepo(users ...*model.User) *MemoryUserRepo {
	r := &MemoryUserRepo{
		byEmail: make(map[string]*model.User),
		byID:    make(map[string]*model.User),
	}
	for _, u := range users {
		r.Put(u)
	}
	return r
}

func (r *MemoryUserRepo) Put(u *model.User) {
	cp := *u
	cp.Email = NormalizeEmail(cp.Email)
	r.mu.Lock()
	r.byEmail[cp.Email] = &cp
	r.byID[cp.UserID] = &cp
	r.mu.Unlock()
}

func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("user", "email", email)
	}
	cp := *u
	return &cp, nil
}

func (r *MemoryUserRepo) FindByID(_ context.Context, userID string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[userID]
	if !ok {
		return nil, errs.ErrRecordNotFound.WrapMsg("user", "user_id", userID)
	}
	cp := *u
	return &cp, nil
}

// MemoryArchiver keeps archived sessions in memory; used when Mongo is off and in tests.
type MemoryArchiver struct {
	mu   sync.Mutex
	logs []model.UserSessionLog
}

func (a *MemoryArchiver) Archive(_ context.Context, log *model.UserSessionLog) error {
	a.mu.Lock()
	a.logs = append(a.logs, *log)
	a.mu.Unlock()
	return nil
}

func (a *MemoryArchiver) Logs() []model.UserSessionLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.UserSessionLog, len(a.logs))
	copy(out, a.logs)
	return out
}
