package repository

import (
	"context"
	"sync"

	"github.com/hitoshi/passgate/internal/model"
)

// MemoryUserRepo はプロセス内メモリに保持するユーザーリポジトリ。
// DATABASE_URL=memory の開発用起動とテストで使用する。
// ユーザー名の存在確認と登録は同一ロック内で行い、一意性を保証する。
type MemoryUserRepo struct {
	mu         sync.RWMutex
	byID       map[string]*model.User
	byUsername map[string]string
	byExternal map[string]string
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:       make(map[string]*model.User),
		byUsername: make(map[string]string),
		byExternal: make(map[string]string),
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneUser(r.byID[id]), nil
}

// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneUser(r.byID[r.byUsername[username]]), nil
}

// FindByExternalID は外部IdPのproviderとIDでユーザーを取得する。
func (r *MemoryUserRepo) FindByExternalID(_ context.Context, provider, externalID string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneUser(r.byID[r.byExternal[externalKey(provider, externalID)]]), nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUsername[user.Username]; ok {
		return model.ErrDuplicateUsername
	}
	var extKey string
	if user.ExternalProvider != "" {
		extKey = externalKey(user.ExternalProvider, user.ExternalID)
		if _, ok := r.byExternal[extKey]; ok {
			return model.ErrDuplicateIdentity
		}
	}

	r.byID[user.ID] = cloneUser(user)
	r.byUsername[user.Username] = user.ID
	if extKey != "" {
		r.byExternal[extKey] = user.ID
	}
	return nil
}

func externalKey(provider, externalID string) string {
	return provider + "\x00" + externalID
}

func cloneUser(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// compile-time interface check
var _ UserRepository = (*MemoryUserRepo)(nil)
