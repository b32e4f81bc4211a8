// Package session はCookieで受け渡す不透明トークンとサーバー側セッション状態の対応を管理する。
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/passgate/internal/model"
	"github.com/hitoshi/passgate/internal/repository"
)

const (
	// CookieTTL はメモリストア（Cookieのみの最小構成）でのセッション有効期間。
	CookieTTL = 60 * time.Second
	// PersistentTTL は永続ストアでのセッション有効期間。
	PersistentTTL = 24 * time.Hour

	tokenBytes = 32
)

// Manager はセッションの発行・解決・ユーザー紐付け・破棄を行う。
// 有効期限は作成時に固定され、Resolve時に遅延評価する。
type Manager struct {
	repo repository.SessionRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewManager はManagerを生成する。ttlは0より大きくなければならない。
func NewManager(repo repository.SessionRepository, ttl time.Duration) (*Manager, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	return &Manager{repo: repo, ttl: ttl, now: time.Now}, nil
}

// TTL はセッションの有効期間を返す。
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create は新しい匿名セッションを発行する。
func (m *Manager) Create(ctx context.Context) (*model.Session, error) {
	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := m.now()
	s := &model.Session{
		ID:        token,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return s, nil
}

// Resolve はトークンに対応するセッションを返す。
// 未知または期限切れのトークンはエラーではなくnilとして扱う。
func (m *Manager) Resolve(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, nil
	}
	s, err := m.repo.FindByID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	// ストア側の時計に依存せず、ここでも期限を確認する
	if s == nil || s.IsExpired(m.now()) {
		return nil, nil
	}
	return s, nil
}

// AttachUser は既存セッションに認証済みユーザーを紐付ける。
// トークンが無効な場合はmodel.ErrUnknownSessionを返す。
func (m *Manager) AttachUser(ctx context.Context, token, userID string) error {
	if token == "" {
		return model.ErrUnknownSession
	}
	if err := m.repo.AttachUser(ctx, token, userID); err != nil {
		if errors.Is(err, model.ErrUnknownSession) {
			return err
		}
		return fmt.Errorf("failed to attach user: %w", err)
	}
	return nil
}

// Destroy はセッションを無条件に削除する。既に存在しない場合もエラーにしない。
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.repo.DeleteByID(ctx, token); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// Sweep は期限切れセッションをストアから削除し、削除件数を返す。
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	deleted, err := m.repo.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep sessions: %w", err)
	}
	return deleted, nil
}

// generateToken は暗号的に安全なセッショントークンを生成する。
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
