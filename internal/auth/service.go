package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/passgate/internal/metrics"
	"github.com/hitoshi/passgate/internal/model"
	"github.com/hitoshi/passgate/internal/repository"
)

// ErrExternalLoginDisabled は外部IdPが設定されていない場合に返される。
var ErrExternalLoginDisabled = errors.New("external login is not configured")

const (
	methodLocal    = "local"
	methodExternal = "external"
	resultSuccess  = "success"
)

// SessionManager はServiceが利用するセッション操作のインターフェース。
type SessionManager interface {
	Resolve(ctx context.Context, token string) (*model.Session, error)
	AttachUser(ctx context.Context, token, userID string) error
	Destroy(ctx context.Context, token string) error
}

// SignupResult はサインアップの結果。Reasonが空の場合に限りUserが設定される。
type SignupResult struct {
	User   *model.User
	Reason FailureReason
}

// OK はサインアップに成功したかを返す。
func (r SignupResult) OK() bool {
	return r.Reason == "" && r.User != nil
}

// Service はサインアップ・ログイン・ログアウトのフローを制御する。
// 要求ごとの状態は匿名（セッションなし、またはユーザー未紐付け）か認証済みのいずれか。
type Service struct {
	strategy *Strategy
	users    repository.UserRepository
	sessions SessionManager
	hasher   PasswordHasher
	external ExternalProvider
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceを生成する。externalがnilの場合は外部ログインを無効とする。
func NewService(
	strategy *Strategy,
	users repository.UserRepository,
	sessions SessionManager,
	hasher PasswordHasher,
	external ExternalProvider,
	mc metrics.MetricsCollector,
) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		strategy: strategy,
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		external: external,
		metrics:  mc,
		now:      time.Now,
	}
}

// Signup は入力を検証してユーザーを作成する。セッションには触れない。
// 入力不備とユーザー名重複はSignupResult.Reasonで、ストア障害はerrorで返す。
func (s *Service) Signup(ctx context.Context, username, pass, confirm string) (SignupResult, error) {
	// 1. 入力検証
	v := s.strategy.ValidateSignup(username, pass, confirm)
	if !v.OK() {
		s.metrics.RecordSignup(string(v.Reason))
		return SignupResult{Reason: v.Reason}, nil
	}

	// 2. 重複チェック（ハッシュ計算の前に弾く）
	existing, err := s.users.FindByUsername(ctx, v.Credentials.Username)
	if err != nil {
		return SignupResult{}, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		s.metrics.RecordSignup(string(ReasonUsernameTaken))
		return SignupResult{Reason: ReasonUsernameTaken}, nil
	}

	// 3. パスワードをハッシュ化
	start := time.Now()
	digest, err := s.hasher.Hash(v.Credentials.Password)
	s.metrics.RecordHashLatency(time.Since(start))
	if err != nil {
		return SignupResult{}, fmt.Errorf("failed to hash password: %w", err)
	}

	// 4. ユーザーを作成（並行サインアップの一意性はストア側で保証される）
	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Username:     v.Credentials.Username,
		PasswordHash: digest,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrDuplicateUsername) {
			s.metrics.RecordSignup(string(ReasonUsernameTaken))
			return SignupResult{Reason: ReasonUsernameTaken}, nil
		}
		return SignupResult{}, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.RecordSignup(resultSuccess)
	slog.Info("user signed up", slog.String("user_id", user.ID))
	return SignupResult{User: user}, nil
}

// Login はローカル認証を行い、成功時のみセッションにユーザーを紐付ける。
// 失敗時はセッションを変更しない。
func (s *Service) Login(ctx context.Context, token, username, pass string) (Outcome, error) {
	outcome, err := s.strategy.AuthenticateLocal(ctx, username, pass)
	if err != nil {
		return Outcome{}, err
	}
	return s.complete(ctx, token, methodLocal, outcome)
}

// ExternalEnabled は外部ログインが利用可能かを返す。
func (s *Service) ExternalEnabled() bool {
	return s.external != nil
}

// LoginURL は外部IdPの認可URLを返す。
func (s *Service) LoginURL(state string) (string, error) {
	if s.external == nil {
		return "", ErrExternalLoginDisabled
	}
	return s.external.LoginURL(state), nil
}

// LoginExternal は認可コードを交換して外部認証を行い、成功時にセッションへ紐付ける。
// IdPとの通信失敗はProviderErrorとして扱う。
func (s *Service) LoginExternal(ctx context.Context, token, code string) (Outcome, error) {
	if s.external == nil {
		return Outcome{}, ErrExternalLoginDisabled
	}

	profile, err := s.external.Exchange(ctx, code)
	if err != nil {
		slog.Warn("external code exchange failed",
			slog.String("provider", s.external.Name()),
			slog.String("error", err.Error()),
		)
		return s.complete(ctx, token, methodExternal, failure(ReasonProviderError))
	}

	outcome, err := s.strategy.AuthenticateExternal(ctx, *profile)
	if err != nil {
		return Outcome{}, err
	}
	return s.complete(ctx, token, methodExternal, outcome)
}

// complete は認証結果を記録し、成功時にユーザーをセッションへ紐付ける。
func (s *Service) complete(ctx context.Context, token, method string, outcome Outcome) (Outcome, error) {
	if !outcome.OK() {
		s.metrics.RecordLogin(method, string(outcome.Reason))
		slog.Info("login failed",
			slog.String("method", method),
			slog.String("reason", string(outcome.Reason)),
		)
		return outcome, nil
	}

	if err := s.sessions.AttachUser(ctx, token, outcome.User.ID); err != nil {
		return Outcome{}, fmt.Errorf("failed to attach user to session: %w", err)
	}

	s.metrics.RecordLogin(method, resultSuccess)
	slog.Info("user logged in",
		slog.String("method", method),
		slog.String("user_id", outcome.User.ID),
	)
	return outcome, nil
}

// Logout はセッションを無条件に破棄する。
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	s.metrics.RecordLogout()
	slog.Info("user logged out")
	return nil
}

// CurrentUser はセッションに紐づくユーザーを返す。匿名の場合はnilを返す。
func (s *Service) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	sess, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.UserForSession(ctx, sess)
}

// UserForSession は解決済みセッションからユーザーを取得する。
// ユーザーが削除済みの場合は匿名として扱う。
func (s *Service) UserForSession(ctx context.Context, sess *model.Session) (*model.User, error) {
	if !sess.IsAuthenticated() {
		return nil, nil
	}
	user, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}
