// Package auth は認証戦略（ローカル・外部IdP）と、サインアップ・ログイン・ログアウトの
// フロー制御を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/passgate/internal/metrics"
	"github.com/hitoshi/passgate/internal/model"
	"github.com/hitoshi/passgate/internal/password"
	"github.com/hitoshi/passgate/internal/repository"
	"github.com/hitoshi/passgate/internal/security"
)

const (
	// minPasswordLength はパスワードの最小文字数。
	minPasswordLength = 7
	// maxUsernameLength はユーザー名の最大文字数（users.usernameの列長）。
	maxUsernameLength = 255
	// externalUsernameSeparator は外部ユーザーの派生ユーザー名 <provider>:<id> の区切り文字。
	// ローカル登録では使用できない。
	externalUsernameSeparator = ":"
)

// FailureReason は認証・入力検証の失敗理由を表す。空文字列は成功を意味する。
type FailureReason string

const (
	ReasonEmptyField       FailureReason = "empty_field"
	ReasonPasswordMismatch FailureReason = "password_mismatch"
	ReasonWeakPassword     FailureReason = "weak_password"
	ReasonPasswordTooLong  FailureReason = "password_too_long"
	ReasonInvalidUsername  FailureReason = "invalid_username"
	ReasonUsernameTaken    FailureReason = "username_taken"
	ReasonUnknownUser      FailureReason = "unknown_user"
	ReasonBadPassword      FailureReason = "bad_password"
	ReasonStoreError       FailureReason = "store_error"
	ReasonProviderError    FailureReason = "provider_error"
)

// GenericLoginFailure はログイン失敗時に利用者へ表示する唯一のメッセージ。
// ユーザー名の存在有無を推測させないため、UnknownUserとBadPasswordを区別しない。
const GenericLoginFailure = "Incorrect username or password"

// Message は利用者向けの表示メッセージを返す。
func (r FailureReason) Message() string {
	switch r {
	case "":
		return ""
	case ReasonEmptyField:
		return "Please enter a username and a password"
	case ReasonPasswordMismatch:
		return "You've entered 2 different passwords"
	case ReasonWeakPassword:
		return "The password has to be at least 7 characters with some digits and uppercase letters"
	case ReasonPasswordTooLong:
		return fmt.Sprintf("The password must be at most %d bytes", password.MaxLength)
	case ReasonInvalidUsername:
		return fmt.Sprintf("The username must be at most %d characters and cannot contain %q or control characters", maxUsernameLength, externalUsernameSeparator)
	case ReasonUsernameTaken:
		return "The username is already taken"
	case ReasonUnknownUser, ReasonBadPassword:
		return GenericLoginFailure
	case ReasonProviderError:
		return "External sign-in failed"
	default:
		return "Authentication failed"
	}
}

// Credentials は検証済みのサインアップ入力。
type Credentials struct {
	Username string
	Password string
}

// ValidationResult はサインアップ入力検証の結果。
type ValidationResult struct {
	Credentials Credentials
	Reason      FailureReason
}

// OK は検証に成功したかを返す。
func (v ValidationResult) OK() bool {
	return v.Reason == ""
}

// Outcome は1回の認証試行の結果。Reasonが空の場合に限りUserが設定される。
type Outcome struct {
	User   *model.User
	Reason FailureReason
}

// OK は認証に成功したかを返す。
func (o Outcome) OK() bool {
	return o.Reason == "" && o.User != nil
}

func success(u *model.User) Outcome {
	return Outcome{User: u}
}

func failure(r FailureReason) Outcome {
	return Outcome{Reason: r}
}

// ExternalProfile は外部IdPから取得したユーザー情報。
type ExternalProfile struct {
	Provider    string
	ExternalID  string
	DisplayName string
	AvatarURL   string
}

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// Strategy は資格情報をユーザーまたは失敗理由へ解決する。
// 起動時に1つ生成し、Serviceへ注入する。
type Strategy struct {
	users     repository.UserRepository
	hasher    PasswordHasher
	sanitizer security.TextSanitizer
	guard     security.URLGuard
	metrics   metrics.MetricsCollector
	now       func() time.Time

	dummyOnce   sync.Once
	dummyDigest string
}

// NewStrategy はStrategyを生成する。mcがnilの場合はメトリクスを記録しない。
func NewStrategy(
	users repository.UserRepository,
	hasher PasswordHasher,
	sanitizer security.TextSanitizer,
	guard security.URLGuard,
	mc metrics.MetricsCollector,
) *Strategy {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Strategy{
		users:     users,
		hasher:    hasher,
		sanitizer: sanitizer,
		guard:     guard,
		metrics:   mc,
		now:       time.Now,
	}
}

// ValidateSignup はサインアップ入力を検証する。
// 検査順は 空欄 → 確認不一致 → 強度（長さ・数字・大文字）→ 最大長 → ユーザー名の形式 で、
// 最初の失敗のみを返す。
func (s *Strategy) ValidateSignup(username, pass, confirm string) ValidationResult {
	username = strings.TrimSpace(username)

	if username == "" || pass == "" {
		return ValidationResult{Reason: ReasonEmptyField}
	}
	if pass != confirm {
		return ValidationResult{Reason: ReasonPasswordMismatch}
	}
	if len([]rune(pass)) < minPasswordLength {
		return ValidationResult{Reason: ReasonWeakPassword}
	}
	if !strings.ContainsFunc(pass, isASCIIDigit) {
		return ValidationResult{Reason: ReasonWeakPassword}
	}
	if !strings.ContainsFunc(pass, isASCIIUpper) {
		return ValidationResult{Reason: ReasonWeakPassword}
	}
	// bcryptは72バイトを超える入力を扱えない
	if len(pass) > password.MaxLength {
		return ValidationResult{Reason: ReasonPasswordTooLong}
	}
	if !validUsername(username) {
		return ValidationResult{Reason: ReasonInvalidUsername}
	}

	return ValidationResult{Credentials: Credentials{Username: username, Password: pass}}
}

// validUsername はユーザー名がストアに保存可能で、外部ユーザーの名前空間と衝突しないかを返す。
func validUsername(username string) bool {
	if !utf8.ValidString(username) || utf8.RuneCountInString(username) > maxUsernameLength {
		return false
	}
	if strings.Contains(username, externalUsernameSeparator) {
		return false
	}
	return !strings.ContainsFunc(username, unicode.IsControl)
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isASCIIUpper(r rune) bool {
	return r < unicode.MaxASCII && unicode.IsUpper(r)
}

// AuthenticateLocal はユーザー名とパスワードでユーザーを認証する。
// ストアの接続エラーのみerrorとして返し、それ以外の失敗はOutcomeの理由で表す。
func (s *Strategy) AuthenticateLocal(ctx context.Context, username, pass string) (Outcome, error) {
	username = strings.TrimSpace(username)
	if username == "" || pass == "" {
		return failure(ReasonEmptyField), nil
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to find user: %w", err)
	}

	start := time.Now()
	defer func() { s.metrics.RecordHashLatency(time.Since(start)) }()

	if user == nil {
		// 存在しないユーザーでも照合と同程度の時間をかける
		s.hasher.Verify(pass, s.dummyHash())
		return failure(ReasonUnknownUser), nil
	}
	if !user.HasPassword() || !s.hasher.Verify(pass, user.PasswordHash) {
		return failure(ReasonBadPassword), nil
	}
	return success(user), nil
}

// dummyHash は照合時間を揃えるためのダミーダイジェストを初回のみ計算して返す。
func (s *Strategy) dummyHash() string {
	s.dummyOnce.Do(func() {
		digest, err := s.hasher.Hash(uuid.NewString())
		if err != nil {
			slog.Warn("failed to prepare dummy password hash", slog.String("error", err.Error()))
			return
		}
		s.dummyDigest = digest
	})
	return s.dummyDigest
}

// AuthenticateExternal は外部IdPのプロフィールからユーザーを特定する。
// 未登録の場合はユーザーを作成する。作成に失敗した場合はStoreErrorを返す。
func (s *Strategy) AuthenticateExternal(ctx context.Context, profile ExternalProfile) (Outcome, error) {
	if profile.Provider == "" || profile.ExternalID == "" {
		return failure(ReasonEmptyField), nil
	}

	// 1. 既存ユーザーを検索
	user, err := s.users.FindByExternalID(ctx, profile.Provider, profile.ExternalID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to find external user: %w", err)
	}
	if user != nil {
		return success(user), nil
	}

	// 2. 新規ユーザーを作成
	now := s.now()
	user = &model.User{
		ID:               uuid.New().String(),
		Username:         profile.Provider + ":" + profile.ExternalID,
		ExternalProvider: profile.Provider,
		ExternalID:       profile.ExternalID,
		DisplayName:      s.sanitizer.SanitizeText(profile.DisplayName),
		AvatarURL:        s.safeAvatarURL(profile.AvatarURL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		// 3. 同一IDの並行ログインに負けた場合は勝者のレコードを使う
		if errors.Is(err, model.ErrDuplicateIdentity) {
			existing, findErr := s.users.FindByExternalID(ctx, profile.Provider, profile.ExternalID)
			if findErr == nil && existing != nil {
				return success(existing), nil
			}
		}
		slog.Error("failed to create external user",
			slog.String("provider", profile.Provider),
			slog.String("error", err.Error()),
		)
		return failure(ReasonStoreError), nil
	}

	slog.Info("external user created",
		slog.String("user_id", user.ID),
		slog.String("provider", profile.Provider),
	)
	return success(user), nil
}

// safeAvatarURL は公開http(s)のURLのみを返し、それ以外は空文字列にする。
func (s *Strategy) safeAvatarURL(raw string) string {
	if raw == "" {
		return ""
	}
	if err := s.guard.ValidateURL(raw); err != nil {
		slog.Warn("discarding unsafe avatar url", slog.String("error", err.Error()))
		return ""
	}
	return raw
}
