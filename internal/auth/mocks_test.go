package auth

import (
	"context"
	"strings"

	"github.com/hitoshi/passgate/internal/model"
	"github.com/hitoshi/passgate/internal/repository"
	"github.com/hitoshi/passgate/internal/security"
)

// --- モック定義 ---

type mockUserRepo struct {
	findByIDFn         func(ctx context.Context, id string) (*model.User, error)
	findByUsernameFn   func(ctx context.Context, username string) (*model.User, error)
	findByExternalIDFn func(ctx context.Context, provider, externalID string) (*model.User, error)
	createFn           func(ctx context.Context, user *model.User) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.findByUsernameFn != nil {
		return m.findByUsernameFn(ctx, username)
	}
	return nil, nil
}

func (m *mockUserRepo) FindByExternalID(ctx context.Context, provider, externalID string) (*model.User, error) {
	if m.findByExternalIDFn != nil {
		return m.findByExternalIDFn(ctx, provider, externalID)
	}
	return nil, nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

type mockSessionManager struct {
	resolveFn    func(ctx context.Context, token string) (*model.Session, error)
	attachUserFn func(ctx context.Context, token, userID string) error
	destroyFn    func(ctx context.Context, token string) error
}

func (m *mockSessionManager) Resolve(ctx context.Context, token string) (*model.Session, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, token)
	}
	return nil, nil
}

func (m *mockSessionManager) AttachUser(ctx context.Context, token, userID string) error {
	if m.attachUserFn != nil {
		return m.attachUserFn(ctx, token, userID)
	}
	return nil
}

func (m *mockSessionManager) Destroy(ctx context.Context, token string) error {
	if m.destroyFn != nil {
		return m.destroyFn(ctx, token)
	}
	return nil
}

type mockExternalProvider struct {
	loginURLFn func(state string) string
	exchangeFn func(ctx context.Context, code string) (*ExternalProfile, error)
}

func (m *mockExternalProvider) Name() string {
	return "google"
}

func (m *mockExternalProvider) LoginURL(state string) string {
	if m.loginURLFn != nil {
		return m.loginURLFn(state)
	}
	return ""
}

func (m *mockExternalProvider) Exchange(ctx context.Context, code string) (*ExternalProfile, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return nil, nil
}

// plainHasher はbcryptを使わない高速なテスト用ハッシャー。
type plainHasher struct{}

func (plainHasher) Hash(plaintext string) (string, error) {
	return "plain$" + plaintext, nil
}

func (plainHasher) Verify(plaintext, digest string) bool {
	return digest != "" && strings.TrimPrefix(digest, "plain$") == plaintext
}

// stubGuard はホスト名に"unsafe"を含むURLを拒否する。
type stubGuard struct {
	security.URLGuard
}

func (stubGuard) ValidateURL(raw string) error {
	if strings.Contains(raw, "unsafe") {
		return errUnsafeURL
	}
	return nil
}

type unsafeURLError struct{}

func (unsafeURLError) Error() string { return "unsafe url" }

var errUnsafeURL = unsafeURLError{}

func newTestStrategy(users repository.UserRepository) *Strategy {
	return NewStrategy(users, plainHasher{}, security.NewTextSanitizer(), stubGuard{}, nil)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*mockUserRepo)(nil)
var _ SessionManager = (*mockSessionManager)(nil)
var _ ExternalProvider = (*mockExternalProvider)(nil)
var _ PasswordHasher = plainHasher{}
