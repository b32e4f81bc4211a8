package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/passgate/internal/config"
	"github.com/hitoshi/passgate/internal/middleware"
	"github.com/hitoshi/passgate/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	return &config.Config{
		DatabaseURL:   config.MemoryDatabaseURL,
		SessionSecret: "test-session-secret-32bytes-long!",
		SessionStore:  config.SessionStoreMemory,
		SessionMaxAge: 3600,
		BcryptCost:    4,
		BaseURL:       "http://localhost:8080",
		ServerPort:    "8080",
	}
}

func TestInit_WithValidConfig_Succeeds(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg == nil {
		t.Fatal("expected non-nil config")
	}

	if cfg.DatabaseURL != config.MemoryDatabaseURL {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, config.MemoryDatabaseURL)
	}

	// Verify that slog global logger is configured for JSON output
	slog.Default().Info("init test")
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log output, got error: %v\nraw: %s", err, buf.String())
	}
	if entry["msg"] != "init test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "init test")
	}
}

func TestInit_AppliesLogLevel(t *testing.T) {
	setTestEnv(t)
	t.Setenv("LOG_LEVEL", "error")

	var buf bytes.Buffer
	if _, err := Init(&buf); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	slog.Default().Warn("filtered")
	if buf.Len() != 0 {
		t.Errorf("expected warn to be filtered at error level, got %s", buf.String())
	}
}

func TestInit_WithMissingConfig_ReturnsError(t *testing.T) {
	// Clear all required env vars
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("BASE_URL", "")

	var buf bytes.Buffer
	cfg, err := Init(&buf)
	if err == nil {
		t.Fatal("expected error for missing required env vars, got nil")
	}
	if cfg != nil {
		t.Error("expected nil config on error")
	}
}

func TestBuild_InMemory_ServesHealthAndIssuesSession(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig(), discardLogger())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer a.Close()

	if a.Sessions.TTL() != session.CookieTTL {
		t.Errorf("session TTL = %v, want %v", a.Sessions.TTL(), session.CookieTTL)
	}

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/signup", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/signup status = %d, want %d", w.Code, http.StatusOK)
	}
	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.DefaultSessionCookieName {
			found = true
		}
	}
	if !found {
		t.Error("expected a session cookie on /signup")
	}
}

func TestBuild_ExternalLoginDisabledWithoutCredentials(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig(), discardLogger())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer a.Close()

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/external", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("/auth/external status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestBuild_ExternalLoginEnabledWithCredentials(t *testing.T) {
	cfg := memoryConfig()
	cfg.GoogleClientID = "client-id"
	cfg.GoogleClientSecret = "client-secret"
	cfg.GoogleRedirectURL = "http://localhost:8080/auth/external/callback"

	a, err := Build(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer a.Close()

	w := httptest.NewRecorder()
	a.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/external", nil))
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("/auth/external status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	if loc := w.Header().Get("Location"); !strings.HasPrefix(loc, "https://accounts.google.com/") {
		t.Errorf("Location = %q, want the Google authorization endpoint", loc)
	}
}

func TestBuild_BoltSessionStore(t *testing.T) {
	cfg := memoryConfig()
	cfg.SessionStore = config.SessionStoreBolt
	cfg.BoltPath = filepath.Join(t.TempDir(), "sessions.db")

	a, err := Build(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if a.Sessions.TTL().Seconds() != 3600 {
		t.Errorf("session TTL = %v, want 1h", a.Sessions.TTL())
	}
	if err := a.Cleanup.Run(context.Background()); err != nil {
		t.Errorf("Cleanup.Run() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	// Closeでファイルロックが解放され、再度開けること
	b, err := Build(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	b.Close()
}

func TestBuild_PostgresSessionsWithoutDatabase_ReturnsError(t *testing.T) {
	cfg := memoryConfig()
	cfg.SessionStore = config.SessionStorePostgres

	if _, err := Build(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected error for postgres sessions without a database")
	}
}

func TestBuild_InvalidRedisURL_ReturnsError(t *testing.T) {
	cfg := memoryConfig()
	cfg.SessionStore = config.SessionStoreRedis
	cfg.RedisURL = "not-a-redis-url"

	if _, err := Build(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected error for invalid REDIS_URL")
	}
}

func TestBuild_InvalidBcryptCost_ReturnsError(t *testing.T) {
	cfg := memoryConfig()
	cfg.BcryptCost = 99

	if _, err := Build(context.Background(), cfg, discardLogger()); err == nil {
		t.Fatal("expected error for out-of-range bcrypt cost")
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	got := maskDatabaseURL("postgres://user:secret@db:5432/passgate")
	if bytes.Contains([]byte(got), []byte("secret")) {
		t.Errorf("maskDatabaseURL leaked credentials: %q", got)
	}
	if maskDatabaseURL("short") != "***" {
		t.Errorf("maskDatabaseURL(short) = %q, want ***", maskDatabaseURL("short"))
	}
}
