package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/passgate/internal/model"
)

func TestMemoryUserRepo_CreateAndFind(t *testing.T) {
	repo := NewMemoryUserRepo()
	ctx := context.Background()

	user := newLocalUser("bob")
	require.NoError(t, repo.Create(ctx, user))

	got, err := repo.FindByUsername(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)

	// 取得結果を書き換えても保存内容に影響しない
	got.Username = "mallory"
	again, _ := repo.FindByID(ctx, user.ID)
	assert.Equal(t, "bob", again.Username)

	missing, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMemoryUserRepo_DuplicateUsername(t *testing.T) {
	repo := NewMemoryUserRepo()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newLocalUser("bob")))
	err := repo.Create(ctx, newLocalUser("bob"))
	assert.ErrorIs(t, err, model.ErrDuplicateUsername)
}

func TestMemoryUserRepo_ExternalIdentity(t *testing.T) {
	repo := NewMemoryUserRepo()
	ctx := context.Background()

	user := newLocalUser("google:1")
	user.ExternalProvider = "google"
	user.ExternalID = "1"
	require.NoError(t, repo.Create(ctx, user))

	got, err := repo.FindByExternalID(ctx, "google", "1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)

	other, err := repo.FindByExternalID(ctx, "github", "1")
	require.NoError(t, err)
	assert.Nil(t, other)

	dup := newLocalUser("google:1b")
	dup.ExternalProvider = "google"
	dup.ExternalID = "1"
	assert.ErrorIs(t, repo.Create(ctx, dup), model.ErrDuplicateIdentity)
}

func TestMemoryUserRepo_ConcurrentSignupsSameUsername(t *testing.T) {
	repo := NewMemoryUserRepo()
	ctx := context.Background()

	const attempts = 32
	var succeeded, taken atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := repo.Create(ctx, newLocalUser("bob"))
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, model.ErrDuplicateUsername):
				taken.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(attempts-1), taken.Load())
}

func TestMemorySessionRepo_Lifecycle(t *testing.T) {
	repo := NewMemorySessionRepo()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, &model.Session{ID: "tok", ExpiresAt: now.Add(time.Minute), CreatedAt: now}))

	got, err := repo.FindByID(ctx, "tok")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.False(t, got.IsAuthenticated())

	require.NoError(t, repo.AttachUser(ctx, "tok", "user-1"))
	got, _ = repo.FindByID(ctx, "tok")
	assert.Equal(t, "user-1", got.UserID)

	assert.ErrorIs(t, repo.AttachUser(ctx, "missing", "user-1"), model.ErrUnknownSession)

	require.NoError(t, repo.DeleteByID(ctx, "tok"))
	require.NoError(t, repo.DeleteByID(ctx, "tok"))
	got, _ = repo.FindByID(ctx, "tok")
	assert.Nil(t, got)
}

func TestMemorySessionRepo_Expiry(t *testing.T) {
	repo := NewMemorySessionRepo()
	ctx := context.Background()
	now := time.Now()
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.Create(ctx, &model.Session{ID: "old", ExpiresAt: now.Add(-time.Second), CreatedAt: now.Add(-time.Minute)}))
	require.NoError(t, repo.Create(ctx, &model.Session{ID: "new", ExpiresAt: now.Add(time.Minute), CreatedAt: now}))

	got, err := repo.FindByID(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, repo.AttachUser(ctx, "old", "user-1"), model.ErrUnknownSession)

	deleted, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got, _ = repo.FindByID(ctx, "new")
	assert.NotNil(t, got)
}
