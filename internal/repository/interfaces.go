// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/passgate/internal/model"
)

// UserRepository はユーザー（認証情報）の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// FindByExternalID は外部IdPのproviderとIDでユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, provider, externalID string) (*model.User, error)

	// Create はユーザーを作成する。
	// ユーザー名が既に使われている場合はmodel.ErrDuplicateUsernameを返す。
	Create(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。存在しないか期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// AttachUser は既存セッションにユーザーIDを紐付ける。
	// 対象セッションが存在しない場合はmodel.ErrUnknownSessionを返す。
	AttachUser(ctx context.Context, id, userID string) error
	// DeleteByID は指定IDのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired はbefore時点で期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
