// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証対象のユーザーを表す。
// ローカル登録ユーザーはPasswordHashを持ち、外部IdP経由で作成されたユーザーは
// ExternalProvider/ExternalIDを持つ（PasswordHashは空でローカル認証できない）。
type User struct {
	ID               string
	Username         string
	PasswordHash     string
	ExternalProvider string
	ExternalID       string
	DisplayName      string
	AvatarURL        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasPassword はローカル認証が可能なユーザーかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// IsExternal は外部IdP経由で作成されたユーザーかを返す。
func (u *User) IsExternal() bool {
	return u.ExternalProvider != ""
}

// Session はブラウザ1つに紐づくサーバー側セッションを表す。
// UserIDはログイン成功までは空（匿名セッション）。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsAuthenticated はセッションにユーザーが紐付いているかを返す。
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.UserID != ""
}

// IsExpired は指定時刻時点でセッションが期限切れかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
