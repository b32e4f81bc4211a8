// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrDuplicateUsername はユーザー名の一意制約違反を表す。
var ErrDuplicateUsername = errors.New("username already taken")

// ErrDuplicateIdentity は同一の外部IdP IDを持つユーザーが既に存在することを表す。
var ErrDuplicateIdentity = errors.New("external identity already registered")

// ErrUnknownSession は存在しない、または期限切れのセッションへの操作を表す。
var ErrUnknownSession = errors.New("unknown session")

// APIError は統一エラーフォーマットを表す。
// 画面に表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeInvalidState    = "INVALID_STATE"
	ErrCodeExternalDisable = "EXTERNAL_LOGIN_DISABLED"
)

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Something went wrong on our side.",
		Category: "system",
		Action:   "Please try again in a moment.",
	}
}

// NewNotFoundError はページ未検出エラーを生成する。
func NewNotFoundError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("Page not found: %s", path),
		Category: "system",
		Action:   "Check the address and try again.",
	}
}

// NewInvalidStateError はOAuthのstate不一致エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "The login request could not be verified.",
		Category: "auth",
		Action:   "Start the login again from the login page.",
	}
}

// NewExternalLoginDisabledError は外部ログインが無効な場合のエラーを生成する。
func NewExternalLoginDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeExternalDisable,
		Message:  "External login is not configured.",
		Category: "auth",
		Action:   "Log in with your username and password.",
	}
}
