// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/passgate/internal/metrics"
	"github.com/hitoshi/passgate/internal/model"
	"github.com/hitoshi/passgate/internal/view"
)

// DefaultSessionCookieName はセッショントークンを運ぶCookie名の既定値。
const DefaultSessionCookieName = "passgate_session"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var sessionContextKey = contextKey("session")

// SessionStore はセッションミドルウェアが必要とするセッション操作。
// session.Managerの部分集合として定義する。
type SessionStore interface {
	Create(ctx context.Context) (*model.Session, error)
	Resolve(ctx context.Context, token string) (*model.Session, error)
}

// SessionCookie はセッションCookieの属性。
type SessionCookie struct {
	Name   string
	Domain string
	Secure bool
}

func (c SessionCookie) name() string {
	if c.Name == "" {
		return DefaultSessionCookieName
	}
	return c.Name
}

// Write はセッションの有効期限に合わせたCookieを発行する。
func (c SessionCookie) Write(w http.ResponseWriter, s *model.Session) {
	maxAge := int(time.Until(s.ExpiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    s.ID,
		Path:     "/",
		Domain:   c.Domain,
		Expires:  s.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear はセッションCookieを削除する。
func (c SessionCookie) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// NewSessionMiddleware はCookieのトークンをセッションへ解決するミドルウェアを返す。
// トークンが無い、または未知・期限切れの場合は匿名セッションを新規発行してCookieを設定する。
// 解決したセッションはリクエストコンテキストに格納され、以降の処理から参照できる。
func NewSessionMiddleware(store SessionStore, cookie SessionCookie, v view.View, mc metrics.MetricsCollector) func(next http.Handler) http.Handler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. Cookieからトークンを取得して解決
			var session *model.Session
			if c, err := r.Cookie(cookie.name()); err == nil && c.Value != "" {
				resolved, err := store.Resolve(r.Context(), c.Value)
				if err != nil {
					slog.Error("failed to resolve session", slog.String("error", err.Error()))
					WriteInternalServerError(w, r, v)
					return
				}
				session = resolved
			}

			// 2. 無効なら匿名セッションを発行
			if session == nil {
				created, err := store.Create(r.Context())
				if err != nil {
					slog.Error("failed to create session", slog.String("error", err.Error()))
					WriteInternalServerError(w, r, v)
					return
				}
				mc.RecordSessionCreated()
				cookie.Write(w, created)
				session = created
			}

			// 3. セッションをコンテキストに注入
			if info := requestInfoFrom(r.Context()); info != nil {
				info.session = session
			}
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// RequireLogin は認証済みセッションでないリクエストをloginPathへリダイレクトするゲートを返す。
// セッションミドルウェアの後段に置く。
func RequireLogin(loginPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !SessionFromContext(r.Context()).IsAuthenticated() {
				http.Redirect(w, r, loginPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// セッションミドルウェアを通過していない場合はnilを返す。
func SessionFromContext(ctx context.Context) *model.Session {
	s, _ := ctx.Value(sessionContextKey).(*model.Session)
	return s
}

// TokenFromContext は現在のセッショントークンを返す。
func TokenFromContext(ctx context.Context) string {
	if s := SessionFromContext(ctx); s != nil {
		return s.ID
	}
	return ""
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
// このリクエスト中にログインした場合は、SetAuthenticatedUserで記録したIDを優先する。
func UserIDFromContext(ctx context.Context) (string, error) {
	info := requestInfoFrom(ctx)
	if info != nil && info.userID != "" {
		return info.userID, nil
	}
	if s := SessionFromContext(ctx); s.IsAuthenticated() {
		return s.UserID, nil
	}
	if info != nil && info.session.IsAuthenticated() {
		return info.session.UserID, nil
	}
	return "", fmt.Errorf("user ID not found in context")
}

// SetAuthenticatedUser はこのリクエスト中にセッションへ紐付けたユーザーIDを記録する。
// ロギングミドルウェアの外側では何もしない。
func SetAuthenticatedUser(ctx context.Context, userID string) {
	if info := requestInfoFrom(ctx); info != nil {
		info.userID = userID
	}
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, s *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}
