// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/passgate/internal/auth"
	"github.com/hitoshi/passgate/internal/middleware"
	"github.com/hitoshi/passgate/internal/model"
	"github.com/hitoshi/passgate/internal/view"
)

const (
	oauthStateCookie = "passgate_oauth_state"
	oauthStateMaxAge = 600 // 10分

	pathHome    = "/"
	pathLogin   = "/login"
	pathProfile = "/profile"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, username, password, confirm string) (auth.SignupResult, error)
	Login(ctx context.Context, token, username, password string) (auth.Outcome, error)
	ExternalEnabled() bool
	LoginURL(state string) (string, error)
	LoginExternal(ctx context.Context, token, code string) (auth.Outcome, error)
	Logout(ctx context.Context, token string) error
	UserForSession(ctx context.Context, session *model.Session) (*model.User, error)
}

// FlashStore はリダイレクトをまたぐ一度きりのメッセージの保存先。
type FlashStore interface {
	Set(w http.ResponseWriter, msg string) error
	Pop(w http.ResponseWriter, r *http.Request) string
}

// AuthHandler はサインアップ・ログイン・ログアウト・プロフィールのHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	flash   FlashStore
	view    view.View
	cookie  middleware.SessionCookie
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, flash FlashStore, v view.View, cookie middleware.SessionCookie) *AuthHandler {
	return &AuthHandler{
		service: service,
		flash:   flash,
		view:    v,
		cookie:  cookie,
	}
}

// Home はトップページを表示する。匿名の場合userはnil。
// GET /
func (h *AuthHandler) Home(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.UserForSession(r.Context(), middleware.SessionFromContext(r.Context()))
	if err != nil {
		h.internalError(w, r, "failed to load current user", err)
		return
	}
	h.view.Render(w, http.StatusOK, view.Home, view.HomeData{User: user})
}

// SignupForm はサインアップフォームを表示する。
// GET /signup
func (h *AuthHandler) SignupForm(w http.ResponseWriter, r *http.Request) {
	h.view.Render(w, http.StatusOK, view.Signup, view.FormData{})
}

// Signup はサインアップフォームの送信を処理する。
// 入力不備はフォームを再表示し、成功時はログインさせずにトップへリダイレクトする。
// POST /signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.view.Render(w, http.StatusBadRequest, view.Signup, view.FormData{
			ErrorMessage: auth.ReasonEmptyField.Message(),
		})
		return
	}
	username := r.PostForm.Get("username")

	result, err := h.service.Signup(r.Context(), username, r.PostForm.Get("password"), r.PostForm.Get("confirmPassword"))
	if err != nil {
		h.internalError(w, r, "signup failed", err)
		return
	}
	if !result.OK() {
		h.view.Render(w, http.StatusOK, view.Signup, view.FormData{
			ErrorMessage: result.Reason.Message(),
			Username:     username,
		})
		return
	}

	http.Redirect(w, r, pathHome, http.StatusFound)
}

// LoginForm はログインフォームを表示する。直前のログイン失敗メッセージがあれば一度だけ表示する。
// GET /login
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.view.Render(w, http.StatusOK, view.Login, view.FormData{
		ErrorMessage:    h.flash.Pop(w, r),
		ExternalEnabled: h.service.ExternalEnabled(),
	})
}

// Login はログインフォームの送信を処理する。
// 失敗時は汎用メッセージをフラッシュに積んでログインフォームへ戻し、セッションは変更しない。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.failLogin(w, r, auth.ReasonEmptyField)
		return
	}

	sess := middleware.SessionFromContext(r.Context())
	outcome, err := h.service.Login(r.Context(), middleware.TokenFromContext(r.Context()),
		r.PostForm.Get("username"), r.PostForm.Get("password"))
	if err != nil {
		h.internalError(w, r, "login failed", err)
		return
	}
	if !outcome.OK() {
		h.failLogin(w, r, outcome.Reason)
		return
	}

	middleware.SetAuthenticatedUser(r.Context(), outcome.User.ID)

	// 認証状態が変わったのでCookieを再発行する
	if sess != nil {
		h.cookie.Write(w, sess)
	}
	http.Redirect(w, r, pathHome, http.StatusFound)
}

func (h *AuthHandler) failLogin(w http.ResponseWriter, r *http.Request, reason auth.FailureReason) {
	if err := h.flash.Set(w, reason.Message()); err != nil {
		slog.Error("failed to set flash message", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, pathLogin, http.StatusFound)
}

// Logout はセッションを破棄してログインフォームへリダイレクトする。
// GET /logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.TokenFromContext(r.Context())); err != nil {
		// ログアウト失敗してもCookieはクリアする
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}
	h.cookie.Clear(w)
	http.Redirect(w, r, pathLogin, http.StatusFound)
}

// Profile はログインユーザーのプロフィールを表示する。RequireLoginの後段に置く。
// GET /profile
func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.UserForSession(r.Context(), middleware.SessionFromContext(r.Context()))
	if err != nil {
		h.internalError(w, r, "failed to load profile", err)
		return
	}
	if user == nil {
		http.Redirect(w, r, pathLogin, http.StatusFound)
		return
	}
	h.view.Render(w, http.StatusOK, view.Profile, view.ProfileData{User: user})
}

// ExternalLogin は外部IdPの認可フローを開始する。
// GET /auth/external
func (h *AuthHandler) ExternalLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		h.internalError(w, r, "failed to generate oauth state", err)
		return
	}

	url, err := h.service.LoginURL(state)
	if err != nil {
		if errors.Is(err, auth.ErrExternalLoginDisabled) {
			middleware.WriteErrorResponse(w, r, h.view, http.StatusNotFound, model.NewExternalLoginDisabledError())
			return
		}
		h.internalError(w, r, "failed to build login url", err)
		return
	}

	// stateをCookieに保存してコールバックで照合する
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   oauthStateMaxAge,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// ExternalCallback は外部IdPからのコールバックを処理する。
// 成功時はプロフィールへ、認証失敗時はトップへリダイレクトする。
// GET /auth/external/callback?code=xxx&state=yyy
func (h *AuthHandler) ExternalCallback(w http.ResponseWriter, r *http.Request) {
	if !h.service.ExternalEnabled() {
		middleware.WriteErrorResponse(w, r, h.view, http.StatusNotFound, model.NewExternalLoginDisabledError())
		return
	}

	// 1. stateの検証
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch")
		middleware.WriteErrorResponse(w, r, h.view, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}
	h.clearStateCookie(w)

	// 2. 認可コードの取得（IdP側で拒否された場合は空）
	code := r.URL.Query().Get("code")
	if code == "" {
		slog.Info("external login denied", slog.String("error", r.URL.Query().Get("error")))
		http.Redirect(w, r, pathHome, http.StatusFound)
		return
	}

	// 3. 認証処理
	sess := middleware.SessionFromContext(r.Context())
	outcome, err := h.service.LoginExternal(r.Context(), middleware.TokenFromContext(r.Context()), code)
	if err != nil {
		h.internalError(w, r, "external login failed", err)
		return
	}
	if !outcome.OK() {
		http.Redirect(w, r, pathHome, http.StatusFound)
		return
	}

	middleware.SetAuthenticatedUser(r.Context(), outcome.User.ID)

	if sess != nil {
		h.cookie.Write(w, sess)
	}
	http.Redirect(w, r, pathProfile, http.StatusFound)
}

func (h *AuthHandler) clearStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// internalError は詳細をログに記録し、利用者には汎用の500を返す。
func (h *AuthHandler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg,
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w, r, h.view)
}

// generateState はOAuthのstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
