// Package flash はリダイレクトを1回だけまたぐ表示メッセージを、
// 署名付きCookieで受け渡す。
package flash

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	// CookieName はフラッシュメッセージを保持するCookie名。
	CookieName = "passgate_flash"

	maxAge = 5 * time.Minute
)

// Store は書き込み1回・読み出し1回のメッセージチャネル。
// 値はHMACで署名されるため、クライアントによる改ざんは読み出し時に破棄される。
type Store struct {
	codec  *securecookie.SecureCookie
	secure bool
}

// New はStoreを生成する。secretはセッションと同じアプリケーション秘密鍵を使う。
func New(secret []byte, secure bool) *Store {
	codec := securecookie.New(secret, nil)
	codec.MaxAge(int(maxAge.Seconds()))
	return &Store{codec: codec, secure: secure}
}

// Set はメッセージをCookieに書き込む。既存のメッセージは上書きされる。
func (s *Store) Set(w http.ResponseWriter, msg string) error {
	encoded, err := s.codec.Encode(CookieName, msg)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Pop はメッセージを読み出し、同時にCookieを削除する。
// Cookieが無い場合や検証に失敗した場合は空文字列を返す。
func (s *Store) Pop(w http.ResponseWriter, r *http.Request) string {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	s.clear(w)

	var msg string
	if err := s.codec.Decode(CookieName, cookie.Value, &msg); err != nil {
		slog.Warn("discarding invalid flash cookie", slog.String("error", err.Error()))
		return ""
	}
	return msg
}

func (s *Store) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
