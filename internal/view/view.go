// Package view はコントローラーの結果を名前付きビューとデータに対応づけて描画する。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/hitoshi/passgate/internal/model"
)

// ビュー名
const (
	Home    = "home"
	Signup  = "signup"
	Login   = "login"
	Profile = "profile"
	Error   = "error"
)

//go:embed templates/*.html
var templateFS embed.FS

// View は描画境界のインターフェース。テンプレートエンジンの差し替えやテストでのモックに使う。
type View interface {
	Render(w http.ResponseWriter, status int, name string, data any)
}

// HomeData はhomeビューのデータ。Userはnilの場合がある。
type HomeData struct {
	User *model.User
}

// FormData はsignup/loginビューのデータ。
type FormData struct {
	ErrorMessage    string
	Username        string
	ExternalEnabled bool
}

// ProfileData はprofileビューのデータ。
type ProfileData struct {
	User *model.User
}

// ErrorData はerrorビューのデータ。
type ErrorData struct {
	Status int
	Error  *model.APIError
}

// Templates は埋め込みHTMLテンプレートによるView実装。
type Templates struct {
	pages map[string]*template.Template
}

// New は埋め込みテンプレートを全てパースしてTemplatesを生成する。
func New() (*Templates, error) {
	return parse(templateFS)
}

func parse(fsys fs.FS) (*Templates, error) {
	pages := make(map[string]*template.Template)
	for _, name := range []string{Home, Signup, Login, Profile, Error} {
		t, err := template.New("layout.html").ParseFS(fsys, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		pages[name] = t
	}
	return &Templates{pages: pages}, nil
}

// Render はビューをバッファへ描画してからレスポンスに書き出す。
// 描画に失敗した場合は部分的なHTMLを返さず500にする。
func (t *Templates) Render(w http.ResponseWriter, status int, name string, data any) {
	page, ok := t.pages[name]
	if !ok {
		slog.Error("unknown view", slog.String("view", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		slog.Error("failed to render view",
			slog.String("view", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// compile-time interface check
var _ View = (*Templates)(nil)
