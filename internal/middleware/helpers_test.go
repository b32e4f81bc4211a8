package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/passgate/internal/model"
	"github.com/hitoshi/passgate/internal/view"
)

// --- モック定義 ---

type mockSessionStore struct {
	createFn  func(ctx context.Context) (*model.Session, error)
	resolveFn func(ctx context.Context, token string) (*model.Session, error)
}

func (m *mockSessionStore) Create(ctx context.Context) (*model.Session, error) {
	if m.createFn != nil {
		return m.createFn(ctx)
	}
	return nil, nil
}

func (m *mockSessionStore) Resolve(ctx context.Context, token string) (*model.Session, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, token)
	}
	return nil, nil
}

// recordingView は描画要求を記録するView。
type recordingView struct {
	name   string
	status int
	data   any
}

func (v *recordingView) Render(w http.ResponseWriter, status int, name string, data any) {
	v.name = name
	v.status = status
	v.data = data
	w.WriteHeader(status)
}

var _ SessionStore = (*mockSessionStore)(nil)
var _ view.View = (*recordingView)(nil)
