package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/passgate/internal/middleware"
	"github.com/hitoshi/passgate/internal/model"
)

const healthCheckTimeout = 2 * time.Second

// Pinger は依存先（DB、Redis等）の疎通確認のインターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc は関数をPingerとして扱うためのアダプター。
type PingFunc func(ctx context.Context) error

// PingContext はf(ctx)を呼ぶ。
func (f PingFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

// NewHealthHandler は全ての依存先に疎通できる場合に"ok"を返すハンドラーを生成する。
// GET /health
func NewHealthHandler(deps ...Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		for _, p := range deps {
			if err := p.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				middleware.WriteErrorResponse(w, r, nil, http.StatusServiceUnavailable, &model.APIError{
					Code:     "UNAVAILABLE",
					Message:  "A backing service is unreachable.",
					Category: "system",
					Action:   "Check the database and session store.",
				})
				return
			}
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
