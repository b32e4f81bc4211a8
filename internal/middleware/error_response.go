package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hitoshi/passgate/internal/model"
	"github.com/hitoshi/passgate/internal/view"
)

// ErrorResponseBody はJSONエラーレスポンスの統一フォーマット。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
// AcceptヘッダーがJSONを求める場合はJSONで、それ以外はerrorビューで返す。
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, v view.View, statusCode int, apiErr *model.APIError) {
	if v == nil || wantsJSON(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(ErrorResponseBody{
			Code:     apiErr.Code,
			Message:  apiErr.Message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		})
		return
	}
	v.Render(w, statusCode, view.Error, view.ErrorData{Status: statusCode, Error: apiErr})
}

// WriteInternalServerError は内部サーバーエラーのレスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter, r *http.Request, v view.View) {
	WriteErrorResponse(w, r, v, http.StatusInternalServerError, model.NewInternalError())
}

func wantsJSON(r *http.Request) bool {
	if r == nil {
		return false
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
