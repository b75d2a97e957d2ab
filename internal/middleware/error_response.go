package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pizza42/internal/model"
	"github.com/hitoshi/pizza42/internal/security"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// error は安定したコード、missing と detail は分類ごとの構造化ペイロード。
type ErrorResponseBody struct {
	Error   string `json:"error"`
	Missing string `json:"missing,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError はerrを統一エラーフォーマットで書き込む。
// *model.APIError 以外のエラーは内部エラーとして扱い、詳細はログにのみ記録する。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("unhandled error", slog.String("error", err.Error()))
		apiErr = model.NewInternalError(err)
	}
	WriteErrorResponse(w, apiErr)
}

// WriteErrorResponse はAPIErrorを書き込む。ステータスコードはKindから決まる。
// detail はトークンや資格情報を含まないようスクラブしてから返す。
func WriteErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	body := ErrorResponseBody{
		Error:   apiErr.Kind.Code(),
		Missing: apiErr.Missing,
	}
	if apiErr.Detail != "" {
		body.Detail = security.ScrubSecrets(apiErr.Detail, security.DefaultMaxDetailLength)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Kind.HTTPStatus())
	json.NewEncoder(w).Encode(body)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なコードのみを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, model.NewInternalError(nil))
}
