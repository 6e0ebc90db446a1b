package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/ssolink/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalAPIError())
}

// SSOErrorResponse はSSO処理のエラーをHTTPステータスと利用者向けエラーに変換する。
// トークン失敗の理由は区別せず、いずれも401として扱う。
func SSOErrorResponse(err error) (int, *model.APIError) {
	switch {
	case model.IsKind(err, model.KindPartnerNotFound):
		return http.StatusNotFound, model.NewPartnerNotFoundAPIError()
	case model.IsKind(err, model.KindPartnerDisabled):
		return http.StatusForbidden, model.NewPartnerDisabledAPIError()
	case model.IsKind(err, model.KindInvalidToken):
		return http.StatusUnauthorized, model.NewAuthFailedAPIError()
	case model.IsKind(err, model.KindStorage):
		return http.StatusServiceUnavailable, model.NewServiceUnavailableAPIError()
	case model.IsKind(err, model.KindCancelled):
		return http.StatusGatewayTimeout, model.NewServiceUnavailableAPIError()
	default:
		return http.StatusInternalServerError, model.NewInternalAPIError()
	}
}

// WriteSSOError はSSO処理のエラーを統一フォーマットで書き込む。
func WriteSSOError(w http.ResponseWriter, err error) {
	status, apiErr := SSOErrorResponse(err)
	WriteErrorResponse(w, status, apiErr)
}
