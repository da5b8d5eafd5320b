// Package handler はブリッジのHTTP APIハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pryv/bridge-thryve/internal/model"
)

// RegistrationServiceInterface はユーザー登録ハンドラーが必要とするサービスインターフェース。
type RegistrationServiceInterface interface {
	// RegisterUser はUserLinkを作成し初回同期を実行する。
	RegisterUser(ctx context.Context, pryvEndpoint, thryveToken string) (*model.UserLink, error)
}

// UserLinkFinder はPryvエンドポイントによるUserLink検索のインターフェース。
type UserLinkFinder interface {
	FindByPryvEndpoint(ctx context.Context, endpoint string) (*model.UserLink, error)
}

// UserInfoFetcher はThryve側のユーザー情報取得のインターフェース。
type UserInfoFetcher interface {
	UserInfo(ctx context.Context, token string) (json.RawMessage, error)
}

// EndpointValidator は登録時のPryvエンドポイントURL検証のインターフェース。
type EndpointValidator interface {
	ValidateURL(rawURL string) error
}

// UserHandler はユーザー登録と接続状態照会のHTTPハンドラー。
type UserHandler struct {
	registration RegistrationServiceInterface
	links        UserLinkFinder
	userInfo     UserInfoFetcher
	validator    EndpointValidator
	logger       *slog.Logger
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(
	registration RegistrationServiceInterface,
	links UserLinkFinder,
	userInfo UserInfoFetcher,
	validator EndpointValidator,
	logger *slog.Logger,
) *UserHandler {
	return &UserHandler{
		registration: registration,
		links:        links,
		userInfo:     userInfo,
		validator:    validator,
		logger:       logger,
	}
}

// userRegistrationRequest はユーザー登録リクエストのボディ。
type userRegistrationRequest struct {
	PryvEndpoint string `json:"pryvEndpoint"`
	ThryveToken  string `json:"thryveToken"`
}

// Register はPryvエンドポイントとThryveトークンの対応を登録し、初回同期を実行する。
// POST /user
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req userRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.PryvEndpoint == "" || req.ThryveToken == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("pryvEndpointとthryveTokenは必須です"))
		return
	}

	if !strings.HasPrefix(req.PryvEndpoint, "https://") {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidEndpointError("httpsのみサポートしています"))
		return
	}

	// 登録されたエンドポイントへは以後サーバー側からリクエストを送るため、
	// 内部ネットワークを指すURLはここで拒否する
	if err := h.validator.ValidateURL(req.PryvEndpoint); err != nil {
		writeAPIErrorResponse(w, http.StatusForbidden,
			model.NewInvalidEndpointError("指定されたURLは許可されていません"))
		return
	}

	link, err := h.registration.RegisterUser(r.Context(), req.PryvEndpoint, req.ThryveToken)
	if err != nil {
		if errors.Is(err, model.ErrSyncInProgress) {
			writeAPIErrorResponse(w, http.StatusConflict, model.NewSyncInProgressError())
			return
		}
		// UserLink自体は作成済みでも初回同期の失敗は失敗として返す。
		// 詳細はログのみに記録し、レスポンスには含めない。
		h.logger.Error("ユーザー登録に失敗しました",
			slog.Bool("link_created", link != nil),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewSyncFailedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"result": "OK"})
}

// Status は登録済みユーザーのThryve側接続状態を照会する。
// GET /user/thryve?pryvEndpoint=...
func (h *UserHandler) Status(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("pryvEndpoint")
	if endpoint == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("pryvEndpointクエリパラメータは必須です"))
		return
	}

	link, err := h.links.FindByPryvEndpoint(r.Context(), endpoint)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if link == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	info, err := h.userInfo.UserInfo(r.Context(), link.ThryveToken)
	if err != nil {
		if errors.Is(err, model.ErrSourceUnavailable) || errors.Is(err, model.ErrSourceMalformedResponse) {
			writeAPIErrorResponse(w, http.StatusBadGateway, &model.APIError{
				Code:     "SOURCE_UNAVAILABLE",
				Message:  "Thryve側の情報取得に失敗しました。",
				Category: "sync",
				Action:   "しばらく待ってから再度お試しください。",
			})
			return
		}
		handleServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(info)
}

// apiErrorResponse は統一エラーフォーマットのJSONレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeAPIErrorResponse は統一エラーフォーマットでレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	logger.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case model.ErrCodeInvalidEndpoint:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeSyncInProgress:
		return http.StatusConflict
	case model.ErrCodeSyncFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
