package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pryv/bridge-thryve/internal/model"
	bridgesync "github.com/pryv/bridge-thryve/internal/sync"
)

// TriggerServiceInterface はトリガーハンドラーが必要とするサービスインターフェース。
type TriggerServiceInterface interface {
	// HandleTrigger はThryveからの更新通知を処理する。
	HandleTrigger(ctx context.Context, trigger model.TriggerEvent) (*bridgesync.TriggerResult, error)
}

// TriggerHandler はThryveのwebhook通知を受け付けるHTTPハンドラー。
type TriggerHandler struct {
	service TriggerServiceInterface
	logger  *slog.Logger
}

// NewTriggerHandler はTriggerHandlerを生成する。
func NewTriggerHandler(service TriggerServiceInterface, logger *slog.Logger) *TriggerHandler {
	return &TriggerHandler{
		service: service,
		logger:  logger,
	}
}

// triggerRequest はThryveのwebhook通知ボディ。
// sourceUpdateフィールドに更新イベントが入る。
type triggerRequest struct {
	SourceUpdate *model.TriggerEvent `json:"sourceUpdate"`
}

// HandleTrigger はThryveからの更新通知を処理する。
// POST /trigger
//
// レスポンスはThryve側のリトライ判断に使われるため、
// 同期失敗の詳細はログのみに記録し、ボディには含めない。
func (h *TriggerHandler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}
	if req.SourceUpdate == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("sourceUpdateフィールドは必須です"))
		return
	}

	result, err := h.service.HandleTrigger(r.Context(), *req.SourceUpdate)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrUnknownUser):
			writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		case errors.Is(err, model.ErrSyncInProgress):
			writeAPIErrorResponse(w, http.StatusConflict, model.NewSyncInProgressError())
		default:
			h.logger.Error("トリガー処理に失敗しました",
				slog.String("update_type", string(req.SourceUpdate.UpdateType)),
				slog.String("error", err.Error()),
			)
			writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewSyncFailedError())
		}
		return
	}

	if syncErr := result.Err(); syncErr != nil {
		h.logger.Error("トリガー起点の同期パスに失敗しました",
			slog.String("update_type", string(req.SourceUpdate.UpdateType)),
			slog.String("error", syncErr.Error()),
		)
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewSyncFailedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"result": "OK"})
}
