package model

import (
	"errors"
	"fmt"
)

// 同期パイプラインの区別可能な失敗種別。
// オーケストレーターはこれらを見てリトライ可否やレスポンスを判断する。
var (
	// ErrUnknownUser はトリガーのトークンに対応するUserLinkが存在しないことを示す。
	ErrUnknownUser = errors.New("user link not found")
	// ErrSourceUnavailable はThryve APIへの接続・認証失敗を示す。
	ErrSourceUnavailable = errors.New("source provider unavailable")
	// ErrSourceMalformedResponse はThryve APIのレスポンスが期待構造を欠くことを示す。
	ErrSourceMalformedResponse = errors.New("source provider returned malformed response")
	// ErrTargetUnavailable はPryv APIへの接続・認証失敗を示す。
	ErrTargetUnavailable = errors.New("target platform unavailable")
	// ErrSyncInProgress は同一ユーザーの同期が既に実行中であることを示す。
	ErrSyncInProgress = errors.New("sync already in progress for user")
)

// APIError は統一エラーフォーマットを表す。
// クライアントに返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, sync, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeSyncInProgress  = "SYNC_IN_PROGRESS"
	ErrCodeSyncFailed      = "SYNC_FAILED"
	ErrCodeInvalidEndpoint = "INVALID_ENDPOINT"
)

// NewInvalidRequestError はリクエストボディ不備のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "pryvEndpointとthryveTokenフィールドを確認してください。",
	}
}

// NewUserNotFoundError はUserLink未登録のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "指定されたユーザーが見つかりません。",
		Category: "sync",
		Action:   "先にユーザー登録（POST /user）を行ってください。",
	}
}

// NewSyncInProgressError は同期実行中のエラーを生成する。
func NewSyncInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncInProgress,
		Message:  "このユーザーの同期は既に実行中です。",
		Category: "sync",
		Action:   "実行中の同期が完了してから再度お試しください。",
	}
}

// NewSyncFailedError は同期失敗の汎用エラーを生成する。
// 実際の原因はサーバー側ログにのみ記録する。
func NewSyncFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncFailed,
		Message:  "同期処理に失敗しました。",
		Category: "sync",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidEndpointError はPryvエンドポイントURL不備のエラーを生成する。
func NewInvalidEndpointError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEndpoint,
		Message:  fmt.Sprintf("無効なPryvエンドポイントです: %s", reason),
		Category: "validation",
		Action:   "https:// で始まる公開エンドポイントURLを指定してください。",
	}
}
