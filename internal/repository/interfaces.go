// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/pryv/bridge-thryve/internal/model"
)

// UserLinkRepository はUserLinkの永続化インターフェース。
// pryv_endpointの一意性と、pryv_endpoint・thryve_tokenどちらからも
// 同一レコードへ到達できることを保証する。
type UserLinkRepository interface {
	// Upsert はUserLinkを作成または更新する。
	// 同一pryv_endpointの既存レコードがある場合はトークンを差し替える。
	Upsert(ctx context.Context, link *model.UserLink) error

	// FindByPryvEndpoint はPryvエンドポイントでUserLinkを検索する。
	// 見つからない場合はnilを返す。
	FindByPryvEndpoint(ctx context.Context, endpoint string) (*model.UserLink, error)

	// FindByThryveToken はThryveトークンでUserLinkを検索する。
	// 見つからない場合はnilを返す。
	FindByThryveToken(ctx context.Context, token string) (*model.UserLink, error)

	// UpdateLastSync は最終同期時刻を前進させる。
	// 既存値より過去の時刻を渡しても後退しない。
	UpdateLastSync(ctx context.Context, id string, syncedAt time.Time) error

	// ListDueForSync は定期同期の対象となるUserLinkを取得する。
	// last_syncがNULL、またはolderThanより古いレコードを返す。
	ListDueForSync(ctx context.Context, olderThan time.Time) ([]*model.UserLink, error)
}
