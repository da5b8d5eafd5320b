// Package model はドメインモデルを定義する。
package model

import "time"

// UserLink はPryvエンドポイントとThryve認証トークンの紐付けを表す。
// pryv_endpointが一意キーであり、thryve_tokenからも同一レコードへ到達できる。
type UserLink struct {
	ID           string
	PryvEndpoint string
	ThryveToken  string
	// LastSync は最後に同期が成功した時刻。nilは未同期を意味する。
	LastSync  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
