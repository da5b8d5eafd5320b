package model

import "time"

// Granularity はフェッチの粒度（日次集計 or 分単位）を表す。
type Granularity string

const (
	// GranularityDaily は日次集計値のフェッチを示す。
	GranularityDaily Granularity = "daily"
	// GranularityIntraday は分単位の生データのフェッチを示す。
	GranularityIntraday Granularity = "intraday"
)

// SyncWindow は1回のフェッチ対象となる半開区間 [Start, End) と粒度を表す。
type SyncWindow struct {
	Start       time.Time
	End         time.Time
	Granularity Granularity
}

// Valid は区間が整合している（Start <= End）ことを検証する。
func (w SyncWindow) Valid() bool {
	return !w.Start.After(w.End)
}

// UpdateType はThryveトリガーの更新種別を表す。
type UpdateType string

const (
	// UpdateTypeDaily は日次集計値の更新通知。
	UpdateTypeDaily UpdateType = "DAILY"
	// UpdateTypeMinute は分単位データの更新通知。
	UpdateTypeMinute UpdateType = "MINUTE"
	// UpdateTypeBoth は日次・分単位の両方の更新通知。
	UpdateTypeBoth UpdateType = "BOTH"
	// UpdateTypeNew はデータソース追加の通知。同期は行わない。
	UpdateTypeNew UpdateType = "NEW"
	// UpdateTypeDeleted はデータソース削除の通知。同期は行わない。
	UpdateTypeDeleted UpdateType = "DELETED"
)

// Known は既知の更新種別かどうかを返す。
// 未知の種別はパイプラインを落とさずログのみで無視する（前方互換ポリシー）。
func (t UpdateType) Known() bool {
	switch t {
	case UpdateTypeDaily, UpdateTypeMinute, UpdateTypeBoth, UpdateTypeNew, UpdateTypeDeleted:
		return true
	}
	return false
}

// TriggerEvent はThryveバックエンドからの更新通知を表す。
type TriggerEvent struct {
	AuthenticationToken string       `json:"authenticationToken"`
	PartnerUserID       string       `json:"partnerUserID"`
	DataSource          string       `json:"dataSource"`
	StartTimestamp      ProviderTime `json:"startTimestamp"`
	EndTimestamp        ProviderTime `json:"endTimestamp"`
	UpdateType          UpdateType   `json:"updateType"`
}

// Window はトリガーが宣言する区間から指定粒度のSyncWindowを導出する。
func (t TriggerEvent) Window(g Granularity) SyncWindow {
	return SyncWindow{
		Start:       t.StartTimestamp.Time(),
		End:         t.EndTimestamp.Time(),
		Granularity: g,
	}
}
