package model

import "time"

// Stream はPryvの階層的ストリーム構造の1ノードを表す。
// IDは1プッシュバッチ内で一意であり、プッシュ間でも安定している。
type Stream struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// Event はPryvに書き込む1つのイベントを表す。
// Durationが0の場合は瞬間値、正の場合は [Time, Time+Duration] の区間値となる。
type Event struct {
	StreamIDs []string      `json:"streamIds"`
	Type      string        `json:"type"`
	Content   any           `json:"content"`
	Time      time.Time     `json:"-"`
	Duration  time.Duration `json:"-"`
}
