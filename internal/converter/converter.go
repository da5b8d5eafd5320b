// Package converter はThryveの計測値をPryvのストリーム/イベント構造へ変換する。
// 変換は純粋関数であり、状態は呼び出し元が渡すConversionContextにのみ記録される。
package converter

import (
	"fmt"
	"strconv"

	"github.com/pryv/bridge-thryve/internal/model"
)

// rootStreamID は全Thryveデータの親となるストリームID。
const rootStreamID = "thryve"

// Result は1計測値の変換結果を表す。
// Eventは完全な形（ストリーム参照・時刻・内容）で返され、
// StreamsはEventが依存するストリームを親から順に並べたリストとなる。
// ストリームIDの重複排除は呼び出し元の責務であり、コンバーターは
// グローバル状態を一切参照しない。
type Result struct {
	Event   model.Event
	Streams []model.Stream
}

// mapping はdynamicValueTypeごとの変換定義。
type mapping struct {
	slug      string // ストリームID用スラッグ
	name      string // ストリーム表示名
	eventType string // Pryvイベント型
	parse     func(string) (any, error)
}

func parseCount(s string) (any, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func parseNumber(s string) (any, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// mappings はThryveのdynamicValueTypeとPryv表現の対応表。
// 1000番台は日次集計値、2000番台は分単位値。
// ここにない組み合わせはConversionContext.Combinationsに記録され、
// 表を拡張する際の判断材料になる。
var mappings = map[int]mapping{
	// 日次集計値
	1000: {slug: "steps", name: "Steps", eventType: "count/steps", parse: parseCount},
	1010: {slug: "distance", name: "Distance", eventType: "length/m", parse: parseNumber},
	1020: {slug: "calories", name: "Active Calories", eventType: "energy/kcal", parse: parseNumber},
	1040: {slug: "resting-heartrate", name: "Resting Heart Rate", eventType: "frequency/bpm", parse: parseNumber},
	1060: {slug: "sleep-duration", name: "Sleep Duration", eventType: "time/min", parse: parseNumber},
	1100: {slug: "weight", name: "Weight", eventType: "mass/kg", parse: parseNumber},
	1120: {slug: "oxygen-saturation", name: "Oxygen Saturation", eventType: "ratio/percent", parse: parseNumber},

	// 分単位値
	2000: {slug: "steps", name: "Steps", eventType: "count/steps", parse: parseCount},
	2010: {slug: "distance", name: "Distance", eventType: "length/m", parse: parseNumber},
	2040: {slug: "heartrate", name: "Heart Rate", eventType: "frequency/bpm", parse: parseNumber},
	2120: {slug: "oxygen-saturation", name: "Oxygen Saturation", eventType: "ratio/percent", parse: parseNumber},
}

// Convert は1計測値を0個または1個のPryvイベントへ変換する。
// 未知のdynamicValueType、パースできない値、時刻情報のない計測値は
// 変換失敗としてcctx.Combinationsに件数を記録し、nilを返す。
// 変換失敗は決してエラーにならない（1件の不明データでバッチ全体を
// 失敗させないため）。
func Convert(sourceCode int, point model.DataPoint, cctx *model.ConversionContext) *Result {
	signature := combinationSignature(sourceCode, point.DynamicValueType)

	m, ok := mappings[point.DynamicValueType]
	if !ok {
		cctx.CountLeftover(signature)
		return nil
	}

	value, err := m.parse(point.Value)
	if err != nil {
		cctx.CountLeftover(signature)
		return nil
	}

	// 時刻はプロバイダ表現（ISO-8601またはエポック秒）からデコード時に
	// 正規化済み。開始時刻を持たない計測値は位置付けできないため変換しない。
	eventTime := point.StartTimestamp.Time()
	if eventTime.IsZero() {
		eventTime = point.EndTimestamp.Time()
	}
	if eventTime.IsZero() {
		cctx.CountLeftover(signature)
		return nil
	}

	sourceStream := model.Stream{
		ID:       rootStreamID + "-" + model.DataSourceSlug(sourceCode),
		Name:     model.DataSourceName(sourceCode),
		ParentID: rootStreamID,
	}
	leafStream := model.Stream{
		ID:       sourceStream.ID + "-" + m.slug,
		Name:     m.name,
		ParentID: sourceStream.ID,
	}

	event := model.Event{
		StreamIDs: []string{leafStream.ID},
		Type:      m.eventType,
		Content:   value,
		Time:      eventTime,
	}
	if end := point.EndTimestamp.Time(); end.After(eventTime) {
		event.Duration = end.Sub(eventTime)
	}

	cctx.CountConverted(model.DataSourceSlug(sourceCode))

	return &Result{
		Event: event,
		Streams: []model.Stream{
			{ID: rootStreamID, Name: "Thryve"},
			sourceStream,
			leafStream,
		},
	}
}

// combinationSignature は変換できなかった組み合わせの識別子を返す。
func combinationSignature(sourceCode, valueType int) string {
	return fmt.Sprintf("%s/%d", model.DataSourceSlug(sourceCode), valueType)
}
