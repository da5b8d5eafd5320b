package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ProviderTime はThryve APIの時刻表現を正規化する型。
// プロバイダはISO-8601文字列とエポック秒数値の両方を送ってくるため、
// デコード時点で単一のtime.Time表現へ変換する。
type ProviderTime struct {
	t time.Time
}

// NewProviderTime はtime.TimeからProviderTimeを生成する。
func NewProviderTime(t time.Time) ProviderTime {
	return ProviderTime{t: t}
}

// Time は内部のtime.Time表現を返す。未設定の場合はゼロ値を返す。
func (p ProviderTime) Time() time.Time {
	return p.t
}

// IsZero は時刻が未設定かどうかを返す。
func (p ProviderTime) IsZero() bool {
	return p.t.IsZero()
}

// UnmarshalJSON はISO-8601文字列またはエポック秒数値をパースする。
func (p *ProviderTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		p.t = time.Time{}
		return nil
	}

	// エポック秒（数値）
	if !strings.HasPrefix(s, `"`) {
		sec, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		p.t = time.Unix(int64(sec), 0).UTC()
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	// ISO-8601（タイムゾーン付き、なしの順で試行）
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, str); err == nil {
			p.t = t.UTC()
			return nil
		}
	}

	// 文字列化されたエポック秒
	if sec, err := strconv.ParseFloat(str, 64); err == nil {
		p.t = time.Unix(int64(sec), 0).UTC()
		return nil
	}

	return &time.ParseError{Layout: time.RFC3339, Value: str}
}

// MarshalJSON はISO-8601（秒精度、UTC）で出力する。
func (p ProviderTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.t.UTC().Format("2006-01-02T15:04:05Z"))
}

// DataPoint はThryveの1計測値を表す。
// Valueの形はdynamicValueTypeに依存するため文字列のまま保持し、
// 解釈はスキーマコンバーターに委ねる。
type DataPoint struct {
	DynamicValueType int          `json:"dynamicValueType"`
	Value            string       `json:"value"`
	StartTimestamp   ProviderTime `json:"startTimestamp"`
	EndTimestamp     ProviderTime `json:"endTimestamp"`
	CreatedAt        ProviderTime `json:"createdAt"`
}

// DataSourceGroup は1つのデータソース由来の計測値群を表す。
type DataSourceGroup struct {
	SourceCode int         `json:"dataSource"`
	Data       []DataPoint `json:"data"`
}

// Batch はSource Clientが返す1フェッチ分のパース済みレスポンス。
type Batch struct {
	Groups []DataSourceGroup
}

// dataSourceNames はThryveデータソースコードと表示名の対応表。
var dataSourceNames = map[int]string{
	1: "Fitbit",
	2: "Garmin",
	3: "Polar",
	5: "Withings",
	8: "Google Fit",
	9: "Apple Health",
}

// DataSourceName はデータソースコードの表示名を返す。
// 未知のコードは "Source <code>" として扱う。
func DataSourceName(code int) string {
	if name, ok := dataSourceNames[code]; ok {
		return name
	}
	return "Source " + strconv.Itoa(code)
}

// DataSourceSlug はデータソースコードのストリームID用スラッグを返す。
func DataSourceSlug(code int) string {
	name := DataSourceName(code)
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "")
	return slug
}
