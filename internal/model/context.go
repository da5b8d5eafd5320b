package model

// ConversionContext は1回の同期実行を通して引き回す可変アキュムレーター。
// 実行ごとに新規生成し、並行する実行間では決して共有しない。
type ConversionContext struct {
	// Counters はデータソースごとの変換成功数。診断用。
	Counters map[string]int
	// Combinations は変換できなかった (データソース, 値種別) の組み合わせと件数。
	// 黙って捨てずに記録し、マッピング表の拡張判断に使う。
	Combinations map[string]int
}

// NewConversionContext は空のConversionContextを生成する。
func NewConversionContext() *ConversionContext {
	return &ConversionContext{
		Counters:     make(map[string]int),
		Combinations: make(map[string]int),
	}
}

// CountConverted はデータソースごとの変換成功数を加算する。
func (c *ConversionContext) CountConverted(sourceName string) {
	c.Counters[sourceName]++
}

// CountLeftover は変換できなかった組み合わせを記録する。
// signatureは "データソース/値種別" 形式の識別子を想定する。
func (c *ConversionContext) CountLeftover(signature string) {
	c.Combinations[signature]++
}

// LeftoverTotal は変換できなかった計測値の総数を返す。
func (c *ConversionContext) LeftoverTotal() int {
	total := 0
	for _, n := range c.Combinations {
		total += n
	}
	return total
}
