package models

import "time"

// PairMetrics - метрики кандидата, из которых собирается скор
type PairMetrics struct {
	Volume24hUSD float64 `json:"volume_24h_usd"`
	AtrBps       float64 `json:"atr_bps"`
	RangeBps     float64 `json:"range_bps"`
	SpreadBps    float64 `json:"spread_bps"`
	TrendScore   float64 `json:"trend_score"`
	VolumeRank   float64 `json:"volume_rank"`
}

// PairScore - результат оценки одного кандидата за цикл ребалансировки
//
// Score == 0 означает, что пара дисквалифицирована (см. Disqualified).
type PairScore struct {
	Symbol       string      `json:"symbol"`
	Score        float64     `json:"score"`
	Metrics      PairMetrics `json:"metrics"`
	Disqualified string      `json:"disqualified,omitempty"` // причина дисквалификации
}

// Причины дисквалификации кандидата
const (
	DisqualifiedFetchFailed = "fetch_failed"
	DisqualifiedBlacklisted = "blacklisted"
	DisqualifiedLowVolume   = "low_volume"
	DisqualifiedLowATR      = "low_atr"
	DisqualifiedHighSpread  = "high_spread"
	DisqualifiedWeakTrend   = "weak_trend"
	DisqualifiedNoHistory   = "no_history"
)

// ActivePairSet - опубликованный набор торгуемых символов
//
// Публикуется целиком и не изменяется после публикации.
type ActivePairSet struct {
	Symbols    []string  `json:"symbols"`
	Pinned     []string  `json:"pinned,omitempty"`   // закреплены из-за открытых позиций
	Fallback   []string  `json:"fallback,omitempty"` // добавлены из резервного списка
	SelectedAt time.Time `json:"selected_at"`
	Generation int64     `json:"generation"`
}

// Contains проверяет наличие символа в наборе
func (s *ActivePairSet) Contains(symbol string) bool {
	if s == nil {
		return false
	}
	for _, sym := range s.Symbols {
		if sym == symbol {
			return true
		}
	}
	return false
}

// UniverseSnapshot - снимок состояния селектора для телеметрии
type UniverseSnapshot struct {
	Active        *ActivePairSet `json:"active"`
	Scores        []PairScore    `json:"scores"`
	LastRebalance time.Time      `json:"last_rebalance"`
	Rebalances    int64          `json:"rebalances"`
}
