package models

// RejectionReason - причина отклонения сигнала фильтрами
type RejectionReason string

const (
	RejectionNone            RejectionReason = "none"
	RejectionLowRange        RejectionReason = "low_range"
	RejectionHighSpread      RejectionReason = "high_spread"
	RejectionLowVolume       RejectionReason = "low_volume"
	RejectionHighWsLatency   RejectionReason = "high_ws_latency"
	RejectionHighRestLatency RejectionReason = "high_rest_latency"
	RejectionInvalidPrice    RejectionReason = "invalid_price"
)

// AllRejectionReasons - все причины отказа в порядке гейтов
var AllRejectionReasons = []RejectionReason{
	RejectionInvalidPrice,
	RejectionLowRange,
	RejectionHighSpread,
	RejectionLowVolume,
	RejectionHighWsLatency,
	RejectionHighRestLatency,
}

// Ключи метрик в FilterVerdict.Metrics
const (
	MetricRangeBps      = "range_bps"
	MetricSpreadBps     = "spread_bps"
	MetricVolumeUSD     = "volume_usd"
	MetricWsLatencyMs   = "ws_latency_ms"
	MetricRestLatencyMs = "rest_latency_ms"
)

// FilterThresholds - пороги pre-trade фильтров
type FilterThresholds struct {
	MinRangeBps      float64 `json:"min_range_bps"`
	MaxSpreadBps     float64 `json:"max_spread_bps"`
	MinVolumeUSD     float64 `json:"min_volume_usd"`
	MaxWsLatencyMs   float64 `json:"max_ws_latency_ms"`
	MaxRestLatencyMs float64 `json:"max_rest_latency_ms"`
}

// FilterVerdict - неизменяемый результат одного прогона фильтров
type FilterVerdict struct {
	Passed   bool               `json:"passed"`
	Reason   RejectionReason    `json:"rejection_reason"`
	Metrics  map[string]float64 `json:"metrics"`
	Warnings []string           `json:"warnings,omitempty"`
}

// FilterSummary - агрегированные счётчики пайплайна для телеметрии
type FilterSummary struct {
	Evaluated        int64                     `json:"evaluated"`
	Passed           int64                     `json:"passed"`
	PassRate         float64                   `json:"pass_rate"`
	RejectionReasons map[RejectionReason]int64 `json:"rejection_reasons"`
	Warnings         int64                     `json:"warnings"`
}
