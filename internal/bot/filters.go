package bot

import (
	"sync"

	"riskgate/internal/config"
	"riskgate/internal/models"
	"riskgate/pkg/utils"
)

// ============================================================
// Pre-trade фильтры качества рынка
// ============================================================
//
// Гейты выполняются строго по порядку и останавливаются на первом отказе:
//   1. range        - диапазон дня относительно close (и валидность цены)
//   2. spread       - bid/ask спред (без котировки только предупреждение)
//   3. volume       - оборот за 24ч
//   4. ws latency   - задержка websocket фида
//   5. rest latency - задержка REST API
//
// Нулевая латентность означает "не измерено" и гейт пропускает.

// Тексты предупреждений в FilterVerdict.Warnings
const (
	WarningNoQuote     = "spread gate skipped: bid/ask unavailable"
	WarningCrossedBook = "spread gate skipped: crossed quote"
)

// NewFilterThresholds собирает пороги из конфигурации
func NewFilterThresholds(cfg config.FiltersConfig) models.FilterThresholds {
	return models.FilterThresholds{
		MinRangeBps:      cfg.MinRangeBps,
		MaxSpreadBps:     cfg.MaxSpreadBps,
		MinVolumeUSD:     cfg.MinVolumeUSD,
		MaxWsLatencyMs:   cfg.MaxWsLatencyMs,
		MaxRestLatencyMs: cfg.MaxRestLatencyMs,
	}
}

// EvaluateSnapshot прогоняет снапшот через гейты без побочных эффектов
//
// Детерминирована: одинаковые входы дают одинаковый вердикт.
func EvaluateSnapshot(snap models.MarketSnapshot, th models.FilterThresholds) models.FilterVerdict {
	v := models.FilterVerdict{
		Reason:  models.RejectionNone,
		Metrics: make(map[string]float64, 5),
	}

	// 1. Range gate
	if !utils.IsFinite(snap.Close) || snap.Close <= 0 || !finitePrices(snap) {
		v.Reason = models.RejectionInvalidPrice
		return v
	}
	rangeBps := utils.RangeBps(snap.High, snap.Low, snap.Close)
	v.Metrics[models.MetricRangeBps] = rangeBps
	if rangeBps < th.MinRangeBps {
		v.Reason = models.RejectionLowRange
		return v
	}

	// 2. Spread gate
	switch {
	case snap.Bid <= 0 || snap.Ask <= 0:
		v.Warnings = append(v.Warnings, WarningNoQuote)
	case snap.Ask < snap.Bid:
		v.Warnings = append(v.Warnings, WarningCrossedBook)
	default:
		spreadBps := utils.SpreadBps(snap.Bid, snap.Ask)
		v.Metrics[models.MetricSpreadBps] = spreadBps
		if spreadBps > th.MaxSpreadBps {
			v.Reason = models.RejectionHighSpread
			return v
		}
	}

	// 3. Volume gate
	if !utils.IsFinite(snap.VolumeUSD) {
		v.Reason = models.RejectionLowVolume
		return v
	}
	v.Metrics[models.MetricVolumeUSD] = snap.VolumeUSD
	if snap.VolumeUSD < th.MinVolumeUSD {
		v.Reason = models.RejectionLowVolume
		return v
	}

	// 4. WS latency gate
	if !utils.IsFinite(snap.WsLatencyMs) {
		v.Reason = models.RejectionHighWsLatency
		return v
	}
	v.Metrics[models.MetricWsLatencyMs] = snap.WsLatencyMs
	if snap.WsLatencyMs > th.MaxWsLatencyMs {
		v.Reason = models.RejectionHighWsLatency
		return v
	}

	// 5. REST latency gate
	if !utils.IsFinite(snap.RestLatencyMs) {
		v.Reason = models.RejectionHighRestLatency
		return v
	}
	v.Metrics[models.MetricRestLatencyMs] = snap.RestLatencyMs
	if snap.RestLatencyMs > th.MaxRestLatencyMs {
		v.Reason = models.RejectionHighRestLatency
		return v
	}

	v.Passed = true
	return v
}

// finitePrices - high, low, bid и ask не NaN и не ±Inf.
// Нулевые bid/ask допустимы: это отсутствующая котировка.
func finitePrices(snap models.MarketSnapshot) bool {
	return utils.IsFinite(snap.High) && utils.IsFinite(snap.Low) &&
		utils.IsFinite(snap.Bid) && utils.IsFinite(snap.Ask)
}

// FilterPipeline - фильтры с накопительными счётчиками для телеметрии
//
// Сама оценка чистая; под мьютексом только счётчики.
type FilterPipeline struct {
	thresholds models.FilterThresholds

	mu         sync.Mutex
	evaluated  int64
	passed     int64
	warnings   int64
	rejections map[models.RejectionReason]int64
}

// NewFilterPipeline создаёт пайплайн с фиксированными порогами
func NewFilterPipeline(th models.FilterThresholds) *FilterPipeline {
	return &FilterPipeline{
		thresholds: th,
		rejections: make(map[models.RejectionReason]int64),
	}
}

// Thresholds возвращает пороги пайплайна
func (p *FilterPipeline) Thresholds() models.FilterThresholds {
	return p.thresholds
}

// Evaluate оценивает снапшот и обновляет счётчики
func (p *FilterPipeline) Evaluate(snap models.MarketSnapshot) models.FilterVerdict {
	v := EvaluateSnapshot(snap, p.thresholds)

	p.mu.Lock()
	p.evaluated++
	if v.Passed {
		p.passed++
	} else {
		p.rejections[v.Reason]++
	}
	if len(v.Warnings) > 0 {
		p.warnings++
	}
	p.mu.Unlock()

	RecordFilterVerdict(v)
	return v
}

// PassRate возвращает долю прошедших оценок (0 если оценок не было)
func (p *FilterPipeline) PassRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.passRateLocked()
}

func (p *FilterPipeline) passRateLocked() float64 {
	if p.evaluated == 0 {
		return 0
	}
	return float64(p.passed) / float64(p.evaluated)
}

// GetFilterSummary возвращает копию счётчиков
func (p *FilterPipeline) GetFilterSummary() models.FilterSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	reasons := make(map[models.RejectionReason]int64, len(p.rejections))
	for k, v := range p.rejections {
		reasons[k] = v
	}

	return models.FilterSummary{
		Evaluated:        p.evaluated,
		Passed:           p.passed,
		PassRate:         p.passRateLocked(),
		RejectionReasons: reasons,
		Warnings:         p.warnings,
	}
}

// Reset обнуляет счётчики (внешняя команда оператора)
func (p *FilterPipeline) Reset() {
	p.mu.Lock()
	p.evaluated = 0
	p.passed = 0
	p.warnings = 0
	p.rejections = make(map[models.RejectionReason]int64)
	p.mu.Unlock()
}
