package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"riskgate/internal/models"
)

// ============================================================
// Prometheus метрики риск-гейта
// ============================================================
//
// Экспортируются через /metrics (promhttp). Используются для
// дашбордов и алертов на kill switch и просадку pass rate.

// ============ Метрики гейта ============

// DecisionsTotal - решения гейта по стадиям
var DecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Total number of gate decisions by deciding stage and action",
	},
	[]string{"stage", "action"},
)

// EvaluationLatency - время полной оценки сигнала
var EvaluationLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "riskgate",
		Subsystem: "gate",
		Name:      "evaluation_latency_ms",
		Help:      "Time to evaluate a signal end to end in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 250, 500, 1000, 3000},
	},
	[]string{"action"},
)

// SinkErrors - ошибки доставки решений в приёмники
var SinkErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "gate",
		Name:      "sink_errors_total",
		Help:      "Number of failed decision deliveries by sink",
	},
	[]string{"sink"},
)

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "gate",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"}, // shard, subscriber
)

// ShardQueueSize - размер очереди сигналов в шарде
var ShardQueueSize = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskgate",
		Subsystem: "gate",
		Name:      "shard_queue_size",
		Help:      "Current size of shard signal queue",
	},
	[]string{"shard"},
)

// ============ Метрики фильтров ============

// FilterEvaluations - прогоны фильтров по результату
var FilterEvaluations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "filters",
		Name:      "evaluations_total",
		Help:      "Total filter evaluations by rejection reason (none = passed)",
	},
	[]string{"reason"},
)

// FilterWarnings - предупреждения фильтров (нет котировки и т.п.)
var FilterWarnings = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "filters",
		Name:      "warnings_total",
		Help:      "Number of filter evaluations that produced warnings",
	},
)

// ============ Метрики безопасности ============

// SafetyState - текущее состояние машины безопасности (1 у активного)
var SafetyState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskgate",
		Subsystem: "safety",
		Name:      "state",
		Help:      "Current safety state (1 for the active state, 0 otherwise)",
	},
	[]string{"state"},
)

// SafetyBlocks - отказы CanTrade по причинам
var SafetyBlocks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "safety",
		Name:      "blocks_total",
		Help:      "Number of CanTrade refusals by reason code",
	},
	[]string{"reason"},
)

// TradeOutcomes - исходы сделок
var TradeOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "safety",
		Name:      "trade_outcomes_total",
		Help:      "Recorded trade outcomes by result",
	},
	[]string{"result"},
)

// RealizedPnl - реализованный PnL за текущий день
var RealizedPnl = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskgate",
		Subsystem: "safety",
		Name:      "daily_realized_pnl",
		Help:      "Realized PnL since the last daily reset",
	},
)

// ============ Метрики селектора ============

// RebalancesTotal - ребалансировки по результату
var RebalancesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "selector",
		Name:      "rebalances_total",
		Help:      "Number of rebalances by outcome",
	},
	[]string{"outcome"}, // scored, fallback, skipped
)

// RebalanceDuration - длительность ребалансировки
var RebalanceDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "riskgate",
		Subsystem: "selector",
		Name:      "rebalance_duration_seconds",
		Help:      "Time to score candidates and publish the active set",
		Buckets:   prometheus.DefBuckets,
	},
)

// ActivePairs - размер активного набора
var ActivePairs = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "riskgate",
		Subsystem: "selector",
		Name:      "active_pairs",
		Help:      "Number of symbols in the published active set",
	},
)

// PairScoreGauge - последний скор кандидата
var PairScoreGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskgate",
		Subsystem: "selector",
		Name:      "pair_score",
		Help:      "Last composite score per candidate symbol",
	},
	[]string{"symbol"},
)

// ============ Метрики источника данных ============

// ExchangeRequests - REST запросы к бирже
var ExchangeRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "exchange",
		Name:      "requests_total",
		Help:      "Exchange REST requests by operation and status",
	},
	[]string{"op", "status"},
)

// ExchangeLatency - время ответа REST запросов
var ExchangeLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "riskgate",
		Subsystem: "exchange",
		Name:      "request_latency_ms",
		Help:      "Exchange REST round trip in milliseconds",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	},
	[]string{"op"},
)

// StreamReconnects - переподключения websocket потока биржи
var StreamReconnects = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "exchange",
		Name:      "stream_reconnects_total",
		Help:      "Number of market stream reconnect attempts",
	},
)

// ============ Метрики шины ============

// BusMessages - сообщения Kafka по топику и результату обработки
var BusMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskgate",
		Subsystem: "bus",
		Name:      "messages_total",
		Help:      "Kafka messages by topic and processing status",
	},
	[]string{"topic", "status"},
)

// ============ Вспомогательные функции ============

// RecordExchangeRequest записывает REST запрос к бирже
func RecordExchangeRequest(op string, err error, latencyMs float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ExchangeRequests.WithLabelValues(op, status).Inc()
	ExchangeLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordDecision записывает решение гейта
func RecordDecision(stage string, action models.DecisionAction, latencyMs float64) {
	DecisionsTotal.WithLabelValues(stage, string(action)).Inc()
	EvaluationLatency.WithLabelValues(string(action)).Observe(latencyMs)
}

// RecordFilterVerdict записывает результат фильтров
func RecordFilterVerdict(v models.FilterVerdict) {
	FilterEvaluations.WithLabelValues(string(v.Reason)).Inc()
	if len(v.Warnings) > 0 {
		FilterWarnings.Inc()
	}
}

// RecordSafetyState выставляет 1 для активного состояния
func RecordSafetyState(state string) {
	for _, s := range []string{models.SafetyNormal, models.SafetyCooldown, models.SafetyProbation, models.SafetyKillSwitched} {
		if s == state {
			SafetyState.WithLabelValues(s).Set(1)
		} else {
			SafetyState.WithLabelValues(s).Set(0)
		}
	}
}

// RecordSafetyBlock записывает отказ CanTrade
func RecordSafetyBlock(reason models.SafetyReason) {
	SafetyBlocks.WithLabelValues(string(reason)).Inc()
}

// RecordTradeOutcome записывает исход сделки и дневной PnL
func RecordTradeOutcome(result models.TradeResult, dailyPnl float64) {
	TradeOutcomes.WithLabelValues(string(result)).Inc()
	RealizedPnl.Set(dailyPnl)
}

// RecordRebalance записывает итог ребалансировки
func RecordRebalance(outcome string, seconds float64, active int) {
	RebalancesTotal.WithLabelValues(outcome).Inc()
	RebalanceDuration.Observe(seconds)
	ActivePairs.Set(float64(active))
}

// RecordPairScores заменяет скоры кандидатов итогом последнего цикла
//
// Символы, выпавшие из кандидатов, удаляются из серии.
func RecordPairScores(scores []models.PairScore) {
	PairScoreGauge.Reset()
	for _, sc := range scores {
		PairScoreGauge.WithLabelValues(sc.Symbol).Set(sc.Score)
	}
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordSinkError записывает ошибку приёмника решений
func RecordSinkError(sink string) {
	SinkErrors.WithLabelValues(sink).Inc()
}

// RecordBusMessage записывает обработку сообщения шины
//
// status: ok, decode_error, rejected, duplicate, dropped, published, publish_error
func RecordBusMessage(topic, status string) {
	BusMessages.WithLabelValues(topic, status).Inc()
}
