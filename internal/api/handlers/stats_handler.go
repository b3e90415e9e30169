package handlers

import (
	"net/http"

	"riskgate/internal/bot"
	"riskgate/internal/exchange"
	"riskgate/internal/service"
)

// StatsSources - источники счётчиков процесса
//
// Любое поле может быть nil (компонент отключён конфигурацией),
// тогда соответствующий раздел ответа опускается.
type StatsSources struct {
	Gate       interface{ GetStats() bot.GateStats }
	Dispatcher interface{ GetStats() bot.DispatcherStats }
	Positions  interface{ GetStats() bot.PositionStats }
	Outcomes   interface{ GetStats() service.OutcomeStats }
	Stream     interface {
		ClientCount() int
		DroppedMessages() int64
	}
	MarketFeed interface {
		State() exchange.StreamState
		Symbols() []string
	}
}

// StatsResponse - ответ GET /api/v1/stats
type StatsResponse struct {
	Gate       *bot.GateStats        `json:"gate,omitempty"`
	Dispatcher *bot.DispatcherStats  `json:"dispatcher,omitempty"`
	Positions  *bot.PositionStats    `json:"positions,omitempty"`
	Outcomes   *service.OutcomeStats `json:"outcomes,omitempty"`
	Stream     *StreamStats          `json:"stream,omitempty"`
	MarketFeed *MarketFeedStats      `json:"market_feed,omitempty"`
}

// StreamStats - WebSocket поток
type StreamStats struct {
	Clients int   `json:"clients"`
	Dropped int64 `json:"dropped"`
}

// MarketFeedStats - websocket поток биржи для задержки фида
type MarketFeedStats struct {
	State   string `json:"state"`
	Symbols int    `json:"symbols"`
}

// StatsHandler обрабатывает HTTP запросы статистики работы гейта.
//
// Endpoints:
// - GET /api/v1/stats - счётчики решений, очередей, позиций и исходов
type StatsHandler struct {
	sources StatsSources
}

// NewStatsHandler создает новый StatsHandler
func NewStatsHandler(sources StatsSources) *StatsHandler {
	return &StatsHandler{sources: sources}
}

// GetStats возвращает счётчики процесса
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	var resp StatsResponse

	if h.sources.Gate != nil {
		s := h.sources.Gate.GetStats()
		resp.Gate = &s
	}
	if h.sources.Dispatcher != nil {
		s := h.sources.Dispatcher.GetStats()
		resp.Dispatcher = &s
	}
	if h.sources.Positions != nil {
		s := h.sources.Positions.GetStats()
		resp.Positions = &s
	}
	if h.sources.Outcomes != nil {
		s := h.sources.Outcomes.GetStats()
		resp.Outcomes = &s
	}
	if h.sources.Stream != nil {
		resp.Stream = &StreamStats{
			Clients: h.sources.Stream.ClientCount(),
			Dropped: h.sources.Stream.DroppedMessages(),
		}
	}

	if h.sources.MarketFeed != nil {
		resp.MarketFeed = &MarketFeedStats{
			State:   h.sources.MarketFeed.State().String(),
			Symbols: len(h.sources.MarketFeed.Symbols()),
		}
	}

	respondWithJSON(w, http.StatusOK, resp)
}
