package handlers

import (
	"net/http"

	"riskgate/internal/models"
)

// FilterStats - счётчики pre-trade фильтров (bot.FilterPipeline)
type FilterStats interface {
	GetFilterSummary() models.FilterSummary
	Reset()
}

// SafetyStatusSource - машина безопасности (bot.SafetyStateMachine)
type SafetyStatusSource interface {
	GetSafetyStatus() models.SafetyStatus
}

// UniverseSource - селектор инструментов (bot.Selector)
type UniverseSource interface {
	GetUniverseSnapshot() models.UniverseSnapshot
}

// TelemetryHandler отдаёт состояние торгового ядра
//
// Endpoints:
// - GET /api/v1/filters/summary
// - POST /api/v1/filters/reset (auth)
// - GET /api/v1/safety/status
// - GET /api/v1/universe
type TelemetryHandler struct {
	filters  FilterStats
	safety   SafetyStatusSource
	universe UniverseSource
}

// NewTelemetryHandler создает новый TelemetryHandler
func NewTelemetryHandler(filters FilterStats, safety SafetyStatusSource, universe UniverseSource) *TelemetryHandler {
	return &TelemetryHandler{filters: filters, safety: safety, universe: universe}
}

// GetFilterSummary - сколько снапшотов оценено, pass rate, причины отказов
func (h *TelemetryHandler) GetFilterSummary(w http.ResponseWriter, r *http.Request) {
	summary := h.filters.GetFilterSummary()
	if summary.RejectionReasons == nil {
		summary.RejectionReasons = map[models.RejectionReason]int64{}
	}
	respondWithJSON(w, http.StatusOK, summary)
}

// ResetFilters обнуляет счётчики фильтров
func (h *TelemetryHandler) ResetFilters(w http.ResponseWriter, r *http.Request) {
	h.filters.Reset()
	respondWithJSON(w, http.StatusOK, h.filters.GetFilterSummary())
}

// GetSafetyStatus - текущее состояние машины безопасности
//
// Только чтение: счётчики и таймеры не меняются.
func (h *TelemetryHandler) GetSafetyStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.safety.GetSafetyStatus())
}

// GetUniverse - активный набор и последние оценки кандидатов
func (h *TelemetryHandler) GetUniverse(w http.ResponseWriter, r *http.Request) {
	snap := h.universe.GetUniverseSnapshot()
	if snap.Scores == nil {
		snap.Scores = []models.PairScore{}
	}
	respondWithJSON(w, http.StatusOK, snap)
}
