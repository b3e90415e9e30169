package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"riskgate/internal/service"
)

// JournalHandler - чтение журнала решений и итогов сделок
//
// Endpoints:
// - GET /api/v1/decisions?symbol=&limit=
// - GET /api/v1/decisions/{id}
// - GET /api/v1/outcomes/summary?since=RFC3339
type JournalHandler struct {
	journal service.JournalServiceInterface
}

// NewJournalHandler создает новый JournalHandler
func NewJournalHandler(journal service.JournalServiceInterface) *JournalHandler {
	return &JournalHandler{journal: journal}
}

// GetDecisions возвращает последние решения, новые первыми.
// limit ограничивается репозиторием (по умолчанию 50, максимум 500).
func (h *JournalHandler) GetDecisions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	if limit < 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_limit", "limit must not be negative")
		return
	}

	decisions, err := h.journal.RecentDecisions(r.URL.Query().Get("symbol"), limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "failed to read decision journal")
		return
	}
	respondWithJSON(w, http.StatusOK, decisions)
}

// GetDecision возвращает решение по ID
func (h *JournalHandler) GetDecision(w http.ResponseWriter, r *http.Request) {
	d, err := h.journal.GetDecision(mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, service.ErrDecisionNotFound) {
			respondWithError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, "internal_error", "failed to read decision journal")
		return
	}
	respondWithJSON(w, http.StatusOK, d)
}

// GetOutcomeSummary возвращает итог сделок с момента since.
// Без since - с начала текущих UTC суток.
func (h *JournalHandler) GetOutcomeSummary(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid_since", "since must be RFC3339")
			return
		}
		since = t
	}

	summary, err := h.journal.OutcomeSummary(since)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "failed to summarize outcomes")
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}
