package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"riskgate/internal/models"
	"riskgate/internal/service"
	"riskgate/pkg/utils"
)

// BlacklistHandler отвечает за черный список инструментов
//
// Символ из черного списка никогда не попадает в активный набор
// селектора, даже если он закреплён открытой позицией или стоит
// в fallback списке.
//
// Endpoints:
// - GET /api/v1/blacklist
// - POST /api/v1/blacklist (auth)
// - PATCH /api/v1/blacklist/{symbol} (auth)
// - DELETE /api/v1/blacklist/{symbol} (auth)
type BlacklistHandler struct {
	blacklistService service.BlacklistServiceInterface
	log              *utils.Logger
}

// NewBlacklistHandler создает новый BlacklistHandler
func NewBlacklistHandler(blacklistService service.BlacklistServiceInterface, logger *utils.Logger) *BlacklistHandler {
	if logger == nil {
		logger = utils.L()
	}
	return &BlacklistHandler{
		blacklistService: blacklistService,
		log:              logger.WithComponent("blacklist_api"),
	}
}

type blacklistResponse struct {
	Entries []*models.BlacklistEntry `json:"entries"`
	Total   int                      `json:"total"`
}

type addToBlacklistRequest struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

type updateReasonRequest struct {
	Reason string `json:"reason"`
}

// GetBlacklist возвращает весь черный список
// GET /api/v1/blacklist
func (h *BlacklistHandler) GetBlacklist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.blacklistService.GetBlacklist()
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "internal_error", "failed to get blacklist")
		return
	}
	if entries == nil {
		entries = []*models.BlacklistEntry{}
	}
	respondWithJSON(w, http.StatusOK, blacklistResponse{Entries: entries, Total: len(entries)})
}

// AddToBlacklist добавляет символ в черный список
// POST /api/v1/blacklist {symbol, reason}
func (h *BlacklistHandler) AddToBlacklist(w http.ResponseWriter, r *http.Request) {
	var req addToBlacklistRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	entry, err := h.blacklistService.AddToBlacklist(req.Symbol, req.Reason)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.log.Info("symbol blacklisted",
		utils.Symbol(entry.Symbol), utils.Reason(entry.Reason), utils.String("operator", operator(r)))
	respondWithJSON(w, http.StatusCreated, entry)
}

// UpdateReason меняет заметку оператора
// PATCH /api/v1/blacklist/{symbol} {reason}
func (h *BlacklistHandler) UpdateReason(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	var req updateReasonRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.blacklistService.UpdateReason(symbol, req.Reason); err != nil {
		h.respondServiceError(w, err)
		return
	}

	entry, err := h.blacklistService.GetBySymbol(symbol)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.log.Info("blacklist reason updated", utils.Symbol(entry.Symbol), utils.String("operator", operator(r)))
	respondWithJSON(w, http.StatusOK, entry)
}

// RemoveFromBlacklist удаляет символ из черного списка
// DELETE /api/v1/blacklist/{symbol}
func (h *BlacklistHandler) RemoveFromBlacklist(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if err := h.blacklistService.RemoveFromBlacklist(symbol); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.log.Info("symbol removed from blacklist", utils.Symbol(symbol), utils.String("operator", operator(r)))
	w.WriteHeader(http.StatusNoContent)
}

func (h *BlacklistHandler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrBlacklistSymbolEmpty):
		respondWithError(w, http.StatusBadRequest, "missing_symbol", err.Error())
	case errors.Is(err, service.ErrBlacklistSymbolInvalid):
		respondWithError(w, http.StatusBadRequest, "invalid_symbol", err.Error())
	case errors.Is(err, service.ErrBlacklistSymbolExists):
		respondWithError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, service.ErrBlacklistEntryNotFound):
		respondWithError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "blacklist operation failed")
	}
}
