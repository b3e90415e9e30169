package handlers

import (
	"errors"
	"net/http"
	"time"

	"riskgate/pkg/crypto"
	"riskgate/pkg/utils"
)

// TokenIssuer выпускает токены оператора (crypto.TokenManager)
type TokenIssuer interface {
	Issue(subject string) (string, time.Time, error)
}

// operatorSubject - subject токена единственного оператора
const operatorSubject = "operator"

// AuthHandler обменивает секрет оператора на JWT
//
// POST /api/v1/auth/token {secret} -> {token, expires_at}
//
// Секрет сверяется с bcrypt хэшем из API_SECRET_HASH. Пустой хэш
// отключает выпуск токенов (503).
type AuthHandler struct {
	secretHash string
	tokens     TokenIssuer
	log        *utils.Logger
}

// NewAuthHandler создает новый AuthHandler
func NewAuthHandler(secretHash string, tokens TokenIssuer, logger *utils.Logger) *AuthHandler {
	if logger == nil {
		logger = utils.L()
	}
	return &AuthHandler{
		secretHash: secretHash,
		tokens:     tokens,
		log:        logger.WithComponent("auth"),
	}
}

type tokenRequest struct {
	Secret string `json:"secret"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueToken проверяет секрет и выпускает токен
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	if h.secretHash == "" || h.tokens == nil {
		respondWithError(w, http.StatusServiceUnavailable, "auth_disabled", "operator access is not configured")
		return
	}

	var req tokenRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := crypto.VerifySecret(req.Secret, h.secretHash); err != nil {
		switch {
		case errors.Is(err, crypto.ErrEmptySecret):
			respondWithError(w, http.StatusBadRequest, "missing_secret", "secret is required")
		case errors.Is(err, crypto.ErrInvalidHash):
			h.log.Error("configured API_SECRET_HASH is not a valid bcrypt hash")
			respondWithError(w, http.StatusInternalServerError, "internal_error", "operator access misconfigured")
		default:
			h.log.Warn("operator token denied", utils.String("client_ip", r.RemoteAddr))
			respondWithError(w, http.StatusUnauthorized, "invalid_secret", "invalid secret")
		}
		return
	}

	token, expiresAt, err := h.tokens.Issue(operatorSubject)
	if err != nil {
		h.log.Error("issue operator token failed", utils.Err(err))
		respondWithError(w, http.StatusInternalServerError, "internal_error", "failed to issue token")
		return
	}

	h.log.Info("operator token issued", utils.String("client_ip", r.RemoteAddr))
	respondWithJSON(w, http.StatusOK, tokenResponse{Token: token, TokenType: "Bearer", ExpiresAt: expiresAt})
}
