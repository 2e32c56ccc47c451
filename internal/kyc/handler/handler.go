// Package handler exposes the attestation orchestrator over HTTP: wallet
// login, hosted session lifecycle, and the provider webhook.
package handler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"veil/internal/kyc"
	"veil/pkg/sentinel"
)

// Service is the slice of the orchestrator the transport needs.
type Service interface {
	IssueNonce(ctx context.Context, wallet common.Address) (kyc.Nonce, error)
	CreateSession(ctx context.Context, wallet common.Address, nonce string, signature []byte) (kyc.Session, string, string, error)
	SessionStatus(ctx context.Context, bearer string, id uuid.UUID) (kyc.Session, error)
	HandleWebhook(ctx context.Context, event kyc.WebhookEvent, signature string) error
}

// SignatureHeader carries the provider's HMAC on webhook deliveries.
const SignatureHeader = "X-Webhook-Signature"

type Handler struct {
	logger  *slog.Logger
	service Service
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{logger: logger, service: service}
}

// Register mounts the orchestrator routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/auth/nonce", h.handleIssueNonce)
	r.Post("/kyc/sessions", h.handleCreateSession)
	r.Get("/kyc/sessions/{id}", h.handleSessionStatus)
	r.Post("/kyc/webhook", h.handleWebhook)
}

type nonceRequest struct {
	Wallet string `json:"wallet"`
}

type nonceResponse struct {
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (h *Handler) handleIssueNonce(w http.ResponseWriter, r *http.Request) {
	var req nonceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wallet, ok := parseWallet(req.Wallet)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	nonce, err := h.service.IssueNonce(r.Context(), wallet)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "issue nonce failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue nonce")
		return
	}

	writeJSON(w, http.StatusOK, nonceResponse{
		Nonce:     nonce.Value,
		Message:   kyc.LoginMessage(wallet, nonce.Value),
		ExpiresAt: nonce.ExpiresAt,
	})
}

type createSessionRequest struct {
	Wallet    string `json:"wallet"`
	Nonce     string `json:"nonce"`
	Signature string `json:"signature"` // hex, 0x prefix optional
}

type createSessionResponse struct {
	SessionID  string `json:"sessionId"`
	SessionURL string `json:"url"`
	Token      string `json:"token"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wallet, ok := parseWallet(req.Wallet)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}
	signature, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signature encoding")
		return
	}

	session, url, token, err := h.service.CreateSession(r.Context(), wallet, req.Nonce, signature)
	if err != nil {
		switch {
		case errors.Is(err, kyc.ErrInvalidSignature), errors.Is(err, kyc.ErrInvalidNonce):
			writeError(w, http.StatusUnauthorized, "login rejected")
		case errors.Is(err, kyc.ErrProviderUnavailable):
			writeError(w, http.StatusServiceUnavailable, "verification provider unavailable")
		default:
			h.logger.ErrorContext(r.Context(), "create session failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to create session")
		}
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID:  session.ID.String(),
		SessionURL: url,
		Token:      token,
	})
}

type sessionStatusResponse struct {
	SessionID string    `json:"sessionId"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *Handler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	bearer, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	session, err := h.service.SessionStatus(r.Context(), bearer, id)
	if err != nil {
		switch {
		case errors.Is(err, kyc.ErrInvalidToken):
			writeError(w, http.StatusUnauthorized, "invalid session token")
		case errors.Is(err, sentinel.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		default:
			h.logger.ErrorContext(r.Context(), "session status failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load session")
		}
		return
	}

	writeJSON(w, http.StatusOK, sessionStatusResponse{
		SessionID: session.ID.String(),
		Status:    string(session.Status),
		UpdatedAt: session.UpdatedAt,
	})
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var event kyc.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook body")
		return
	}

	err := h.service.HandleWebhook(r.Context(), event, r.Header.Get(SignatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, kyc.ErrInvalidWebhookSignature), errors.Is(err, kyc.ErrStaleWebhook):
			writeError(w, http.StatusUnauthorized, "webhook rejected")
		case errors.Is(err, kyc.ErrMalformedWebhook):
			writeError(w, http.StatusBadRequest, "malformed webhook payload")
		case errors.Is(err, sentinel.ErrNotFound):
			writeError(w, http.StatusNotFound, "unknown session")
		default:
			// Internal failures return 500 so the provider retries.
			h.logger.ErrorContext(r.Context(), "webhook processing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "webhook processing failed")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseWallet(raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimPrefix(auth, prefix), true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
