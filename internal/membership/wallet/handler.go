// internal/membership/wallet/handler.go
package wallet

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"libranexus/pkg/apperror"
)

// Handler adapts Service to HTTP via chi.
type Handler struct {
	service Service
}

// NewHandler builds a Handler over service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the wallet endpoints onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/wallets", h.handleOpen)
	r.Get("/wallets/{memberId}", h.handleGet)
	r.Post("/wallets/{memberId}/credit", h.handleCredit)
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MemberID string `json:"memberId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.New(apperror.CodeValidation, "invalid request body", err))
		return
	}

	wal, err := h.service.OpenWallet(r.Context(), req.MemberID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wal)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberId")
	wal, err := h.service.GetByMemberID(r.Context(), memberID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wal)
}

func (h *Handler) handleCredit(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberId")
	var req struct {
		Amount float64 `json:"amount"`
		Reason string  `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.New(apperror.CodeValidation, "invalid request body", err))
		return
	}

	wal, err := h.service.Credit(r.Context(), memberID, req.Amount, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wal)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperror.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   string(apperror.CodeOf(err)),
		"message": err.Error(),
	})
}
