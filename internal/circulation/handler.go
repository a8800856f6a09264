// internal/circulation/handler.go
package circulation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

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

// Routes mounts the circulation endpoints onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/reservations", h.handleCreate)
	r.Get("/reservations/{id}", h.handleGet)
	r.Get("/members/{memberId}/reservations", h.handleListByMember)
	r.Post("/reservations/{id}/pending-payment", h.handleMarkPendingPayment)
	r.Post("/reservations/{id}/confirm", h.handleConfirm)
	r.Post("/reservations/{id}/reject", h.handleReject)
	r.Patch("/reservations/{id}/retail-price", h.handleUpdateRetailPrice)
	r.Post("/reservations/{id}/borrow", h.handleMarkBorrowed)
	r.Post("/reservations/{id}/mark-late", h.handleMarkLate)
	r.Post("/reservations/{id}/cancel", h.handleCancel)
	r.Post("/reservations/{id}/return", h.handleReturn)
	r.Post("/reservations/{id}/book-brought", h.handleMarkBookBrought)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BookID   string `json:"bookId"`
		MemberID string `json:"memberId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.New(apperror.CodeValidation, "invalid request body", err))
		return
	}

	reservation, err := h.service.CreateReservation(r.Context(), req.BookID, req.MemberID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reservation)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reservation, err := h.service.GetReservation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleListByMember(w http.ResponseWriter, r *http.Request) {
	memberID := chi.URLParam(r, "memberId")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.service.ListByMember(r.Context(), memberID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleMarkPendingPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reservation, err := h.service.MarkPendingPayment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reservation, err := h.service.Confirm(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.New(apperror.CodeValidation, "invalid request body", err))
		return
	}

	reservation, err := h.service.Reject(r.Context(), id, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleUpdateRetailPrice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		RetailPrice float64 `json:"retailPrice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.New(apperror.CodeValidation, "invalid request body", err))
		return
	}

	reservation, err := h.service.UpdateRetailPrice(r.Context(), id, req.RetailPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleMarkBorrowed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		DueDate time.Time `json:"dueDate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.New(apperror.CodeValidation, "invalid request body", err))
		return
	}

	reservation, err := h.service.MarkBorrowed(r.Context(), id, req.DueDate)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleMarkLate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reservation, err := h.service.MarkLate(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reservation, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		PerDayFee float64 `json:"perDayFee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.New(apperror.CodeValidation, "invalid request body", err))
		return
	}

	reservation, err := h.service.Return(r.Context(), id, time.Now(), req.PerDayFee)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
}

func (h *Handler) handleMarkBookBrought(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.New(apperror.CodeValidation, "invalid request body", err))
		return
	}

	reservation, err := h.service.MarkBookBrought(r.Context(), id, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reservation)
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
