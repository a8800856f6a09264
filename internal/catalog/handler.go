// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"net/http"
	"strconv"

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

// Routes mounts the catalog endpoints onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books", h.handleList)
	r.Post("/books", h.handleAdd)
	r.Get("/books/search", h.handleSearch)
	r.Get("/books/{id}", h.handleGet)
	r.Patch("/books/{id}", h.handleUpdate)
	r.Delete("/books/{id}", h.handleRemove)
	r.Patch("/books/{id}/copies", h.handleChangeCopies)
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ISBN            string  `json:"isbn"`
		Title           string  `json:"title"`
		Author          string  `json:"author"`
		Publisher       string  `json:"publisher"`
		PublicationYear int     `json:"publicationYear"`
		Price           float64 `json:"price"`
		TotalCopies     int     `json:"totalCopies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.New(apperror.CodeValidation, "invalid request body", err))
		return
	}

	book, err := h.service.AddBook(r.Context(), req.ISBN, req.Title, req.Author, req.Publisher, req.PublicationYear, req.Price, req.TotalCopies)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.service.ListBooks(r.Context(), page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch BookUpdated
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, apperror.New(apperror.CodeValidation, "invalid request body", err))
		return
	}

	book, err := h.service.UpdateBook(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.RemoveBook(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangeCopies(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		TotalCopies int `json:"totalCopies"`
		Available   int `json:"available"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.New(apperror.CodeValidation, "invalid request body", err))
		return
	}

	book, err := h.service.ChangeCopies(r.Context(), id, req.TotalCopies, req.Available)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, apperror.New(apperror.CodeValidation, "missing search query", nil))
		return
	}

	books, err := h.service.Search(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
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
