package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/session-cart/internal/cart"
	"github.com/fjod/go_cart/session-cart/internal/domain"
	"github.com/fjod/go_cart/session-cart/internal/session"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ManagerFactory builds the cart manager for one session.
type ManagerFactory func(sessionID string) *cart.Manager

type CartHandler struct {
	managers   ManagerFactory
	timeout    time.Duration
	cookieName string
	logger     *zap.Logger
}

func NewCartHandler(managers ManagerFactory, timeout time.Duration, cookieName string, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		managers:   managers,
		timeout:    timeout,
		cookieName: cookieName,
		logger:     logger,
	}
}

type AddItemRequestDTO struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Price    int64             `json:"price"`
	Quantity *int64            `json:"quantity"`
	Options  map[string]string `json:"options"`
}

type AddItemsRequestDTO struct {
	Items []AddItemRequestDTO `json:"items"`
}

type RemoveItemsRequestDTO struct {
	IDs []string `json:"ids"`
}

type CartResponse struct {
	SessionID string         `json:"session_id"`
	Items     domain.Cart    `json:"items"`
	Summary   domain.Summary `json:"summary"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

const itemIDMessage = "id is required and must not contain \"" + session.Separator + "\""

// validItemID reports whether id can be used as a single segment of a
// session path.
func validItemID(id string) bool {
	return id != "" && !strings.Contains(id, session.Separator)
}

func (d AddItemRequestDTO) toInput() domain.ItemInput {
	quantity := cart.DefaultQuantity
	if d.Quantity != nil {
		quantity = *d.Quantity
	}
	return domain.ItemInput{
		ID:       d.ID,
		Name:     d.Name,
		Price:    d.Price,
		Quantity: quantity,
		Options:  d.Options,
	}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(ctx)
	m := h.managers(sessionID)

	items, err := m.All(ctx)
	if err != nil {
		h.handleStoreError(w, r, err)
		return
	}
	summary, err := m.Summary(ctx)
	if err != nil {
		h.handleStoreError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, CartResponse{
		SessionID: sessionID,
		Items:     items,
		Summary:   summary,
	})
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if !validItemID(req.ID) {
		respondError(w, http.StatusBadRequest, "invalid_item_id", itemIDMessage)
		return
	}

	in := req.toInput()
	item, err := h.managers(getSessionID(ctx)).Add(ctx, in.ID, in.Name, in.Price, in.Quantity, in.Options)
	if err != nil {
		h.handleStoreError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, item)
}

func (h *CartHandler) AddItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemsRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	items := make([]domain.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		if !validItemID(it.ID) {
			respondError(w, http.StatusBadRequest, "invalid_item_id", itemIDMessage)
			return
		}
		items = append(items, it.toInput())
	}

	m := h.managers(getSessionID(ctx))
	if err := m.AddMany(ctx, items); err != nil {
		h.handleStoreError(w, r, err)
		return
	}

	all, err := m.All(ctx)
	if err != nil {
		h.handleStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, all)
}

func (h *CartHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	if !validItemID(id) {
		respondError(w, http.StatusBadRequest, "invalid_item_id", itemIDMessage)
		return
	}
	item, ok, err := h.managers(getSessionID(ctx)).Find(ctx, id)
	if err != nil {
		h.handleStoreError(w, r, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "item not found in cart")
		return
	}

	respondJSON(w, http.StatusOK, item)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "id")
	if !validItemID(id) {
		respondError(w, http.StatusBadRequest, "invalid_item_id", itemIDMessage)
		return
	}
	if err := h.managers(getSessionID(ctx)).Remove(ctx, id); err != nil {
		h.handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) RemoveItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req RemoveItemsRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	for _, id := range req.IDs {
		if !validItemID(id) {
			respondError(w, http.StatusBadRequest, "invalid_item_id", itemIDMessage)
			return
		}
	}

	if err := h.managers(getSessionID(ctx)).RemoveMany(ctx, req.IDs); err != nil {
		h.handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, err := h.managers(getSessionID(ctx)).Clear(ctx); err != nil {
		h.handleStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	summary, err := h.managers(getSessionID(ctx)).Summary(ctx)
	if err != nil {
		h.handleStoreError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Logout clears the cart of the current session and expires its cookie.
func (h *CartHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(ctx)
	if _, err := h.managers(sessionID).Clear(ctx); err != nil {
		h.handleStoreError(w, r, err)
		return
	}
	h.logger.Info("session logged out", zap.String("session_id", sessionID))

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) handleStoreError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("cart operation failed",
		zap.String("request_id", getRequestID(r.Context())),
		zap.String("session_id", getSessionID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err))

	switch {
	case errors.Is(err, session.ErrInvalidPath):
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid item path")
	case session.IsUnavailable(err):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "session store unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "session store timed out")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers are already sent, so an encode failure can only be dropped
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
