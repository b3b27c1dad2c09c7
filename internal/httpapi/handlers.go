package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/broadcast"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/cart"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/catalog"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/domain"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/order"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/repository"
	"github.com/sitechfromgeorgia/georgian-distribution-system-sub010/internal/session"
)

const maxLineQuantity = 999

type Handler struct {
	sessions *session.Manager
	carts    *cart.Service
	orders   *order.Service
	hub      *broadcast.Hub
	timeout  time.Duration
	log      zerolog.Logger
}

func NewHandler(
	sessions *session.Manager,
	carts *cart.Service,
	orders *order.Service,
	hub *broadcast.Hub,
	timeout time.Duration,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		sessions: sessions,
		carts:    carts,
		orders:   orders,
		hub:      hub,
		timeout:  timeout,
		log:      log,
	}
}

type OpenSessionRequestDTO struct {
	Token string `json:"token"`
}

type AddItemRequestDTO struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes"`
}

type UpdateItemRequestDTO struct {
	Quantity int     `json:"quantity"`
	Notes    *string `json:"notes"`
}

type SubmitOrderRequestDTO struct {
	SessionID string `json:"session_id"`
}

type TransitionRequestDTO struct {
	To         string                    `json:"to"`
	DriverID   string                    `json:"driver_id"`
	LinePrices map[int64]decimal.Decimal `json:"line_prices"`
}

type AvailabilityRequestDTO struct {
	Available bool `json:"available"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}

	var req OpenSessionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	sess, err := h.sessions.Open(ctx, req.Token, actor.ID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := actorFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}
	sessionID, ok := parseUUIDParam(w, r, "session_id")
	if !ok {
		return
	}

	sess, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := actorFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}
	sessionID, ok := parseUUIDParam(w, r, "session_id")
	if !ok {
		return
	}

	if err := h.sessions.Close(ctx, sessionID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := actorFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}
	sessionID, ok := parseUUIDParam(w, r, "session_id")
	if !ok {
		return
	}

	snapshot, err := h.carts.GetCart(ctx, sessionID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := actorFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}
	sessionID, ok := parseUUIDParam(w, r, "session_id")
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > maxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 999")
		return
	}

	item, err := h.carts.AddItem(ctx, sessionID, req.ProductID, req.Quantity, req.Notes)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := actorFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}
	sessionID, ok := parseUUIDParam(w, r, "session_id")
	if !ok {
		return
	}
	productID, ok := parseProductIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity <= 0 || req.Quantity > maxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 999")
		return
	}

	item, err := h.carts.UpdateItem(ctx, sessionID, productID, req.Quantity, req.Notes)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := actorFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}
	sessionID, ok := parseUUIDParam(w, r, "session_id")
	if !ok {
		return
	}
	productID, ok := parseProductIDParam(w, r)
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(ctx, sessionID, productID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := actorFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}
	sessionID, ok := parseUUIDParam(w, r, "session_id")
	if !ok {
		return
	}

	if err := h.carts.Clear(ctx, sessionID); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := actorFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}
	sessionID, ok := parseUUIDParam(w, r, "session_id")
	if !ok {
		return
	}

	records, err := h.carts.ListActivities(ctx, sessionID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}

	var req SubmitOrderRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "session_id must be a UUID")
		return
	}

	ord, err := h.orders.Submit(ctx, sessionID, actor)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, ord)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, ok := actorFromContext(r.Context()); !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}
	orderID, ok := parseUUIDParam(w, r, "order_id")
	if !ok {
		return
	}

	ord, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ord)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}

	// Restaurants only ever see their own orders
	restaurantID := r.URL.Query().Get("restaurant_id")
	switch actor.Role {
	case domain.RoleRestaurant:
		restaurantID = actor.ID
	case domain.RoleAdmin, domain.RoleSystem:
		if restaurantID == "" {
			respondError(w, http.StatusBadRequest, "missing_restaurant_id", "restaurant_id query parameter is required")
			return
		}
	default:
		respondError(w, http.StatusForbidden, "forbidden", "role may not list orders")
		return
	}

	listed, err := h.orders.ListByRestaurant(ctx, restaurantID)
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listed)
}

func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}
	orderID, ok := parseUUIDParam(w, r, "order_id")
	if !ok {
		return
	}

	var req TransitionRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.To == "" {
		respondError(w, http.StatusBadRequest, "missing_target_status", "to is required")
		return
	}

	ord, err := h.orders.Transition(ctx, orderID, domain.OrderStatus(req.To), actor, order.TransitionRequest{
		DriverID:   req.DriverID,
		LinePrices: req.LinePrices,
	})
	if err != nil {
		h.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ord)
}

func (h *Handler) SetDriverAvailability(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	actor, ok := actorFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing actor identity")
		return
	}
	driverID := chi.URLParam(r, "driver_id")
	if driverID == "" {
		respondError(w, http.StatusBadRequest, "invalid_driver_id", "driver_id is required")
		return
	}

	// Drivers flag themselves, dispatch can flag anyone
	switch actor.Role {
	case domain.RoleDriver:
		if actor.ID != driverID {
			respondError(w, http.StatusForbidden, "forbidden", "drivers may only update their own availability")
			return
		}
	case domain.RoleAdmin:
	default:
		respondError(w, http.StatusForbidden, "forbidden", "role may not update driver availability")
		return
	}

	var req AvailabilityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if err := h.orders.SetDriverAvailability(ctx, driverID, req.Available); err != nil {
		h.respondDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseProductIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zlog.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (h *Handler) respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", "session does not exist")
	case errors.Is(err, session.ErrExpired):
		respondError(w, http.StatusGone, "session_expired", "session has expired or was closed")
	case errors.Is(err, session.ErrConflict), errors.Is(err, repository.ErrTokenConflict):
		respondError(w, http.StatusConflict, "session_conflict", "another session for this token was opened concurrently")
	case errors.Is(err, cart.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be positive")
	case errors.Is(err, repository.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "item_not_found", "product is not in the cart")
	case errors.Is(err, catalog.ErrProductNotFound):
		respondError(w, http.StatusNotFound, "product_not_found", "product does not exist")
	case errors.Is(err, catalog.ErrUnavailable):
		respondError(w, http.StatusServiceUnavailable, "catalog_unavailable", "product catalog is unreachable")
	case errors.Is(err, repository.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", "order does not exist")
	case errors.Is(err, order.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", "cart has no items to submit")
	case errors.Is(err, order.IllegalTransitionError):
		respondError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, order.ErrRoleForbidden), errors.Is(err, order.ErrDriverMismatch):
		respondError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, order.ErrDriverRequired), errors.Is(err, order.ErrPricesIncomplete):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, order.ErrDriverUnavailable):
		respondError(w, http.StatusConflict, "driver_unavailable", err.Error())
	case errors.Is(err, order.ErrTransitionConflict):
		respondError(w, http.StatusConflict, "transition_conflict", err.Error())
	default:
		h.log.Error().Err(err).Msg("unhandled domain error")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
