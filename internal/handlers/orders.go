package handlers

import (
	"context"
	"net/http"

	"marketplace/models"

	"github.com/go-chi/chi/v5"
)

// Order (Заказ)

// PlaceOrderHandler создаёт заказ и стартует его жизненный цикл
func (h *Handler) PlaceOrderHandler(w http.ResponseWriter, r *http.Request) {
	var o models.Order
	if !decodeJSON(w, r, &o) {
		return
	}
	if !h.checkRequest(w, &o) {
		return
	}
	if err := h.Orders.Place(r.Context(), &o); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "orderId"), "orderId")
	if !ok {
		return
	}
	o, err := h.Orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ListOrdersHandler отдаёт заказы покупателя или продавца
func (h *Handler) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	p := parsePaginationParams(r)
	if raw := r.URL.Query().Get("buyerId"); raw != "" {
		id, ok := pathInt(w, raw, "buyerId")
		if !ok {
			return
		}
		orders, err := h.Store.GetBuyerOrders(r.Context(), id, p.Limit, p.Offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
		return
	}
	if raw := r.URL.Query().Get("sellerId"); raw != "" {
		id, ok := pathInt(w, raw, "sellerId")
		if !ok {
			return
		}
		orders, err := h.Store.GetSellerOrders(r.Context(), id, p.Limit, p.Offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, orders)
		return
	}
	writeError(w, models.Errf(models.CodeValidation, "buyerId or sellerId parameter is required"))
}

func (h *Handler) ConfirmOrderHandler(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.Orders.Confirm)
}

func (h *Handler) PrepareOrderHandler(w http.ResponseWriter, r *http.Request) {
	h.orderTransition(w, r, h.Orders.Prepare)
}

type shipRequest struct {
	TrackingRef string `json:"trackingRef" validate:"required"`
}

func (h *Handler) ShipOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "orderId"), "orderId")
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req shipRequest
	if !decodeJSON(w, r, &req) || !h.checkRequest(w, &req) {
		return
	}
	o, err := h.Orders.Ship(r.Context(), id, actor, req.TrackingRef)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// DeliverOrderHandler принимает подтверждение покупателя; курьерский
// webhook шлёт userId=0 и проходит без проверки стороны
func (h *Handler) DeliverOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "orderId"), "orderId")
	if !ok {
		return
	}
	actor := 0
	if r.URL.Query().Get("userId") != "" {
		if actor, ok = actorID(w, r); !ok {
			return
		}
	}
	o, err := h.Orders.MarkDelivered(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "orderId"), "orderId")
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if !decodeJSON(w, r, &req) || !h.checkRequest(w, &req) {
		return
	}
	o, err := h.Orders.Cancel(r.Context(), id, actor, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) CloseOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "orderId"), "orderId")
	if !ok {
		return
	}
	o, err := h.Orders.Close(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// orderTransition обслуживает переходы без тела запроса
func (h *Handler) orderTransition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, orderID, actorID int) (*models.Order, error)) {
	id, ok := pathInt(w, chi.URLParam(r, "orderId"), "orderId")
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	o, err := fn(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
