package handlers

import (
	"context"
	"net/http"

	"marketplace/models"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// RFQ (Запрос предложений)

func (h *Handler) CreateRFQHandler(w http.ResponseWriter, r *http.Request) {
	var rq models.RFQ
	if !decodeJSON(w, r, &rq) {
		return
	}
	if !h.checkRequest(w, &rq) {
		return
	}
	if err := h.RFQs.Create(r.Context(), &rq); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rq)
}

func (h *Handler) GetRFQHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "rfqId"), "rfqId")
	if !ok {
		return
	}
	rq, err := h.RFQs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rq)
}

func (h *Handler) ListRFQsHandler(w http.ResponseWriter, r *http.Request) {
	p := parsePaginationParams(r)
	buyerID, ok := pathInt(w, r.URL.Query().Get("buyerId"), "buyerId")
	if !ok {
		return
	}
	rfqs, err := h.Store.GetBuyerRFQs(r.Context(), buyerID, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rfqs)
}

func (h *Handler) PublishRFQHandler(w http.ResponseWriter, r *http.Request) {
	h.rfqTransition(w, r, h.RFQs.Publish)
}

func (h *Handler) CancelRFQHandler(w http.ResponseWriter, r *http.Request) {
	h.rfqTransition(w, r, h.RFQs.Cancel)
}

func (h *Handler) IssueProformaHandler(w http.ResponseWriter, r *http.Request) {
	h.rfqTransition(w, r, h.RFQs.IssueProforma)
}

func (h *Handler) CompleteProductionHandler(w http.ResponseWriter, r *http.Request) {
	h.rfqTransition(w, r, h.RFQs.CompleteProduction)
}

// Offer (Предложение)

func (h *Handler) SubmitOfferHandler(w http.ResponseWriter, r *http.Request) {
	rfqID, ok := pathInt(w, chi.URLParam(r, "rfqId"), "rfqId")
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var offer models.Offer
	if !decodeJSON(w, r, &offer) {
		return
	}
	offer.SellerID = actor
	if !h.checkRequest(w, &offer) {
		return
	}
	created, err := h.RFQs.SubmitOffer(r.Context(), rfqID, actor, &offer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) WithdrawOfferHandler(w http.ResponseWriter, r *http.Request) {
	rfqID, ok := pathInt(w, chi.URLParam(r, "rfqId"), "rfqId")
	if !ok {
		return
	}
	offerID, ok := pathInt(w, chi.URLParam(r, "offerId"), "offerId")
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	if err := h.RFQs.WithdrawOffer(r.Context(), rfqID, offerID, actor); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AcceptOfferHandler(w http.ResponseWriter, r *http.Request) {
	rfqID, ok := pathInt(w, chi.URLParam(r, "rfqId"), "rfqId")
	if !ok {
		return
	}
	offerID, ok := pathInt(w, chi.URLParam(r, "offerId"), "offerId")
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	rq, err := h.RFQs.AcceptOffer(r.Context(), rfqID, offerID, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rq)
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

func (h *Handler) RecordDepositHandler(w http.ResponseWriter, r *http.Request) {
	rfqID, ok := pathInt(w, chi.URLParam(r, "rfqId"), "rfqId")
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeJSON(w, r, &req) || !h.checkRequest(w, &req) {
		return
	}
	rq, err := h.RFQs.RecordDeposit(r.Context(), rfqID, actor, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rq)
}

func (h *Handler) rfqTransition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, rfqID, actorID int) (*models.RFQ, error)) {
	id, ok := pathInt(w, chi.URLParam(r, "rfqId"), "rfqId")
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	rq, err := fn(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rq)
}
