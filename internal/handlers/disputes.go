package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Dispute (Спор)

type openDisputeRequest struct {
	OrderID      int      `json:"orderId" validate:"required"`
	Category     string   `json:"category" validate:"required,max=100"`
	Description  string   `json:"description" validate:"required,max=2000"`
	EvidenceRefs []string `json:"evidenceRefs" validate:"max=20"`
}

func (h *Handler) OpenDisputeHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req openDisputeRequest
	if !decodeJSON(w, r, &req) || !h.checkRequest(w, &req) {
		return
	}
	d, err := h.Disputes.Open(r.Context(), req.OrderID, actor, req.Category, req.Description, req.EvidenceRefs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) GetDisputeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "disputeId"), "disputeId")
	if !ok {
		return
	}
	d, err := h.Disputes.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) ListOrderDisputesHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathInt(w, chi.URLParam(r, "orderId"), "orderId")
	if !ok {
		return
	}
	disputes, err := h.Store.GetDisputesForOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disputes)
}

type respondRequest struct {
	Statement string   `json:"statement" validate:"required,max=2000"`
	Evidence  []string `json:"evidence" validate:"max=20"`
}

func (h *Handler) RespondDisputeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "disputeId"), "disputeId")
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req respondRequest
	if !decodeJSON(w, r, &req) || !h.checkRequest(w, &req) {
		return
	}
	d, err := h.Disputes.Respond(r.Context(), id, actor, req.Statement, req.Evidence)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type mediationRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Rationale string          `json:"rationale" validate:"required,max=2000"`
}

func (h *Handler) ProposeMediationHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "disputeId"), "disputeId")
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req mediationRequest
	if !decodeJSON(w, r, &req) || !h.checkRequest(w, &req) {
		return
	}
	d, err := h.Disputes.ProposeMediation(r.Context(), id, actor, req.Amount, req.Rationale)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type decisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=accept contest"`
}

func (h *Handler) DecideDisputeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "disputeId"), "disputeId")
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !decodeJSON(w, r, &req) || !h.checkRequest(w, &req) {
		return
	}
	d, err := h.Disputes.Decide(r.Context(), id, actor, req.Decision)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) WithdrawDisputeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt(w, chi.URLParam(r, "disputeId"), "disputeId")
	if !ok {
		return
	}
	actor, ok := actorID(w, r)
	if !ok {
		return
	}
	d, err := h.Disputes.Withdraw(r.Context(), id, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
