package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Ledger (Счёт продавца)

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := pathInt(w, chi.URLParam(r, "sellerId"), "sellerId")
	if !ok {
		return
	}
	balance, err := h.Ledger.Balance(r.Context(), sellerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *Handler) ListLedgerEntriesHandler(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := pathInt(w, chi.URLParam(r, "sellerId"), "sellerId")
	if !ok {
		return
	}
	p := parsePaginationParams(r)
	entries, err := h.Ledger.Entries(r.Context(), sellerID, p.Limit, p.Offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type payoutRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

func (h *Handler) RequestPayoutHandler(w http.ResponseWriter, r *http.Request) {
	sellerID, ok := pathInt(w, chi.URLParam(r, "sellerId"), "sellerId")
	if !ok {
		return
	}
	var req payoutRequest
	if !decodeJSON(w, r, &req) || !h.checkRequest(w, &req) {
		return
	}
	entry, err := h.Ledger.RequestPayout(r.Context(), sellerID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
