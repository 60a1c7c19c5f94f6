package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"marketplace/internal/dispute"
	"marketplace/internal/ledger"
	"marketplace/internal/order"
	"marketplace/internal/rfq"
	"marketplace/models"

	"github.com/go-playground/validator/v10"
)

// Handler связывает HTTP-слой с движками домена
type Handler struct {
	Orders   *order.Engine
	RFQs     *rfq.Engine
	Disputes *dispute.Engine
	Ledger   *ledger.Service
	Store    StorageInterface

	validate *validator.Validate
}

func NewHandler(orders *order.Engine, rfqs *rfq.Engine, disputes *dispute.Engine, ldg *ledger.Service, store StorageInterface) *Handler {
	return &Handler{
		Orders:   orders,
		RFQs:     rfqs,
		Disputes: disputes,
		Ledger:   ldg,
		Store:    store,
		validate: validator.New(),
	}
}

// PingHandler отвечает "ok" для проверки сервера
func (h *Handler) PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var statusByCode = map[string]int{
	models.CodeNotFound:          http.StatusNotFound,
	models.CodeForbidden:         http.StatusForbidden,
	models.CodeInvalidTransition: http.StatusConflict,
	models.CodeConflict:          http.StatusConflict,
	models.CodeAlreadyFinal:      http.StatusConflict,
	models.CodeAmountMismatch:    http.StatusUnprocessableEntity,
	models.CodeAmountExceedsHold: http.StatusUnprocessableEntity,
	models.CodeDeadlinePassed:    http.StatusUnprocessableEntity,
	models.CodeValidation:        http.StatusBadRequest,
}

func writeError(w http.ResponseWriter, err error) {
	code := models.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Code: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON ограничивает размер тела и разбирает JSON
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, models.Errf(models.CodeValidation, "invalid JSON: %v", err))
		return false
	}
	return true
}

func (h *Handler) checkRequest(w http.ResponseWriter, req any) bool {
	if err := h.validate.Struct(req); err != nil {
		writeError(w, models.Errf(models.CodeValidation, "%v", err))
		return false
	}
	return true
}

// actorID достаёт идентификатор пользователя из query (auth внешняя)
func actorID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("userId")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeError(w, models.Errf(models.CodeValidation, "missing or invalid userId parameter"))
		return 0, false
	}
	return id, true
}

func pathInt(w http.ResponseWriter, raw, name string) (int, bool) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeError(w, models.Errf(models.CodeValidation, "invalid %s", name))
		return 0, false
	}
	return id, true
}

type paginationParams struct {
	Limit  int
	Offset int
}

func parsePaginationParams(r *http.Request) paginationParams {
	params := paginationParams{Limit: 20, Offset: 0}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			params.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			params.Offset = n
		}
	}
	return params
}
