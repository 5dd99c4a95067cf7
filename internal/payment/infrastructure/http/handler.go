package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/orderflow/orderflow/internal/payment/application"
	"github.com/orderflow/orderflow/internal/payment/domain"
	"github.com/orderflow/orderflow/pkg/apperrors"
)

// Handler exposes the read side only; charges and refunds arrive over Kafka.
type Handler struct {
	log     *slog.Logger
	service *application.Service
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{log: log, service: service}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/payments/order/{orderId}", h.getByOrder)
	r.Get("/customers/{customerId}/payments", h.listByCustomer)
	return r
}

type paymentResp struct {
	PaymentID      uuid.UUID       `json:"paymentId"`
	OrderID        uuid.UUID       `json:"orderId"`
	CustomerID     uuid.UUID       `json:"customerId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Method         domain.Method   `json:"method"`
	Status         domain.Status   `json:"status"`
	TransactionRef string          `json:"transactionRef,omitempty"`
	RetryCount     int             `json:"retryCount"`
	FailureReason  string          `json:"failureReason,omitempty"`
	ProcessedAt    *time.Time      `json:"processedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func toPaymentResp(p domain.Payment) paymentResp {
	return paymentResp{
		PaymentID:      p.ID,
		OrderID:        p.OrderID,
		CustomerID:     p.CustomerID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Method:         p.Method,
		Status:         p.Status,
		TransactionRef: p.TransactionRef,
		RetryCount:     p.RetryCount,
		FailureReason:  p.FailureReason,
		ProcessedAt:    p.ProcessedAt,
		CreatedAt:      p.CreatedAt,
	}
}

func (h *Handler) getByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	p, err := h.service.GetByOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResp(p))
}

func (h *Handler) listByCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.Parse(chi.URLParam(r, "customerId"))
	if err != nil {
		http.Error(w, "invalid customer id", http.StatusBadRequest)
		return
	}
	payments, err := h.service.ListByCustomer(r.Context(), customerID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]paymentResp, 0, len(payments))
	for _, p := range payments {
		out = append(out, toPaymentResp(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}
