package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/orderflow/internal/inventory/application"
	"github.com/orderflow/orderflow/internal/inventory/domain"
	"github.com/orderflow/orderflow/pkg/apperrors"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("inventory-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/inventories", h.createInventory)
	r.Get("/inventories", h.listInventories)
	r.Get("/inventories/low-stock", h.listLowStock)
	r.Get("/inventories/sku/{sku}", h.getBySKU)
	r.Get("/inventories/{productId}", h.getByProduct)
	r.Post("/inventories/{productId}/add", h.addStock)
	r.Post("/inventories/{productId}/remove", h.removeStock)
	r.Post("/inventories/{productId}/adjust", h.adjustStock)
	r.Get("/inventories/{productId}/movements", h.listMovements)
	r.Get("/reservations/{orderId}", h.getReservation)
	return r
}

type createInventoryReq struct {
	ProductID       uuid.UUID `json:"productId"`
	ProductName     string    `json:"productName"`
	SKU             string    `json:"sku"`
	InitialQuantity int       `json:"initialQuantity"`
	MinStockLevel   int       `json:"minStockLevel"`
}

type stockUpdateReq struct {
	Quantity int    `json:"quantity"`
	Notes    string `json:"notes"`
}

type inventoryResp struct {
	ProductID         uuid.UUID `json:"productId"`
	ProductName       string    `json:"productName"`
	SKU               string    `json:"sku"`
	TotalQuantity     int       `json:"totalQuantity"`
	ReservedQuantity  int       `json:"reservedQuantity"`
	AvailableQuantity int       `json:"availableQuantity"`
	MinStockLevel     int       `json:"minStockLevel"`
	LowStock          bool      `json:"lowStock"`
}

func toInventoryResp(inv domain.Inventory) inventoryResp {
	return inventoryResp{
		ProductID:         inv.ProductID,
		ProductName:       inv.ProductName,
		SKU:               inv.SKU,
		TotalQuantity:     inv.TotalQuantity,
		ReservedQuantity:  inv.ReservedQuantity,
		AvailableQuantity: inv.Available(),
		MinStockLevel:     inv.MinStockLevel,
		LowStock:          inv.LowStock(),
	}
}

func (h *Handler) createInventory(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateInventory")
	defer span.End()

	var req createInventoryReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	inv, err := h.service.CreateInventory(ctx, req.ProductID, req.ProductName, req.SKU, req.InitialQuantity, req.MinStockLevel)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInventoryResp(inv))
}

func (h *Handler) listInventories(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r, h.service.ListActive)
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	h.writeList(w, r, h.service.ListLowStock)
}

func (h *Handler) writeList(w http.ResponseWriter, r *http.Request, list func(ctx context.Context) ([]domain.Inventory, error)) {
	invs, err := list(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]inventoryResp, 0, len(invs))
	for _, inv := range invs {
		out = append(out, toInventoryResp(inv))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getByProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(chi.URLParam(r, "productId"))
	if err != nil {
		http.Error(w, "invalid product id", http.StatusBadRequest)
		return
	}
	inv, err := h.service.GetInventory(r.Context(), productID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResp(inv))
}

func (h *Handler) getBySKU(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.GetInventoryBySKU(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResp(inv))
}

func (h *Handler) addStock(w http.ResponseWriter, r *http.Request) {
	h.stockOp(w, r, h.service.AddStock)
}

func (h *Handler) removeStock(w http.ResponseWriter, r *http.Request) {
	h.stockOp(w, r, h.service.RemoveStock)
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	h.stockOp(w, r, h.service.AdjustStock)
}

func (h *Handler) stockOp(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, productID uuid.UUID, quantity int, notes string) (domain.Inventory, error)) {

	productID, err := uuid.Parse(chi.URLParam(r, "productId"))
	if err != nil {
		http.Error(w, "invalid product id", http.StatusBadRequest)
		return
	}
	var req stockUpdateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	inv, err := op(r.Context(), productID, req.Quantity, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResp(inv))
}

type movementResp struct {
	Type        domain.MovementType `json:"movementType"`
	Quantity    int                 `json:"quantity"`
	ReferenceID *uuid.UUID          `json:"referenceId,omitempty"`
	Notes       string              `json:"notes,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(chi.URLParam(r, "productId"))
	if err != nil {
		http.Error(w, "invalid product id", http.StatusBadRequest)
		return
	}
	movements, err := h.service.MovementsByProduct(r.Context(), productID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]movementResp, 0, len(movements))
	for _, m := range movements {
		out = append(out, movementResp{Type: m.Type, Quantity: m.Quantity, ReferenceID: m.ReferenceID, Notes: m.Notes, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

type reservationResp struct {
	ReservationID uuid.UUID                `json:"reservationId"`
	OrderID       uuid.UUID                `json:"orderId"`
	Status        domain.ReservationStatus `json:"status"`
	ExpiresAt     time.Time                `json:"expiresAt"`
	Items         []reservationItemResp    `json:"items"`
}

type reservationItemResp struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
}

func (h *Handler) getReservation(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	res, err := h.service.GetReservation(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := reservationResp{ReservationID: res.ID, OrderID: res.OrderID, Status: res.Status, ExpiresAt: res.ExpiresAt}
	for _, item := range res.Items {
		out.Items = append(out.Items, reservationItemResp{ProductID: item.ProductID, Quantity: item.Quantity})
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
	case errors.Is(err, apperrors.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperrors.ErrInsufficientStock):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
