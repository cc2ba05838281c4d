package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/partshub/go-parts-market/internal/inventory"
	"github.com/partshub/go-parts-market/internal/orders"
)

type InventoryHandler struct {
	Ledger *inventory.Ledger
	Events *inventory.Service // optional; publishes stock.released
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Post("/reservations", h.reserve)
	r.Delete("/reservations/{orderID}", h.release)
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Put("/products/{id}/stock", h.removeStock)
	r.Put("/products/{id}/stock/add", h.addStock)
}

func (h *InventoryHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req inventory.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.OrderID == "" || req.ProductID == "" {
		WriteError(w, http.StatusBadRequest, "missing fields")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rv, err := h.Ledger.Reserve(ctx, req.OrderID, req.ProductID, req.Qty)
	if err != nil {
		var ise *inventory.InsufficientStockError
		if errors.As(err, &ise) {
			WriteErrorData(w, http.StatusConflict, ise.Error(), ise)
			return
		}
		WriteDomainError(w, err)
		return
	}
	WriteData(w, http.StatusOK, rv)
}

func (h *InventoryHandler) release(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	released, err := h.Ledger.ReleaseOrder(ctx, orderID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if h.Events != nil && len(released) > 0 {
		h.Events.PublishReleased(orderID, released, middleware.GetReqID(r.Context()))
	}
	if released == nil {
		released = []orders.LineQty{}
	}
	WriteData(w, http.StatusOK, map[string]any{"order_id": orderID, "released": released})
}

func (h *InventoryHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Ledger.ListProducts(ctx)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteData(w, http.StatusOK, ps)
}

func (h *InventoryHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Ledger.GetProduct(ctx, chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteData(w, http.StatusOK, p)
}

// administrative ledger access: bypasses order linkage, keeps the guards

func (h *InventoryHandler) removeStock(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.Ledger.RemoveStock)
}

func (h *InventoryHandler) addStock(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.Ledger.AddStock)
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request,
	op func(context.Context, string, int) (int, error)) {

	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "quantity must be an integer")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	remaining, err := op(ctx, chi.URLParam(r, "id"), qty)
	if err != nil {
		var ise *inventory.InsufficientStockError
		if errors.As(err, &ise) {
			WriteErrorData(w, http.StatusConflict, ise.Error(), ise)
			return
		}
		WriteDomainError(w, err)
		return
	}
	WriteData(w, http.StatusOK, map[string]any{"product_id": chi.URLParam(r, "id"), "stock": remaining})
}
