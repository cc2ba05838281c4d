package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/partshub/go-parts-market/internal/auth"
	"github.com/partshub/go-parts-market/internal/checkout"
)

type OrdersHandler struct {
	Checkout *checkout.Service
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Put("/orders/{id}/status", h.updateStatus)
	r.Delete("/orders/{id}", h.deleteOrder)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var in checkout.PlaceOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}

	// the authenticated subject owns the order, whatever the body says
	sub := auth.Subject(r.Context())
	if sub == "" {
		WriteError(w, http.StatusUnauthorized, "user identity unresolved")
		return
	}
	in.UserID = sub

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, existed, err := h.Checkout.PlaceOrder(ctx, in)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	code := http.StatusCreated
	if existed {
		code = http.StatusOK
	}
	WriteData(w, code, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Checkout.GetOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteData(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("status")
	if next == "" {
		WriteError(w, http.StatusBadRequest, "missing status")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	o, err := h.Checkout.UpdateStatus(ctx, chi.URLParam(r, "id"), next)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteData(w, http.StatusOK, o)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Checkout.DeleteOrder(ctx, chi.URLParam(r, "id")); err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteMessage(w, http.StatusOK, "order deleted")
}
