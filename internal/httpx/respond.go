package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/partshub/go-parts-market/internal/inventory"
	"github.com/partshub/go-parts-market/internal/orders"
)

// Response is the stable envelope every endpoint answers with.
type Response struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message,omitempty"`
	Data       any    `json:"data,omitempty"`
}

func WriteData(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, Response{OK: true, StatusCode: code, Data: data})
}

func WriteMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, Response{OK: true, StatusCode: code, Message: msg})
}

func WriteError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, Response{OK: false, StatusCode: code, Message: msg})
}

func WriteErrorData(w http.ResponseWriter, code int, msg string, data any) {
	writeJSON(w, code, Response{OK: false, StatusCode: code, Message: msg, Data: data})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteDomainError maps the error taxonomy onto HTTP statuses. Insufficient
// stock is a 400 on the order surface; the inventory surface answers 409 for
// it directly in its handler.
func WriteDomainError(w http.ResponseWriter, err error) {
	var ise *inventory.InsufficientStockError
	var ite *orders.IllegalTransitionError

	switch {
	case errors.Is(err, orders.ErrInvalidInput), errors.Is(err, inventory.ErrBadQuantity):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &ise):
		WriteErrorData(w, http.StatusBadRequest, ise.Error(), ise)
	case errors.As(err, &ite):
		WriteError(w, http.StatusConflict, ite.Error())
	case errors.Is(err, inventory.ErrOrderClosed):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, inventory.ErrProductNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orders.ErrNotCompleted):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, inventory.ErrTimeout):
		WriteError(w, http.StatusGatewayTimeout, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
