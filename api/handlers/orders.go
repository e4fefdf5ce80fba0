package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	exchangetypes "github.com/openpredict/predex/x/exchange/types"
	obtypes "github.com/openpredict/predex/x/orderbook/types"
)

// OrderService is the exchange keeper surface the handler needs.
type OrderService interface {
	Submit(ctx context.Context, in exchangetypes.OrderInput) (*obtypes.ProcessResult, error)
	Cancel(ctx context.Context, marketID string, outcome int, orderID, userID, agentID string) (*obtypes.ProcessResult, error)
}

// OrderReader serves persisted order state.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*obtypes.Order, error)
	ListOrdersByMarket(ctx context.Context, marketID string, limit int) ([]*obtypes.Order, error)
}

// OrderHandler handles /v1/orders.
type OrderHandler struct {
	exchange OrderService
	orders   OrderReader
}

// NewOrderHandler creates an order handler.
func NewOrderHandler(exchange OrderService, orders OrderReader) *OrderHandler {
	return &OrderHandler{exchange: exchange, orders: orders}
}

// HandleOrders handles /v1/orders (GET for list, POST for submit).
func (h *OrderHandler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listOrders(w, r)
	case http.MethodPost:
		h.submitOrder(w, r)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

// HandleOrder handles /v1/orders/{id} (GET state, DELETE cancel).
func (h *OrderHandler) HandleOrder(w http.ResponseWriter, r *http.Request) {
	orderID, _ := splitPath(r, "/v1/orders/")
	if orderID == "" {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "order id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getOrder(w, r, orderID)
	case http.MethodDelete:
		h.cancelOrder(w, r, orderID)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		WriteErrorMsg(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	}
}

// submitOrder handles POST /v1/orders. A REJECTED result is not an error at
// the engine level, so it is mapped to 422 here with the result attached.
func (h *OrderHandler) submitOrder(w http.ResponseWriter, r *http.Request) {
	var in exchangetypes.OrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "invalid JSON body")
		return
	}
	if in.UserID == "" {
		in.UserID = r.Header.Get("X-User-ID")
	}

	result, err := h.exchange.Submit(r.Context(), in)
	if err != nil {
		WriteError(w, err)
		return
	}
	if result.Order.Status == obtypes.OrderStatusRejected {
		kind := exchangetypes.KindForReject(result.RejectReason)
		WriteJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   string(kind),
			"message": result.RejectReason,
			"result":  result,
		})
		return
	}
	WriteJSON(w, http.StatusCreated, result)
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, order)
}

func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	marketID := r.URL.Query().Get("market")
	if marketID == "" {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "market query parameter is required")
		return
	}
	orders, err := h.orders.ListOrdersByMarket(r.Context(), marketID, queryInt(r, "limit", 100))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// cancelOrder handles DELETE /v1/orders/{id}. The book is keyed by market
// and outcome, so both ride along as query parameters.
func (h *OrderHandler) cancelOrder(w http.ResponseWriter, r *http.Request, orderID string) {
	marketID := r.URL.Query().Get("market")
	if marketID == "" {
		WriteErrorMsg(w, http.StatusBadRequest, "VALIDATION", "market query parameter is required")
		return
	}
	outcome := queryInt(r, "outcome", 0)

	userID := r.URL.Query().Get("user")
	if userID == "" {
		userID = r.Header.Get("X-User-ID")
	}
	agentID := r.URL.Query().Get("agent")

	result, err := h.exchange.Cancel(r.Context(), marketID, outcome, orderID, userID, agentID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}
