package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/service"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxBodyBytes     = 64 << 10
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	CreateOrder(ctx context.Context, sess source.Session, req service.CreateOrderRequest) (domain.LimitOrder, error)
	GetOrder(ctx context.Context, sess source.Session, id string) (domain.LimitOrder, error)
	ListOrders(ctx context.Context, sess source.Session, f domain.OrderFilter) ([]domain.LimitOrder, error)
	CancelOrder(ctx context.Context, sess source.Session, id string) (service.CancelResult, error)
	OrderEvents(ctx context.Context, sess source.Session, id string) ([]domain.OrderEvent, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders   OrderService
	sessions Sessions
	logger   *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, sessions Sessions, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		sessions: sessions,
		logger:   logHandler(logger, "order"),
	}
}

// createOrderBody is the POST body: the order plus an optional session
// flag.
type createOrderBody struct {
	service.CreateOrderRequest
	Demo *bool `json:"demo"`
}

// createOrderResponse is the POST response envelope.
type createOrderResponse struct {
	Success bool              `json:"success"`
	Order   domain.LimitOrder `json:"order"`
}

// CreateOrder validates and submits a limit order.
// POST /api/{chainId}/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Resolve(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "create order", err)
		return
	}
	var body createOrderBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Demo != nil {
		sess.Demo = *body.Demo
	}

	order, err := h.orders.CreateOrder(r.Context(), sess, body.CreateOrderRequest)
	if err != nil {
		writeServiceError(w, r, h.logger, "create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{Success: true, Order: order})
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.LimitOrder `json:"orders"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// parseListOpts extracts pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, offset, nil
}

// ListOrders lists the session's orders, newest first.
// GET /api/{chainId}/orders?maker=&status=&limit=50&offset=0&demo=
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Resolve(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list orders", err)
		return
	}
	limit, offset, err := parseListOpts(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "list orders", err)
		return
	}
	q := r.URL.Query()
	f := domain.OrderFilter{Maker: q.Get("maker"), Limit: limit, Offset: offset}
	if s := q.Get("status"); s != "" {
		if f.Status, err = domain.ParseOrderStatus(s); err != nil {
			writeServiceError(w, r, h.logger, "list orders", err)
			return
		}
	}

	orders, err := h.orders.ListOrders(r.Context(), sess, f)
	if err != nil {
		writeServiceError(w, r, h.logger, "list orders", err)
		return
	}
	if orders == nil {
		orders = []domain.LimitOrder{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders, Limit: limit, Offset: offset})
}

// GetOrder returns one order.
// GET /api/{chainId}/orders/{id}?demo=
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Resolve(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", err)
		return
	}
	order, err := h.orders.GetOrder(r.Context(), sess, pathParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get order", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// orderEventsResponse wraps an order's event history.
type orderEventsResponse struct {
	OrderID string              `json:"orderId"`
	Events  []domain.OrderEvent `json:"events"`
}

// OrderEvents returns the recorded events of one order, oldest first.
// GET /api/{chainId}/orders/{id}/events?demo=
func (h *OrderHandler) OrderEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Resolve(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "order events", err)
		return
	}
	id := pathParam(r, "id")
	events, err := h.orders.OrderEvents(r.Context(), sess, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "order events", err)
		return
	}
	writeJSON(w, http.StatusOK, orderEventsResponse{OrderID: id, Events: events})
}

// CancelOrder cancels an existing order by its ID. Unknown or inactive
// orders answer 200 with cancelled=false.
// DELETE /api/{chainId}/orders/{id}?demo=
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Resolve(r)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel order", err)
		return
	}
	id := pathParam(r, "id")
	res, err := h.orders.CancelOrder(r.Context(), sess, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "cancel order", err)
		return
	}
	if res.Cancelled {
		h.logger.InfoContext(r.Context(), "handler: order cancelled",
			slog.String("order_id", id),
			slog.String("mode", sess.Mode()),
		)
	}
	writeJSON(w, http.StatusOK, res)
}
