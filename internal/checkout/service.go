package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/partshub/go-parts-market/internal/inventory"
	kafkax "github.com/partshub/go-parts-market/internal/kafka"
	"github.com/partshub/go-parts-market/internal/orders"
	"github.com/partshub/go-parts-market/internal/redisx"
)

// StockLedger is the order side's contract with the inventory store. The two
// stores share no transaction: consistency is the reserve/compensate protocol
// in PlaceOrder and CancelOrder below.
type StockLedger interface {
	Reserve(ctx context.Context, orderID, productID string, qty int) (*inventory.Reserved, error)
	ReleaseOrder(ctx context.Context, orderID string) error
}

type OrderStore interface {
	Insert(ctx context.Context, o *orders.Order) (inserted bool, err error)
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	FindByExternalID(ctx context.Context, externalID string) (*orders.Order, error)
	UpdateStatus(ctx context.Context, orderID string, next orders.Status) (prev orders.Status, err error)
	Delete(ctx context.Context, orderID string) error
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Producers groups the topic-bound writers the lifecycle emits on.
type Producers struct {
	Placed    Publisher // order.placed
	Status    Publisher // order.status.changed
	Cancelled Publisher // order.cancelled
}

// Service is the order lifecycle controller: it owns every write to an
// order's status and every reservation made on an order's behalf.
type Service struct {
	Orders      OrderStore
	Stock       StockLedger
	Redis       *redis.Client // optional fast paths; the DB stays authoritative
	Producers   Producers
	ServiceName string
	Log         *zap.Logger
}

type PlaceOrderInput struct {
	ExternalID string             `json:"external_id"`
	UserID     string             `json:"user_id"`
	SellerID   string             `json:"seller_id"`
	Items      []orders.LineInput `json:"items"`
	TotalCents int                `json:"total_cents"`
}

func (in *PlaceOrderInput) validate() error {
	switch {
	case in.ExternalID == "":
		return fmt.Errorf("%w: external_id is required", orders.ErrInvalidInput)
	case in.UserID == "":
		return fmt.Errorf("%w: user identity unresolved", orders.ErrInvalidInput)
	case in.SellerID == "":
		return fmt.Errorf("%w: seller_id is required", orders.ErrInvalidInput)
	case len(in.Items) == 0:
		return fmt.Errorf("%w: at least one item is required", orders.ErrInvalidInput)
	case in.TotalCents <= 0:
		return fmt.Errorf("%w: total must be positive", orders.ErrInvalidInput)
	}
	seen := make(map[string]bool, len(in.Items))
	for _, it := range in.Items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: item without product_id", orders.ErrInvalidInput)
		}
		if it.Qty <= 0 {
			return fmt.Errorf("%w: qty must be positive for product %s", orders.ErrInvalidInput, it.ProductID)
		}
		if seen[it.ProductID] {
			return fmt.Errorf("%w: duplicate item for product %s", orders.ErrInvalidInput, it.ProductID)
		}
		seen[it.ProductID] = true
	}
	return nil
}

// PlaceOrder reserves stock for every line, then creates the order in
// PENDING. If any reservation fails, everything reserved under this call's
// order id is released before the error reaches the caller: the caller never
// observes a half-placed order. Retries with the same external_id return the
// original order without reserving again.
func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (o *orders.Order, existed bool, err error) {
	if err := in.validate(); err != nil {
		return nil, false, err
	}

	// Fast path: a replayed key short-circuits before touching the ledger.
	idemKey := fmt.Sprintf(redisx.KeyIdemOrderPlace, in.ExternalID)
	if s.Redis != nil {
		if ok, _ := redisx.Exists(ctx, s.Redis, idemKey); ok {
			if existing, err := s.Orders.FindByExternalID(ctx, in.ExternalID); err == nil {
				return existing, true, nil
			}
		}
	}
	if existing, err := s.Orders.FindByExternalID(ctx, in.ExternalID); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, orders.ErrOrderNotFound) {
		return nil, false, err
	}

	orderID := uuid.NewString()
	lines := make([]orders.OrderLine, 0, len(in.Items))
	for _, it := range in.Items {
		rv, err := s.Stock.Reserve(ctx, orderID, it.ProductID, it.Qty)
		if err != nil {
			s.compensate(orderID)
			return nil, false, err
		}
		lines = append(lines, orders.OrderLine{
			ProductID: it.ProductID, Qty: it.Qty, PriceCents: rv.PriceCents,
		})
	}

	order := &orders.Order{
		ID:         orderID,
		ExternalID: in.ExternalID,
		UserID:     in.UserID,
		SellerID:   in.SellerID,
		TotalCents: in.TotalCents,
		Lines:      lines,
	}
	inserted, err := s.Orders.Insert(ctx, order)
	if err != nil {
		s.compensate(orderID)
		return nil, false, err
	}
	if !inserted {
		// lost the insert race on external_id: our reservations are ours
		// alone (keyed by our order id), release them and hand back the
		// winner's order
		s.compensate(orderID)
		existing, err := s.Orders.FindByExternalID(ctx, in.ExternalID)
		if err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}

	if s.Redis != nil {
		_ = s.Redis.Set(ctx, idemKey, orderID, redisx.TTLIdempotency).Err()
	}
	s.cacheOrder(ctx, order)
	s.publishPlaced(ctx, order)
	return order, false, nil
}

// compensate releases every reservation made under orderID. It runs on a
// detached context so a dying request can still unwind fully.
func (s *Service) compensate(orderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Stock.ReleaseOrder(ctx, orderID); err != nil {
		s.Log.Error("compensation release failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// UpdateStatus validates and applies one lifecycle transition. Moving into
// CANCELLED also releases the order's reservations; every other legal move is
// status-only, stock was already decremented at reservation time.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, raw string) (*orders.Order, error) {
	next, ok := orders.ParseStatus(raw)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", orders.ErrInvalidInput, raw)
	}
	if next == orders.StatusCancelled {
		return s.CancelOrder(ctx, orderID)
	}

	prev, err := s.Orders.UpdateStatus(ctx, orderID, next)
	if err != nil {
		return nil, err
	}

	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, o)
	s.publishStatusChanged(ctx, orderID, prev, next)
	return o, nil
}

// CancelOrder transitions to CANCELLED, then reverses the reservation: the
// status flip is authoritative and happens first, the cancelled event is
// published second, and the synchronous release runs last. If the release is
// lost, the inventory consumer replays it from the event.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	if _, err := s.Orders.UpdateStatus(ctx, orderID, orders.StatusCancelled); err != nil {
		return nil, err
	}

	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, o)
	s.publishCancelled(ctx, o)

	if err := s.Stock.ReleaseOrder(ctx, orderID); err != nil {
		// backstop consumer picks this up from the order.cancelled event
		s.Log.Warn("synchronous release failed, deferring to backstop",
			zap.String("order_id", orderID), zap.Error(err))
	}
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	if s.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if raw, err := s.Redis.Get(ctx, key).Result(); err == nil && raw != "" {
			var o orders.Order
			if json.Unmarshal([]byte(raw), &o) == nil {
				return &o, nil
			}
		}
	}
	o, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.cacheOrder(ctx, o)
	return o, nil
}

func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	if err := s.Orders.Delete(ctx, orderID); err != nil {
		return err
	}
	if s.Redis != nil {
		_ = s.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderStatus, orderID)).Err()
	}
	return nil
}

func (s *Service) cacheOrder(ctx context.Context, o *orders.Order) {
	if s.Redis == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	_ = s.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}

// ---- event publishing ----

func (s *Service) envelope(ctx context.Context, eventType, orderID string, payload any) []byte {
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	return kafkax.MustMarshal(ev)
}

func headers(eventType string) []kafkago.Header {
	return []kafkago.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte("1")},
	}
}

func (s *Service) publishPlaced(ctx context.Context, o *orders.Order) {
	if s.Producers.Placed == nil {
		return
	}
	items := make([]orders.LineQty, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, orders.LineQty{ProductID: l.ProductID, Qty: l.Qty})
	}
	v := s.envelope(ctx, orders.EventOrderPlaced, o.ID, orders.OrderPlacedPayload{
		OrderID: o.ID, ExternalID: o.ExternalID, UserID: o.UserID,
		SellerID: o.SellerID, Items: items, TotalCents: o.TotalCents,
	})
	s.Producers.Placed.Publish(orders.PartitionKey(o.ID), v, headers(orders.EventOrderPlaced)...)
}

func (s *Service) publishStatusChanged(ctx context.Context, orderID string, from, to orders.Status) {
	if s.Producers.Status == nil {
		return
	}
	v := s.envelope(ctx, orders.EventOrderStatusChanged, orderID, orders.OrderStatusChangedPayload{
		OrderID: orderID, From: from, To: to,
	})
	s.Producers.Status.Publish(orders.PartitionKey(orderID), v, headers(orders.EventOrderStatusChanged)...)
}

func (s *Service) publishCancelled(ctx context.Context, o *orders.Order) {
	if s.Producers.Cancelled == nil {
		return
	}
	items := make([]orders.LineQty, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, orders.LineQty{ProductID: l.ProductID, Qty: l.Qty})
	}
	v := s.envelope(ctx, orders.EventOrderCancelled, o.ID, orders.OrderCancelledPayload{
		OrderID: o.ID, Items: items,
	})
	s.Producers.Cancelled.Publish(orders.PartitionKey(o.ID), v, headers(orders.EventOrderCancelled)...)
}
