package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/partshub/go-parts-market/internal/kafka"
	"github.com/partshub/go-parts-market/internal/orders"
	"github.com/partshub/go-parts-market/internal/redisx"
)

// Releaser returns an order's reserved units to stock; the concrete Ledger
// satisfies it.
type Releaser interface {
	ReleaseOrder(ctx context.Context, orderID string) ([]orders.LineQty, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Service runs behind the order.cancelled consumer as a release backstop: the
// order side releases synchronously on cancel, but if that call is lost the
// replayed event re-drives ReleaseOrder, which is idempotent.
type Service struct {
	Ledger      Releaser
	Redis       *redis.Client
	Producer    Publisher // publishes stock.released
	ServiceName string
	Log         *zap.Logger
}

func (s *Service) HandleOrderCancelled(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderCancelled {
		return nil // ignore
	}

	// dedup on event_id; release itself is idempotent, this just trims work
	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, "inventory", env.EventID)
		exists, _ := redisx.Exists(ctx, s.Redis, dkey)
		if exists {
			return nil
		}
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
	if err != nil {
		return err
	}

	released, err := s.Ledger.ReleaseOrder(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if len(released) == 0 {
		// nothing held, the synchronous release already ran
		return nil
	}

	s.Log.Info("released reservations via backstop",
		zap.String("order_id", p.OrderID), zap.Int("items", len(released)))
	s.PublishReleased(p.OrderID, released, env.TraceID)
	return nil
}

// PublishReleased emits stock.released; the HTTP release path uses it too.
func (s *Service) PublishReleased(orderID string, items []orders.LineQty, trace string) {
	if s.Producer == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventStockReleased,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       trace,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(orders.StockReleasedPayload{OrderID: orderID, Items: items}),
	}
	s.Producer.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventStockReleased)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
