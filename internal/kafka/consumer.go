package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler must return nil only when processing succeeded and the offset may
// be committed.
type Handler func(ctx context.Context, m kafka.Message) error

type Consumer struct {
	r       *kafka.Reader
	log     *zap.Logger
	workers int
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, log: log, workers: workers}
}

type job struct {
	m    kafka.Message
	done chan error
}

// pipeline fans messages out to workers but commits offsets strictly in read
// order. Committing a later offset marks every earlier one consumed, so a
// failed handler is retried in place rather than skipped past.
type pipeline struct {
	handle  Handler
	commit  func(ctx context.Context, m kafka.Message) error
	log     *zap.Logger
	retryIn time.Duration
}

func (p *pipeline) work(ctx context.Context, jobs <-chan job) {
	for j := range jobs {
		j.done <- p.handle(ctx, j.m)
	}
}

func (p *pipeline) commitLoop(ctx context.Context, pending <-chan job) {
	for j := range pending {
		err := <-j.done
		for err != nil {
			p.log.Warn("handler failed, holding offset",
				zap.Int64("offset", j.m.Offset), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.retryIn):
			}
			err = p.handle(ctx, j.m)
		}
		if err := p.commit(ctx, j.m); err != nil && ctx.Err() == nil {
			// the next successful commit covers this offset too
			p.log.Warn("offset commit failed", zap.Error(err))
		}
	}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	p := &pipeline{
		handle:  h,
		commit:  func(ctx context.Context, m kafka.Message) error { return c.r.CommitMessages(ctx, m) },
		log:     c.log,
		retryIn: time.Second,
	}

	jobs := make(chan job, 1024)
	pending := make(chan job, 1024)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx, jobs)
		}()
	}
	committed := make(chan struct{})
	go func() {
		defer close(committed)
		p.commitLoop(ctx, pending)
	}()

	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			close(jobs)
			close(pending)
			wg.Wait()
			<-committed
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		j := job{m: m, done: make(chan error, 1)}
		select {
		case jobs <- j:
		case <-ctx.Done():
			close(jobs)
			close(pending)
			return nil
		}
		select {
		case pending <- j:
		case <-ctx.Done():
			close(jobs)
			close(pending)
			return nil
		}
	}
}
