package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/partshub/go-parts-market/internal/auth"
	"github.com/partshub/go-parts-market/internal/checkout"
	"github.com/partshub/go-parts-market/internal/config"
	"github.com/partshub/go-parts-market/internal/httpx"
	"github.com/partshub/go-parts-market/internal/inventory"
	kafkax "github.com/partshub/go-parts-market/internal/kafka"
	"github.com/partshub/go-parts-market/internal/orders"
	"github.com/partshub/go-parts-market/internal/postgres"
	"github.com/partshub/go-parts-market/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB (order store)
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per lifecycle topic
	pPlaced := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderPlaced, 1024, log)
	pPlaced.Start(ctx)
	pStatus := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatus, 1024, log)
	pStatus.Start(ctx)
	pCancelled := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024, log)
	pCancelled.Start(ctx)

	svc := &checkout.Service{
		Orders: &orders.Repo{DB: db},
		Stock:  inventory.NewClient(cfg.InventoryBaseURL, cfg.InventoryTimeout),
		Redis:  rdb,
		Producers: checkout.Producers{
			Placed:    pPlaced,
			Status:    pStatus,
			Cancelled: pCancelled,
		},
		ServiceName: cfg.ServiceName,
		Log:         log,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{Checkout: svc}
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware([]byte(cfg.JWTSecret)))
		oh.Register(r)
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	for _, p := range []*kafkax.Producer{pPlaced, pStatus, pCancelled} {
		p.Close()
	}
	cancel()
	for _, p := range []*kafkax.Producer{pPlaced, pStatus, pCancelled} {
		p.WaitClosed()
	}
}
