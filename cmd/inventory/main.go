package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/partshub/go-parts-market/internal/config"
	"github.com/partshub/go-parts-market/internal/httpx"
	"github.com/partshub/go-parts-market/internal/inventory"
	kafkax "github.com/partshub/go-parts-market/internal/kafka"
	"github.com/partshub/go-parts-market/internal/orders"
	"github.com/partshub/go-parts-market/internal/postgres"
	"github.com/partshub/go-parts-market/internal/redisx"
)

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

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

	// DB (inventory store)
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis (consumer dedup)
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer: stock.released
	pReleased := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicStockReleased, 1024, log)
	pReleased.Start(ctx)

	ledger := &inventory.Ledger{DB: db}
	svc := &inventory.Service{
		Ledger:      ledger,
		Redis:       rdb,
		Producer:    pReleased,
		ServiceName: cfg.ServiceName + "-inventory",
		Log:         log,
	}

	// HTTP surface: reservations + catalog + admin stock ops
	router := httpx.NewRouter()
	ih := &httpx.InventoryHandler{Ledger: ledger, Events: svc}
	ih.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	// Release backstop: replayed order.cancelled events re-drive the
	// idempotent release in case the synchronous call was lost.
	group := getenv("INVENTORY_GROUP", "inventory-svc")
	workers := mustAtoi(os.Getenv("INVENTORY_WORKERS"), "8")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicOrderCancelled, workers, log)

	go func() {
		log.Info("consumer started",
			zap.String("group", group),
			zap.String("topic", orders.TopicOrderCancelled),
			zap.Int("workers", workers))
		if err := cons.Start(ctx, svc.HandleOrderCancelled); err != nil {
			log.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	cancel()
	time.Sleep(500 * time.Millisecond)
	pReleased.Close()
	pReleased.WaitClosed()
}
