package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-marketplace/internal/api/middleware"
	"auction-marketplace/internal/app"
	"auction-marketplace/internal/config"
	"auction-marketplace/internal/infrastructure/redis"
	"auction-marketplace/internal/infrastructure/websocket"
	"auction-marketplace/internal/services"
	"auction-marketplace/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithLevel(cfg.Log.Level)
	log.Info("Starting bidding service", "config", cfg.GetConfigString())

	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	core, err := app.NewCore(ctx, cfg, rdb, log)
	if err != nil {
		log.Error("Failed to initialise services", "error", err)
		os.Exit(1)
	}
	defer core.Close()

	connManager := websocket.NewConnectionManager(log)
	wsNotifier := websocket.NewWebSocketNotifier(connManager)
	eventSubscriber := redis.NewRedisEventSubscriber(rdb, cfg.Notifier.Channel, cfg.Notifier.NoticeChannel,
		cfg.Notifications.Channel, log)
	eventListener := services.NewEventListener(connManager, wsNotifier, wsNotifier, log)
	wsHandler := websocket.NewWebSocketHandler(core.Bids, core.Auctions, connManager, log)

	router := mux.NewRouter()
	router.Use(middleware.CORS)
	router.Use(middleware.RequestLogger(log))

	router.HandleFunc("/ws/auction/{auctionID}", wsHandler.HandleConnection)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET")

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Bids accepted here are relayed by whichever instance holds the relay lease.
	if err := core.Notifier.Start(runCtx); err != nil {
		log.Error("Failed to start change notifier", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := eventListener.Start(runCtx, eventSubscriber); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Event listener stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("Starting bidding service", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down bidding service...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	stop()
	if err := core.Notifier.Stop(); err != nil {
		log.Error("Failed to stop change notifier", "error", err)
	}

	log.Info("Bidding service stopped")
}
