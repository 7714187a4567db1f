package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ihubtech/livechat-server/internal/config"
	"github.com/ihubtech/livechat-server/internal/handler"
	"github.com/ihubtech/livechat-server/internal/notify"
	"github.com/ihubtech/livechat-server/internal/persistence"
	"github.com/ihubtech/livechat-server/internal/service/assist"
	"github.com/ihubtech/livechat-server/internal/service/livechat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Persistence collaborator: best effort, off by default.
	var recorder persistence.Recorder = persistence.Noop{}
	if cfg.Database.Enabled() {
		pg, err := persistence.NewPostgres(ctx, cfg.Database.URL)
		if err != nil {
			log.Printf("warning: failed to connect database: %v", err)
			log.Println("continuing without persistence - sessions remain in memory only")
		} else {
			defer pg.Close()
			recorder = pg
			log.Println("Persistence connected")
		}
	} else {
		log.Println("DATABASE_URL not set, persistence disabled")
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.Enabled() {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Timeout)
		log.Println("Push notification webhook configured")
	} else {
		log.Println("NOTIFY_WEBHOOK_URL not set, push notifications disabled")
	}

	store := livechat.NewSessionStore()
	streams := livechat.NewBroadcaster()
	broker := livechat.NewBroker(cfg.LiveChat, store, streams, recorder, notifier)

	sweeper := livechat.NewSweeper(cfg.LiveChat, store, streams, recorder)
	go sweeper.Run(ctx)

	assistSvc, err := assist.NewService(ctx, recorder, cfg.AI, cfg.LiveChat.AgentTypes)
	if err != nil {
		log.Printf("warning: failed to initialize AI responder: %v", err)
		log.Println("continuing with FAQ-only fallback replies")
		assistSvc, _ = assist.NewService(ctx, recorder, config.AIConfig{}, cfg.LiveChat.AgentTypes)
	} else if assistSvc.ModelEnabled() {
		log.Println("AI responder initialized with chat model")
	} else {
		log.Println("Ark credentials not configured, AI responder uses FAQ fallback only")
	}

	router := handler.NewRouter(broker, assistSvc)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Live chat backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
