package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/supportdesk/orchestrator/internal/archive"
	"github.com/supportdesk/orchestrator/internal/config"
	"github.com/supportdesk/orchestrator/internal/escalate"
	"github.com/supportdesk/orchestrator/internal/httpapi"
	"github.com/supportdesk/orchestrator/internal/notify"
	"github.com/supportdesk/orchestrator/internal/orchestrator"
	"github.com/supportdesk/orchestrator/internal/queue"
	"github.com/supportdesk/orchestrator/internal/ratelimit"
	fsstore "github.com/supportdesk/orchestrator/internal/store/firestore"
	"github.com/supportdesk/orchestrator/internal/store/redisstore"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clients, err := fsstore.Dial(ctx, cfg.ProjectID, cfg.CredentialsFile, cfg.CredentialsJSON)
	if err != nil {
		log.Fatalf("firestore dial: %v", err)
	}
	defer clients.Close()
	store := fsstore.New(clients.Firestore)

	dedup, err := redisstore.Dial(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("redis dial: %v", err)
	}
	defer dedup.Close()

	turnQ, err := queue.New(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer turnQ.Close()

	dispatcher := notify.NewDispatcher(notify.NewFCMSender(clients.Messaging), store, cfg.PushBatchSize)
	limiter := ratelimit.New(store.RateLimitStore(), cfg.RateLimitWindow, cfg.RateLimitMax)
	archiver := archive.NewArchiver(store, store.ArchiveStore(), store)

	// The API only writes; the orchestrator process consumes the feed
	// and runs assistant turns, so no completion provider is configured
	// here.
	orch := orchestrator.New(store, dedup, turnQ, dispatcher, limiter,
		nil, escalate.NewDetector(), archiver,
		orchestrator.NewRouter(cfg.TicketBuffer),
		orchestrator.Config{
			HistoryWindow: cfg.HistoryWindow,
			RetryAttempts: cfg.RetryMaxAttempts,
			RetryBase:     cfg.RetryBaseDelay,
		})
	defer orch.Close()

	router := httpapi.NewRouter(cfg.JWTSecret, httpapi.NewHandler(orch, store, store))

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("api up addr=%s", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("api shutdown err=%v", err)
	}
}
