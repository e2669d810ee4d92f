package main

import (
	"context"
	"log"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/supportdesk/orchestrator/internal/archive"
	"github.com/supportdesk/orchestrator/internal/completion"
	"github.com/supportdesk/orchestrator/internal/config"
	"github.com/supportdesk/orchestrator/internal/escalate"
	"github.com/supportdesk/orchestrator/internal/notify"
	"github.com/supportdesk/orchestrator/internal/orchestrator"
	"github.com/supportdesk/orchestrator/internal/queue"
	"github.com/supportdesk/orchestrator/internal/ratelimit"
	fsstore "github.com/supportdesk/orchestrator/internal/store/firestore"
	"github.com/supportdesk/orchestrator/internal/store/redisstore"
	"github.com/supportdesk/orchestrator/internal/ticket"
)

const (
	systemPrompt = "You are a support assistant. Answer from the conversation so far. " +
		"If you cannot help, or the client asks for a person, say you are handing the conversation over to a human agent."
	greeting = "Hi! I'm the support assistant. Tell me what's going on and I'll do my best to help."

	// maxTurnRedeliveries bounds retry-queue round trips per turn job
	// before it dead-letters for operator inspection.
	maxTurnRedeliveries = 3
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

	provider, err := completion.NewProvider(cfg.Provider, completion.Options{
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterModel:   cfg.OpenRouterModel,
		OpenRouterSiteURL: "https://supportdesk.app",
		OpenRouterAppName: "supportdesk",
		OpenAIAPIKey:      cfg.OpenAIAPIKey,
		OpenAIBaseURL:     cfg.OpenAIBaseURL,
		OpenAIModel:       cfg.OpenAIModel,
	})
	if err != nil {
		log.Fatalf("completion provider: %v", err)
	}

	dispatcher := notify.NewDispatcher(notify.NewFCMSender(clients.Messaging), store, cfg.PushBatchSize)
	limiter := ratelimit.New(store.RateLimitStore(), cfg.RateLimitWindow, cfg.RateLimitMax)
	archiver := archive.NewArchiver(store, store.ArchiveStore(), store)

	orch := orchestrator.New(store, dedup, turnQ, dispatcher, limiter,
		provider, escalate.NewDetector(), archiver,
		orchestrator.NewRouter(cfg.TicketBuffer),
		orchestrator.Config{
			HistoryWindow: cfg.HistoryWindow,
			MaxTokens:     cfg.MaxTokens,
			Temperature:   cfg.Temperature,
			RetryAttempts: cfg.RetryMaxAttempts,
			RetryBase:     cfg.RetryBaseDelay,
			SystemPrompt:  systemPrompt,
			Greeting:      greeting,
		})

	var wg sync.WaitGroup

	// Message change feed -> per-ticket lanes.
	msgEvents := make(chan fsstore.MessageEvent, cfg.TicketBuffer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := store.ListenMessages(ctx, msgEvents); err != nil {
			log.Printf("message feed stopped err=%v", err)
			stop()
		}
		close(msgEvents)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range msgEvents {
			orch.HandleMessage(ctx, ev.TicketID, ev.Message)
		}
	}()

	// New-ticket feed -> on-duty agent fan-out.
	newTickets := make(chan ticket.Ticket, cfg.TicketBuffer)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := store.ListenNewTickets(ctx, newTickets); err != nil {
			log.Printf("ticket feed stopped err=%v", err)
			stop()
		}
		close(newTickets)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for t := range newTickets {
			orch.HandleNewTicket(ctx, t)
		}
	}()

	// Durable assistant-turn consumer.
	deliveries, err := turnQ.Consume(cfg.TicketBuffer)
	if err != nil {
		log.Fatalf("rabbit consume: %v", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for d := range deliveries {
			job, err := queue.Decode(d)
			if err != nil {
				log.Printf("turn decode failed message_id=%s err=%v", d.MessageId, err)
				_ = d.Nack(false, false) // poison: dead-letter it
				continue
			}
			if err := orch.RunTurn(ctx, job.TicketID, job.MessageID); err != nil {
				next, ok := job.NextRetry(maxTurnRedeliveries)
				if !ok {
					log.Printf("turn gave up ticket=%s message=%s attempts=%d err=%v", job.TicketID, job.MessageID, job.Attempts, err)
					_ = d.Nack(false, false) // budget spent: dead-letter it
					continue
				}
				log.Printf("turn retrying ticket=%s message=%s attempt=%d err=%v", job.TicketID, job.MessageID, next.Attempts, err)
				if perr := turnQ.PublishRetry(ctx, next); perr != nil {
					log.Printf("turn retry publish failed message=%s err=%v", job.MessageID, perr)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
				continue
			}
			_ = d.Ack(false)
		}
	}()

	log.Printf("orchestrator up queue=%s project=%s", cfg.RabbitQueue, cfg.ProjectID)
	<-ctx.Done()
	log.Printf("shutting down")

	orch.Close()
	_ = turnQ.Close() // ends the delivery stream so the consumer drains
	wg.Wait()
}
