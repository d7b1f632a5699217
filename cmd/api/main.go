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

	"github.com/officeai/privacy-gateway/internal/config"
	"github.com/officeai/privacy-gateway/internal/handler"
	"github.com/officeai/privacy-gateway/internal/secrets"
	"github.com/officeai/privacy-gateway/internal/service/ai"
	"github.com/officeai/privacy-gateway/internal/service/billing"
	chatservice "github.com/officeai/privacy-gateway/internal/service/chat"
	"github.com/officeai/privacy-gateway/internal/service/deident"
	"github.com/officeai/privacy-gateway/internal/service/session"
	"github.com/officeai/privacy-gateway/internal/storage"
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

	// Mounted secrets take precedence over environment values.
	chain := secrets.DefaultChain(cfg.Secrets.Dir)
	if v := chain.ResolveOptional("ARK_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := chain.ResolveOptional("DEIDENT_API_KEY"); v != "" {
		cfg.Detector.APIKey = v
	}

	if !cfg.Detector.Enabled() {
		log.Fatal("DEIDENT_ENDPOINT is required: the gateway never sends unmasked text upstream")
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer store.Close()

	sessionOpts := []session.Option{}
	if cfg.Session.TTL > 0 {
		sessionOpts = append(sessionOpts, session.WithTTL(cfg.Session.TTL))
	}
	if cfg.Session.SweepInterval > 0 {
		sessionOpts = append(sessionOpts, session.WithSweepInterval(cfg.Session.SweepInterval))
	}
	sessions := session.NewStore(sessionOpts...)
	sessions.StartSweeper(ctx)

	masker := deident.New(cfg.Detector.Endpoint, cfg.Detector.APIKey,
		deident.WithCategories(cfg.Detector.Categories),
		deident.WithTimeout(cfg.Detector.Timeout),
		deident.WithFailOpen(cfg.Detector.FailOpen),
	)

	var orch *chatservice.Orchestrator
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
			log.Println("continuing without chat functionality")
		} else {
			aiSvc, err := ai.NewService(ctx, chatModel,
				ai.WithSystemPrompt(cfg.AI.SystemPrompt),
				ai.WithHistoryLimit(cfg.AI.HistoryLimit),
				ai.WithStreaming(cfg.AI.StreamResponse),
			)
			if err != nil {
				log.Fatalf("failed to build model adapter: %v", err)
			}
			orch = chatservice.NewOrchestrator(masker, aiSvc, store, sessions, newAccountant(cfg))
			log.Println("chat pipeline initialized")
		}
	} else {
		log.Println("model credentials not configured, chat routes disabled")
	}

	router := handler.NewRouter(orch)
	startServer(ctx, cfg.Server, router)
}

// newAccountant builds the price table, applying per-model env overrides.
func newAccountant(cfg *config.Config) *billing.Accountant {
	table := billing.DefaultPriceTable()
	if cfg.Billing.InputPer1K != nil || cfg.Billing.OutputPer1K != nil {
		pricing := table[cfg.AI.Model]
		if cfg.Billing.InputPer1K != nil {
			pricing.InputPer1K = *cfg.Billing.InputPer1K
		}
		if cfg.Billing.OutputPer1K != nil {
			pricing.OutputPer1K = *cfg.Billing.OutputPer1K
		}
		table[cfg.AI.Model] = pricing
	}
	return billing.New(table, cfg.AI.Model)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("privacy gateway listening on %s", serverCfg.Addr)
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
