// cmd/query-service/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tax-concierge/internal/common/config"
	"tax-concierge/internal/common/database"
	"tax-concierge/internal/common/logger"
	"tax-concierge/internal/common/observability"
	"tax-concierge/internal/llm"
	"tax-concierge/internal/models"
	"tax-concierge/internal/notify"
	"tax-concierge/internal/pipeline/confidence"
	"tax-concierge/internal/pipeline/expand"
	"tax-concierge/internal/pipeline/experts"
	"tax-concierge/internal/pipeline/gate"
	"tax-concierge/internal/pipeline/orchestrator"
	"tax-concierge/internal/pipeline/rerank"
	"tax-concierge/internal/pipeline/retriever"
	"tax-concierge/internal/pipeline/router"
	"tax-concierge/internal/store"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting query service...")

	obs := observability.New("query-service")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected successfully")

	// --- Provider clients ---
	completionClient := llm.NewClient(cfg, log)
	embeddingClient := llm.NewEmbeddingClient(cfg)

	// --- Stores ---
	documents := store.NewDocuments(pg.DB, esClient.Client, cfg.Database.Elasticsearch.Index, log)
	conversations := store.NewConversations(pg.DB)
	expertStore := store.NewExperts(pg.DB, redisClient.Client, config.GetDuration(cfg.Experts.CacheTTL), log)

	// --- Pipeline stages ---
	gateStage := gate.New(completionClient, config.GetDuration(cfg.Routing.GateTimeout), log)
	routerStage := router.New(completionClient, cfg.Routing.CacheCapacity, config.GetDuration(cfg.Routing.RouterTimeout), log)
	retrieverStage := retriever.New(documents, embeddingClient, cfg.Retrieval, log)
	rerankStage := rerank.New(cfg, log)
	expandStage := expand.New(documents, log)
	scorer := confidence.NewScorer(cfg.Confidence)
	matcher := experts.New(expertStore, embeddingClient, cfg.Experts.UrgencyMultiplier, log)

	judge := confidence.NewFaithfulnessJudge(
		completionClient, conversations, scorer,
		config.GetDuration(cfg.Confidence.FaithfulnessTimeout),
		cfg.Confidence.QueueSize, log,
	)
	judge.Start()
	defer judge.Stop()

	var notifier orchestrator.Notifier
	if cfg.Notifications.Email.Enabled || cfg.Notifications.SMS.Enabled {
		n, err := notify.New(ctx, cfg.Notifications, log)
		if err != nil {
			zapLog.Warn("notifier unavailable, escalations will not alert experts", zap.Error(err))
		} else {
			notifier = n
		}
	}

	pipeline := orchestrator.New(orchestrator.Deps{
		Gate:          gateStage,
		Router:        routerStage,
		Retriever:     retrieverStage,
		Reranker:      rerankStage,
		Expander:      expandStage,
		Scorer:        scorer,
		Judge:         judge,
		Matcher:       matcher,
		ExpertStore:   expertStore,
		Conversations: conversations,
		Completion:    completionClient,
		Notifier:      notifier,
		Config:        cfg,
		Observability: obs,
		Logger:        log,
	})

	// --- HTTP boundary ---
	mux := http.NewServeMux()

	mux.HandleFunc("/api/query", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var query models.Query
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil || query.Text == "" {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		reqCtx, cancel := context.WithTimeout(r.Context(), config.GetDuration(cfg.Server.RequestTimeout))
		defer cancel()

		response := pipeline.AnswerQuery(reqCtx, query.Text, query.UserID, query.ConversationID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"version": cfg.App.Version,
		})
	})

	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: mux,
	}

	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http shutdown failed", zap.Error(err))
	}

	zapLog.Info("Query service stopped")
}
