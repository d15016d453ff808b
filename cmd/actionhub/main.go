// cmd/actionhub/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"actionhub/internal/catalog"
	"actionhub/internal/common/auth"
	"actionhub/internal/common/aws"
	"actionhub/internal/common/config"
	"actionhub/internal/common/database"
	"actionhub/internal/common/genai"
	"actionhub/internal/common/logger"
	"actionhub/internal/common/observability"
	"actionhub/internal/common/zoho"
	"actionhub/internal/conversation"
	"actionhub/internal/entity"
	"actionhub/internal/executor"
	"actionhub/internal/extraction"
	"actionhub/internal/federation"
	"actionhub/internal/intent"
	"actionhub/internal/models"
	"actionhub/internal/pending"
	"actionhub/internal/workflow"
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
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "console").Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting actionhub",
		zap.String("node", cfg.Node.Slug),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name, os.Getenv("JAEGER_ENDPOINT"))
	defer obs.Shutdown()

	ctx := context.Background()

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
	zapLog.Info("Redis connected")

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
	zapLog.Info("PostgreSQL connected")

	// --- Init Elasticsearch with retry (optional) ---
	var esClient *database.ElasticsearchClient
	if cfg.Database.Elasticsearch.GetURL() != "" {
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
		zapLog.Info("Elasticsearch connected")
	} else {
		zapLog.Info("Elasticsearch not configured, relationship search uses the store fallback")
	}

	// --- External collaborators ---
	ai := genai.NewClient(&genai.Config{
		BaseURL:         cfg.APIs.GenAI.BaseURL,
		APIKey:          cfg.APIs.GenAI.APIKey,
		Model:           cfg.APIs.GenAI.Model,
		MaxTokens:       cfg.APIs.GenAI.MaxTokens,
		Temperature:     cfg.APIs.GenAI.Temperature,
		Timeout:         config.GetDuration(cfg.APIs.GenAI.Timeout),
		ClassifyTimeout: config.GetDuration(cfg.APIs.GenAI.ClassifyTimeout),
	})

	var keycloak *auth.KeycloakClient
	if cfg.Auth.Keycloak.URL != "" {
		keycloak = auth.NewKeycloakClient(
			cfg.Auth.Keycloak.URL,
			cfg.Auth.Keycloak.Realm,
			cfg.Auth.Keycloak.ClientID,
			cfg.Auth.Keycloak.ClientSecret,
		)
	}

	var email executor.EmailSender
	if cfg.Notifications.Email.Enabled && cfg.Integrations.AWS.SES.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		email = sesClient
	}

	var sms executor.SMSSender
	if cfg.Notifications.SMS.Enabled && cfg.Integrations.AWS.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		sms = snsClient
	}

	var crm executor.CRMMirror
	if cfg.Integrations.Zoho.Enabled {
		crm = zoho.NewCRMClient(cfg.Integrations.Zoho.APIKey, cfg.Integrations.Zoho.AuthToken)
	}

	// --- Entity layer ---
	store := entity.NewStore(pg.DB)
	var search *entity.Searcher
	if esClient != nil {
		search = entity.NewSearcher(esClient.Client, cfg.Actions.EntityIndex)
	}

	registry := entity.NewRegistry()
	for _, desc := range localCollections() {
		if err := registry.Register(entity.NewStoreProvider(desc, store, search, log)); err != nil {
			zapLog.Fatal("provider registration failed", zap.String("class", desc.Class), zap.Error(err))
		}
	}
	ledger := entity.NewLedger(pg.DB)

	// --- Federation ---
	var fedClient *federation.Client
	var router *federation.Router
	if cfg.Federation.Enabled {
		var tokens auth.TokenSource
		if keycloak != nil {
			tokens = keycloak
		}
		fedClient = federation.NewClient(federation.ClientOptions{
			LocalNode: cfg.Node.Slug,
			Peers:     cfg.Federation.Nodes,
			Timeout:   config.GetDuration(cfg.Federation.RequestTimeout),
			Tokens:    tokens,
			Logger:    log,
		})
		router = federation.NewRouter(federation.RouterOptions{
			LocalNode: cfg.Node.Slug,
			Ownership: cfg.Federation.Ownership,
			PinTTL:    config.GetDuration(cfg.Federation.PinTTL),
			Client:    fedClient,
			Redis:     redisClient,
			Ledger:    ledger,
			Logger:    log,
		})
		zapLog.Info("federation enabled", zap.Int("peers", len(fedClient.Nodes())))
	}

	// --- Action engine ---
	var peers catalog.PeerDirectory
	if fedClient != nil {
		peers = fedClient
	}
	cat, err := catalog.NewCatalog(catalog.Config{
		LocalNode:            cfg.Node.Slug,
		MinDynamicConfidence: cfg.Actions.MinDynamicConfidence,
		DiscoveryCacheTTL:    config.GetDuration(cfg.Actions.DiscoveryCacheTTL),
		RegistryPath:         cfg.Actions.RegistryPath,
	}, registry, peers, redisClient, log)
	if err != nil {
		zapLog.Fatal("catalog init failed", zap.Error(err))
	}

	pendings := pending.NewStore(redisClient, config.GetDuration(cfg.Actions.PendingTTL), log)

	var engine *workflow.Engine
	if cfg.Workflow.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			engine, err = workflow.NewEngine(workflow.Config{
				BrokerAddress:  cfg.Workflow.BrokerAddress,
				RequestTimeout: config.GetDuration(cfg.Workflow.RequestTimeout),
			}, log)
			return err
		}, 10, 2*time.Second, zapLog, "Workflow engine connection")
		if err != nil {
			zapLog.Fatal("workflow engine failed after retries", zap.Error(err))
		}
		zapLog.Info("workflow engine connected", zap.String("broker", cfg.Workflow.BrokerAddress))
	}

	fromEmail := cfg.Notifications.Email.FromEmail
	if fromEmail == "" {
		fromEmail = cfg.Integrations.AWS.SES.FromEmail
	}

	var remote executor.Remote
	if router != nil {
		remote = router
	}
	var starter executor.WorkflowStarter
	if engine != nil {
		starter = engine
	}

	runner := executor.New(executor.Options{
		Config: executor.Config{
			LocalNode:     cfg.Node.Slug,
			FromEmail:     fromEmail,
			SMSSenderID:   cfg.Integrations.AWS.SNS.DefaultSMSSenderID,
			MirrorClasses: cfg.Integrations.Zoho.MirrorClasses,
			ProcessID:     cfg.Workflow.ProcessID,
			Executors:     cfg.Executors,
		},
		Entities: registry,
		Email:    email,
		SMS:      sms,
		CRM:      crm,
		AI:       ai,
		Remote:   remote,
		Workflow: starter,
		Logger:   log,
	})

	svc := conversation.NewService(conversation.Options{
		Catalog:   cat,
		Intents:   intent.NewClassifier(ai, &intentLoggerAdapter{log}),
		Extractor: extraction.NewExtractor(ai, log),
		Resolver:  extraction.NewResolver(registry, cfg.Node.Slug, cfg.Federation.Ownership, log),
		Pendings:  pendings,
		Executor:  runner,
		Router:    router,
		Workflow:  starter,
		Entities:  registry,
		AI:        ai,
		Ledger:    ledger,
		LocalNode: cfg.Node.Slug,
		ProcessID: cfg.Workflow.ProcessID,
		Logger:    log,
	})

	// --- Federation peer API ---
	var fedServer *http.Server
	if cfg.Federation.Enabled {
		var validator federation.TokenValidator
		if keycloak != nil {
			validator = keycloak
		}
		inbound := federation.NewServer(federation.ServerOptions{
			LocalNode: cfg.Node.Slug,
			AuthToken: cfg.Federation.AuthToken,
			Validator: validator,
			Entities:  registry,
			Catalog:   cat,
			Runner:    runner,
			Logger:    log,
		})
		fedServer = &http.Server{Addr: cfg.Federation.ListenAddress, Handler: inbound.Handler()}
		go func() {
			zapLog.Info("federation peer API listening", zap.String("address", cfg.Federation.ListenAddress))
			if err := fedServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zapLog.Fatal("federation server failed", zap.Error(err))
			}
		}()
	}

	// --- Ops server: health, readiness, metrics, turn pass-through ---
	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "healthy",
			"node":    cfg.Node.Slug,
			"version": cfg.App.Version,
		})
	})
	mux.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		probeCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := redisClient.Ping(probeCtx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "redis unavailable"})
			return
		}
		if err := pg.Ping(probeCtx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "postgres unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Mount("/debug", chimw.Profiler())
	mux.Post("/v1/turn", turnHandler(svc, obs, log))

	opsServer := &http.Server{Addr: cfg.App.ListenAddr, Handler: mux}
	go func() {
		zapLog.Info("ops server listening", zap.String("address", cfg.App.ListenAddr))
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("ops server failed", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if fedServer != nil {
		if err := fedServer.Shutdown(shutdownCtx); err != nil {
			zapLog.Error("federation server shutdown failed", zap.Error(err))
		}
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("ops server shutdown failed", zap.Error(err))
	}
	if engine != nil {
		if err := engine.Close(); err != nil {
			zapLog.Error("workflow engine close failed", zap.Error(err))
		}
	}

	zapLog.Info("actionhub stopped")
}

// turnHandler is the minimal pass-through for one conversation turn. The
// full chat frontend (sessions, history, auth) lives outside this
// service; this endpoint is how it reaches the turn engine.
func turnHandler(svc *conversation.Service, obs *observability.Observability, log logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conversation.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed turn request", http.StatusBadRequest)
			return
		}
		if req.Message == "" || req.SessionID == "" {
			http.Error(w, "message and session_id are required", http.StatusBadRequest)
			return
		}

		ctx, span := obs.StartSpan(r.Context(), "conversation.turn")
		defer span.End()

		start := time.Now()
		resp, err := svc.Process(ctx, &req)
		if err != nil {
			log.Error("turn aborted", map[string]interface{}{
				"sessionId": req.SessionID,
				"error":     err.Error(),
			})
			http.Error(w, "turn aborted", http.StatusServiceUnavailable)
			return
		}

		if resp.Metadata.IntentAnalysis != nil {
			intentName := string(resp.Metadata.IntentAnalysis.Intent)
			obs.RecordTurnProcessed(ctx, intentName)
			obs.RecordTurnDuration(ctx, time.Since(start), intentName)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// intentLoggerAdapter satisfies the classifier's own Logger interface.
type intentLoggerAdapter struct {
	logger.Logger
}

func (a *intentLoggerAdapter) With(fields map[string]interface{}) intent.Logger {
	return &intentLoggerAdapter{a.Logger.With(fields)}
}

// localCollections declares the entity classes this node serves. The
// catalog derives one create action per class, and peers discover them
// via /collections.
func localCollections() []models.CollectionDescriptor {
	return []models.CollectionDescriptor{
		{
			Class:      "Contact",
			Collection: "contacts",
			Fields: []models.FieldSpec{
				{Name: "name", Type: models.FieldString, Required: true},
				{Name: "email", Type: models.FieldString},
				{Name: "phone", Type: models.FieldString},
				{Name: "company", Type: models.FieldString},
			},
		},
		{
			Class:      "Event",
			Collection: "events",
			Fields: []models.FieldSpec{
				{Name: "title", Type: models.FieldString, Required: true},
				{Name: "start_time", Type: models.FieldString, Required: true},
				{Name: "duration_minutes", Type: models.FieldNumber},
				{Name: "location", Type: models.FieldString},
			},
		},
		{
			Class:      "Task",
			Collection: "tasks",
			Fields: []models.FieldSpec{
				{Name: "title", Type: models.FieldString, Required: true},
				{Name: "due_date", Type: models.FieldString},
				{Name: "priority", Type: models.FieldString},
				{Name: "assignee", Type: models.FieldString, Relationship: true, RelatedCollection: "contacts"},
			},
		},
	}
}
