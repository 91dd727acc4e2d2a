// Copyright (C) 2025 Procast AI (dev@procast.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent assembles the Procast analytics agent: the streaming HTTP
// surface, the question-to-SQL pipeline, the Postgres stores, and the
// observability wiring, all behind a single constructor.
//
// # Enterprise Integration
//
// The service supports dependency injection via extensions.ServiceOptions,
// enabling deployments to plug in custom implementations of:
//   - AuditLogger: compliance audit logging (SIEM forwarding)
//   - LogExporter: log shipping to an aggregation backend
//
// # Usage
//
// Open source (uses no-op defaults):
//
//	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := agent.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// Enterprise (with custom implementations):
//
//	opts := extensions.DefaultOptions().
//	    WithAudit(siemAuditor).
//	    WithLogExporter(lokiExporter)
//	svc, err := agent.New(cfg, &opts)
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Jubii100/Procast-Agent/pkg/extensions"
	"github.com/Jubii100/Procast-Agent/pkg/logging"
	"github.com/Jubii100/Procast-Agent/services/agent/archive"
	"github.com/Jubii100/Procast-Agent/services/agent/cache"
	"github.com/Jubii100/Procast-Agent/services/agent/config"
	"github.com/Jubii100/Procast-Agent/services/agent/handlers"
	"github.com/Jubii100/Procast-Agent/services/agent/language"
	"github.com/Jubii100/Procast-Agent/services/agent/middleware"
	"github.com/Jubii100/Procast-Agent/services/agent/observability"
	"github.com/Jubii100/Procast-Agent/services/agent/pipeline"
	"github.com/Jubii100/Procast-Agent/services/agent/routes"
	"github.com/Jubii100/Procast-Agent/services/agent/schema"
	"github.com/Jubii100/Procast-Agent/services/agent/sqlcheck"
	"github.com/Jubii100/Procast-Agent/services/agent/store"
	"github.com/Jubii100/Procast-Agent/services/llm"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// serviceName identifies this service in traces and spans.
const serviceName = "procast-agent"

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the agent lifecycle contract.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	// Cleanup of all held resources is automatic on return.
	Run() error

	// Router returns the configured Gin engine, primarily for
	// integration testing where direct HTTP calls are needed. Callers
	// must not modify routes after construction.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service is the production implementation. It coordinates:
//   - HTTP routing via Gin
//   - the question-to-SQL pipeline and its LLM clients
//   - two Postgres pools (application role and read-only analyst role)
//   - the schema registry with live file reloads
//   - the intent cache, transcript archiver, and rate limiter
//   - OpenTelemetry tracing and Prometheus metrics
//
// All fields are read-only after New() returns.
type service struct {
	cfg  config.Config
	opts extensions.ServiceOptions

	router *gin.Engine
	logger *logging.Logger

	// appPool runs session bookkeeping on the application role; roPool
	// runs model-generated queries on the read-only analyst role behind
	// row-level security. The separation is a safety boundary, not an
	// optimization.
	appPool *pgxpool.Pool
	roPool  *pgxpool.Pool

	sessions *store.Sessions
	people   *store.People

	schemaReg     *schema.Registry
	schemaWatcher *schema.Watcher

	intentCache *cache.IntentCache
	machine     *pipeline.Machine
	archiver    *archive.Archiver
	limiter     *middleware.RateLimiter

	tracerCleanup func(context.Context)
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a ready-to-run agent Service.
//
// Initialization order matters: logging first so later steps report through
// the configured sinks, then tracing and metrics, then the required
// components (databases, schema registry, LLM clients, pipeline), then the
// optional ones (intent cache, archiver, rate limiter). Optional component
// failures log a warning and degrade the feature; required failures tear
// down whatever was already built and return an error.
//
// If opts is nil, extensions.DefaultOptions() is used (no-op
// implementations).
func New(cfg config.Config, opts *extensions.ServiceOptions) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &service{cfg: cfg}
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}
	if s.opts.AuditLogger == nil {
		s.opts.AuditLogger = &extensions.NopAuditLogger{}
	}

	s.logger = logging.Setup(logging.Config{
		Level:    logging.ParseLevel(cfg.Observability.LogLevel),
		JSON:     cfg.Observability.LogFormat == "json",
		LogDir:   cfg.Observability.LogDir,
		Service:  "agent",
		Exporter: s.opts.LogExporter,
	})

	if cfg.Observability.TracingEnabled {
		cleanup, err := s.initTracer()
		if err != nil {
			s.cleanup()
			return nil, fmt.Errorf("initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	if cfg.Observability.MetricsEnabled {
		observability.InitMetrics()
		slog.Info("Prometheus metrics registered")
	}

	ctx := context.Background()
	if err := s.initStores(ctx); err != nil {
		s.cleanup()
		return nil, err
	}

	if err := s.initSchema(); err != nil {
		s.cleanup()
		return nil, err
	}

	if cfg.LLM.CacheEnabled {
		if err := s.initCache(); err != nil {
			slog.Warn("Intent cache unavailable, every question hits the classifier",
				"error", err)
		}
	}

	if err := s.initPipeline(); err != nil {
		s.cleanup()
		return nil, err
	}

	if cfg.Storage.ArchiveBucket != "" {
		arch, err := archive.New(ctx, cfg.Storage.ArchiveBucket,
			cfg.Storage.ArchiveCredentials, s.logger.Slog())
		if err != nil {
			slog.Warn("Transcript archiver unavailable, exchanges will not be archived",
				"error", err)
		} else {
			s.archiver = arch
		}
	}

	if cfg.RateLimit.Enabled {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	s.initRouter()

	s.audit(ctx, extensions.AuditEvent{
		EventType: "system.start",
		UserID:    "system",
		Action:    "start",
		Resource:  serviceName,
		Outcome:   "success",
	})

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	slog.Info("Starting agent server",
		"addr", addr,
		"version", Version,
		"llm_backend", s.cfg.LLM.Backend)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer sets up the OTLP trace exporter against the configured
// collector and installs the global tracer provider. The returned cleanup
// flushes and shuts down the exporter.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.cfg.Observability.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("create gRPC connection: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("OTLP exporter shutdown failed", "error", err)
		}
	}

	return cleanup, nil
}

// initStores opens both database pools and builds the session and person
// stores on the application pool. The read-only pool is kept for the query
// executor, which initPipeline wires.
func (s *service) initStores(ctx context.Context) error {
	appPool, err := store.Open(ctx, store.PoolConfig{
		DSN:         s.cfg.Database.URL,
		MaxConns:    s.cfg.MaxConns(),
		ConnTimeout: s.cfg.PoolTimeout(),
	})
	if err != nil {
		return fmt.Errorf("connect application database: %w", err)
	}
	s.appPool = appPool

	roPool, err := store.Open(ctx, store.PoolConfig{
		DSN:         s.cfg.Database.ReadonlyURL,
		MaxConns:    s.cfg.MaxConns(),
		ConnTimeout: s.cfg.PoolTimeout(),
	})
	if err != nil {
		return fmt.Errorf("connect read-only database: %w", err)
	}
	s.roPool = roPool

	s.sessions, err = store.NewSessions(appPool, s.logger.Slog())
	if err != nil {
		return err
	}
	if err := s.sessions.EnsureTables(ctx); err != nil {
		return fmt.Errorf("ensure chat tables: %w", err)
	}

	s.people, err = store.NewPeople(appPool, s.logger.Slog())
	if err != nil {
		return err
	}
	return nil
}

// initSchema builds the domain registry. Without a schema file the baked-in
// registry serves; with one, the file is loaded and watched for edits so
// schema changes land without a restart.
func (s *service) initSchema() error {
	s.schemaReg = schema.New()

	path := s.cfg.Storage.SchemaFile
	if path == "" {
		slog.Info("No schema file configured, using the built-in registry",
			"domains", len(s.schemaReg.Domains()))
		return nil
	}

	if err := s.schemaReg.LoadFile(path); err != nil {
		return fmt.Errorf("load schema file %s: %w", path, err)
	}

	watcher, err := schema.NewWatcher(s.schemaReg, path, s.logger.Slog())
	if err != nil {
		slog.Warn("Schema watcher unavailable, schema edits require a restart",
			"error", err)
	} else {
		s.schemaWatcher = watcher
		watcher.Start(context.Background())
	}

	slog.Info("Schema registry loaded",
		"path", path,
		"domains", len(s.schemaReg.Domains()))
	return nil
}

// initCache opens the BadgerDB intent cache.
func (s *service) initCache() error {
	c, err := cache.Open(cache.Config{
		Path:   s.cfg.Storage.CacheDir,
		Logger: s.logger.Slog(),
	})
	if err != nil {
		return err
	}
	s.intentCache = c
	slog.Info("Intent cache ready", "path", s.cfg.Storage.CacheDir)
	return nil
}

// initPipeline builds the language service, the scoped query executor, and
// the state machine that drives each chat turn.
func (s *service) initPipeline() error {
	languageSvc, err := s.initLanguage()
	if err != nil {
		return err
	}

	limits := pipeline.Limits{
		AttemptLimit:     s.cfg.Agent.MaxRetries,
		RowCap:           s.cfg.Agent.MaxQueryResults,
		ExecutionTimeout: s.cfg.QueryTimeout(),
	}

	executor, err := store.NewExecutor(s.roPool, limits, s.logger.Slog())
	if err != nil {
		return err
	}
	recorder, err := store.NewRecorder(s.sessions, s.logger.Slog())
	if err != nil {
		return err
	}

	validator := pipeline.SQLValidatorFunc(func(sql string, allowed []string) pipeline.Verdict {
		ok, reason := sqlcheck.Check(sql, allowed)
		return pipeline.Verdict{Accepted: ok, Reason: reason}
	})

	s.machine, err = pipeline.New(pipeline.Config{
		Language:      languageSvc,
		Executor:      executor,
		Validator:     validator,
		Schema:        s.schemaReg,
		Recorder:      recorder,
		Limits:        limits,
		MinConfidence: s.cfg.Agent.MinConfidence,
		Logger:        s.logger.Slog(),
	})
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	return nil
}

// initLanguage creates the LLM clients and the language service. The
// auxiliary model handles classification when configured; if it cannot be
// created the primary model covers both roles.
func (s *service) initLanguage() (*language.Service, error) {
	primary, err := newLLMClient(s.cfg.LLM.Backend, s.cfg.LLM.Model)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", s.cfg.LLM.Backend, err)
	}
	slog.Info("LLM backend ready",
		"backend", s.cfg.LLM.Backend,
		"model", s.cfg.LLM.Model)

	var auxiliary llm.Client
	if aux := s.cfg.LLM.AuxiliaryModel; aux != "" && aux != s.cfg.LLM.Model {
		auxiliary, err = newLLMClient(s.cfg.LLM.Backend, aux)
		if err != nil {
			slog.Warn("Auxiliary model unavailable, classification uses the primary model",
				"model", aux,
				"error", err)
			auxiliary = nil
		}
	}

	langCfg := language.Config{
		Primary:     primary,
		Auxiliary:   auxiliary,
		MaxTokens:   s.cfg.LLM.MaxTokens,
		Temperature: float32(s.cfg.LLM.Temperature),
		Logger:      s.logger.Slog(),
	}
	if s.intentCache != nil {
		langCfg.Cache = s.intentCache
	}
	return language.New(langCfg)
}

// newLLMClient builds a provider client for the given backend.
func newLLMClient(backend, model string) (llm.Client, error) {
	switch backend {
	case "anthropic":
		return llm.NewAnthropicClient(model)
	case "openai":
		return llm.NewOpenAIClient(model)
	case "ollama":
		return llm.NewOllamaClient(model)
	default:
		slog.Warn("Unknown LLM backend, defaulting to anthropic", "backend", backend)
		return llm.NewAnthropicClient(model)
	}
}

// initRouter assembles the Gin engine: otelgin spans and the audit trail
// run engine-wide, then routes.SetupRoutes registers CORS, auth, rate
// limiting, and the endpoints.
func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))
	s.router.Use(s.auditTrail())

	var archiver handlers.TranscriptArchiver
	if s.archiver != nil {
		archiver = s.archiver
	}
	chat := handlers.NewChatHandlers(s.machine, s.sessions, s.people, archiver, s.logger.Slog())

	auth := middleware.Auth(middleware.AuthConfig{
		Secret:           []byte(s.cfg.Auth.JWTSecret),
		Issuer:           s.cfg.Auth.JWTIssuer,
		Audience:         s.cfg.Auth.JWTAudience,
		AllowMockHeaders: s.cfg.Auth.AllowMockHeaders,
		FallbackUserID:   s.cfg.Auth.MockUserID,
		FallbackEmail:    s.cfg.Auth.MockUserEmail,
		Logger:           s.logger.Slog(),
	})

	routes.SetupRoutes(s.router, chat, s.sessions, s.appPool, auth, s.limiter,
		s.cfg.CORSOriginList(), s.cfg.LLM.Backend, Version, s.logger.Slog())
}

// =============================================================================
// Audit Trail
// =============================================================================

// auditTrail records one audit event per API request after the handler
// chain completes. Non-API paths (health, metrics) are not audited.
func (s *service) auditTrail() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if !strings.HasPrefix(c.Request.URL.Path, "/api/") {
			return
		}

		id := middleware.GetIdentity(c)
		userID := id.PersonID
		if userID == "" {
			userID = "anonymous"
		}
		outcome := "success"
		if c.Writer.Status() >= http.StatusBadRequest {
			outcome = "failure"
		}
		resource := c.FullPath()
		if resource == "" {
			resource = c.Request.URL.Path
		}

		// Detached from the request context: the audit write must
		// survive a client disconnect.
		s.audit(context.WithoutCancel(c.Request.Context()), extensions.AuditEvent{
			EventType: auditEventType(c.Request.Method, resource),
			UserID:    userID,
			Action:    c.Request.Method,
			Resource:  resource,
			Outcome:   outcome,
			Metadata: map[string]any{
				"status":    c.Writer.Status(),
				"client_ip": c.ClientIP(),
			},
		})
	}
}

// audit hands one event to the configured AuditLogger and logs failures.
func (s *service) audit(ctx context.Context, ev extensions.AuditEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := s.opts.AuditLogger.Log(ctx, ev); err != nil {
		slog.Warn("Audit log write failed", "event_type", ev.EventType, "error", err)
	}
}

// auditEventType maps a route to the audit taxonomy.
func auditEventType(method, resource string) string {
	switch {
	case resource == "/api/chat" || resource == "/api/chat/ws" || resource == "/api/stream":
		return "chat.turn"
	case strings.HasPrefix(resource, "/api/sessions") && method == http.MethodDelete:
		return "session.delete"
	case strings.HasPrefix(resource, "/api/sessions"):
		return "session.read"
	default:
		return "api.request"
	}
}

// =============================================================================
// Cleanup
// =============================================================================

// cleanup releases everything the service holds. Called when Run() exits
// or when New() fails partway; every field is nil-checked because partial
// initialization is a legal entry state.
func (s *service) cleanup() {
	if s.schemaWatcher != nil {
		s.schemaWatcher.Stop()
	}
	if s.limiter != nil {
		s.limiter.Close()
	}
	if s.archiver != nil {
		if err := s.archiver.Close(); err != nil {
			slog.Warn("Archiver close error", "error", err)
		}
	}
	if s.intentCache != nil {
		if err := s.intentCache.Close(); err != nil {
			slog.Warn("Intent cache close error", "error", err)
		}
	}
	if s.roPool != nil {
		s.roPool.Close()
	}
	if s.appPool != nil {
		s.appPool.Close()
	}

	if s.opts.AuditLogger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.opts.AuditLogger.Flush(ctx); err != nil {
			slog.Warn("Audit log flush error", "error", err)
		}
		cancel()
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}

	handlers.PurgeSecureMemory()

	if s.logger != nil {
		if err := s.logger.Close(); err != nil {
			slog.Warn("Logger close error", "error", err)
		}
	}
}
