package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/benefitsai/portal-engine/migrations"
	"github.com/benefitsai/portal-engine/pkg/agent"
	"github.com/benefitsai/portal-engine/pkg/audit"
	"github.com/benefitsai/portal-engine/pkg/auth"
	"github.com/benefitsai/portal-engine/pkg/config"
	"github.com/benefitsai/portal-engine/pkg/database"
	"github.com/benefitsai/portal-engine/pkg/handlers"
	"github.com/benefitsai/portal-engine/pkg/llm"
	mcpserver "github.com/benefitsai/portal-engine/pkg/mcp"
	mcptools "github.com/benefitsai/portal-engine/pkg/mcp/tools"
	"github.com/benefitsai/portal-engine/pkg/middleware"
	"github.com/benefitsai/portal-engine/pkg/repositories"
	"github.com/benefitsai/portal-engine/pkg/security"
	"github.com/benefitsai/portal-engine/pkg/semanticlayer"
	"github.com/benefitsai/portal-engine/pkg/services"
	"github.com/benefitsai/portal-engine/pkg/tenant"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("semantic_layer_host", cfg.SemanticLayer.Host),
		zap.String("filter_dimension", cfg.SemanticLayer.FilterDimension),
		zap.Int("tenant_domains", len(cfg.Tenants.DomainMap)),
		zap.Bool("audit_mirror", cfg.AuditMirror.Enabled))

	// Tenant resolution and credentials. Startup fails here when no token
	// is configured at all.
	resolver := tenant.NewResolver(cfg.Tenants)
	credentials, err := tenant.NewCredentialStore(cfg.Tenants, logger)
	if err != nil {
		logger.Fatal("Credential store initialization failed", zap.Error(err))
	}

	// Identity filter enforcement and the audit log share one matcher so
	// the scan checks exactly what the enforcer writes.
	matcher := security.NewIdentityMatcher(cfg.SemanticLayer.FilterDimension)
	enforcer := security.NewFilterEnforcer(matcher, logger)
	auditLog := audit.NewLog(matcher, logger)

	if cfg.AuditMirror.Enabled {
		attachAuditMirror(cfg, auditLog, logger)
	}

	connections := semanticlayer.NewConnectionManager(cfg.SemanticLayer, resolver, credentials, logger)
	executor := semanticlayer.NewClient(cfg.SemanticLayer, logger)
	portal := services.NewPortalService(executor, enforcer, auditLog, resolver, credentials, connections, logger)

	roster, err := services.LoadRoster(cfg.RosterPath, logger)
	if err != nil {
		logger.Fatal("Failed to load member roster", zap.Error(err))
	}

	authService, err := auth.NewAuthService(cfg.Session, roster, connections, logger)
	if err != nil {
		logger.Fatal("Failed to create auth service", zap.Error(err))
	}
	authMiddleware := auth.NewMiddleware(authService, logger)

	// Optional AI entry points. Both funnel through the portal service, so
	// leaving them unconfigured only disables the routes.
	var translator *llm.Translator
	if cfg.OpenAI.IsAvailable() {
		chatClient, err := llm.NewClient(cfg.OpenAI, logger)
		if err != nil {
			logger.Fatal("Failed to create LLM client", zap.Error(err))
		}
		translator = llm.NewTranslator(chatClient, logger)
	} else {
		logger.Info("Natural-language queries disabled (no OpenAI configuration)")
	}

	var coach agent.CoachAgent
	if cfg.Anthropic.IsAvailable() {
		coach, err = agent.NewCoachAgent(cfg.Anthropic, portal, logger)
		if err != nil {
			logger.Fatal("Failed to create coach agent", zap.Error(err))
		}
	} else {
		logger.Info("Benefits coach disabled (no Anthropic configuration)")
	}

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewMembersHandler(roster, authService, portal, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewQueryHandler(portal, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewAskHandler(portal, translator, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewCoachHandler(coach, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewAuditHandler(auditLog, cfg.Audit.OperatorKey, logger).RegisterRoutes(mux, authMiddleware)

	// MCP surface shares the session middleware via the context function.
	mcpSrv := mcpserver.NewServer("portal-engine", cfg.Version, logger)
	mcptools.RegisterHealthTool(mcpSrv.MCP(), cfg.Version)
	mcptools.RegisterMetricsTools(mcpSrv.MCP(), &mcptools.MetricsToolDeps{
		Portal: portal,
		Logger: logger,
	})
	mux.Handle("/mcp", mcpSrv.NewStreamableHTTPServer(authMiddleware.HTTPContextFunc()))

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting portal-engine",
			zap.String("addr", addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}

// attachAuditMirror connects the Postgres mirror, runs migrations and wires
// the sink. Mirror failures are fatal at startup.
func attachAuditMirror(cfg *config.Config, auditLog *audit.Log, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewConnection(ctx, &database.Config{URL: cfg.AuditMirror.ConnectionString()})
	if err != nil {
		logger.Fatal("Audit mirror connection failed", zap.Error(err))
	}

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.Migrate(sqlDB, migrations.Files, logger); err != nil {
		logger.Fatal("Audit mirror migrations failed", zap.Error(err))
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("Failed to close migration connection", zap.Error(err))
	}

	auditLog.SetSink(repositories.NewAuditMirrorRepository(db, logger))
	logger.Info("Audit mirror enabled",
		zap.String("host", cfg.AuditMirror.Host),
		zap.String("database", cfg.AuditMirror.Database))
}

// newLogger builds the process logger: human-readable locally, JSON
// elsewhere.
func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
