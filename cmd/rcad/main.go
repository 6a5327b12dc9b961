// Rcad is a root-cause analysis daemon for Sentry issues.
//
// This binary starts the rcad HTTP server with full service initialization,
// including the vector-backed pattern library, the Anthropic reasoning
// oracle, Sentry issue discovery, and GitHub webhook feedback.
//
// Configuration is loaded from ~/.config/rcad/config.yaml and overridden by
// RCAD_-prefixed environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	rcad
//
//	# Start with an explicit config file
//	rcad --config /etc/rcad/config.yaml
//
//	# Configure via environment
//	RCAD_SERVER_PORT=9090 RCAD_ORACLE_API_KEY=sk-... rcad
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/analysis"
	"github.com/fyrsmithlabs/rcad/internal/codehost"
	"github.com/fyrsmithlabs/rcad/internal/config"
	"github.com/fyrsmithlabs/rcad/internal/discovery"
	"github.com/fyrsmithlabs/rcad/internal/embeddings"
	"github.com/fyrsmithlabs/rcad/internal/events"
	rcadhttp "github.com/fyrsmithlabs/rcad/internal/http"
	"github.com/fyrsmithlabs/rcad/internal/logging"
	"github.com/fyrsmithlabs/rcad/internal/oracle"
	"github.com/fyrsmithlabs/rcad/internal/patterns"
	"github.com/fyrsmithlabs/rcad/internal/secrets"
	"github.com/fyrsmithlabs/rcad/internal/sentry"
	"github.com/fyrsmithlabs/rcad/internal/telemetry"
	"github.com/fyrsmithlabs/rcad/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file path (default ~/.config/rcad/config.yaml)")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  rcad           Start the rcad daemon\n")
			fmt.Fprintf(os.Stderr, "  rcad version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("rcad by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the rcad server and blocks until context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Connects to infrastructure (NATS, embeddings, vector store)
//  4. Initializes business services (patterns, discovery, oracle, analysis)
//  5. Starts the HTTP server
//  6. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	if configPath == "" {
		configPath = os.Getenv("RCAD_CONFIG")
	}
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	// The oracle is the one integration rcad cannot run without. Checking
	// here fails fast, before the embedding model download.
	if !cfg.Oracle.APIKey.IsSet() {
		return errors.New("oracle api key not configured (set RCAD_ORACLE_API_KEY or oracle.api_key)")
	}

	// First boot: the default pattern store, bootstrap tracker, and any
	// future config file all live under ~/.config/rcad.
	if _, err := config.EnsureConfigDir(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logging.Sync(logger)

	logger.Info("Starting rcad",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	// Presence and length only; a truncated env var shows up here.
	logger.Info("Credentials loaded",
		logging.Secret("oracle_api_key", cfg.Oracle.APIKey),
		logging.Secret("sentry_token", cfg.Sentry.Token),
		logging.Secret("github_token", cfg.GitHub.Token))

	tel, err := telemetry.New(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("Dependencies initialized",
		zap.Bool("events_connected", deps.publisher != nil),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Int("embedding_dimension", deps.embedder.Dimension()))

	svcs, err := initServices(ctx, cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info("Services initialized",
		zap.Bool("scanner_enabled", svcs.scanner != nil),
		zap.Bool("code_host_configured", svcs.codeHost.Configured()))

	srv, err := newServer(cfg, svcs, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("api_prefix", "/api"),
		zap.String("metrics_endpoint", "/metrics"))

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	}
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	publisher *events.Publisher
	embedder  embeddings.Provider
	store     vectorstore.Store
	logger    *zap.Logger
}

// Close releases all infrastructure resources in reverse creation order.
func (d *dependencies) Close() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("Vector store close failed", zap.Error(err))
		}
	}
	if d.embedder != nil {
		if err := d.embedder.Close(); err != nil {
			d.logger.Warn("Embedding provider close failed", zap.Error(err))
		}
	}
	if d.publisher != nil {
		d.publisher.Close()
	}
}

// services holds all business services.
type services struct {
	patterns *patterns.Service
	sentry   *sentry.Client
	codeHost *codehost.Client
	queue    *discovery.Queue
	scanner  *discovery.Scanner
	analyzer *analysis.Orchestrator
}

// initDependencies initializes all infrastructure dependencies.
//
// This function:
//  1. Connects the optional NATS lifecycle publisher
//  2. Creates the embedding provider (FastEmbed or TEI)
//  3. Opens the vector store (chromem or Qdrant)
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	publisher, err := events.Connect(cfg.Events, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect event publisher: %w", err)
	}

	embedder, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
		CacheDir: config.ExpandHome(cfg.Embeddings.CacheDir),
	})
	if err != nil {
		if publisher != nil {
			publisher.Close()
		}
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	logger.Info("Embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model))

	store, err := vectorstore.New(cfg.VectorStore, embedder, logger)
	if err != nil {
		_ = embedder.Close()
		if publisher != nil {
			publisher.Close()
		}
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	return &dependencies{
		publisher: publisher,
		embedder:  embedder,
		store:     store,
		logger:    logger,
	}, nil
}

// initServices initializes all business services on top of the
// infrastructure dependencies.
func initServices(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services, error) {
	scrubber, err := secrets.New(secrets.Options{
		Enabled:       cfg.Patterns.Scrub,
		AllowlistPath: config.ExpandHome(cfg.Patterns.AllowlistPath),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create secret scrubber: %w", err)
	}

	patternSvc, err := patterns.New(patterns.Options{
		Store:       deps.store,
		Scrubber:    scrubber,
		Logger:      logger,
		CacheTTL:    cfg.Patterns.CacheTTL.Duration(),
		TrackerPath: cfg.Patterns.TrackerPath,
		MaxAgeDays:  cfg.Patterns.BootstrapMaxAgeDays,
		Mode:        cfg.VectorStore.Provider,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern service: %w", err)
	}

	sentryClient := sentry.New(cfg.Sentry, logger)

	codeHost, err := codehost.New(ctx, cfg.GitHub, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create code host client: %w", err)
	}

	repo := ""
	if codeHost.Configured() {
		repo = codeHost.Owner() + "/" + codeHost.Repo()
	}

	oracleSvc, err := oracle.NewAnthropic(oracle.Options{
		Config:   cfg.Oracle,
		Repo:     repo,
		PRMarker: cfg.GitHub.PRMarker,
		Issues:   sentryClient,
		Code:     codeHost,
		Patterns: patternSvc,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle: %w", err)
	}

	queue := discovery.NewQueue()

	var scanner *discovery.Scanner
	if cfg.Sentry.Token.IsSet() {
		scanner = discovery.NewScanner(sentryClient, queue, deps.publisher, cfg.Discovery, logger)
	} else {
		logger.Warn("Sentry token not configured, issue scanning disabled")
	}

	analyzer, err := analysis.New(analysis.Options{
		Oracle:        oracleSvc,
		Patterns:      patternSvc,
		Queue:         queue,
		Events:        deps.publisher,
		Organization:  cfg.Sentry.Organization,
		MaxConcurrent: cfg.Oracle.MaxConcurrent,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis orchestrator: %w", err)
	}

	return &services{
		patterns: patternSvc,
		sentry:   sentryClient,
		codeHost: codeHost,
		queue:    queue,
		scanner:  scanner,
		analyzer: analyzer,
	}, nil
}

// newServer assembles the HTTP server from configured services. Interface
// fields stay unset unless the backing client is usable; a typed non-nil
// pointer would defeat the handlers' nil checks.
func newServer(cfg *config.Config, svcs *services, logger *zap.Logger) (*rcadhttp.Server, error) {
	deps := rcadhttp.Dependencies{
		Analyzer: svcs.analyzer,
		Scanner:  svcs.scanner,
		Queue:    svcs.queue,
		Patterns: svcs.patterns,
	}
	if cfg.Sentry.Token.IsSet() {
		deps.History = svcs.sentry
	}
	if svcs.codeHost.Configured() {
		deps.CodeHost = svcs.codeHost
	}

	return rcadhttp.NewServer(deps, logger, &rcadhttp.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		ReadTimeout:   cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:  cfg.Server.WriteTimeout.Duration(),
		StreamPoll:    cfg.Discovery.StreamPollInterval.Duration(),
		WebhookSecret: cfg.GitHub.WebhookSecret.Value(),
		PRMarker:      cfg.GitHub.PRMarker,
		WebhookRPS:    cfg.GitHub.WebhookRPS,
		WebhookBurst:  cfg.GitHub.WebhookBurst,
	})
}
