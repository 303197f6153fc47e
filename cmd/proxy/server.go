package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/itshen/AI-message-hook/internal/admin"
	"github.com/itshen/AI-message-hook/internal/audit"
	"github.com/itshen/AI-message-hook/internal/config"
	"github.com/itshen/AI-message-hook/internal/database"
	"github.com/itshen/AI-message-hook/internal/eventbus"
	"github.com/itshen/AI-message-hook/internal/logging"
	"github.com/itshen/AI-message-hook/internal/policy"
	"github.com/itshen/AI-message-hook/internal/proxy"
	"github.com/itshen/AI-message-hook/internal/server"
)

// serverOptions holds the server command flags. Non-empty values override the environment.
type serverOptions struct {
	envFile      string
	listenAddr   string
	databasePath string
	logLevel     string
	logFile      string
	policyFile   string
	fileEventLog string // Path to JSONL file for event logging
	debug        bool
}

func newServerCmd() *cobra.Command {
	opts := &serverOptions{}
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the proxy server",
		Long:  `Start the forwarding proxy, the management API and the audit pipeline using environment configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.envFile, "env", ".env", "Path to .env file")
	f.StringVar(&opts.listenAddr, "addr", "", "Address to listen on (overrides LISTEN_ADDR)")
	f.StringVar(&opts.databasePath, "db", "", "Path to SQLite database (overrides DATABASE_PATH)")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	f.StringVar(&opts.logFile, "log-file", "", "Path to log file (overrides LOG_FILE, default: stdout)")
	f.StringVar(&opts.policyFile, "policy-file", "", "YAML or TOML policy file (overrides POLICY_FILE)")
	f.StringVar(&opts.fileEventLog, "file-event-log", "", "Path to JSONL file receiving call.finalized events")
	f.BoolVarP(&opts.debug, "debug", "v", false, "Enable debug logging (overrides log-level)")
	return cmd
}

// loadEnvironment reads the .env file, if any, and applies flag overrides on top of it.
func (o *serverOptions) loadEnvironment() error {
	if o.envFile != "" {
		if _, err := os.Stat(o.envFile); err == nil {
			if err := godotenv.Load(o.envFile); err != nil {
				return fmt.Errorf("failed to load %s: %w", o.envFile, err)
			}
		}
	}

	overrides := map[string]string{
		"LISTEN_ADDR":   o.listenAddr,
		"DATABASE_PATH": o.databasePath,
		"LOG_LEVEL":     o.logLevel,
		"LOG_FILE":      o.logFile,
		"POLICY_FILE":   o.policyFile,
	}
	if o.debug || os.Getenv("DEBUG") == "1" {
		overrides["LOG_LEVEL"] = "debug"
	}
	for key, value := range overrides {
		if value == "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

func runServer(ctx context.Context, opts *serverOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := opts.loadEnvironment(); err != nil {
		return err
	}

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil && !strings.Contains(err.Error(), "inappropriate ioctl for device") {
			fmt.Fprintf(os.Stderr, "Error syncing logger: %v\n", err)
		}
	}()

	a, err := buildApp(cfg, logger, opts.fileEventLog)
	if err != nil {
		logger.Error("Failed to initialize server", zap.Error(err))
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println("Press Ctrl+C to stop")
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("Server error", zap.Error(err))
		return err
	case <-ctx.Done():
	}

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}
	logger.Info("Server exited gracefully")
	return nil
}

// app is the fully wired process: policy, audit pipeline, event bus and HTTP server.
type app struct {
	server   *server.Server
	store    *policy.Store
	recorder audit.Recorder
	db       *database.DB
	bus      eventbus.EventBus
	logger   *zap.Logger

	closers []func() error
}

// Close releases everything buildApp opened, in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Error during cleanup", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// buildApp wires the components described by cfg. On error, whatever was opened is closed.
func buildApp(cfg *config.Config, logger *zap.Logger, eventLogPath string) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.store, err = buildPolicyStore(cfg, logger); err != nil {
		return nil, err
	}

	var recorders []audit.Recorder
	if cfg.AuditEnabled && cfg.AuditStoreInDB {
		dbConfig, err := buildDatabaseConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.db, err = database.NewFromConfig(dbConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s database: %w", dbConfig.Driver, err)
		}
		a.onClose(a.db.Close)
		recorders = append(recorders, database.NewCallStore(a.db))
		logger.Info("Audit store enabled", zap.String("driver", string(dbConfig.Driver)))
	}
	if cfg.AuditEnabled && cfg.AuditLogFile != "" {
		fr, err := audit.NewFileRecorder(audit.FileConfig{FilePath: cfg.AuditLogFile, CreateDir: cfg.AuditCreateDir})
		if err != nil {
			return nil, err
		}
		a.onClose(fr.Close)
		recorders = append(recorders, fr)
		logger.Info("Audit log file enabled", zap.String("path", cfg.AuditLogFile))
	}

	switch len(recorders) {
	case 0:
		a.recorder = audit.NewNullFileRecorder()
	case 1:
		a.recorder = recorders[0]
	default:
		a.recorder = audit.NewMulti(recorders...)
	}

	if a.bus, err = buildEventBus(a, cfg, logger); err != nil {
		return nil, err
	}
	if a.bus != nil {
		a.recorder = audit.NewPublisher(a.recorder, a.bus)
		if eventLogPath != "" {
			if err := startFileSink(a, eventLogPath, logger); err != nil {
				return nil, err
			}
		}
	} else if eventLogPath != "" {
		logger.Warn("File event log requested but the event bus is disabled (EVENT_BUS=none)")
	}

	var adminHandler http.Handler
	if cfg.ManagementEnabled() {
		auth, err := admin.NewTokenAuth(cfg.ManagementToken, cfg.ManagementTokenHash)
		if err != nil {
			return nil, fmt.Errorf("invalid management token configuration: %w", err)
		}
		var opts []admin.Option
		if a.db != nil {
			opts = append(opts, admin.WithStats(a.db))
		}
		adminHandler = admin.NewServer(a.store, auth, logger, opts...).Handler()
	} else {
		logger.Warn("MANAGEMENT_TOKEN not set - management API disabled")
	}

	fwd := proxy.NewForwardingProxy(proxy.ProxyConfig{
		Prefix:                cfg.ProxyPrefix,
		MaxRequestSize:        cfg.MaxRequestSize,
		ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		TLSHandshakeTimeout:   cfg.UpstreamTLSHandshakeTimeout,
		MaxIdleConns:          cfg.UpstreamMaxIdleConns,
		MaxIdleConnsPerHost:   cfg.UpstreamMaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.UpstreamIdleConnTimeout,
	}, a.store, a.recorder, logger)

	a.server = server.New(cfg, fwd, adminHandler, logger)
	return a, nil
}

// buildPolicyStore seeds the store from the environment, overlays the policy file and
// persists later changes back to it.
func buildPolicyStore(cfg *config.Config, logger *zap.Logger) (*policy.Store, error) {
	seed, err := cfg.PolicySeed()
	if err != nil {
		return nil, err
	}
	store := policy.NewStore(seed)
	if cfg.PolicyFile == "" {
		return store, nil
	}

	update, err := policy.LoadFile(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	if !update.IsEmpty() {
		store.Apply(update)
		logger.Info("Loaded policy file", zap.String("path", cfg.PolicyFile))
	}

	path := cfg.PolicyFile
	store.OnChange(func(c policy.Config) {
		if err := policy.SaveFile(path, c); err != nil {
			logger.Error("Failed to persist policy", zap.String("path", path), zap.Error(err))
		}
	})
	return store, nil
}

func buildDatabaseConfig(cfg *config.Config) (database.FullConfig, error) {
	driver, err := database.ParseDriver(cfg.DBDriver)
	if err != nil {
		return database.FullConfig{}, err
	}
	dbConfig := database.DefaultFullConfig()
	dbConfig.Driver = driver
	dbConfig.Path = cfg.DatabasePath
	dbConfig.DatabaseURL = cfg.DatabaseURL
	if cfg.DatabasePoolSize > 0 {
		dbConfig.MaxOpenConns = cfg.DatabasePoolSize
		dbConfig.MaxIdleConns = (cfg.DatabasePoolSize + 1) / 2
	}
	return dbConfig, nil
}

func buildEventBus(a *app, cfg *config.Config, logger *zap.Logger) (eventbus.EventBus, error) {
	switch cfg.EventBusBackend {
	case "none":
		return nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		a.onClose(client.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}

		rcfg := eventbus.DefaultRedisStreamsConfig()
		rcfg.StreamKey = cfg.EventStreamKey
		if host, err := os.Hostname(); err == nil {
			rcfg.ConsumerName = host
		}
		bus := eventbus.NewRedisStreamsEventBus(&eventbus.RedisStreamsClientAdapter{Client: client}, rcfg, logger)
		a.onClose(func() error { bus.Stop(); return nil })
		logger.Info("Redis streams event bus enabled", zap.String("addr", cfg.RedisAddr), zap.String("stream", rcfg.StreamKey))
		return bus, nil
	default:
		bus := eventbus.NewInMemoryEventBus(cfg.EventBufferSize)
		a.onClose(func() error { bus.Stop(); return nil })
		return bus, nil
	}
}

// startFileSink appends every bus event to path until the bus stops.
func startFileSink(a *app, path string, logger *zap.Logger) error {
	sink, err := eventbus.NewFileSink(path)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	events := a.bus.Subscribe()
	go func() {
		defer close(done)
		sink.Run(context.Background(), events, logger)
	}()
	a.onClose(func() error {
		// Stop closes the subscription, which ends Run
		a.bus.Stop()
		<-done
		return sink.Close()
	})
	logger.Info("File event log enabled", zap.String("path", path))
	return nil
}
