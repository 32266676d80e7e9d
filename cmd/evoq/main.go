// Package main provides the evoq binary entry point.
// Evoq is the workflow dispatch core of the self-evolution platform: it
// pulls typed work from durable queues, routes it through guarded handlers,
// and publishes result envelopes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/evoq/approval"
	evoqconfig "github.com/c360studio/evoq/config"
	"github.com/c360studio/evoq/model"
	controlapi "github.com/c360studio/evoq/processor/control-api"
	"github.com/c360studio/evoq/processor/housekeeping"
	workflowconsumer "github.com/c360studio/evoq/processor/workflow-consumer"
	"github.com/c360studio/evoq/rules"
	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/componentregistry"
	"github.com/c360studio/semstreams/config"
	"github.com/c360studio/semstreams/metric"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/semstreams/service"
	"github.com/c360studio/semstreams/types"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "evoq"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath  string
		profilePath string
		logLevel    string
	)

	cmd := &cobra.Command{
		Use:   "evoq",
		Short: "Workflow dispatch core",
		Long: `Evoq is the workflow dispatch core of the self-evolution platform.

It provides:
- Durable multi-queue dispatch for rule updates, LLM config updates, and
  code execution requests
- One-shot approval tokens guarding destructive changes
- Safety-rule enforcement with hot profile reload

All components communicate via NATS using the semstreams framework.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, profilePath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Platform config file path (JSON)")
	cmd.Flags().StringVar(&profilePath, "profile", "", "Safety rule profile path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, profilePath, logLevel string) error {
	// Print banner
	printBanner()

	// Configure logging
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load layered evoq configuration (defaults, user, project)
	evoqCfg, err := evoqconfig.NewLoader(logger).Load()
	if err != nil {
		return fmt.Errorf("load evoq config: %w", err)
	}
	if profilePath != "" {
		evoqCfg.Safety.Profile = profilePath
	}

	// Initialize the global stores shared by handlers and the control API
	rulesStore, err := initGlobalStores(evoqCfg, logger)
	if err != nil {
		return err
	}

	// Load platform configuration
	cfg, err := loadConfig(configPath, evoqCfg)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Connect to NATS
	ctx := context.Background()
	natsClient, err := connectToNATS(ctx, evoqCfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	// Ensure JetStream streams exist
	if err := ensureStreams(ctx, cfg, natsClient, logger); err != nil {
		return err
	}

	// Hot-reload the safety profile when requested
	if evoqCfg.Safety.Watch && evoqCfg.Safety.Profile != "" {
		watcher, err := rules.NewWatcher(evoqCfg.Safety.Profile, rulesStore, logger)
		if err != nil {
			return fmt.Errorf("create profile watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start profile watcher: %w", err)
		}
		defer watcher.Stop()
	}

	slog.Info("Evoq ready",
		"version", Version,
		"substrate", evoqCfg.Queue.Substrate)

	// Create remaining infrastructure
	metricsRegistry := metric.NewMetricsRegistry()
	platform := extractPlatformMeta(cfg)

	// Create and start config manager (required for component-manager to access component configs)
	configManager, err := config.NewConfigManager(cfg, natsClient, logger)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := configManager.Start(ctx); err != nil {
		return fmt.Errorf("start config manager: %w", err)
	}
	defer configManager.Stop(5 * time.Second)

	slog.Info("Platform identity configured",
		"org", platform.Org,
		"platform", platform.Platform)

	// Create and populate component registry
	componentRegistry := component.NewRegistry()

	// Register all semstreams components
	slog.Debug("Registering semstreams component factories")
	if err := componentregistry.Register(componentRegistry); err != nil {
		return fmt.Errorf("register semstreams components: %w", err)
	}

	// Register evoq-specific components
	slog.Debug("Registering evoq component factories")
	if err := workflowconsumer.Register(componentRegistry); err != nil {
		return fmt.Errorf("register workflow-consumer: %w", err)
	}

	if err := housekeeping.Register(componentRegistry); err != nil {
		return fmt.Errorf("register housekeeping: %w", err)
	}

	if err := controlapi.Register(componentRegistry); err != nil {
		return fmt.Errorf("register control-api: %w", err)
	}

	factories := componentRegistry.ListFactories()
	slog.Info("Component factories registered", "count", len(factories))

	// Create service registry and manager (semstreams pattern)
	serviceRegistry := service.NewServiceRegistry()
	if err := service.RegisterAll(serviceRegistry); err != nil {
		return fmt.Errorf("register services: %w", err)
	}

	manager := service.NewServiceManager(serviceRegistry)
	ensureServiceManagerConfig(cfg, evoqCfg.HTTP.Port)

	// Create service dependencies
	svcDeps := &service.Dependencies{
		NATSClient:        natsClient,
		MetricsRegistry:   metricsRegistry,
		Logger:            logger,
		Platform:          platform,
		Manager:           configManager,
		ComponentRegistry: componentRegistry,
	}

	// Configure and create services
	if err := configureAndCreateServices(cfg, manager, svcDeps); err != nil {
		return err
	}

	slog.Info("All services configured")

	// Setup signal handling
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	// Start all services (includes HTTP server with health endpoints)
	slog.Info("Starting all services")
	if err := manager.StartAll(signalCtx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	slog.Info("All services started successfully")

	// Block until shutdown signal
	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	// Stop all services. A failed stop means accepted work was abandoned,
	// and the exit code has to say so.
	shutdownTimeout := 30 * time.Second
	if err := manager.StopAll(shutdownTimeout); err != nil {
		slog.Error("Error stopping services", "error", err)
		return fmt.Errorf("stop services: %w", err)
	}

	slog.Info("Evoq shutdown complete")
	return nil
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════╗")
	fmt.Println("║             Evoq v" + Version + "                        ║")
	fmt.Println("║       Workflow Dispatch Core                  ║")
	fmt.Println("╚═══════════════════════════════════════════════╝")
}

// initGlobalStores seeds the process-wide approval service, model registry,
// and safety-rule store from the evoq configuration. Returns the rule store
// so the caller can attach a profile watcher.
func initGlobalStores(evoqCfg *evoqconfig.Config, logger *slog.Logger) (*rules.Store, error) {
	approval.InitGlobal(approval.NewService(
		approval.WithTTL(evoqCfg.Approvals.TokenTTL),
		approval.WithGrace(evoqCfg.Approvals.GCGrace),
	))

	modelRegistry := model.NewDefaultRegistry()
	if evoqCfg.Models.Config != "" {
		loaded, err := model.LoadFromFile(evoqCfg.Models.Config)
		if err != nil {
			return nil, fmt.Errorf("load model registry: %w", err)
		}
		modelRegistry = loaded
		logger.Info("Loaded model registry", "path", evoqCfg.Models.Config)
	}
	model.InitGlobal(modelRegistry)

	rulesStore := rules.NewStore()
	if evoqCfg.Safety.Profile != "" {
		profile, err := rules.LoadProfile(evoqCfg.Safety.Profile)
		if err != nil {
			return nil, fmt.Errorf("load safety profile: %w", err)
		}
		if _, err := rulesStore.Replace(profile.Rules); err != nil {
			return nil, fmt.Errorf("apply safety profile: %w", err)
		}
		logger.Info("Loaded safety profile",
			"path", evoqCfg.Safety.Profile,
			"rules", len(profile.Rules))
	}
	rules.InitGlobal(rulesStore)

	return rulesStore, nil
}

func loadConfig(configPath string, evoqCfg *evoqconfig.Config) (*config.Config, error) {
	if configPath != "" {
		// Load from file with environment variable substitution
		return loadConfigWithEnvSubstitution(configPath)
	}

	// Build minimal config programmatically
	return buildDefaultConfig(evoqCfg)
}

// loadConfigWithEnvSubstitution reads a config file and expands environment
// variables before parsing. Supports ${VAR} and $VAR syntax.
func loadConfigWithEnvSubstitution(configPath string) (*config.Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := config.ExpandEnvWithDefaults(string(data))

	// Load using semstreams loader (preserves defaults, validation, env overrides)
	loader := config.NewLoader()
	return loader.LoadFromBytes([]byte(expanded))
}

func buildDefaultConfig(evoqCfg *evoqconfig.Config) (*config.Config, error) {
	consumerConfig := map[string]any{
		"substrate":          evoqCfg.Queue.Substrate,
		"stream_name":        evoqCfg.Queue.StreamName,
		"pgmq_dsn":           evoqCfg.Queue.DSN,
		"pgmq_max_conns":     evoqCfg.Queue.MaxConns,
		"workers":            evoqCfg.Dispatcher.Workers,
		"batch_size":         evoqCfg.Dispatcher.BatchSize,
		"poll_interval":      evoqCfg.Dispatcher.PollInterval.String(),
		"visibility_timeout": evoqCfg.Dispatcher.VisibilityTimeout.String(),
		"cancel_grace":       evoqCfg.Dispatcher.CancelGrace.String(),
	}
	consumerJSON, _ := json.Marshal(consumerConfig)

	housekeepingConfig := map[string]any{
		"gc_interval":        evoqCfg.Housekeeping.GCInterval,
		"terminal_retention": evoqCfg.Housekeeping.TerminalRetention,
	}
	housekeepingJSON, _ := json.Marshal(housekeepingConfig)

	controlAPIConfig := map[string]any{
		"max_token_ttl":   evoqCfg.Approvals.MaxRequestTTL.String(),
		"disable_metrics": evoqCfg.HTTP.DisableMetrics,
	}
	controlAPIJSON, _ := json.Marshal(controlAPIConfig)

	cfg := &config.Config{
		Version: "1.0.0",
		Platform: config.PlatformConfig{
			Org:         "evoq",
			ID:          "evoq-local",
			Environment: "dev",
		},
		NATS: config.NATSConfig{
			URLs:          []string{evoqCfg.Queue.URL},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			JetStream: config.JetStreamConfig{
				Enabled: true,
			},
		},
		Services: types.ServiceConfigs{},
		Components: config.ComponentConfigs{
			"workflow-consumer": types.ComponentConfig{
				Name:    "workflow-consumer",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  consumerJSON,
			},
			"housekeeping": types.ComponentConfig{
				Name:    "housekeeping",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  housekeepingJSON,
			},
			"control-api": types.ComponentConfig{
				Name:    "control-api",
				Type:    types.ComponentTypeProcessor,
				Enabled: true,
				Config:  controlAPIJSON,
			},
		},
		Streams: config.StreamConfigs{},
	}

	// The JetStream substrate reads queue subjects from one durable stream
	// provisioned here at boot. Other substrates manage their own storage.
	if evoqCfg.Queue.Substrate == "jetstream" {
		cfg.Streams[evoqCfg.Queue.StreamName] = config.StreamConfig{
			Subjects: []string{"q.>"},
			MaxAge:   "168h",
			Storage:  "file",
			Replicas: 1,
		}
	}

	return cfg, nil
}

func connectToNATS(ctx context.Context, evoqCfg *evoqconfig.Config, logger *slog.Logger) (*natsclient.Client, error) {
	natsURLs := evoqCfg.Queue.URL

	// Environment variable override takes precedence
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		natsURLs = envURL
	} else if envURL := os.Getenv("EVOQ_NATS_URL"); envURL != "" {
		natsURLs = envURL
	}

	logger.Info("Connecting to NATS", "url", natsURLs)

	client, err := natsclient.NewClient(natsURLs,
		natsclient.WithName("evoq"),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20), // Higher threshold for startup bursts
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, natsURLs)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, natsURLs)
	}

	logger.Info("Connected to NATS", "url", natsURLs)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	// Check for common connection errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set NATS_URL environment variable to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func ensureStreams(ctx context.Context, cfg *config.Config, natsClient *natsclient.Client, logger *slog.Logger) error {
	logger.Debug("Creating JetStream streams")
	streamsManager := config.NewStreamsManager(natsClient, logger)

	if err := streamsManager.EnsureStreams(ctx, cfg); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	logger.Debug("JetStream streams ready")
	return nil
}

func extractPlatformMeta(cfg *config.Config) types.PlatformMeta {
	platformID := cfg.Platform.InstanceID
	if platformID == "" {
		platformID = cfg.Platform.ID
	}

	return types.PlatformMeta{
		Org:      cfg.Platform.Org,
		Platform: platformID,
	}
}

// ensureServiceManagerConfig ensures service-manager config exists with defaults
func ensureServiceManagerConfig(cfg *config.Config, httpPort int) {
	if cfg.Services == nil {
		cfg.Services = make(types.ServiceConfigs)
	}

	if _, exists := cfg.Services["service-manager"]; !exists {
		slog.Debug("Adding default service-manager config")
		defaultConfig := map[string]any{
			"http_port":  httpPort,
			"swagger_ui": false,
			"server_info": map[string]string{
				"title":       "Evoq API",
				"description": "workflow dispatch core - queues, approvals, safety rules",
				"version":     Version,
			},
		}
		defaultConfigJSON, _ := json.Marshal(defaultConfig)
		cfg.Services["service-manager"] = types.ServiceConfig{
			Name:    "service-manager",
			Enabled: true,
			Config:  defaultConfigJSON,
		}
		slog.Debug("Service-manager config added", "enabled", true)
	}
}

// configureAndCreateServices configures the manager and creates all services
func configureAndCreateServices(
	cfg *config.Config,
	manager *service.Manager,
	svcDeps *service.Dependencies,
) error {
	slog.Debug("Configuring Manager")
	if err := manager.ConfigureFromServices(cfg.Services, svcDeps); err != nil {
		return fmt.Errorf("configure service manager: %w", err)
	}

	slog.Debug("Creating services from config", "count", len(cfg.Services))
	for name, svcConfig := range cfg.Services {
		if name == "service-manager" {
			slog.Debug("Skipping service-manager (configured directly)")
			continue
		}

		if err := createServiceIfEnabled(manager, name, svcConfig, svcDeps); err != nil {
			return err
		}
	}

	return nil
}

// createServiceIfEnabled creates a service if it's enabled and registered
func createServiceIfEnabled(
	manager *service.Manager,
	name string,
	svcConfig types.ServiceConfig,
	svcDeps *service.Dependencies,
) error {
	slog.Debug("Processing service config", "key", name, "name", svcConfig.Name, "enabled", svcConfig.Enabled)

	if !svcConfig.Enabled {
		slog.Info("Service disabled in config", "name", name)
		return nil
	}

	if !manager.HasConstructor(name) {
		slog.Warn("Service configured but not registered", "key", name, "available_constructors", manager.ListConstructors())
		return nil
	}

	slog.Debug("Creating service", "name", name, "has_constructor", true)
	if _, err := manager.CreateService(name, svcConfig.Config, svcDeps); err != nil {
		return fmt.Errorf("create service %s: %w", name, err)
	}

	slog.Info("Created service", "name", name, "config_name", svcConfig.Name)
	return nil
}
