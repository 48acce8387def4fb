package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/doeshing/opsai/internal/application/doctor"
	"github.com/doeshing/opsai/internal/application/orchestrator"
	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/infrastructure/ai"
	"github.com/doeshing/opsai/internal/infrastructure/config"
	"github.com/doeshing/opsai/internal/infrastructure/httpapi"
	"github.com/doeshing/opsai/internal/infrastructure/inventory"
	"github.com/doeshing/opsai/internal/infrastructure/metrics"
	"github.com/doeshing/opsai/internal/infrastructure/security"
	"github.com/doeshing/opsai/internal/infrastructure/sshpool"
	"github.com/doeshing/opsai/internal/infrastructure/store"
	"github.com/doeshing/opsai/internal/pkg/filesystem"
	"github.com/doeshing/opsai/internal/pkg/logger"
	"github.com/doeshing/opsai/internal/ports"
)

// EnvProvider pins the AI provider, overriding ai.provider in the config.
const EnvProvider = "AI_PROVIDER"

// Options selects where configuration and logs come from.
type Options struct {
	ConfigPath string
	Verbose    bool
	LogOutput  io.Writer
}

// Container wires up application services with infrastructure adapters.
type Container struct {
	Config        domain.Config
	ConfigLoader  *config.FileLoader
	Logger        *logger.SlogLogger
	Pool          *sshpool.Pool
	Registry      *ai.Registry
	Store         *store.SQLiteStore
	Inventory     *inventory.Resolver
	Validator     *security.Validator
	Metrics       *metrics.Recorder
	Hub           *httpapi.Hub
	Events        *Broadcast
	Orchestrator  *orchestrator.Service
	DoctorService *doctor.Service

	closeOnce sync.Once
	closeErr  error
}

// BuildContainer constructs the dependency graph.
func BuildContainer(ctx context.Context, opts Options) (*Container, error) {
	cfgLoader := config.NewFileLoader(opts.ConfigPath)
	cfg, err := cfgLoader.Load(ctx)
	if err != nil {
		return nil, err
	}

	logOutput := opts.LogOutput
	if logOutput == nil {
		logOutput = os.Stderr
	}
	level := cfg.Logging.Level
	if opts.Verbose {
		level = "debug"
	}
	log := logger.New(logger.Options{Level: level, Format: cfg.Logging.Format, Output: logOutput})

	validator, err := security.NewValidator(cfg.Security.RulesFile, log.With("validator"))
	if err != nil {
		log.Warn("extra rules ignored", map[string]interface{}{"rules_file": cfg.Security.RulesFile, "error": err.Error()})
		if validator, err = security.NewValidator("", log.With("validator")); err != nil {
			return nil, err
		}
	}

	servers, err := inventory.Load(cfg.Inventory.ServersFile, cfg.Inventory.SSHConfigFile)
	if err != nil {
		return nil, err
	}

	completers, err := ai.NewFactory(cfg.AITimeout()).ForModels(cfg.AI.Models)
	if err != nil {
		return nil, err
	}
	registry := ai.NewRegistry(completers, providerOverride(cfg), domain.DefaultProbeTimeout, log.With("ai"))

	execStore, err := store.Open(filesystem.ExpandPath(cfg.Storage.Path))
	if err != nil {
		return nil, err
	}

	pool := sshpool.New(
		sshpool.NewSSHDialer(cfg.KeepaliveInterval(), cfg.KeepaliveCountMax()),
		sshpool.Options{
			ConnectTimeout: cfg.ConnectTimeout(),
			TestTimeout:    cfg.TestTimeout(),
			HealthTimeout:  cfg.HealthTimeout(),
			IdleTimeout:    cfg.IdleTimeout(),
			SweepInterval:  cfg.SweepInterval(),
			MaxAttempts:    cfg.MaxConnectAttempts(),
			BaseDelay:      cfg.ConnectBaseDelay(),
		},
		log.With("sshpool"),
	)
	pool.Start()

	recorder := metrics.NewRecorder()
	recorder.ObservePool(pool.ActiveCount)

	hub := httpapi.NewHub(log.With("ws-hub"))
	events := NewBroadcast()

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Connections: pool,
		Validator:   validator,
		AI:          ai.NewService(registry, log.With("ai")),
		Store:       execStore,
		Audit:       execStore,
		AuditReader: execStore,
		Credentials: servers,
		Sink:        events,
		Metrics:     recorder,
		Logger:      log.With("orchestrator"),
	}, orchestrator.Options{
		ReconnectAttempts: cfg.ReconnectAttempts(),
		ReconnectInterval: cfg.ReconnectInterval(),
	})
	if err != nil {
		_ = pool.Close()
		_ = execStore.Close()
		return nil, err
	}

	return &Container{
		Config:       cfg,
		ConfigLoader: cfgLoader,
		Logger:       log,
		Pool:         pool,
		Registry:     registry,
		Store:        execStore,
		Inventory:    servers,
		Validator:    validator,
		Metrics:      recorder,
		Hub:          hub,
		Events:       events,
		Orchestrator: orch,
		DoctorService: &doctor.Service{
			ConfigProvider: cfgLoader,
			Validator:      validator,
			Store:          execStore,
			Servers:        servers,
			Providers:      registry,
		},
	}, nil
}

// APIServer builds the HTTP and WebSocket server and subscribes its hub to
// orchestrator events.
func (c *Container) APIServer() *httpapi.Server {
	c.Events.Subscribe(c.Hub)
	return httpapi.NewServer(httpapi.Dependencies{
		Orchestrator: c.Orchestrator,
		Providers:    c.Registry,
		Servers:      c.Inventory,
		Hub:          c.Hub,
		Metrics:      c.Metrics.Handler(),
		Checks: map[string]httpapi.HealthCheck{
			"store": c.Store.Ping,
		},
		ActiveCount: c.Pool.ActiveCount,
	}, httpapi.Options{
		AllowedOrigins:   c.Config.Server.AllowedOrigins,
		ActionsPerSecond: c.Config.Server.ActionsPerSecond,
		ActionBurst:      c.Config.Server.ActionBurst,
	}, c.Logger.With("api"))
}

// Close disconnects every pooled session and closes the store.
func (c *Container) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.Pool != nil {
			if err := c.Pool.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close pool: %w", err))
			}
		}
		if c.Store != nil {
			if err := c.Store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func providerOverride(cfg domain.Config) string {
	if env := strings.TrimSpace(os.Getenv(EnvProvider)); env != "" {
		return env
	}
	return cfg.AI.Provider
}

var _ ports.NotificationSink = (*Broadcast)(nil)
