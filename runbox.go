// Package runbox is the top-level entry point for the Runbox test
// orchestrator.
//
// Use the Builder to compose a custom Runbox application:
//
//	app, err := runbox.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := runbox.NewBuilder().
//	    WithStore(myStore).
//	    WithRuntime(myRuntime).
//	    WithUIAdapter(myAdapter).
//	    Build()
package runbox

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/runbox/runbox/internal/config"
	"github.com/runbox/runbox/internal/server"
	"github.com/runbox/runbox/pkg/eventbus"
	"github.com/runbox/runbox/pkg/hostrpc"
	"github.com/runbox/runbox/pkg/notify"
	ghNotify "github.com/runbox/runbox/pkg/notify/github"
	slackNotify "github.com/runbox/runbox/pkg/notify/slack"
	telegramNotify "github.com/runbox/runbox/pkg/notify/telegram"
	"github.com/runbox/runbox/pkg/orchestrator"
	"github.com/runbox/runbox/pkg/registry"
	"github.com/runbox/runbox/pkg/sandbox"
	dockerSandbox "github.com/runbox/runbox/pkg/sandbox/docker"
	"github.com/runbox/runbox/pkg/signal"
	"github.com/runbox/runbox/pkg/store"
	sqliteStore "github.com/runbox/runbox/pkg/store/sqlite"
	"github.com/runbox/runbox/pkg/ui"
	"github.com/runbox/runbox/pkg/viewport"
)

// Builder constructs a Runbox App.
type Builder struct {
	config    *config.Config
	store     store.RunStore
	bus       eventbus.Bus
	runtime   sandbox.Runtime
	host      hostrpc.Host
	adapter   ui.Adapter
	notifiers []notify.Notifier
}

// NewBuilder creates a new Builder with sensible defaults.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the run store implementation.
func (b *Builder) WithStore(s store.RunStore) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithRuntime sets the sandbox runtime implementation.
func (b *Builder) WithRuntime(rt sandbox.Runtime) *Builder {
	b.runtime = rt
	return b
}

// WithHost sets the host RPC client.
func (b *Builder) WithHost(h hostrpc.Host) *Builder {
	b.host = h
	return b
}

// WithUIAdapter attaches a UI adapter. Without one Runbox runs headless.
func (b *Builder) WithUIAdapter(a ui.Adapter) *Builder {
	b.adapter = a
	return b
}

// WithNotifier adds a run-finished notifier.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifiers = append(b.notifiers, n)
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}
	cfg := b.config

	hub := signal.NewHub()
	reg := registry.New(b.runtime, registry.Options{
		Image:     cfg.DockerImage,
		Network:   cfg.DockerNetwork,
		SignalURL: signalURL(cfg),
	})

	orch := orchestrator.New(
		orchestrator.Config{
			Policy:         cfg.Policy,
			ViewportWidth:  cfg.ViewportWidth,
			ViewportHeight: cfg.ViewportHeight,
			SandboxTimeout: cfg.SandboxTimeout,
		},
		orchestrator.Deps{
			Registry:  reg,
			Channel:   hub,
			View:      viewport.New(b.runtime, b.adapter),
			Host:      b.host,
			Adapter:   b.adapter,
			Store:     b.store,
			Bus:       b.bus,
			Notifiers: b.notifiers,
		},
	)

	srv := server.New(cfg, b.store, b.bus, orch, reg, b.runtime, hub)

	return &App{
		config:  cfg,
		store:   b.store,
		runtime: b.runtime,
		orch:    orch,
		hub:     hub,
		server:  srv,
	}, nil
}

// App is a running Runbox application.
type App struct {
	config  *config.Config
	store   store.RunStore
	runtime sandbox.Runtime
	orch    *orchestrator.Orchestrator
	hub     *signal.Hub
	server  *server.Server
}

// Orchestrator returns the underlying orchestrator for direct access.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Start starts the HTTP server and the orchestrator. Blocks until ctx is
// done.
func (a *App) Start(ctx context.Context) error {
	if err := a.runtime.EnsureNetwork(ctx, a.config.DockerNetwork); err != nil {
		log.Printf("Warning: could not create Docker network: %v", err)
	}

	a.orch.Start(ctx)

	// Bootstrap: when the first signal channel opens and initial files are
	// configured, kick off a run without waiting for an API call.
	if len(a.config.InitialFiles) > 0 {
		go a.bootstrap(ctx)
	}

	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.server.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Runbox server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	a.hub.Close()
	a.orch.Stop()
	return a.store.Close()
}

func (a *App) bootstrap(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case id := <-a.hub.Opened():
		log.Printf("Signal channel open (%s), starting initial run", id)
		if _, err := a.orch.RequestRun(ctx, a.config.InitialFiles, a.config.Policy); err != nil {
			log.Printf("Initial run failed to schedule: %v", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// applyDefaults fills in missing fields on the builder with sensible defaults.
func applyDefaults(b *Builder) error {
	if b.config == nil {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		b.config = cfg
	}
	if err := b.config.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(b.config.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Store.
	if b.store == nil {
		st, err := sqliteStore.New(b.config.DatabasePath)
		if err != nil {
			return fmt.Errorf("initializing store: %w", err)
		}
		b.store = st
	}

	// Event bus.
	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	// Sandbox runtime.
	if b.runtime == nil {
		b.runtime = dockerSandbox.New()
	}

	// Host RPC.
	if b.host == nil {
		if b.config.HostURL != "" {
			b.host = hostrpc.NewClient(b.config.HostURL, b.config.Debug)
		} else {
			b.host = hostrpc.Nop{}
		}
	}

	// Notifiers from config.
	if b.config.SlackEnabled() {
		b.notifiers = append(b.notifiers, slackNotify.New(b.config.SlackBotToken, b.config.SlackChannel))
		log.Println("Slack notifier enabled")
	}
	if b.config.TelegramEnabled() {
		tg, err := telegramNotify.New(b.config.TelegramBotToken, b.config.TelegramChatID)
		if err != nil {
			log.Printf("Warning: failed to initialize Telegram notifier: %v", err)
		} else {
			b.notifiers = append(b.notifiers, tg)
			log.Println("Telegram notifier enabled")
		}
	}
	if b.config.GitHubEnabled() {
		b.notifiers = append(b.notifiers, ghNotify.New(b.config.GitHubToken, b.config.GitHubRepo, b.config.CommitSHA))
		log.Println("GitHub commit status notifier enabled")
	}

	return nil
}

// signalURL is the address sandboxes use to reach the signal endpoint. On the
// sandbox network the host is reachable by the conventional Docker gateway
// alias.
func signalURL(cfg *config.Config) string {
	addr := cfg.ServerAddr
	if addr != "" && addr[0] == ':' {
		addr = "host.docker.internal" + addr
	}
	return "ws://" + addr + "/signal"
}
