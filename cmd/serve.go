package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mywio/voice-pool/pkg/config"
	"github.com/mywio/voice-pool/pkg/core"
	"github.com/mywio/voice-pool/pkg/discord"
	"github.com/mywio/voice-pool/pkg/voicepool"
	"github.com/mywio/voice-pool/plugins/coolboard"
	"github.com/mywio/voice-pool/plugins/gsm"
	"github.com/mywio/voice-pool/plugins/hooks"
	"github.com/mywio/voice-pool/plugins/notifierpushover"
	"github.com/mywio/voice-pool/plugins/notifierwebhook"
	"github.com/mywio/voice-pool/plugins/webhooktrigger"
)

const shutdownTimeout = 30 * time.Second

// loadSettings loads env and file config, applies the log level override and
// validates the result.
func loadSettings(path, levelOverride string) (config.Config, config.ConfigMap, error) {
	cfg, cfgMap, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	if levelOverride != "" {
		cfg.LogLevel = levelOverride
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, cfgMap, nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := config.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// buildManager wires the gateway, the pool service and the built-in plugins.
// Registration order is Init order: the secret store must precede the gateway,
// and the gateway must precede plugins that attach to its session.
func buildManager(cfg config.Config, cfgMap config.ConfigMap, logger *slog.Logger) (*core.ModuleManager, error) {
	mgr := core.NewModuleManager(logger)
	mgr.SetConfig(cfgMap)
	mgr.SetHTTPClient(&http.Client{Timeout: 15 * time.Second})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mgr.SetMetricsRegistry(reg)

	mgr.Register(gsm.New())

	gateway := discord.NewGateway(discord.Options{
		Token:       cfg.Token,
		TokenSecret: cfg.TokenSecret,
		Guilds:      cfg.Guilds,
	})
	mgr.Register(gateway)

	service, err := voicepool.NewService(gateway, voicepool.Options{
		Patterns:           cfg.Patterns,
		MaxConcurrentCalls: cfg.MaxConcurrentCalls,
		DryRun:             cfg.DryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("voice pool: %w", err)
	}
	gateway.OnVoiceUpdate(service.OnVoiceUpdate)
	mgr.Register(service)

	mgr.Register(coolboard.New())
	mgr.Register(webhooktrigger.New())
	mgr.Register(notifierwebhook.New())
	mgr.Register(notifierpushover.New())
	mgr.Register(hooks.New())

	if cfg.PluginsDir != "" {
		if err := mgr.LoadPlugins(cfg.PluginsDir); err != nil {
			logger.Error("Failed to load plugins", "error", err)
		}
	}
	return mgr, nil
}

func runServe(ctx context.Context, path, levelOverride string, stderr io.Writer) error {
	cfg, cfgMap, err := loadSettings(path, levelOverride)
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stdout, cfg.LogLevel)
	if err != nil {
		return err
	}

	mgr, err := buildManager(cfg, cfgMap, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := mgr.Init(ctx); err != nil {
		fmt.Fprintf(stderr, "failed to initialize modules: %v\n", err)
		return err
	}
	mgr.Start(ctx)
	logger.Info("voice-pool running", "version", rootCmd.Version, "config", path, "groups", len(cfg.Patterns))

	<-ctx.Done()
	logger.Info("Received signal, shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	mgr.Stop(shutdownCtx)
	logger.Info("Shutdown complete")
	return nil
}
