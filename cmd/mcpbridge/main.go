// mcpbridge is a meta-protocol proxy for MCP: it presents a fixed set
// of eight meta-tools to an upstream client while multiplexing to
// downstream MCP servers run as stdio child processes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/clock"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/config"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/dispatcher"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/mcpclient"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/mcpserver"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/resultstore"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := newLogger()
	started := time.Now()

	loadEnvFile(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, err := config.Initialize(ctx, logger)
	if err != nil {
		logger.Error("configuration failed", "error", err)
		return 1
	}

	manager := mcpclient.NewManager(registry, logger)
	defer manager.Close()

	store := resultstore.NewStore(resultstore.DefaultTTL, clock.Real, logger)
	store.Start(ctx)
	defer store.Stop()

	d := dispatcher.New(registry, manager, store, resultstore.DefaultCompactorConfig(), logger, clock.Real, started)
	adapter := mcpserver.New(d, logger)

	logger.Info("mcpbridge starting", "version", version.Full(), "configured_servers", len(registry.All()))

	if err := adapter.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server exited with error", "error", err)
		return 1
	}

	logger.Info("mcpbridge shut down cleanly")
	return 0
}

// newLogger builds the process-wide slog.Logger, writing to stderr and
// prepending "[mcpbridge]" to every record's message without a
// hand-rolled writer. The rendered line itself starts with the time and
// level fields, not with the prefix.
func newLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.MessageKey {
				a.Value = slog.StringValue(fmt.Sprintf("[mcpbridge] %s", a.Value.String()))
			}
			return a
		},
	})
	return slog.New(handler)
}

// loadEnvFile optionally loads a .env file for local development. A
// missing or unset path is never fatal: the process just relies on
// whatever environment it was launched with.
func loadEnvFile(logger *slog.Logger) {
	path := os.Getenv("MCPBRIDGE_ENV_FILE")
	if path == "" {
		return
	}
	if err := godotenv.Load(path); err != nil {
		logger.Warn("could not load env file", "path", path, "error", err)
		return
	}
	logger.Info("loaded environment file", "path", path)
}
