// Storefront-mcp is an MCP tool server exposing a BigCommerce store's
// catalog, orders, customers, metafields and carts over stdio.
//
// It is configured entirely from the environment (a .env file in the
// working directory is loaded first):
//
//	BIGCOMMERCE_STORE_HASH       store hash (required)
//	BIGCOMMERCE_ACCESS_TOKEN     API token (required)
//	BIGCOMMERCE_API_URL          API root (default https://api.bigcommerce.com)
//	BIGCOMMERCE_TIMEOUT          per-request timeout (default 30s)
//	BIGCOMMERCE_HEALTH_INTERVAL  store reachability poll (default 5m, 0 disables)
//	STOREFRONT_LOG_LEVEL         trace, debug, info, warn or error
//
// Stdout carries the protocol; logs go to stderr.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nugget/storefront-mcp/internal/bigcommerce"
	"github.com/nugget/storefront-mcp/internal/buildinfo"
	"github.com/nugget/storefront-mcp/internal/config"
	"github.com/nugget/storefront-mcp/internal/health"
	"github.com/nugget/storefront-mcp/internal/toolserver"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:])
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "version":
			fmt.Fprintln(stdout, buildinfo.String())
			return nil
		case "-h", "-help", "--help":
			fmt.Fprintln(stdout, "Usage: storefront-mcp [version]")
			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, "Serves BigCommerce tools over MCP on stdin/stdout. Requires")
			fmt.Fprintln(stdout, "BIGCOMMERCE_STORE_HASH and BIGCOMMERCE_ACCESS_TOKEN.")
			return nil
		default:
			return fmt.Errorf("unknown argument: %s", args[0])
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.LoadStore()
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := config.NewLogger(stderr, level, "text")

	logger.Info("storefront tool server starting",
		"version", buildinfo.Version,
		"store", cfg.StoreHash,
		"api_url", cfg.APIURL,
	)

	store := bigcommerce.NewClient(cfg.BaseURL(), cfg.AccessToken, cfg.Timeout, logger)
	srv := toolserver.New(store, logger)

	if cfg.HealthInterval > 0 {
		watch := health.Watch(ctx, health.Config{
			Name:     "bigcommerce",
			Probe:    store.Ping,
			Interval: cfg.HealthInterval,
			Logger:   logger,
		})
		defer watch.Stop()
	}

	err = toolserver.Serve(ctx, srv, stdin, stdout, logger)
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		logger.Info("storefront tool server stopped")
		return nil
	default:
		return fmt.Errorf("serve: %w", err)
	}
}
