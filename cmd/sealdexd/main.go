// Command sealdexd serves the encrypted-index storage backend over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/hupe1980/sealdex"
	"github.com/hupe1980/sealdex/auth"
	"github.com/hupe1980/sealdex/registry"
	"github.com/hupe1980/sealdex/server"
	"github.com/hupe1980/sealdex/stats"
	"github.com/hupe1980/sealdex/store"
	storedynamo "github.com/hupe1980/sealdex/store/dynamo"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := configFromEnv()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	var dynamoClient *dynamodb.Client
	if cfg.Registry == "dynamodb" || cfg.Store == "dynamodb" {
		if dynamoClient, err = newDynamoClient(ctx, cfg); err != nil {
			return err
		}
	}

	reg, err := newRegistry(cfg, dynamoClient)
	if err != nil {
		return err
	}
	defer reg.Close()

	st, err := newStore(cfg, dynamoClient)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []server.Option{server.WithLogger(logger)}
	if cfg.AuthIssuer != "" {
		opts = append(opts, server.WithAuthorizer(
			auth.NewAuthorizer([]byte(cfg.AuthSecret), cfg.AuthIssuer)))
		logger.Info("multitenant authorization enabled", "issuer", cfg.AuthIssuer)
	} else {
		logger.Info("running single-tenant")
	}

	sampler := stats.NewSampler(reg, st,
		stats.WithInterval(cfg.StatsInterval),
		stats.WithLogger(logger),
	)
	go sampler.Run(ctx)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.New(reg, st, opts...).Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", cfg.Addr, "registry", cfg.Registry, "store", cfg.Store)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-sampler.Done()
	return nil
}

func newLogger(cfg *Config) *sealdex.Logger {
	level := slog.LevelInfo
	if cfg.LogDebug {
		level = slog.LevelDebug
	}
	if cfg.LogJSON {
		return sealdex.NewJSONLogger(level)
	}
	return sealdex.NewTextLogger(level)
}

func newDynamoClient(ctx context.Context, cfg *Config) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoEndpoint != "" {
			o.BaseEndpoint = &cfg.DynamoEndpoint
		}
	}), nil
}

func newRegistry(cfg *Config, client *dynamodb.Client) (registry.Registry, error) {
	switch cfg.Registry {
	case "sqlite":
		return registry.NewSQLiteRegistry(filepath.Join(cfg.DataDir, "registry.sqlite"))
	case "dynamodb":
		return registry.NewDynamoRegistry(client,
			registry.WithDynamoTableNames(cfg.MetadataTable, cfg.StatsTable)), nil
	}
	return nil, errors.New("unreachable registry backend")
}

func newStore(cfg *Config, client *dynamodb.Client) (store.Store, error) {
	switch cfg.Store {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(filepath.Join(cfg.DataDir, "store.sqlite"))
	case "pebble":
		return store.NewPebbleStore(filepath.Join(cfg.DataDir, "pebble"))
	case "bolt":
		return store.NewBoltStore(filepath.Join(cfg.DataDir, "store.bolt"))
	case "dynamodb":
		return storedynamo.New(client,
			storedynamo.WithTableNames(cfg.EntriesTable, cfg.ChainsTable)), nil
	}
	return nil, errors.New("unreachable store backend")
}
