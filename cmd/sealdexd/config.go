package main

import (
	"fmt"
	"os"
	"time"
)

// Config is read once from the environment at startup. Backend selection is
// two independent choices, one for the registry and one for the data store;
// neither is renegotiated per request.
type Config struct {
	Addr string

	// Registry is "sqlite" or "dynamodb".
	Registry string
	// Store is "sqlite", "pebble", "bolt", "dynamodb" or "memory".
	Store string

	// DataDir holds the on-disk backends' files.
	DataDir string

	// DynamoEndpoint overrides the DynamoDB endpoint (local development).
	DynamoEndpoint string
	MetadataTable  string
	StatsTable     string
	EntriesTable   string
	ChainsTable    string

	// AuthIssuer and AuthSecret enable the multitenant authorizer when both
	// are set; otherwise the server runs single-tenant.
	AuthIssuer string
	AuthSecret string

	StatsInterval time.Duration

	LogJSON  bool
	LogDebug bool
}

func configFromEnv() (*Config, error) {
	cfg := &Config{
		Addr:           envOr("SEALDEX_ADDR", ":8080"),
		Registry:       envOr("SEALDEX_REGISTRY", "sqlite"),
		Store:          envOr("SEALDEX_STORE", "sqlite"),
		DataDir:        envOr("SEALDEX_DATA_DIR", "data"),
		DynamoEndpoint: os.Getenv("SEALDEX_DYNAMODB_ENDPOINT"),
		MetadataTable:  envOr("SEALDEX_METADATA_TABLE", "sealdex_metadata"),
		StatsTable:     envOr("SEALDEX_STATS_TABLE", "sealdex_stats"),
		EntriesTable:   envOr("SEALDEX_ENTRIES_TABLE", "sealdex_entries"),
		ChainsTable:    envOr("SEALDEX_CHAINS_TABLE", "sealdex_chains"),
		AuthIssuer:     os.Getenv("SEALDEX_AUTH_ISSUER"),
		AuthSecret:     os.Getenv("SEALDEX_AUTH_SECRET"),
		StatsInterval:  time.Hour,
		LogJSON:        os.Getenv("SEALDEX_LOG_FORMAT") == "json",
		LogDebug:       os.Getenv("SEALDEX_LOG_LEVEL") == "debug",
	}

	if raw := os.Getenv("SEALDEX_STATS_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("SEALDEX_STATS_INTERVAL: %w", err)
		}
		cfg.StatsInterval = interval
	}

	switch cfg.Registry {
	case "sqlite", "dynamodb":
	default:
		return nil, fmt.Errorf("SEALDEX_REGISTRY: unknown backend %q", cfg.Registry)
	}
	switch cfg.Store {
	case "sqlite", "pebble", "bolt", "dynamodb", "memory":
	default:
		return nil, fmt.Errorf("SEALDEX_STORE: unknown backend %q", cfg.Store)
	}
	if (cfg.AuthIssuer == "") != (cfg.AuthSecret == "") {
		return nil, fmt.Errorf("SEALDEX_AUTH_ISSUER and SEALDEX_AUTH_SECRET must be set together")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
