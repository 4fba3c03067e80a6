package main

import (
	"context"
	"encoding/base64"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/credvault/internal/api"
	"github.com/org/credvault/internal/crypto"
	"github.com/org/credvault/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr    string `yaml:"listen_addr"`
	TLSCertFile   string `yaml:"tls_cert"`
	TLSKeyFile    string `yaml:"tls_key"`
	DBUrl         string `yaml:"db_url"`
	MasterKey     string `yaml:"master_key"` // base64, 32 bytes
	MigrationsDir string `yaml:"migrations_dir"`
	LogLevel      string `yaml:"log_level"`
	BootstrapUser int64  `yaml:"bootstrap_user"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("CREDVAULT_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8300",
		MigrationsDir: "migrations",
		LogLevel:      "info",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("CREDVAULT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("CREDVAULT_MASTER_KEY"); v != "" {
		cfg.MasterKey = v
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.MasterKey == "" {
		log.Fatal().Msg("master_key must be configured (or CREDVAULT_MASTER_KEY env var)")
	}
	masterKey, err := base64.StdEncoding.DecodeString(cfg.MasterKey)
	if err != nil || len(masterKey) != crypto.KeyLength {
		log.Fatal().Msg("master_key must be base64-encoded 32 bytes")
	}

	ctx := context.Background()

	// Connect to storage. An empty db_url selects the in-memory backend,
	// intended for local development only.
	var store storage.Backend
	if cfg.DBUrl == "" {
		log.Warn().Msg("no db_url configured, using in-memory storage (data is not persisted)")
		store = storage.NewMemoryBackend()
	} else {
		pg, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")
		store = pg
	}
	defer store.Close()

	// Create server
	srv := api.NewServer(store, masterKey, api.Config{
		ListenAddr:    cfg.ListenAddr,
		TLSCertFile:   cfg.TLSCertFile,
		TLSKeyFile:    cfg.TLSKeyFile,
		DBUrl:         cfg.DBUrl,
		MigrationsDir: cfg.MigrationsDir,
	})

	// Bootstrap an admin token on request (first start convenience).
	if cfg.BootstrapUser != 0 {
		plaintext, err := srv.BootstrapAdminToken(ctx, cfg.BootstrapUser)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to bootstrap admin token")
		}
		// Shown once; not persisted in plaintext anywhere.
		log.Info().Int64("user_id", cfg.BootstrapUser).Str("token", plaintext).Msg("bootstrap admin token created")
	}

	// Background sweeps: stale permission requests and domain gauges.
	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				srv.ExpireStaleRequests(sweepCtx)
				srv.RefreshDomainMetrics(sweepCtx)
			}
		}
	}()

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
}
