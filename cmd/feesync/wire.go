package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/feesync/internal/adapter/driven/mollie"
	"github.com/ericfisherdev/feesync/internal/adapter/driven/pspclient"
	sqliteadapter "github.com/ericfisherdev/feesync/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/feesync/internal/adapter/driven/sumup"
	"github.com/ericfisherdev/feesync/internal/application"
	"github.com/ericfisherdev/feesync/internal/config"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

// app holds the wired adapters and services shared by every subcommand.
type app struct {
	cfg         *config.Config
	db          *sqliteadapter.DB
	credentials *sqliteadapter.CredentialRepo
	payments    *sqliteadapter.PaymentRepo
	registry    *application.ProviderRegistry
	syncSvc     *application.SyncService
}

// openApp loads configuration, opens and migrates the database and wires the
// sync pipeline. Callers must Close the returned app.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(cfg.NewLogger())

	// Without the key every credential read fails and fees would silently
	// fall back to estimates.
	if cfg.SecretKey == nil {
		return nil, fmt.Errorf("FEESYNC_SECRET_KEY is required: %w", driven.ErrEncryptionKeyNotSet)
	}

	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	version, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Debug("database ready", "path", cfg.DBPath, "schema_version", version)

	a := &app{
		cfg:         cfg,
		db:          db,
		credentials: sqliteadapter.NewCredentialRepo(db, cfg.SecretKey),
		payments:    sqliteadapter.NewPaymentRepo(db),
		registry:    application.NewProviderRegistry(providerClients(cfg)...),
	}

	a.syncSvc = application.NewSyncService(
		a.registry,
		application.NewCredentialManager(a.credentials, cfg.RefreshMargin),
		sqliteadapter.NewFeeCacheRepo(db),
		sqliteadapter.NewSettlementRateRepo(db),
		a.payments,
		sqliteadapter.NewSyncLogRepo(db),
		application.NewEstimator(nil),
		application.NewMatcher(cfg.MatchWindow),
		application.SyncConfig{
			CacheTTL:       cfg.CacheTTL,
			Workers:        cfg.Workers,
			MaxRetries:     cfg.MaxRetries,
			CallTimeout:    cfg.CallTimeout,
			BackoffInitial: cfg.BackoffInitial,
			BackoffMax:     cfg.BackoffMax,
		},
	)

	return a, nil
}

// providerClients builds a client for every enabled provider. All clients
// share one Transports so per-account caches live for the process lifetime.
func providerClients(cfg *config.Config) []driven.ProviderClient {
	transports := pspclient.NewTransports(nil, cfg.CallTimeout)

	var clients []driven.ProviderClient
	if cfg.Mollie.Enabled {
		clients = append(clients, mollie.NewClient(mollie.Config{
			BaseURL: cfg.Mollie.BaseURL,
			OAuth:   oauthConfig(cfg.Mollie),
		}, transports))
	}
	if cfg.SumUp.Enabled {
		clients = append(clients, sumup.NewClient(sumup.Config{
			BaseURL: cfg.SumUp.BaseURL,
			OAuth:   oauthConfig(cfg.SumUp),
		}, transports))
	}
	return clients
}

func oauthConfig(p config.ProviderConfig) pspclient.OAuthConfig {
	return pspclient.OAuthConfig{
		ClientID:     p.ClientID,
		ClientSecret: p.ClientSecret,
		TokenURL:     p.TokenURL,
	}
}

// Close releases the database connections.
func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
