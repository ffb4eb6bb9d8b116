package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/pix-charges/internal/config"
	"github.com/akylbek/payment-system/pix-charges/internal/gateway"
	"github.com/akylbek/payment-system/pix-charges/internal/interfaces"
	"github.com/akylbek/payment-system/pix-charges/internal/repository"
)

// openStore returns the configured charge store and a func that releases it.
func openStore(cfg config.DatabaseConfig) (interfaces.ChargeRepository, func() error, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		repo := repository.NewChargeRepository(db)
		if err := repo.InitDB(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("init database: %w", err)
		}
		return repo, db.Close, nil
	case "bolt":
		repo, err := repository.NewBoltChargeRepository(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.Driver)
	}
}

// newGatewayClient builds the mTLS client shared by the token exchange and
// the charge endpoints.
func newGatewayClient(cfg config.GatewayConfig, logger *zap.Logger) (*gateway.Client, error) {
	hc, err := gateway.NewHTTPClient(gateway.TLSConfig{
		CertFile: cfg.CertFile,
		KeyFile:  cfg.KeyFile,
		CAFile:   cfg.CAFile,
	}, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	tokens := gateway.NewCredentialCache(gateway.AuthConfig{
		TokenURL:        cfg.TokenURL,
		ClientID:        cfg.ClientID,
		Scope:           cfg.Scope,
		SafetyMargin:    cfg.TokenMargin,
		DefaultLifetime: cfg.DefaultTokenTTL,
	}, hc, logger)

	return gateway.NewClient(cfg.BaseURL, hc, tokens, logger), nil
}
