package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"gorm.io/gorm"

	"blendrates/native/lending"
	telemetry "blendrates/observability/otel"
	"blendrates/services/lending/engine"
	"blendrates/services/lending/history"
	lendingserver "blendrates/services/lending/server"
	"blendrates/services/lending/store"
	"blendrates/services/lendingd/config"
	"blendrates/storage"
)

// app owns the long-lived resources of the daemon.
type app struct {
	db      storage.Database
	history *gorm.DB
	server  *lendingserver.Server
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	db, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	a := &app{db: db}
	storeOpts := []store.Option{store.WithLogger(logger)}
	engineOpts := []engine.Option{engine.WithLogger(logger)}
	if cfg.History.Enabled() {
		gdb, err := history.Open(cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.history = gdb
		recorder := history.NewRecorder(gdb)
		storeOpts = append(storeOpts, store.WithRecorder(recorder))
		engineOpts = append(engineOpts, engine.WithHistory(recorder))
	}
	if ceiling := cfg.Rates.Ceiling(); ceiling.IsPositive() {
		engineOpts = append(engineOpts, engine.WithAPYCeiling(ceiling))
	}

	eng := engine.New(store.New(db, storeOpts...), engineOpts...)
	a.server = lendingserver.New(eng, logger, lendingserver.Config{
		ServiceName: "lendingd",
		Auth:        cfg.Auth,
		RateLimit:   cfg.RateLimit,
	})
	return a, nil
}

func (a *app) Handler() http.Handler {
	return a.server.Handler()
}

// Close releases the modifier store and the history connection pool. Both
// are attempted and their errors joined.
func (a *app) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.history != nil {
		sqlDB, err := a.history.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
		a.history = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close modifier store: %w", err))
		}
		a.db = nil
	}
	return errors.Join(errs...)
}

// telemetryConfig layers the telemetry section of cfg over the OTEL_*
// environment and tags the resource with how this daemon was started.
func telemetryConfig(cfg config.Config) telemetry.Config {
	tc := telemetry.ConfigFromEnv("lendingd", cfg.Environment)
	if cfg.Telemetry.Endpoint != "" {
		tc.Endpoint = cfg.Telemetry.Endpoint
		tc.Insecure = cfg.Telemetry.Insecure
		tc.Traces, tc.Metrics = true, true
	}
	if len(cfg.Telemetry.Headers) > 0 {
		if tc.Headers == nil {
			tc.Headers = make(map[string]string, len(cfg.Telemetry.Headers))
		}
		for k, v := range cfg.Telemetry.Headers {
			tc.Headers[k] = v
		}
	}
	if cfg.Telemetry.DisableTraces {
		tc.Traces = false
	}
	if cfg.Telemetry.DisableMetrics {
		tc.Metrics = false
	}

	storageKind := "memory"
	if cfg.Storage.Path != "" {
		storageKind = "leveldb"
	}
	historyDriver := "disabled"
	if cfg.History.Enabled() {
		historyDriver = cfg.History.Driver
	}
	ceiling := lending.DefaultAPYCeiling
	if c := cfg.Rates.Ceiling(); c.IsPositive() {
		ceiling = c
	}
	tc.Attributes = map[string]string{
		"rates.storage":     storageKind,
		"rates.history":     historyDriver,
		"rates.apy_ceiling": ceiling.String(),
	}
	return tc
}

func openStorage(cfg config.StorageConfig) (storage.Database, error) {
	if cfg.Path == "" {
		return storage.NewMemDB(), nil
	}
	db, err := storage.NewLevelDB(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open modifier store: %w", err)
	}
	return db, nil
}

func loadServerTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, errors.New("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	} else {
		tlsCfg.ClientAuth = tls.NoClientCert
	}
	return tlsCfg, nil
}
