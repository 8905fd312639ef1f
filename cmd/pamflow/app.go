package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/savegress/pamflow/internal/api"
	"github.com/savegress/pamflow/internal/config"
	"github.com/savegress/pamflow/internal/hl7v2"
	"github.com/savegress/pamflow/internal/identifier"
	"github.com/savegress/pamflow/internal/metrics"
	"github.com/savegress/pamflow/internal/scenario"
	"github.com/savegress/pamflow/internal/store"
	"github.com/savegress/pamflow/internal/transition"
	"github.com/savegress/pamflow/internal/validation"
)

// app wires the services of one process from its configuration.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	decoder *hl7v2.Decoder
	pam     *validation.PAMValidator
	mfn     *validation.MFNValidator
	machine *transition.Machine
	tables  *scenario.Tables

	backend store.Backend
	venues  store.VenueStore
	ids     *identifier.Service
	engine  *scenario.Engine
	player  *scenario.Player

	closers []func() error
}

// newApp builds the stateless services. Stores are opened by openStores.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.New(),
		decoder: hl7v2.NewDecoder(&hl7v2.DecoderConfig{Logger: logger}),
		pam: validation.NewPAMValidator(&validation.PAMConfig{
			ExtraMovementCodes: cfg.Validation.MovementCodes,
		}),
		mfn: validation.NewMFNValidator(&validation.MFNConfig{
			ExtraLocationTypes: cfg.Validation.LocationTypes,
			OrphanLCHTolerant:  cfg.Validation.OrphanLCHTolerant,
		}),
	}

	table := transition.DefaultTable()
	if path := cfg.Transitions.TableFile; path != "" {
		loaded, err := transition.LoadTable(path)
		if err != nil {
			return nil, err
		}
		table = loaded
	}
	machine, err := transition.NewMachine(&transition.Config{Table: table, Logger: logger})
	if err != nil {
		return nil, err
	}
	a.machine = machine

	a.tables = scenario.DefaultTables()
	if path := cfg.Scenario.TablesFile; path != "" {
		if a.tables, err = scenario.LoadTables(path); err != nil {
			return nil, err
		}
	}

	if err := a.buildEngine(); err != nil {
		return nil, err
	}

	logger.Debug("services ready",
		"transition_rules", machine.Version(),
		"scenario_tables", a.tables.Version)
	return a, nil
}

func (a *app) buildEngine() error {
	loc, err := a.cfg.Scenario.TimeLocation()
	if err != nil {
		return err
	}
	a.engine = scenario.NewEngine(&scenario.Config{
		Tables:      a.tables,
		Identifiers: a.ids,
		Location:    loc,
		Metrics:     a.metrics,
		Logger:      a.logger,
	})
	return nil
}

// openStores opens the identifier backend and the venue store, seeds the
// configured namespaces and rebuilds the engine with identifier issuance.
func (a *app) openStores(ctx context.Context) error {
	backend, err := openBackend(ctx, a.cfg.Store)
	if err != nil {
		return err
	}
	a.backend = backend
	a.closers = append(a.closers, backend.Close)

	if err := store.Seed(ctx, backend, a.cfg.Identifiers.Namespaces); err != nil {
		return fmt.Errorf("seeding namespaces: %w", err)
	}

	venues, ok := backend.(store.VenueStore)
	if a.cfg.Redis.Addr != "" {
		redisVenues, err := store.NewRedisVenues(store.RedisConfig{
			Addr:      a.cfg.Redis.Addr,
			Password:  a.cfg.Redis.Password,
			DB:        a.cfg.Redis.DB,
			KeyPrefix: a.cfg.Redis.KeyPrefix,
			TTL:       a.cfg.Redis.TTL,
		})
		if err != nil {
			return err
		}
		venues, ok = redisVenues, true
		a.closers = append(a.closers, redisVenues.Close)
	}
	if !ok {
		return fmt.Errorf("store backend %s keeps no venue state", a.cfg.Store.Backend)
	}
	a.venues = venues

	a.ids = identifier.NewService(backend, backend, &identifier.Config{
		MaxAttempts:     a.cfg.Identifiers.MaxAttempts,
		SequentialFloor: a.cfg.Identifiers.SequentialFloor,
		Metrics:         a.metrics,
		Logger:          a.logger,
	})

	a.logger.Info("stores opened",
		"backend", a.cfg.Store.Backend,
		"redis_venues", a.cfg.Redis.Addr != "",
		"namespaces", len(a.cfg.Identifiers.Namespaces))
	return a.buildEngine()
}

func openBackend(ctx context.Context, cfg config.StoreConfig) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return store.NewSQLite(cfg.SQLitePath)
	case config.BackendPostgres:
		return store.NewPostgres(ctx, store.PostgresConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: int32(cfg.MaxConns),
			MinConns: int32(cfg.MinConns),
		})
	default:
		return store.NewMemory(), nil
	}
}

// connectReplay prepares the player for address. It needs open stores.
func (a *app) connectReplay(address string) {
	if address == "" {
		return
	}
	client := hl7v2.NewClient(&hl7v2.ClientConfig{
		Address:      address,
		UseTLS:       a.cfg.MLLP.UseTLS,
		Timeout:      a.cfg.MLLP.Timeout,
		ReadTimeout:  a.cfg.MLLP.ReadTimeout,
		WriteTimeout: a.cfg.MLLP.WriteTimeout,
	})
	a.closers = append(a.closers, client.Close)

	a.player = scenario.NewPlayer(&scenario.PlayerConfig{
		Machine: a.machine,
		Venues:  a.venues,
		Sender:  dialingSender{client: client},
		Engine:  a.engine,
		Metrics: a.metrics,
		Logger:  a.logger,
	})
}

func (a *app) dependencies() *api.Dependencies {
	return &api.Dependencies{
		Decoder:     a.decoder,
		PAM:         a.pam,
		MFN:         a.mfn,
		Machine:     a.machine,
		Identifiers: a.ids,
		Backend:     a.backend,
		Venues:      a.venues,
		Engine:      a.engine,
		Player:      a.player,
		Metrics:     a.metrics,
		Logger:      a.logger,
	}
}

// Close releases everything opened, last opened first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// dialingSender connects on first use and again after a dropped connection.
type dialingSender struct {
	client *hl7v2.Client
}

func (d dialingSender) Send(ctx context.Context, message string) (string, error) {
	if err := d.client.Connect(ctx); err != nil {
		return "", err
	}
	return d.client.Send(ctx, message)
}
