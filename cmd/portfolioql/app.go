package main

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/kruthik-b-s/portfolio/internal/config"
	"github.com/kruthik-b-s/portfolio/internal/logger"
	"github.com/kruthik-b-s/portfolio/pkg/catalog"
	"github.com/kruthik-b-s/portfolio/pkg/metrics"
	"github.com/kruthik-b-s/portfolio/pkg/source"
	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

// app holds the wiring shared by every command.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *catalog.Registry
	store    source.Store
	engine   *sql.Engine
	closers  []func()
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		return nil, fmt.Errorf("error initializing logger: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: catalog.Portfolio(),
	}
	a.closers = append(a.closers, func() { _ = log.Close() })

	if err := a.openStore(); err != nil {
		a.Close()
		return nil, err
	}

	a.engine = sql.NewEngine(a.registry, a.store,
		sql.WithLogger(log.Named("engine").Zap()),
		sql.WithMessages(messagesFor(cfg.Query.Messages)),
		sql.WithObserver(metrics.QueryObserver{}),
	)
	return a, nil
}

// openStore builds the table store selected by source.driver.
func (a *app) openStore() error {
	src := a.cfg.Source
	switch strings.ToLower(src.Driver) {
	case config.DriverMemory:
		a.store = source.NewMemory(nil)

	case config.DriverFixture:
		var (
			m   *source.Memory
			err error
		)
		if src.FixturePath == "" {
			m, err = source.Sample()
		} else {
			m, err = source.LoadFixture(src.FixturePath)
		}
		if err != nil {
			return fmt.Errorf("error loading fixture: %w", err)
		}
		a.store = m

	case config.DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		pg, err := source.OpenPostgres(ctx, src.PostgresDSN, a.registry)
		if err != nil {
			return fmt.Errorf("error connecting to postgres: %w", err)
		}
		a.store = pg
		a.closers = append(a.closers, pg.Close)

	default:
		return fmt.Errorf("invalid source driver: %s", src.Driver)
	}

	a.log.Debugw("store ready", "driver", src.Driver)
	return nil
}

// queryContext derives the per-query context bounded by fetch_timeout_sec.
func (a *app) queryContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if timeout := a.cfg.Source.FetchTimeout(); timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

// Close releases the store and flushes the logger, last opened first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func messagesFor(style string) sql.MessageProvider {
	if strings.EqualFold(style, "sarcastic") {
		return sql.NewSarcasticMessages(rand.New(rand.NewSource(time.Now().UnixNano())))
	}
	return sql.PlainMessages{}
}
