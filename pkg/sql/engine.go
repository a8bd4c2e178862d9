// Package sql evaluates read-only SELECT statements over the portfolio tables.
package sql

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kruthik-b-s/portfolio/internal/logger"
	"github.com/kruthik-b-s/portfolio/pkg/catalog"
	"github.com/kruthik-b-s/portfolio/pkg/source"
)

// Observer is notified once per execution. kind is "ok" on success and
// the KindName of the error otherwise.
type Observer interface {
	ObserveQuery(kind string, elapsed time.Duration, rows int)
}

// Engine executes read-only SELECT statements over a table store.
// It is safe for concurrent use; each execution owns its working rows.
type Engine struct {
	registry *catalog.Registry
	store    source.Store
	messages MessageProvider
	logger   *zap.Logger
	observer Observer
}

// Option configures an Engine.
type Option func(*Engine)

// WithMessages sets the provider of user-facing error text.
func WithMessages(m MessageProvider) Option {
	return func(e *Engine) {
		if m != nil {
			e.messages = m
		}
	}
}

// WithLogger sets the logger for per-stage debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers an execution observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

// NewEngine creates an engine over registry and store.
func NewEngine(registry *catalog.Registry, store source.Store, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		store:    store,
		messages: PlainMessages{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the schema the engine validates against.
func (e *Engine) Registry() *catalog.Registry {
	return e.registry
}

// Store returns the table store the engine reads from.
func (e *Engine) Store() source.Store {
	return e.store
}

// Execute parses, validates and evaluates one SELECT statement.
// Any failure is a *QueryError; no partial result is returned with it.
// ctx only bounds the table fetches.
func (e *Engine) Execute(ctx context.Context, text string) (*Result, error) {
	id := uuid.NewString()
	log := logger.ForQuery(e.logger, id)
	start := time.Now()

	res, err := e.run(ctx, log, text)
	elapsed := time.Since(start)

	if err != nil {
		qe := asQueryError(err)
		qe.Message = e.messages.Message(qe)
		log.Debug("query failed",
			zap.String("kind", KindName(qe)),
			zap.String("detail", qe.Detail),
			zap.Duration("elapsed", elapsed))
		e.observe(KindName(qe), elapsed, 0)
		return nil, qe
	}

	res.QueryID = id
	log.Debug("query finished",
		zap.String("table", res.PrimaryTable),
		zap.Int("rows", len(res.Rows)),
		zap.Duration("elapsed", elapsed))
	e.observe("ok", elapsed, len(res.Rows))
	return res, nil
}

func (e *Engine) observe(kind string, elapsed time.Duration, rows int) {
	if e.observer != nil {
		e.observer.ObserveQuery(kind, elapsed, rows)
	}
}

func (e *Engine) run(ctx context.Context, log *zap.Logger, text string) (*Result, error) {
	stmt, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if err := NewValidator(e.registry).Validate(stmt); err != nil {
		return nil, err
	}
	log.Debug("statement validated", zap.Stringer("statement", stmt))

	sets, err := newLoader(e.registry, e.store).loadAll(ctx, stmt.From)
	if err != nil {
		return nil, err
	}
	for i, src := range stmt.From {
		log.Debug("rows loaded", append(logger.Stage("load", len(sets[i])), zap.String("alias", src.Alias))...)
	}

	ev := NewEvaluator(stmt.PrimaryAlias())

	rows, err := joinSources(ev, stmt.From, sets)
	if err != nil {
		return nil, err
	}
	if len(stmt.From) > 1 {
		log.Debug("rows joined", logger.Stage("join", len(rows))...)
	}

	rows, err = filterRows(ev, stmt.Where, rows)
	if err != nil {
		return nil, err
	}

	if needsGrouping(stmt) {
		rows, err = groupRows(ev, rows, stmt.GroupBy, statementAggregates(stmt))
		if err != nil {
			return nil, err
		}
		log.Debug("rows grouped", logger.Stage("group", len(rows))...)

		rows, err = filterRows(ev, stmt.Having, rows)
		if err != nil {
			return nil, err
		}
	}

	if err := sortRows(ev, rows, stmt.OrderBy); err != nil {
		return nil, err
	}

	columns, projected, err := project(ev, outputColumns(stmt, e.registry), rows)
	if err != nil {
		return nil, err
	}
	if stmt.Distinct {
		projected = distinctRows(columns, projected)
	}
	projected = paginate(projected, stmt.Offset, stmt.Limit)

	if len(projected) == 0 {
		return nil, newError(ErrEmptyResult, "no rows matched the query")
	}

	return &Result{
		Columns:      columns,
		Rows:         projected,
		PrimaryTable: stmt.PrimaryTable(),
	}, nil
}

// filterRows keeps the rows for which cond holds. A nil cond keeps all.
func filterRows(ev *Evaluator, cond Expr, rows []catalog.Row) ([]catalog.Row, error) {
	if cond == nil {
		return rows, nil
	}
	out := make([]catalog.Row, 0, len(rows))
	for _, row := range rows {
		ok, err := ev.Match(cond, row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func asQueryError(err error) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	return &QueryError{Kind: ErrUnsupported, Detail: err.Error(), Err: err}
}
