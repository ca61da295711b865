package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"poolrewards/core/state"
	"poolrewards/native/accrual"
	"poolrewards/native/boost"
	nativecommon "poolrewards/native/common"
	"poolrewards/native/rewards"
	"poolrewards/native/router"
	"poolrewards/observability/metrics"
	"poolrewards/storage"
)

// DefaultLockToken is the governance lock token read by boosted pools.
const DefaultLockToken = "LOCK"

var errNilDatabase = errors.New("processor: database required")

// Options configures a Processor.
type Options struct {
	Accrual   accrual.Params
	Boost     boost.Params
	LockToken string
	Pauses    nativecommon.PauseView
	Logger    *slog.Logger
}

// DefaultOptions returns the production engine parameters.
func DefaultOptions() Options {
	return Options{
		Accrual:   accrual.DefaultParams(),
		Boost:     boost.DefaultParams(),
		LockToken: DefaultLockToken,
	}
}

// Processor executes reward entry points against a database. Every entry
// point runs inside a cached overlay that is committed in one batch when it
// succeeds and dropped when it fails, so no entry point ever leaves a partial
// mutation behind. Entry points are serialised.
type Processor struct {
	mu      sync.Mutex
	db      storage.Database
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *metrics.ProcessorMetrics
}

// NewProcessor validates opts and binds the processor to db.
func NewProcessor(db storage.Database, opts Options) (*Processor, error) {
	if db == nil {
		return nil, errNilDatabase
	}
	if err := opts.Accrual.Validate(); err != nil {
		return nil, err
	}
	if _, err := boost.NewEngine(opts.Boost); err != nil {
		return nil, err
	}
	opts.LockToken = strings.ToUpper(strings.TrimSpace(opts.LockToken))
	if opts.LockToken == "" {
		opts.LockToken = DefaultLockToken
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		db:      db,
		opts:    opts,
		logger:  logger,
		tracer:  otel.Tracer("poolrewards/core"),
		metrics: metrics.Processor(),
	}, nil
}

// Env is the set of engines wired to one execution's state overlay.
type Env struct {
	ID       string
	State    *state.Manager
	Accrual  *accrual.Engine
	Rewards  *rewards.Engine
	Boost    *boost.Engine
	Router   *router.Engine
	Logger   *slog.Logger
	registry *poolRegistry
	pools    *poolDispatcher
}

func (p *Processor) newEnv(db storage.Database, id string) (*Env, error) {
	logger := p.logger.With("exec_id", id)
	mgr := state.NewManager(db)
	stakes := &stakeView{state: mgr}
	locks := &lockView{state: mgr, token: p.opts.LockToken}
	registry := &poolRegistry{state: mgr}

	acc, err := accrual.NewEngine(p.opts.Accrual)
	if err != nil {
		return nil, err
	}
	acc.SetState(mgr)
	acc.SetLogger(logger)

	rw := rewards.NewEngine(acc)
	rw.SetState(mgr)
	rw.SetStakeView(stakes)
	rw.SetBank(mgr)
	rw.SetPauses(p.opts.Pauses)
	rw.SetLogger(logger)

	bst, err := boost.NewEngine(p.opts.Boost)
	if err != nil {
		return nil, err
	}
	bst.SetState(mgr)
	bst.SetStakeView(stakes)
	bst.SetLockView(locks)
	bst.SetBank(mgr)
	bst.SetPauses(p.opts.Pauses)
	bst.SetLogger(logger)

	dispatcher := &poolDispatcher{registry: registry, standard: rw, boosted: bst}

	rt := router.NewEngine()
	rt.SetState(mgr)
	rt.SetAuthorizer(mgr)
	rt.SetBank(mgr)
	rt.SetOracle(&liquidityOracle{state: mgr})
	rt.SetRegistry(registry)
	rt.SetPoolRewards(dispatcher)
	rt.SetPauses(p.opts.Pauses)
	rt.SetLogger(logger)

	return &Env{
		ID:       id,
		State:    mgr,
		Accrual:  acc,
		Rewards:  rw,
		Boost:    bst,
		Router:   rt,
		Logger:   logger,
		registry: registry,
		pools:    dispatcher,
	}, nil
}

// execute runs fn inside a fresh overlay and commits it when fn succeeds.
func (p *Processor) execute(ctx context.Context, op string, fn func(ctx context.Context, env *Env) error) error {
	return p.run(ctx, op, true, fn)
}

// query runs fn inside a fresh overlay and always discards it.
func (p *Processor) query(ctx context.Context, op string, fn func(ctx context.Context, env *Env) error) error {
	return p.run(ctx, op, false, fn)
}

func (p *Processor) run(ctx context.Context, op string, commit bool, fn func(ctx context.Context, env *Env) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	id := uuid.NewString()
	ctx, span := p.tracer.Start(ctx, "rewards."+op,
		trace.WithAttributes(attribute.String("exec.id", id), attribute.Bool("exec.commit", commit)))
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.ObserveExecution(op, err, time.Since(start))
		if commit {
			p.logger.Warn("execution rolled back", "op", op, "exec_id", id, "error", err)
		}
		return err
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	cache := storage.NewCacheDB(p.db)
	defer cache.Discard()
	env, err := p.newEnv(cache, id)
	if err != nil {
		return fail(err)
	}
	if err := fn(ctx, env); err != nil {
		return fail(err)
	}
	if commit {
		writes := cache.Pending()
		if err := cache.Commit(); err != nil {
			return fail(err)
		}
		p.metrics.ObserveCommit(writes)
		p.logger.Debug("execution committed", "op", op, "exec_id", id, "writes", writes)
	}
	span.SetStatus(codes.Ok, op)
	p.metrics.ObserveExecution(op, nil, time.Since(start))
	return nil
}
