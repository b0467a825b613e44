package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/checkonaut/internal/bridge"
	"github.com/roach88/checkonaut/internal/document"
	"github.com/roach88/checkonaut/internal/ir"
	"github.com/roach88/checkonaut/internal/results"
	"github.com/roach88/checkonaut/internal/script"
)

// DefaultTimeout bounds a single load or entrypoint invocation.
const DefaultTimeout = 10 * time.Second

// Engine runs check scripts against documents.
// An Engine holds no per-run state and may be reused.
type Engine struct {
	loader  *script.Loader
	logger  zerolog.Logger
	timeout time.Duration
	workers int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Default: zerolog.Nop().
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithTimeout bounds each script load and each entrypoint invocation.
// Default: DefaultTimeout. A non-positive value keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithWorkers sets how many check files run concurrently.
// Default: GOMAXPROCS. A non-positive value keeps the default.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New creates an Engine that instantiates scripts with loader.
func New(loader *script.Loader, opts ...Option) *Engine {
	e := &Engine{
		loader:  loader,
		logger:  zerolog.Nop(),
		timeout: DefaultTimeout,
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run evaluates every check against every object of every document and
// appends the outcome to sink. Scripts that are not classified as checks are
// skipped. Failures of individual scripts or invocations are recorded in
// sink; Run itself only fails when ctx is cancelled.
func (e *Engine) Run(ctx context.Context, checks []*script.Script, docs []*document.Document, sink *results.Aggregator) error {
	batches := make([]*results.Batch, len(checks))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, s := range checks {
		if s.Kind != script.KindCheck {
			e.logger.Debug().Str("path", s.Path).Stringer("kind", s.Kind).Msg("skipping non-check script")
			continue
		}
		g.Go(func() error {
			batches[i] = e.runCheck(ctx, s, docs)
			return nil
		})
	}
	_ = g.Wait()

	for _, b := range batches {
		sink.Append(b)
	}
	return ctx.Err()
}

// runCheck evaluates one check file in its own state.
func (e *Engine) runCheck(ctx context.Context, s *script.Script, docs []*document.Document) *results.Batch {
	batch := results.NewBatch()
	if ctx.Err() != nil {
		return batch
	}
	log := e.logger.With().Str("check", s.Path).Logger()

	loadCtx, cancel := context.WithTimeout(ctx, e.timeout)
	inst, err := e.loader.Instantiate(loadCtx, s)
	timedOut := errors.Is(loadCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		msg := err.Error()
		if timedOut {
			msg = fmt.Sprintf("loading exceeded time limit of %s", e.timeout)
		}
		log.Warn().Err(err).Msg("check failed to load")
		batch.AddError(results.ExecError{Kind: results.KindLoad, File: s.Path, Message: msg})
		return batch
	}
	defer inst.Close()

	for _, doc := range docs {
		for i, obj := range doc.Objects {
			if ctx.Err() != nil {
				return batch
			}
			e.invoke(ctx, inst, doc, i+1, obj, batch)
		}
	}
	log.Debug().Int("issues", len(batch.Issues)).Int("errors", len(batch.Errors)).Msg("check finished")
	return batch
}

// invoke calls the entrypoint for one object and records the outcome.
func (e *Engine) invoke(ctx context.Context, inst *script.Instance, doc *document.Document, index int, obj ir.IRValue, batch *results.Batch) {
	L := inst.L
	checkPath := inst.Script.Path

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("check", checkPath).Str("document", doc.Path).Int("index", index).
				Interface("panic", r).Msg("invocation panicked")
			batch.AddError(results.ExecError{
				Kind: results.KindRuntime, File: checkPath, Document: doc.Path, Index: index,
				Message: fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	ret, err := inst.Call(callCtx, script.EntrypointName, bridge.ToLua(L, obj), invocationContext(L, doc.Path, checkPath, index))
	if err != nil {
		kind, msg := results.KindRuntime, err.Error()
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			kind = results.KindTimeout
			msg = fmt.Sprintf("Check exceeded time limit of %s", e.timeout)
		}
		e.logger.Debug().Str("check", checkPath).Str("document", doc.Path).Int("index", index).
			Str("kind", string(kind)).Msg(msg)
		batch.AddError(results.ExecError{
			Kind: kind, File: checkPath, Document: doc.Path, Index: index, Message: msg,
		})
		return
	}

	res, err := Normalize(L, ret)
	if err != nil {
		batch.AddError(results.ExecError{
			Kind: results.KindContract, File: checkPath, Document: doc.Path, Index: index, Message: err.Error(),
		})
		return
	}

	for _, issue := range Flatten(res) {
		issue.Document = doc.Path
		issue.Check = checkPath
		issue.Index = index
		batch.AddIssue(issue)
	}
}

// invocationContext builds the table passed as the entrypoint's second
// argument. A fresh table is built per call.
func invocationContext(L *lua.LState, docPath, checkPath string, index int) *lua.LTable {
	tbl := L.CreateTable(0, 3)
	tbl.RawSetString("document", lua.LString(docPath))
	tbl.RawSetString("check", lua.LString(checkPath))
	tbl.RawSetString("index", lua.LNumber(index))
	return tbl
}
