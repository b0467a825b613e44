package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/checkonaut/internal/bridge"
	"github.com/roach88/checkonaut/internal/ir"
	"github.com/roach88/checkonaut/internal/results"
	"github.com/roach88/checkonaut/internal/script"
)

// DefaultTimeout bounds loading a test file and running one test function.
const DefaultTimeout = 10 * time.Second

// Harness runs test scripts.
type Harness struct {
	loader  *script.Loader
	logger  zerolog.Logger
	timeout time.Duration
	workers int
	binding Binding
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the harness logger. Default: zerolog.Nop().
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithTimeout bounds each load and each test function.
// A non-positive value keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(h *Harness) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithWorkers sets how many test files run concurrently.
// A non-positive value keeps the default of GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(h *Harness) {
		if n > 0 {
			h.workers = n
		}
	}
}

// WithBinding sets the binding mode. Default: BindingImplicit.
func WithBinding(b Binding) Option {
	return func(h *Harness) {
		h.binding = b
	}
}

// New creates a Harness that builds states with loader.
func New(loader *script.Loader, opts ...Option) *Harness {
	h := &Harness{
		loader:  loader,
		logger:  zerolog.Nop(),
		timeout: DefaultTimeout,
		workers: runtime.GOMAXPROCS(0),
		binding: BindingImplicit,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes every test script and appends outcomes and load errors to
// sink, in the order of tests. Scripts not classified as tests are skipped.
// Run only fails when ctx is cancelled.
func (h *Harness) Run(ctx context.Context, tests []*script.Script, sink *results.Aggregator) error {
	batches := make([]*results.Batch, len(tests))

	var g errgroup.Group
	g.SetLimit(h.workers)
	for i, s := range tests {
		if s.Kind != script.KindTest {
			h.logger.Debug().Str("path", s.Path).Stringer("kind", s.Kind).Msg("skipping non-test script")
			continue
		}
		g.Go(func() error {
			batches[i] = h.RunFile(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	for _, b := range batches {
		sink.Append(b)
	}
	return ctx.Err()
}

// RunFile executes the tests of one test script in a fresh state.
func (h *Harness) RunFile(ctx context.Context, s *script.Script) *results.Batch {
	batch := results.NewBatch()
	if ctx.Err() != nil {
		return batch
	}
	log := h.logger.With().Str("file", s.Path).Logger()

	inst, err := h.loader.NewInstance(s)
	if err != nil {
		batch.AddError(results.ExecError{Kind: results.KindLoad, File: s.Path, Message: err.Error()})
		return batch
	}
	defer inst.Close()

	if err := h.load(ctx, inst); err != nil {
		log.Warn().Err(err).Msg("test file failed to load")
		batch.AddError(results.ExecError{Kind: results.KindLoad, File: s.Path, Message: err.Error()})
		return batch
	}

	names := inst.Functions(script.TestPrefix)
	if len(names) == 0 {
		log.Debug().Msg("idle test file")
		return batch
	}

	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		outcome := h.runTest(ctx, inst, name)
		log.Debug().Str("test", name).Bool("passed", outcome.Passed).Msg("test finished")
		batch.AddOutcome(outcome)
	}
	return batch
}

// load binds the sibling check (implicit mode) and executes the test script.
func (h *Harness) load(ctx context.Context, inst *script.Instance) error {
	s := inst.Script

	if h.binding == BindingImplicit {
		if checkPath, ok := script.SiblingCheckPath(s.Path); ok {
			if err := h.bind(ctx, inst, checkPath); err != nil {
				return err
			}
		}
	}

	loadCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := inst.Exec(loadCtx, s); err != nil {
		if errors.Is(loadCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("loading exceeded time limit of %s", h.timeout)
		}
		return err
	}
	return nil
}

func (h *Harness) bind(ctx context.Context, inst *script.Instance, checkPath string) error {
	if _, err := os.Stat(checkPath); errors.Is(err, os.ErrNotExist) {
		h.logger.Debug().Str("file", inst.Script.Path).Str("check", checkPath).Msg("no sibling check to bind")
		return nil
	}

	check, err := h.loader.Compile(checkPath)
	if err != nil {
		return fmt.Errorf("bind check: %w", err)
	}

	loadCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := inst.Exec(loadCtx, check); err != nil {
		if errors.Is(loadCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("bind check %s: loading exceeded time limit of %s", checkPath, h.timeout)
		}
		return fmt.Errorf("bind check: %w", err)
	}
	return nil
}

// runTest calls one test function. Any error or non-nil return fails it.
func (h *Harness) runTest(ctx context.Context, inst *script.Instance, name string) results.TestOutcome {
	outcome := results.TestOutcome{File: inst.Script.Path, Name: name}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	ret, err := inst.Call(callCtx, name)
	switch {
	case err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded):
		outcome.Message = fmt.Sprintf("test exceeded time limit of %s", h.timeout)
	case err != nil:
		outcome.Message = err.Error()
	case ret != lua.LNil:
		outcome.Message = renderReturn(inst.L, ret)
	default:
		outcome.Passed = true
	}
	return outcome
}

// renderReturn formats a test's return value as canonical JSON.
func renderReturn(L *lua.LState, ret lua.LValue) string {
	v, err := bridge.FromLua(L, ret)
	if err != nil {
		return fmt.Sprintf("returned a value that cannot be rendered: %v", err)
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("returned a value that cannot be rendered: %v", err)
	}
	return string(data)
}
