package paginate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"poolScope/internal/chain"
)

// Mode decides what a hard window failure does to the whole run.
type Mode int

const (
	// Strict fails the run when any window fails.
	Strict Mode = iota
	// Tolerant logs failed windows and returns what the other windows produced.
	Tolerant
)

func (m Mode) String() string {
	if m == Tolerant {
		return "tolerant"
	}
	return "strict"
}

// Config controls how a range is cut and fetched.
type Config struct {
	// Name labels log lines.
	Name           string
	WindowSize     uint64
	MaxConcurrency int
	// MaxSplitDepth bounds how many times a window may be halved.
	MaxSplitDepth int
	Mode          Mode
	// Bisect retries oversized windows as two halves.
	Bisect bool
	// OnProgress, if set, is called once per settled top-level window from a single goroutine.
	OnProgress func(Progress)
	// OnBisect, if set, is called for every window that gets halved. It may be called concurrently.
	OnBisect func(Window)
	// OnFailure, if set, is called for every sub-range that failed hard. It may be called concurrently.
	OnFailure func(*WindowError)
}

// DefaultConfig returns a strict, bisecting configuration.
func DefaultConfig(name string, windowSize uint64) Config {
	return Config{
		Name:           name,
		WindowSize:     windowSize,
		MaxConcurrency: 4,
		MaxSplitDepth:  8,
		Mode:           Strict,
		Bisect:         true,
	}
}

// Progress is a snapshot of a running pagination.
type Progress struct {
	Settled int
	Total   int
	Items   int
	Failed  int
}

// WindowError is a window that failed after any bisection was exhausted.
type WindowError struct {
	Window Window
	Depth  int
	Err    error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("window %s (split depth %d): %v", e.Window, e.Depth, e.Err)
}

func (e *WindowError) Unwrap() error {
	return e.Err
}

// Paginator fans a range out over bounded concurrent window fetches.
type Paginator struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a paginator.
func New(cfg Config, logger *zap.Logger) *Paginator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	if cfg.MaxSplitDepth < 0 {
		cfg.MaxSplitDepth = 0
	}
	return &Paginator{cfg: cfg, logger: logger.With(zap.String("paginator", cfg.Name))}
}

type slot[T any] struct {
	items []T
	err   error
}

type settled struct {
	items  int
	failed bool
}

// Run fetches [from, to) window by window and returns the results in window order.
// A failing window never cancels its siblings; cancelling ctx aborts the run.
func Run[T any](ctx context.Context, p *Paginator, from, to uint64, fetch func(context.Context, Window) ([]T, error)) ([]T, error) {
	windows, err := Split(from, to, p.cfg.WindowSize)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, nil
	}

	progress := make(chan settled, len(windows))
	done := make(chan Progress)
	go func() {
		state := Progress{Total: len(windows)}
		for event := range progress {
			state.Settled++
			state.Items += event.items
			if event.failed {
				state.Failed++
			}
			p.logger.Debug("window settled",
				zap.Int("settled", state.Settled),
				zap.Int("total", state.Total),
				zap.Int("items", state.Items),
			)
			if p.cfg.OnProgress != nil {
				p.cfg.OnProgress(state)
			}
		}
		done <- state
	}()

	slots := make([]slot[T], len(windows))
	group := new(errgroup.Group)
	group.SetLimit(p.cfg.MaxConcurrency)
	for i, window := range windows {
		i, window := i, window
		group.Go(func() error {
			items, err := fetchWindow(ctx, p, window, 0, fetch)
			slots[i] = slot[T]{items: items, err: err}
			progress <- settled{items: len(items), failed: err != nil}
			return nil
		})
	}
	_ = group.Wait()
	close(progress)
	final := <-done

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		out      []T
		failures []error
	)
	for _, s := range slots {
		if s.err != nil {
			failures = append(failures, s.err)
		}
		out = append(out, s.items...)
	}

	if len(failures) > 0 {
		if p.cfg.Mode == Strict {
			return nil, errors.Join(failures...)
		}
		for _, failure := range failures {
			p.logger.Warn("window failed", zap.Error(failure))
		}
		p.logger.Info("pagination finished with failed windows",
			zap.Int("failed", final.Failed),
			zap.Int("windows", final.Total),
			zap.Int("items", len(out)),
		)
	}
	return out, nil
}

// fetchWindow fetches one window, halving it while the response is oversized. It
// returns the items of every sub-range that succeeded alongside the failures of
// the ones that did not.
func fetchWindow[T any](ctx context.Context, p *Paginator, window Window, depth int, fetch func(context.Context, Window) ([]T, error)) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := fetch(ctx, window)
	if err == nil {
		return items, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	fail := func(err error) ([]T, error) {
		windowErr := &WindowError{Window: window, Depth: depth, Err: err}
		if p.cfg.OnFailure != nil {
			p.cfg.OnFailure(windowErr)
		}
		return nil, windowErr
	}
	if !p.cfg.Bisect || !chain.IsOversized(err) {
		return fail(err)
	}
	if window.Size() <= 1 {
		return fail(fmt.Errorf("cannot split further: %w", err))
	}
	if depth >= p.cfg.MaxSplitDepth {
		return fail(fmt.Errorf("split depth exhausted: %w", err))
	}

	left, right := window.Halves()
	p.logger.Debug("bisect window",
		zap.Stringer("window", window),
		zap.Int("depth", depth+1),
		zap.Error(err),
	)
	if p.cfg.OnBisect != nil {
		p.cfg.OnBisect(window)
	}

	leftItems, leftErr := fetchWindow(ctx, p, left, depth+1, fetch)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rightItems, rightErr := fetchWindow(ctx, p, right, depth+1, fetch)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append(leftItems, rightItems...), errors.Join(leftErr, rightErr)
}
