// Package bulk runs one action per selected handle and aggregates the
// outcome.
//
// Items are independent: a failure never cancels its siblings, and Run only
// returns once every item has finished. The caller decides what to do with
// the selection afterwards.
package bulk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/3leaps/catalog/pkg/handle"
)

// DefaultSummaryLimit is how many failed handles a summary names before
// collapsing the rest into "and N more".
const DefaultSummaryLimit = 3

// Action names a bulk action for summaries and logs.
type Action struct {
	Verb string
	Past string
}

var (
	ActionDelete   = Action{Verb: "delete", Past: "Deleted"}
	ActionBookmark = Action{Verb: "bookmark", Past: "Bookmarked"}
)

// Config controls fan-out.
type Config struct {
	// Concurrency caps in-flight items. Zero means unbounded.
	Concurrency int

	// RateLimit caps item starts per second. Zero disables limiting.
	RateLimit float64

	// Logger receives one warning per failed item. Nil discards.
	Logger *zap.Logger

	// OnItem, when set, is called once per finished item with its error.
	// It may be called concurrently.
	OnItem func(action Action, err error)
}

// Func performs the action for one handle.
type Func func(ctx context.Context, loc handle.Location) error

// ItemError is the failure of one handle.
type ItemError struct {
	Handle handle.Location
	Err    error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.Handle, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// Result aggregates a bulk run. Succeeded and Failed follow input order.
type Result struct {
	Action    Action
	Total     int
	Succeeded []handle.Location
	Failed    []ItemError
	Duration  time.Duration

	// Markers are the prefix markers removed after their objects. They are
	// not part of Total.
	Markers []handle.Location
}

// OK reports whether every item succeeded.
func (r *Result) OK() bool {
	return len(r.Failed) == 0
}

// Err returns nil when every item succeeded, otherwise an *AggregateError.
func (r *Result) Err() error {
	if r.OK() {
		return nil
	}
	return &AggregateError{Result: r}
}

// Summary renders a user-facing message naming at most limit failed handles.
func (r *Result) Summary(limit int) string {
	if r.OK() {
		return fmt.Sprintf("%s %d %s", r.Action.Past, r.Total, plural(r.Total))
	}
	if limit <= 0 {
		limit = DefaultSummaryLimit
	}

	names := make([]string, 0, min(limit, len(r.Failed)))
	for _, f := range r.Failed[:min(limit, len(r.Failed))] {
		names = append(names, displayName(f.Handle))
	}
	msg := fmt.Sprintf("Failed to %s %d of %d %s: %s", r.Action.Verb, len(r.Failed), r.Total, plural(r.Total), strings.Join(names, ", "))
	if rest := len(r.Failed) - len(names); rest > 0 {
		msg += fmt.Sprintf(" and %d more", rest)
	}
	return msg
}

// AggregateError reports a partially failed run.
type AggregateError struct {
	Result *Result
}

func (e *AggregateError) Error() string {
	return e.Result.Summary(DefaultSummaryLimit)
}

// Unwrap exposes the per-item errors to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Result.Failed))
	for _, f := range e.Result.Failed {
		errs = append(errs, f)
	}
	return errs
}

// Run calls fn once per handle and waits for all of them.
//
// Context cancellation stops items that have not started yet; they are
// reported as failed with the context error.
func Run(ctx context.Context, action Action, handles []handle.Location, fn Func, cfg Config) *Result {
	start := time.Now()
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	errs := make([]error, len(handles))

	var g errgroup.Group
	if cfg.Concurrency > 0 {
		g.SetLimit(cfg.Concurrency)
	}
	for i, loc := range handles {
		g.Go(func() error {
			errs[i] = runOne(ctx, limiter, loc, fn)
			if cfg.OnItem != nil {
				cfg.OnItem(action, errs[i])
			}
			if errs[i] != nil {
				logger.Warn("bulk item failed",
					zap.String("action", action.Verb),
					zap.Stringer("handle", loc),
					zap.Error(errs[i]),
				)
			}
			// Item errors never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Action: action, Total: len(handles), Duration: time.Since(start)}
	for i, loc := range handles {
		if errs[i] != nil {
			res.Failed = append(res.Failed, ItemError{Handle: loc, Err: errs[i]})
			continue
		}
		res.Succeeded = append(res.Succeeded, loc)
	}

	logger.Info("bulk action finished",
		zap.String("action", action.Verb),
		zap.Int("total", res.Total),
		zap.Int("failed", len(res.Failed)),
		zap.Duration("duration", res.Duration),
	)
	return res
}

func runOne(ctx context.Context, limiter *rate.Limiter, loc handle.Location, fn Func) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, loc)
}

func plural(n int) string {
	if n == 1 {
		return "object"
	}
	return "objects"
}

// displayName is the last path element of a handle, keeping a trailing "/"
// for prefixes.
func displayName(loc handle.Location) string {
	key := strings.TrimSuffix(loc.Key, "/")
	if i := strings.LastIndex(key, "/"); i >= 0 {
		key = key[i+1:]
	}
	if key == "" {
		return loc.Bucket
	}
	if loc.IsPrefix() {
		key += "/"
	}
	return key
}
