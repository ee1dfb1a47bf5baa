// Package reconcile finds the date ranges where the local record set is
// missing tenders, by comparing local counts against the portal's counts and
// bisecting mismatched ranges backward from the most recent day.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/timmy/tendersync/internal/domain"
	"github.com/timmy/tendersync/internal/logger"
	"github.com/timmy/tendersync/internal/source"
)

// LocalCounter counts stored tenders published inside a window.
type LocalCounter interface {
	CountInWindow(w domain.SyncWindow) int
}

// RemoteCounter answers the portal's aggregate count for a window.
type RemoteCounter interface {
	CountForWindow(ctx context.Context, w domain.SyncWindow, f source.Filter) (int, error)
}

// Options tune a reconciliation.
type Options struct {
	// CallTimeout bounds each remote count query.
	CallTimeout time.Duration
	// MaxCountQueries caps remote queries per reconciliation. Windows still
	// pending when the budget runs out are returned unrefined.
	MaxCountQueries int
	// FullRescrapeRatio collapses the result to the whole input window when
	// the mismatched days cover at least this share of it. 0 disables.
	FullRescrapeRatio float64
	// Coalesce merges adjacent mismatched windows.
	Coalesce bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		CallTimeout:       60 * time.Second,
		MaxCountQueries:   64,
		FullRescrapeRatio: 0.75,
		Coalesce:          true,
	}
}

// Result lists the windows that need a full fetch, most recent first.
type Result struct {
	Windows   []domain.SyncWindow
	Queries   int // remote count queries issued
	Checked   int // windows compared (queried or derived)
	Unknown   int // windows whose remote count failed
	Unrefined int // windows left unsplit because the query budget ran out
	FellBack  bool
}

// MismatchedDays sums the days covered by Windows.
func (r Result) MismatchedDays() int {
	n := 0
	for _, w := range r.Windows {
		n += w.Days()
	}
	return n
}

// Reconciler compares local and remote counts. It is sequential; one
// Reconcile call must finish before the next starts.
type Reconciler struct {
	remote RemoteCounter
	opts   Options
}

// New creates a reconciler over remote.
func New(remote RemoteCounter, opts Options) *Reconciler {
	return &Reconciler{remote: remote, opts: opts}
}

var errBudgetExhausted = errors.New("count query budget exhausted")

type run struct {
	*Reconciler
	local  LocalCounter
	filter source.Filter
	res    Result
}

// Reconcile returns the sub-windows of w whose remote count differs from the
// local count. A window whose remote count cannot be obtained is assumed to
// mismatch. A remote count of zero is a real zero. The only error returned is
// cancellation of ctx.
func (r *Reconciler) Reconcile(ctx context.Context, w domain.SyncWindow, local LocalCounter, f source.Filter) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	st := &run{Reconciler: r, local: local, filter: f}

	localN := local.CountInWindow(w)
	remoteN, err := st.count(ctx, w)
	st.res.Checked++
	switch {
	case ctx.Err() != nil:
		return st.res, ctx.Err()
	case err != nil:
		st.res.Unknown++
		st.res.Windows = []domain.SyncWindow{w}
		return st.res, nil
	case remoteN == localN:
		logger.With(logger.Fields{
			logger.FieldWindow: w.String(),
			logger.FieldLocal:  localN,
			logger.FieldRemote: remoteN,
		}).Debug(ctx, "Window counts match")
		return st.res, nil
	}

	windows, err := st.bisect(ctx, w, remoteN)
	if err != nil {
		return st.res, err
	}
	if r.opts.Coalesce {
		windows = coalesce(windows)
	}
	st.res.Windows = windows

	if ratio := r.opts.FullRescrapeRatio; ratio > 0 && w.Days() > 1 {
		if float64(st.res.MismatchedDays()) >= ratio*float64(w.Days()) {
			st.res.Windows = []domain.SyncWindow{w}
			st.res.FellBack = true
		}
	}
	return st.res, nil
}

// bisect refines a window already known to mismatch with remote count remoteN.
// The later half is examined first; the earlier half's remote count is derived
// from the parent when possible. The result is never empty.
func (st *run) bisect(ctx context.Context, w domain.SyncWindow, remoteN int) ([]domain.SyncWindow, error) {
	earlier, later, ok := w.Split()
	if !ok {
		return []domain.SyncWindow{w}, nil
	}

	var out []domain.SyncWindow

	laterRemote, laterErr := st.count(ctx, later)
	st.res.Checked++
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	switch {
	case errors.Is(laterErr, errBudgetExhausted):
		st.res.Unrefined++
		out = append(out, later)
	case laterErr != nil:
		st.res.Unknown++
		out = append(out, later)
	case laterRemote != st.local.CountInWindow(later):
		sub, err := st.bisect(ctx, later, laterRemote)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}

	earlierRemote := remoteN - laterRemote
	var earlierErr error
	if laterErr != nil || earlierRemote < 0 {
		earlierRemote, earlierErr = st.count(ctx, earlier)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	st.res.Checked++
	switch {
	case errors.Is(earlierErr, errBudgetExhausted):
		st.res.Unrefined++
		out = append(out, earlier)
	case earlierErr != nil:
		st.res.Unknown++
		out = append(out, earlier)
	case earlierRemote != st.local.CountInWindow(earlier):
		sub, err := st.bisect(ctx, earlier, earlierRemote)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	// Counts moved between queries and both halves now agree; the parent
	// still mismatched, so it is fetched whole.
	if len(out) == 0 {
		out = []domain.SyncWindow{w}
	}
	return out, nil
}

// count issues one remote query under the per-call timeout and the budget.
func (st *run) count(ctx context.Context, w domain.SyncWindow) (int, error) {
	if st.opts.MaxCountQueries > 0 && st.res.Queries >= st.opts.MaxCountQueries {
		return 0, errBudgetExhausted
	}
	st.res.Queries++

	callCtx := ctx
	if st.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, st.opts.CallTimeout)
		defer cancel()
	}

	n, err := st.remote.CountForWindow(callCtx, w, st.filter)
	if err == nil && n < 0 {
		err = source.ErrCountUnavailable
	}
	if err != nil {
		logger.With(logger.Fields{logger.FieldWindow: w.String()}).Warn(ctx, "Remote count unavailable, assuming mismatch: %v", err)
		return 0, err
	}
	return n, nil
}

// coalesce merges touching windows and orders the result most recent first.
func coalesce(windows []domain.SyncWindow) []domain.SyncWindow {
	if len(windows) < 2 {
		return windows
	}
	sorted := make([]domain.SyncWindow, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From.After(sorted[j].From) })

	out := []domain.SyncWindow{sorted[0]}
	for _, w := range sorted[1:] {
		last := &out[len(out)-1]
		if !w.To.AddDays(1).Before(last.From) {
			last.From = domain.MinDate(last.From, w.From)
			continue
		}
		out = append(out, w)
	}
	return out
}
