package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/Rajchodisetti/account-stream/internal/alerts"
	"github.com/Rajchodisetti/account-stream/internal/allocation"
	"github.com/Rajchodisetti/account-stream/internal/apperr"
	"github.com/Rajchodisetti/account-stream/internal/broker"
	"github.com/Rajchodisetti/account-stream/internal/ledger"
	"github.com/Rajchodisetti/account-stream/internal/lock"
	"github.com/Rajchodisetti/account-stream/internal/observ"
	"github.com/Rajchodisetti/account-stream/internal/proposal"
	"github.com/Rajchodisetti/account-stream/internal/transport"
)

// Prober is the live status probe
type Prober interface {
	Probe(ctx context.Context, accountID string) (*broker.Account, error)
}

// Executor places the initial allocation
type Executor interface {
	Execute(ctx context.Context, accountID string, ws allocation.Weights, total decimal.Decimal) (broker.Report, error)
}

// Options configure an Engine; zero values get defaults
type Options struct {
	OwnerID         string
	AccountID       string // probe target before any state names one
	ActivityLimit   int
	RefreshInterval time.Duration // periodic pass while idle; 0 disables
	LockTTL         time.Duration
	Snapshot        *SnapshotFile
	Notifier        alerts.Notifier
}

// Engine runs reconciliation passes one at a time
type Engine struct {
	ledger    ledger.Ledger
	proposals proposal.Store
	prober    Prober
	executor  Executor
	locker    lock.Locker
	opts      Options

	mu      sync.Mutex // serializes passes
	prev    *State
	onState func(State)
}

func NewEngine(l ledger.Ledger, proposals proposal.Store, prober Prober, executor Executor, locker lock.Locker, opts Options) *Engine {
	if opts.ActivityLimit <= 0 {
		opts.ActivityLimit = 50
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 2 * time.Minute
	}
	if locker == nil {
		locker = lock.NewMemory()
	}
	if opts.Notifier == nil {
		opts.Notifier = alerts.Nop{}
	}
	e := &Engine{
		ledger:    l,
		proposals: proposals,
		prober:    prober,
		executor:  executor,
		locker:    locker,
		opts:      opts,
	}
	if opts.Snapshot != nil {
		if s, ok, err := opts.Snapshot.Load(); err != nil {
			observ.Log("portfolio_snapshot_load_failed", map[string]any{"error": err})
		} else if ok {
			e.prev = &s
		}
	}
	return e
}

// OnState registers a callback receiving every reconciled state. It runs
// inside the pass and must not call back into the Engine.
func (e *Engine) OnState(fn func(State)) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

// Current returns the latest reconciled state
func (e *Engine) Current() (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.prev == nil {
		return State{}, false
	}
	return *e.prev, true
}

// Run reconciles once at start, then after every event and on the refresh
// interval, until events is closed or ctx ends.
func (e *Engine) Run(ctx context.Context, events <-chan transport.Event) error {
	e.pass(ctx, "start")

	var tick <-chan time.Time
	if e.opts.RefreshInterval > 0 {
		ticker := time.NewTicker(e.opts.RefreshInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return nil
			}
			e.pass(ctx, "event")
		case <-tick:
			e.pass(ctx, "refresh")
		}
	}
}

func (e *Engine) pass(ctx context.Context, trigger string) {
	if _, err := e.Reconcile(ctx); err != nil {
		observ.Log("reconcile_degraded", map[string]any{"trigger": trigger, "error": err})
	}
}

// Reconcile runs one pass: gather inputs concurrently, merge, publish, and
// execute the initial allocation when due. The returned error reports inputs
// that could not be read; the state is still produced from what was available.
func (e *Engine) Reconcile(ctx context.Context) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	target := e.opts.AccountID
	if target == "" && e.prev != nil {
		target = e.prev.AccountID
	}

	var (
		in                        Inputs
		actErr, propErr, probeErr error
		wg                        conc.WaitGroup
	)
	wg.Go(func() {
		in.Activities, actErr = e.ledger.ListByOwner(ctx, e.opts.OwnerID, e.opts.ActivityLimit)
	})
	wg.Go(func() {
		in.Proposals, propErr = e.proposals.ListPending(ctx, e.opts.OwnerID)
	})
	if target != "" && e.prober != nil {
		wg.Go(func() {
			in.Probe, probeErr = e.prober.Probe(ctx, target)
		})
	}
	wg.Wait()

	// First pass with no hint: probe the account the ledger names
	if target == "" && e.prober != nil && actErr == nil {
		if target = latestAccount(in.Activities); target != "" {
			in.Probe, probeErr = e.prober.Probe(ctx, target)
		}
	}

	var errs []error
	if actErr != nil {
		in.Activities = nil
		errs = append(errs, apperr.InputUnavailable("activities", actErr))
	}
	if propErr != nil {
		in.Proposals = nil
		errs = append(errs, apperr.InputUnavailable("proposals", propErr))
	}
	if probeErr != nil {
		in.Probe = nil
		observ.Log("probe_failed", map[string]any{"account_id": target, "error": probeErr})
	}

	prev := e.prev
	state := Merge(in, prev)
	e.recordStatusChange(ctx, prev, in.Probe, state)
	e.publish(state)

	// Without the ledger the execution marker is unknown, so no trigger
	if actErr == nil && state.ShouldExecute() {
		state = e.execute(ctx, state)
	}

	observ.IncCounter("reconcile_passes_total", nil)
	observ.RecordDuration("reconcile_duration", time.Since(start), nil)
	return state, errors.Join(errs...)
}

func (e *Engine) publish(s State) {
	e.prev = &s
	if e.opts.Snapshot != nil {
		if err := e.opts.Snapshot.Save(s); err != nil {
			observ.Log("portfolio_snapshot_save_failed", map[string]any{"error": err})
		}
	}
	observ.Log("portfolio_state", map[string]any{
		"status":              string(s.Status),
		"account_id":          s.AccountID,
		"total_investment":    s.TotalInvestment.String(),
		"weights":             len(s.Weights),
		"has_executed_trades": s.HasExecutedTrades,
	})
	if e.onState != nil {
		e.onState(s)
	}
}

// recordStatusChange appends an account_status activity when the probe shows
// a status different from the previous pass
func (e *Engine) recordStatusChange(ctx context.Context, prev *State, probe *broker.Account, next State) {
	if prev == nil || probe == nil || prev.Status == next.Status {
		return
	}
	_, err := e.ledger.Append(ctx, ledger.Activity{
		OwnerID: e.opts.OwnerID,
		Type:    ledger.TypeAccountStatus,
		Title:   fmt.Sprintf("Account is now %s", next.Status),
		Meta: ledger.Meta{}.
			Set(ledger.MetaAccountID, next.AccountID).
			Set(ledger.MetaAccountStatus, string(next.Status)),
	})
	if err != nil {
		observ.Log("activity_append_failed", map[string]any{"type": ledger.TypeAccountStatus, "error": err})
	}
}

// execute places the initial allocation under the per-account lock and
// returns the state with the execution flag set when an attempt was recorded
func (e *Engine) execute(ctx context.Context, s State) State {
	release, ok, err := e.locker.TryLock(ctx, "execute:"+s.AccountID, e.opts.LockTTL)
	if err != nil {
		observ.Log("execution_lock_failed", map[string]any{"account_id": s.AccountID, "error": err})
		return s
	}
	if !ok {
		observ.Log("execution_skipped_locked", map[string]any{"account_id": s.AccountID})
		return s
	}
	defer release()

	// Another process may have executed between our read and the lock
	recent, err := e.ledger.ListByOwner(ctx, e.opts.OwnerID, e.opts.ActivityLimit)
	if err != nil {
		observ.Log("execution_recheck_failed", map[string]any{"account_id": s.AccountID, "error": err})
		return s
	}
	for _, a := range recent {
		if a.IsExecution() {
			return e.markExecuted(s)
		}
	}

	observ.IncCounter("execution_triggers_total", nil)
	observ.Log("execution_triggered", map[string]any{
		"account_id":       s.AccountID,
		"total_investment": s.TotalInvestment.String(),
		"symbols":          len(s.Weights),
	})
	report, execErr := e.executor.Execute(ctx, s.AccountID, s.Weights, s.TotalInvestment)
	if errors.Is(execErr, apperr.ErrExecutionPartial) && len(report.Orders) == 0 {
		// Nothing placed: a failure the next pass retries, not a partial
		execErr = fmt.Errorf("no orders placed: %s", execErr.Error())
	}
	switch {
	case errors.Is(execErr, apperr.ErrNotTradeable):
		observ.Log("execution_not_tradeable", map[string]any{"account_id": s.AccountID, "error": execErr})
		return s
	case execErr != nil && !errors.Is(execErr, apperr.ErrExecutionPartial):
		observ.Log("execution_failed", map[string]any{"account_id": s.AccountID, "error": execErr})
		e.opts.Notifier.Notify(alerts.Alert{
			Kind:      "execution_failed",
			Severity:  alerts.SeverityCritical,
			AccountID: s.AccountID,
			Title:     "Initial allocation could not be placed",
			Detail:    execErr.Error(),
		})
		return s
	}

	meta := ledger.Meta{}.
		Set(ledger.MetaAccountID, s.AccountID).
		Set(ledger.MetaTradesExecuted, true).
		Set(ledger.MetaTargetWeights, s.Weights).
		Set(ledger.MetaTotalInvestment, s.TotalInvestment).
		Set("orders_placed", len(report.Orders))
	if _, err := e.ledger.Append(ctx, ledger.Activity{
		OwnerID: e.opts.OwnerID,
		Type:    ledger.TypeTradeExecution,
		Title:   "Initial portfolio purchased",
		Body:    fmt.Sprintf("Placed %d of %d orders", len(report.Orders), len(report.Orders)+len(report.Failures)),
		Meta:    meta,
	}); err != nil {
		observ.Log("activity_append_failed", map[string]any{"type": ledger.TypeTradeExecution, "error": err})
	}

	if report.Partial() {
		body := "some orders failed"
		if execErr != nil {
			body = execErr.Error()
		}
		if _, err := e.ledger.Append(ctx, ledger.Activity{
			OwnerID: e.opts.OwnerID,
			Type:    ledger.TypeWarning,
			Title:   "Some orders were not placed",
			Body:    body,
			Meta: ledger.Meta{}.
				Set(ledger.MetaAccountID, s.AccountID).
				Set(ledger.MetaFailures, report.Failures),
		}); err != nil {
			observ.Log("activity_append_failed", map[string]any{"type": ledger.TypeWarning, "error": err})
		}
	}
	alert := alerts.Alert{
		Kind:      "execution_completed",
		Severity:  alerts.SeverityInfo,
		AccountID: s.AccountID,
		Title:     "Initial allocation placed",
		Fields: map[string]string{
			"orders":           fmt.Sprint(len(report.Orders)),
			"total_investment": s.TotalInvestment.StringFixed(2),
		},
	}
	if report.Partial() {
		alert.Kind, alert.Severity = "execution_partial", alerts.SeverityWarning
		alert.Title = "Initial allocation partially placed"
		alert.Fields["failed"] = fmt.Sprint(len(report.Failures))
	}
	e.opts.Notifier.Notify(alert)
	return e.markExecuted(s)
}

func (e *Engine) markExecuted(s State) State {
	s.HasExecutedTrades = true
	s.Weights = append(allocation.Weights(nil), s.Weights...)
	e.publish(s)
	return s
}
