package settlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitwit/payterm/clients"
	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/metrics"
	"github.com/vitwit/payterm/reconciler"
	"github.com/vitwit/payterm/types"
)

const (
	DefaultWatchdogTimeout = 30 * time.Second
	DefaultConfirmTimeout  = 25 * time.Second
	DefaultSettleDelay     = 3 * time.Second
)

// Refresher re-reads chain state after an action settles.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Options struct {
	WatchdogTimeout time.Duration
	ConfirmTimeout  time.Duration
	SettleDelay     time.Duration
	Logger          logger.Logger
	Metrics         metrics.Recorder
}

// Dispatcher runs owner and payer actions against one network. Only one
// action runs at a time; a second one is rejected with BUSY.
type Dispatcher struct {
	client    clients.Client
	refresher Refresher
	network   types.Network
	logger    logger.Logger
	metrics   metrics.Recorder
	labels    map[string]string

	watchdogTimeout time.Duration
	confirmTimeout  time.Duration
	settleDelay     time.Duration

	busy   atomic.Bool
	holder atomic.Uint64
	nextID atomic.Uint64

	mu       sync.Mutex
	watchdog *time.Timer
}

// NewDispatcher creates a dispatcher. refresher may be nil.
func NewDispatcher(client clients.Client, refresher Refresher, opts Options) *Dispatcher {
	if opts.WatchdogTimeout <= 0 {
		opts.WatchdogTimeout = DefaultWatchdogTimeout
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Logger == nil {
		opts.Logger = logger.NoopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopRecorder{}
	}

	network := client.GetNetwork()
	return &Dispatcher{
		client:          client,
		refresher:       refresher,
		network:         network,
		logger:          logger.With(opts.Logger, map[string]any{"network": network, "component": "dispatcher"}),
		metrics:         opts.Metrics,
		labels:          map[string]string{"network": string(network)},
		watchdogTimeout: opts.WatchdogTimeout,
		confirmTimeout:  opts.ConfirmTimeout,
		settleDelay:     opts.SettleDelay,
	}
}

func (d *Dispatcher) Network() types.Network { return d.network }

// Busy reports whether an action is in progress.
func (d *Dispatcher) Busy() bool { return d.busy.Load() }

// Create sets a new active transaction.
func (d *Dispatcher) Create(ctx context.Context, req types.CreateTransactionRequest) *types.ActionResult {
	return d.run(ctx, clients.ActionCreate, func(ctx context.Context) (*clients.Submission, error) {
		return d.client.SetActiveTransaction(ctx, req)
	})
}

// Pay pays the active transaction from the connected wallet.
func (d *Dispatcher) Pay(ctx context.Context) *types.ActionResult {
	return d.run(ctx, clients.ActionPay, d.client.PayActiveTransaction)
}

func (d *Dispatcher) Cancel(ctx context.Context) *types.ActionResult {
	return d.run(ctx, clients.ActionCancel, d.client.CancelActiveTransaction)
}

func (d *Dispatcher) Clear(ctx context.Context) *types.ActionResult {
	return d.run(ctx, clients.ActionClear, d.client.ClearActiveTransaction)
}

func (d *Dispatcher) Withdraw(ctx context.Context, to, tokenContract string) *types.ActionResult {
	return d.run(ctx, clients.ActionWithdraw, func(ctx context.Context) (*clients.Submission, error) {
		return d.client.Withdraw(ctx, to, tokenContract)
	})
}

func (d *Dispatcher) run(ctx context.Context, action string, submit func(context.Context) (*clients.Submission, error)) *types.ActionResult {
	result := &types.ActionResult{Action: action, Network: d.network}

	id, ok := d.acquire()
	if !ok {
		d.metrics.IncCounter(metrics.ActionRejected, d.labels)
		d.logger.Warn("action rejected, another action is in progress", map[string]any{"action": action})
		return fail(result, types.NewError(types.ErrBusy, "another action is in progress on %s", d.network))
	}
	defer d.release(id)

	start := time.Now()
	sub, err := submit(ctx)
	d.metrics.ObserveLatency(metrics.OpAction, time.Since(start), d.labels)
	if err != nil {
		d.metrics.IncCounter(metrics.ActionFailed, d.labels)
		d.logger.Error("action failed", map[string]any{"action": action, "error": err})
		return fail(result, err)
	}
	result.TxHash = sub.TxHash

	confirmed, err := d.confirm(ctx, sub)
	result.Confirmed = confirmed
	d.refresh(ctx)

	if err != nil {
		d.metrics.IncCounter(metrics.ActionFailed, d.labels)
		d.logger.Error("action not confirmed", map[string]any{"action": action, "tx": sub.TxHash, "error": err})
		return fail(result, err)
	}

	result.Success = true
	d.metrics.IncCounter(metrics.ActionSucceeded, d.labels)
	d.logger.Info("action settled", map[string]any{
		"action":    action,
		"tx":        sub.TxHash,
		"confirmed": confirmed,
	})
	return result
}

// confirm waits for the submission. When the wait times out without a
// verdict from the chain it sleeps the settle delay instead and reports the
// action as submitted but unconfirmed.
func (d *Dispatcher) confirm(ctx context.Context, sub *clients.Submission) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, d.confirmTimeout)
	defer cancel()

	start := time.Now()
	err := d.client.WaitForConfirmation(cctx, sub)
	d.metrics.ObserveLatency(metrics.OpConfirm, time.Since(start), d.labels)
	if err == nil {
		return true, nil
	}
	if cctx.Err() == nil || ctx.Err() != nil {
		return false, err
	}

	d.logger.Warn("confirmation timed out, falling back to settle delay", map[string]any{
		"tx":    sub.TxHash,
		"delay": d.settleDelay.String(),
	})
	t := time.NewTimer(d.settleDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return false, nil
}

func (d *Dispatcher) refresh(ctx context.Context) {
	if d.refresher == nil {
		return
	}
	err := d.refresher.Refresh(ctx)
	switch {
	case err == nil:
	case errors.Is(err, reconciler.ErrFetchInFlight):
		d.logger.Debug("refresh skipped, fetch in flight", nil)
	default:
		d.logger.Warn("refresh after action failed", map[string]any{"error": err})
	}
}

// acquire takes the busy flag and arms the watchdog that clears it if the
// action never returns.
func (d *Dispatcher) acquire() (uint64, bool) {
	if !d.busy.CompareAndSwap(false, true) {
		return 0, false
	}
	id := d.nextID.Add(1)
	d.holder.Store(id)

	d.mu.Lock()
	d.watchdog = time.AfterFunc(d.watchdogTimeout, func() {
		if d.holder.CompareAndSwap(id, 0) {
			d.busy.Store(false)
			d.metrics.IncCounter(metrics.WatchdogFired, d.labels)
			d.logger.Warn("watchdog cleared stuck busy flag", map[string]any{
				"timeout": d.watchdogTimeout.String(),
			})
		}
	})
	d.mu.Unlock()
	return id, true
}

func (d *Dispatcher) release(id uint64) {
	if !d.holder.CompareAndSwap(id, 0) {
		return
	}
	d.mu.Lock()
	if d.watchdog != nil {
		d.watchdog.Stop()
		d.watchdog = nil
	}
	d.mu.Unlock()
	d.busy.Store(false)
}

func fail(result *types.ActionResult, err error) *types.ActionResult {
	result.Success = false
	result.Error = err.Error()
	var te *types.TerminalError
	if errors.As(err, &te) {
		result.ErrorCode = te.Code
	} else {
		result.ErrorCode = types.ErrRPC
	}
	return result
}
