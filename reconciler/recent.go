package reconciler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/metrics"
	"github.com/vitwit/payterm/types"
)

const DefaultRecentSchedule = "@every 30s"

// RecentSource reads the contract's recent transaction ring buffer.
type RecentSource interface {
	GetNetwork() types.Network
	GetRecentTransactions(ctx context.Context) ([]types.Transaction, error)
}

// RecentTracker refreshes the recent transaction list on a cron schedule
// and keeps the last good list when a refresh fails.
type RecentTracker struct {
	source   RecentSource
	schedule string
	timeout  time.Duration
	logger   logger.Logger
	metrics  metrics.Recorder
	labels   map[string]string

	seq atomic.Uint64

	mu      sync.RWMutex
	applied uint64
	txs     []types.Transaction
	lastErr error
	updated time.Time

	cron *cron.Cron
}

func NewRecentTracker(source RecentSource, schedule string, opts Options) *RecentTracker {
	if schedule == "" {
		schedule = DefaultRecentSchedule
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.NoopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NoopRecorder{}
	}
	network := source.GetNetwork()
	return &RecentTracker{
		source:   source,
		schedule: schedule,
		timeout:  opts.Timeout,
		logger:   logger.With(opts.Logger, map[string]any{"network": network, "component": "recent"}),
		metrics:  opts.Metrics,
		labels:   map[string]string{"network": string(network)},
	}
}

// Start loads the list once and then on every scheduled run. Overlapping
// runs are skipped.
func (t *RecentTracker) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(t.schedule, func() { _ = t.Refresh(ctx) }); err != nil {
		return types.NewError(types.ErrConfigError, "recent schedule %q: %v", t.schedule, err)
	}

	t.mu.Lock()
	t.cron = c
	t.mu.Unlock()

	go func() { _ = t.Refresh(ctx) }()
	c.Start()
	return nil
}

func (t *RecentTracker) Stop() {
	t.mu.Lock()
	c := t.cron
	t.cron = nil
	t.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Refresh reads the list now. When refreshes overlap, a result from an
// earlier call never replaces one from a later call.
func (t *RecentTracker) Refresh(ctx context.Context) error {
	seq := t.seq.Add(1)
	fctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	txs, err := t.source.GetRecentTransactions(fctx)
	t.metrics.ObserveLatency(metrics.OpFetchRecent, time.Since(start), t.labels)

	t.mu.Lock()
	defer t.mu.Unlock()
	if seq < t.applied {
		t.logger.Debug("discarding stale recent transactions", map[string]any{"seq": seq})
		return err
	}
	t.applied = seq
	if err != nil {
		t.lastErr = err
		t.logger.Warn("recent transactions fetch failed", map[string]any{"error": err})
		return err
	}
	t.txs = txs
	t.lastErr = nil
	t.updated = time.Now()
	return nil
}

// Transactions returns a copy of the last good list, most recent first.
func (t *RecentTracker) Transactions() []types.Transaction {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Transaction, len(t.txs))
	for i := range t.txs {
		out[i] = *t.txs[i].Clone()
	}
	return out
}

func (t *RecentTracker) LastError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastErr
}

func (t *RecentTracker) Updated() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updated
}
