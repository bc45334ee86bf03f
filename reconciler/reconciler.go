package reconciler

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/mapper"
	"github.com/vitwit/payterm/metrics"
	"github.com/vitwit/payterm/types"
)

// State of the polling loop.
type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateError    State = "error"
)

// ErrFetchInFlight is returned by Refresh when another fetch is running.
var ErrFetchInFlight = errors.New("reconciler: fetch already in flight")

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxInterval = 30 * time.Second
	DefaultTimeout     = 10 * time.Second
)

// ActiveSource reads the contract's active transaction.
type ActiveSource interface {
	GetNetwork() types.Network
	GetActiveTransaction(ctx context.Context) (*types.Transaction, error)
}

type Options struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Timeout     time.Duration
	Logger      logger.Logger
	Metrics     metrics.Recorder
}

// Snapshot is a consistent copy of the reconciler's view.
type Snapshot struct {
	Network             types.Network       `json:"network"`
	State               State               `json:"state"`
	Active              *types.Transaction  `json:"active"`
	Recent              []types.Transaction `json:"recent,omitempty"`
	LastError           string              `json:"lastError,omitempty"`
	LastFetched         time.Time           `json:"lastFetched"`
	ConsecutiveFailures int                 `json:"consecutiveFailures"`
	DroppedTicks        int64               `json:"droppedTicks"`
}

// Reconciler polls one contract and keeps the last known active
// transaction. At most one fetch runs at a time; ticks that fire while a
// fetch is running are dropped.
type Reconciler struct {
	source      ActiveSource
	network     types.Network
	interval    time.Duration
	maxInterval time.Duration
	timeout     time.Duration
	logger      logger.Logger
	metrics     metrics.Recorder
	labels      map[string]string

	inFlight   atomic.Bool
	dropped    atomic.Int64
	generation atomic.Uint64

	mu          sync.RWMutex
	state       State
	active      *types.Transaction
	lastErr     error
	lastFetched time.Time
	failures    int
	recent      *RecentTracker

	subMu sync.Mutex
	subs  map[int]func(Change)

	queueMu    sync.Mutex
	queue      []Change
	delivering bool
	nextID     int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(source ActiveSource, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxInterval < opts.Interval {
		opts.MaxInterval = DefaultMaxInterval
		if opts.MaxInterval < opts.Interval {
			opts.MaxInterval = opts.Interval
		}
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
	return &Reconciler{
		source:      source,
		network:     network,
		interval:    opts.Interval,
		maxInterval: opts.MaxInterval,
		timeout:     opts.Timeout,
		logger:      logger.With(opts.Logger, map[string]any{"network": network, "component": "reconciler"}),
		metrics:     opts.Metrics,
		labels:      map[string]string{"network": string(network)},
		state:       StateIdle,
		subs:        make(map[int]func(Change)),
	}
}

func (r *Reconciler) Network() types.Network { return r.network }

// Start begins polling. The first fetch runs immediately. Calling Start on a
// running reconciler is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel != nil {
		return
	}

	gen := r.generation.Add(1)
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(loopCtx, gen, r.done)
}

// Stop ends polling and waits for the loop to exit. Fetches still running
// finish, but their results are discarded.
func (r *Reconciler) Stop() {
	r.runMu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.runMu.Unlock()

	r.generation.Add(1)
	if cancel == nil {
		return
	}
	cancel()
	<-done

	r.mu.Lock()
	if r.state == StateFetching {
		r.state = StateIdle
	}
	r.mu.Unlock()
}

func (r *Reconciler) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	var wg sync.WaitGroup
	defer wg.Wait()

	tick := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.fetch(ctx, gen)
		}()
	}

	current := r.nextInterval()
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if next := r.nextInterval(); next != current {
				current = next
				ticker.Reset(current)
			}
			tick()
		}
	}
}

// nextInterval doubles the base interval per consecutive failure, capped at
// the maximum.
func (r *Reconciler) nextInterval() time.Duration {
	r.mu.RLock()
	failures := r.failures
	r.mu.RUnlock()

	d := r.interval
	for i := 0; i < failures && d < r.maxInterval; i++ {
		d *= 2
	}
	if d > r.maxInterval {
		d = r.maxInterval
	}
	return d
}

// Refresh runs one fetch outside the schedule, through the same guard.
func (r *Reconciler) Refresh(ctx context.Context) error {
	return r.fetch(ctx, r.generation.Load())
}

func (r *Reconciler) fetch(ctx context.Context, gen uint64) error {
	if !r.inFlight.CompareAndSwap(false, true) {
		n := r.dropped.Add(1)
		r.metrics.IncCounter(metrics.TickDropped, r.labels)
		r.logger.Debug("fetch skipped, previous fetch still running", map[string]any{"dropped": n})
		return ErrFetchInFlight
	}
	defer r.inFlight.Store(false)

	r.mu.Lock()
	r.state = StateFetching
	r.mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	tx, err := r.source.GetActiveTransaction(fctx)
	r.metrics.ObserveLatency(metrics.OpFetchActive, time.Since(start), r.labels)

	if r.generation.Load() != gen {
		r.logger.Debug("discarding fetch result after stop", nil)
		return nil
	}
	r.apply(tx, err)
	return err
}

func (r *Reconciler) apply(tx *types.Transaction, err error) {
	if err != nil {
		r.mu.Lock()
		r.state = StateError
		r.lastErr = err
		r.failures++
		failures := r.failures
		r.mu.Unlock()

		r.metrics.IncCounter(metrics.FetchFailed, r.labels)
		r.metrics.SetGauge(metrics.GaugeConsecutiveFailures, float64(failures), r.labels)
		r.logger.Warn("active transaction fetch failed", map[string]any{
			"error":    err,
			"failures": failures,
		})
		return
	}

	tx = mapper.Normalize(tx).Clone()
	if tx != nil {
		if ierr := mapper.CheckInvariants(tx); ierr != nil {
			r.metrics.IncCounter(metrics.InvariantBroken, r.labels)
			r.logger.Error("contract invariant violated", map[string]any{"id": tx.ID, "error": ierr})
		}
	}

	r.mu.Lock()
	prev := r.active
	r.active = tx
	r.state = StateIdle
	r.lastErr = nil
	r.lastFetched = time.Now()
	r.failures = 0
	r.mu.Unlock()

	r.metrics.IncCounter(metrics.FetchSucceeded, r.labels)
	r.metrics.SetGauge(metrics.GaugeConsecutiveFailures, 0, r.labels)
	r.metrics.SetGauge(metrics.GaugeActiveTransaction, activeGauge(tx), r.labels)

	if kind, ok := classify(prev, tx); ok {
		r.notify(Change{
			Network:  r.network,
			Kind:     kind,
			Previous: prev.Clone(),
			Current:  tx.Clone(),
			At:       time.Now(),
		})
	}
}

func activeGauge(tx *types.Transaction) float64 {
	if tx == nil {
		return 0
	}
	id, err := strconv.ParseFloat(tx.ID, 64)
	if err != nil {
		return 0
	}
	return id
}

// Active returns a copy of the last known active transaction.
func (r *Reconciler) Active() *types.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active.Clone()
}

func (r *Reconciler) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// DroppedTicks counts fetches skipped by the in-flight guard.
func (r *Reconciler) DroppedTicks() int64 { return r.dropped.Load() }

// AttachRecent includes tracker's list in snapshots.
func (r *Reconciler) AttachRecent(tracker *RecentTracker) {
	r.mu.Lock()
	r.recent = tracker
	r.mu.Unlock()
}

func (r *Reconciler) Snapshot() Snapshot {
	r.mu.RLock()
	snap := Snapshot{
		Network:             r.network,
		State:               r.state,
		Active:              r.active.Clone(),
		LastFetched:         r.lastFetched,
		ConsecutiveFailures: r.failures,
		DroppedTicks:        r.dropped.Load(),
	}
	if r.lastErr != nil {
		snap.LastError = r.lastErr.Error()
	}
	tracker := r.recent
	r.mu.RUnlock()

	if tracker != nil {
		snap.Recent = tracker.Transactions()
	}
	return snap
}
