package reconciler

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/payterm/types"
)

type result struct {
	tx  *types.Transaction
	err error
}

// fakeSource returns queued results in order, repeating the last one.
type fakeSource struct {
	mu      sync.Mutex
	results []result
	calls   int

	entered chan struct{}
	release chan struct{}
}

func (f *fakeSource) GetNetwork() types.Network { return types.NetworkSepolia }

func (f *fakeSource) GetActiveTransaction(ctx context.Context) (*types.Transaction, error) {
	f.mu.Lock()
	f.calls++
	var r result
	if len(f.results) > 0 {
		r = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}
	return r.tx, r.err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func tx(id string) *types.Transaction {
	return &types.Transaction{ID: id, Amount: big.NewInt(100), Timestamp: 1700000000000}
}

func TestRefreshSetsAndClearsActive(t *testing.T) {
	src := &fakeSource{results: []result{{tx: tx("4")}, {tx: &types.Transaction{ID: "0"}}}}
	r := New(src, Options{})

	require.NoError(t, r.Refresh(context.Background()))
	require.NotNil(t, r.Active())
	assert.Equal(t, "4", r.Active().ID)
	assert.Equal(t, StateIdle, r.State())

	require.NoError(t, r.Refresh(context.Background()))
	assert.Nil(t, r.Active())
}

func TestFailureKeepsPreviousActive(t *testing.T) {
	src := &fakeSource{results: []result{{tx: tx("4")}, {err: errors.New("rpc down")}}}
	r := New(src, Options{})

	require.NoError(t, r.Refresh(context.Background()))
	require.Error(t, r.Refresh(context.Background()))

	snap := r.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.Equal(t, "rpc down", snap.LastError)
	assert.Equal(t, 1, snap.ConsecutiveFailures)
	require.NotNil(t, snap.Active)
	assert.Equal(t, "4", snap.Active.ID)
}

func TestOverlappingFetchIsDropped(t *testing.T) {
	src := &fakeSource{
		results: []result{{tx: tx("1")}},
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	r := New(src, Options{})

	errc := make(chan error, 1)
	go func() { errc <- r.Refresh(context.Background()) }()
	<-src.entered

	assert.ErrorIs(t, r.Refresh(context.Background()), ErrFetchInFlight)
	assert.ErrorIs(t, r.Refresh(context.Background()), ErrFetchInFlight)
	assert.Equal(t, int64(2), r.DroppedTicks())

	close(src.release)
	require.NoError(t, <-errc)
	assert.Equal(t, 1, src.callCount())
	assert.Equal(t, "1", r.Active().ID)
}

func TestChangeNotifications(t *testing.T) {
	created := tx("7")
	paid := tx("7")
	paid.Paid = true
	paid.Payer = "0xabc"

	src := &fakeSource{results: []result{{tx: created}, {tx: created}, {tx: paid}, {tx: nil}}}
	r := New(src, Options{})

	var (
		mu    sync.Mutex
		kinds []ChangeKind
	)
	seen := func() []ChangeKind {
		mu.Lock()
		defer mu.Unlock()
		return append([]ChangeKind(nil), kinds...)
	}
	unsubscribe := r.Subscribe(func(c Change) {
		mu.Lock()
		kinds = append(kinds, c.Kind)
		mu.Unlock()
	})

	for i := 0; i < 4; i++ {
		require.NoError(t, r.Refresh(context.Background()))
	}
	want := []ChangeKind{ChangeCreated, ChangePaid, ChangeCleared}
	require.Eventually(t, func() bool { return len(seen()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, seen())

	unsubscribe()
	src.mu.Lock()
	src.results = []result{{tx: tx("8")}}
	src.mu.Unlock()
	require.NoError(t, r.Refresh(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, seen(), 3)
}

func TestStopFromSubscriber(t *testing.T) {
	src := &fakeSource{results: []result{{tx: tx("3")}}}
	r := New(src, Options{Interval: time.Hour})

	stopped := make(chan struct{})
	r.Subscribe(func(c Change) {
		r.Stop()
		close(stopped)
	})

	r.Start(context.Background())
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called from a subscriber did not return")
	}
	assert.Equal(t, "3", r.Active().ID)
}

func TestClassify(t *testing.T) {
	cancelled := tx("2")
	cancelled.Cancelled = true
	edited := tx("2")
	edited.Description = "edited"

	tests := []struct {
		name string
		prev *types.Transaction
		cur  *types.Transaction
		kind ChangeKind
		ok   bool
	}{
		{"nothing", nil, nil, "", false},
		{"created", nil, tx("1"), ChangeCreated, true},
		{"replaced", tx("1"), tx("2"), ChangeCreated, true},
		{"cancelled", tx("2"), cancelled, ChangeCancelled, true},
		{"updated", tx("2"), edited, ChangeUpdated, true},
		{"same", tx("2"), tx("2"), "", false},
		{"cleared", tx("2"), nil, ChangeCleared, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, ok := classify(tt.prev, tt.cur)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.kind, kind)
		})
	}
}

func TestBackoff(t *testing.T) {
	r := New(&fakeSource{}, Options{Interval: time.Second, MaxInterval: 10 * time.Second})

	assert.Equal(t, time.Second, r.nextInterval())
	r.failures = 1
	assert.Equal(t, 2*time.Second, r.nextInterval())
	r.failures = 3
	assert.Equal(t, 8*time.Second, r.nextInterval())
	r.failures = 10
	assert.Equal(t, 10*time.Second, r.nextInterval())
}

func TestStartPollsAndStop(t *testing.T) {
	src := &fakeSource{results: []result{{tx: tx("3")}}}
	r := New(src, Options{Interval: 5 * time.Millisecond})

	r.Start(context.Background())
	r.Start(context.Background())
	require.Eventually(t, func() bool { return src.callCount() >= 3 }, time.Second, time.Millisecond)
	r.Stop()

	calls := src.callCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, src.callCount())
	assert.Equal(t, "3", r.Active().ID)
}

func TestStopDiscardsLateResult(t *testing.T) {
	src := &fakeSource{
		results: []result{{tx: tx("9")}},
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	r := New(src, Options{Interval: time.Hour})

	r.Start(context.Background())
	<-src.entered
	r.Stop()

	assert.Nil(t, r.Active())
	assert.Equal(t, StateIdle, r.State())
}

func TestRecentTrackerKeepsLastGoodList(t *testing.T) {
	src := &fakeRecent{results: [][]types.Transaction{{*tx("2"), *tx("1")}}}
	tracker := NewRecentTracker(src, "", Options{})

	require.NoError(t, tracker.Refresh(context.Background()))
	require.Len(t, tracker.Transactions(), 2)

	src.err = errors.New("timeout")
	require.Error(t, tracker.Refresh(context.Background()))
	assert.Len(t, tracker.Transactions(), 2)
	assert.EqualError(t, tracker.LastError(), "timeout")
}

func TestRecentTrackerOverlappingRefresh(t *testing.T) {
	entered, release := make(chan struct{}), make(chan struct{})
	src := &fakeRecent{
		results: [][]types.Transaction{{*tx("1")}, {*tx("2"), *tx("1")}},
		entered: entered,
		release: release,
	}
	tracker := NewRecentTracker(src, "", Options{})

	errc := make(chan error, 1)
	go func() { errc <- tracker.Refresh(context.Background()) }()
	<-entered

	require.NoError(t, tracker.Refresh(context.Background()))
	require.Len(t, tracker.Transactions(), 2)

	close(release)
	require.NoError(t, <-errc)
	txs := tracker.Transactions()
	require.Len(t, txs, 2)
	assert.Equal(t, "2", txs[0].ID)
}

func TestRecentTrackerSchedule(t *testing.T) {
	src := &fakeRecent{results: [][]types.Transaction{{*tx("5")}}}

	bad := NewRecentTracker(src, "not a schedule", Options{})
	require.Error(t, bad.Start(context.Background()))

	tracker := NewRecentTracker(src, "@every 1h", Options{})
	require.NoError(t, tracker.Start(context.Background()))
	defer tracker.Stop()
	require.Eventually(t, func() bool { return len(tracker.Transactions()) == 1 }, time.Second, time.Millisecond)
}

func TestSnapshotIncludesRecent(t *testing.T) {
	r := New(&fakeSource{results: []result{{tx: tx("5")}}}, Options{})
	tracker := NewRecentTracker(&fakeRecent{results: [][]types.Transaction{{*tx("4")}}}, "", Options{})
	r.AttachRecent(tracker)

	require.NoError(t, r.Refresh(context.Background()))
	require.NoError(t, tracker.Refresh(context.Background()))

	snap := r.Snapshot()
	assert.Equal(t, types.NetworkSepolia, snap.Network)
	assert.Equal(t, "5", snap.Active.ID)
	require.Len(t, snap.Recent, 1)
	assert.Equal(t, "4", snap.Recent[0].ID)
}

// fakeRecent returns queued lists in order, repeating the last one. When
// release is set, the first call blocks until it is closed.
type fakeRecent struct {
	mu      sync.Mutex
	results [][]types.Transaction
	err     error

	entered chan struct{}
	release chan struct{}
}

func (f *fakeRecent) GetNetwork() types.Network { return types.NetworkSepolia }

func (f *fakeRecent) GetRecentTransactions(context.Context) ([]types.Transaction, error) {
	f.mu.Lock()
	if f.err != nil {
		f.mu.Unlock()
		return nil, f.err
	}
	var txs []types.Transaction
	if len(f.results) > 0 {
		txs = f.results[0]
		if len(f.results) > 1 {
			f.results = f.results[1:]
		}
	}
	entered, release := f.entered, f.release
	f.entered, f.release = nil, nil
	f.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if release != nil {
		<-release
	}
	return txs, nil
}
