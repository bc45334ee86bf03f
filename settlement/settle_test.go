package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/payterm/clients"
	"github.com/vitwit/payterm/clients/clienttest"
	"github.com/vitwit/payterm/reconciler"
	"github.com/vitwit/payterm/types"
)

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Refresh(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newDispatcher(t *testing.T, opts Options) (*Dispatcher, *clienttest.Fake, *mockRefresher) {
	t.Helper()
	fake := clienttest.New(types.NetworkSepolia)
	ref := &mockRefresher{}
	return NewDispatcher(fake, ref, opts), fake, ref
}

func TestCreateConfirmsThenRefreshes(t *testing.T) {
	d, fake, ref := newDispatcher(t, Options{})
	ref.On("Refresh", mock.Anything).Return(nil).Once()

	res := d.Create(context.Background(), types.CreateTransactionRequest{Amount: big.NewInt(10), Description: "Coffee"})
	require.True(t, res.Success, res.Error)
	assert.True(t, res.Confirmed)
	assert.Equal(t, clients.ActionCreate, res.Action)
	assert.NotEmpty(t, res.TxHash)
	assert.False(t, d.Busy())

	assert.Equal(t, []string{clients.ActionCreate, "WaitForConfirmation"}, fake.Calls)
	ref.AssertExpectations(t)
}

func TestSecondActionRejectedWhileBusy(t *testing.T) {
	d, fake, ref := newDispatcher(t, Options{})
	ref.On("Refresh", mock.Anything).Return(nil)
	fake.SetActive(&types.Transaction{ID: "1", Amount: big.NewInt(5)})
	gate := make(chan struct{})
	fake.SubmitGate = gate

	done := make(chan *types.ActionResult, 1)
	go func() { done <- d.Pay(context.Background()) }()
	require.Eventually(t, d.Busy, time.Second, time.Millisecond)

	rejected := d.Cancel(context.Background())
	assert.False(t, rejected.Success)
	assert.Equal(t, types.ErrBusy, rejected.ErrorCode)

	close(gate)
	res := <-done
	assert.True(t, res.Success, res.Error)
	assert.False(t, d.Busy())
	assert.Equal(t, 0, fake.CallCount(clients.ActionCancel))
}

func TestSubmitFailureIsReported(t *testing.T) {
	d, fake, ref := newDispatcher(t, Options{})
	fake.SubmitErr = types.NewError(types.ErrNotOwner, "only the contract owner can do this")

	res := d.Clear(context.Background())
	assert.False(t, res.Success)
	assert.Equal(t, types.ErrNotOwner, res.ErrorCode)
	assert.Equal(t, "only the contract owner can do this", res.Error)
	assert.False(t, d.Busy())
	ref.AssertNotCalled(t, "Refresh", mock.Anything)
}

func TestPlainErrorClassifiedAsRPC(t *testing.T) {
	d, fake, _ := newDispatcher(t, Options{})
	fake.SubmitErr = errors.New("dial tcp: connection refused")

	res := d.Withdraw(context.Background(), "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", "")
	assert.Equal(t, types.ErrRPC, res.ErrorCode)
}

func TestFailedConfirmationStillRefreshes(t *testing.T) {
	d, fake, ref := newDispatcher(t, Options{})
	ref.On("Refresh", mock.Anything).Return(reconciler.ErrFetchInFlight).Once()
	fake.ConfirmErr = types.NewError(types.ErrConfirmationFailed, "reverted")

	res := d.Clear(context.Background())
	assert.False(t, res.Success)
	assert.False(t, res.Confirmed)
	assert.NotEmpty(t, res.TxHash)
	assert.Equal(t, types.ErrConfirmationFailed, res.ErrorCode)
	ref.AssertExpectations(t)
}

func TestConfirmationTimeoutFallsBackToSettleDelay(t *testing.T) {
	d, fake, ref := newDispatcher(t, Options{
		ConfirmTimeout: 10 * time.Millisecond,
		SettleDelay:    20 * time.Millisecond,
	})
	ref.On("Refresh", mock.Anything).Return(nil).Once()
	fake.HangConfirm = true

	start := time.Now()
	res := d.Clear(context.Background())
	assert.True(t, res.Success, res.Error)
	assert.False(t, res.Confirmed)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	ref.AssertExpectations(t)
}

func TestWatchdogClearsStuckFlag(t *testing.T) {
	d, fake, ref := newDispatcher(t, Options{WatchdogTimeout: 20 * time.Millisecond})
	ref.On("Refresh", mock.Anything).Return(nil)
	gate := make(chan struct{})
	fake.SubmitGate = gate

	done := make(chan *types.ActionResult, 1)
	go func() { done <- d.Clear(context.Background()) }()
	require.Eventually(t, d.Busy, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !d.Busy() }, time.Second, time.Millisecond)

	close(gate)
	<-done
	assert.False(t, d.Busy())
}

func TestNilRefresher(t *testing.T) {
	fake := clienttest.New(types.NetworkTronNile)
	d := NewDispatcher(fake, nil, Options{})

	res := d.Clear(context.Background())
	assert.True(t, res.Success, res.Error)
	assert.Equal(t, types.NetworkTronNile, res.Network)
}
