package verification

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/payterm/clients/clienttest"
	"github.com/vitwit/payterm/types"
)

func newService(t *testing.T) (*VerificationService, *clienttest.Fake) {
	t.Helper()
	fake := clienttest.New(types.NetworkBaseSepolia)
	svc := NewVerificationService(time.Second)
	require.NoError(t, svc.AddSource(types.NetworkBaseSepolia, fake))
	return svc, fake
}

func TestVerifyActiveTransaction(t *testing.T) {
	svc, fake := newService(t)
	fake.SetActive(&types.Transaction{ID: "12", Amount: big.NewInt(300)})

	res, err := svc.VerifyPayment(context.Background(), types.NetworkBaseSepolia, "12")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.True(t, res.Active)
	assert.Equal(t, types.StatusPending, res.Status)
	assert.Equal(t, "300", res.Amount)
	assert.True(t, res.Consistent)
	assert.Equal(t, 0, fake.CallCount("GetRecentTransactions"))
}

func TestVerifyRecentTransaction(t *testing.T) {
	svc, fake := newService(t)
	fake.SetActive(&types.Transaction{ID: "12", Amount: big.NewInt(300)})
	fake.Recent = []types.Transaction{
		{ID: "11", Amount: big.NewInt(100), Paid: true, Payer: "0xabc"},
		{ID: "10", Amount: big.NewInt(50), Cancelled: true},
	}

	res, err := svc.VerifyPayment(context.Background(), types.NetworkBaseSepolia, "11")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.False(t, res.Active)
	assert.Equal(t, types.StatusPaid, res.Status)
	assert.Equal(t, "0xabc", res.Payer)

	res, err = svc.VerifyPayment(context.Background(), types.NetworkBaseSepolia, "10")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, res.Status)
}

func TestVerifyMatchesNumericID(t *testing.T) {
	svc, fake := newService(t)
	fake.SetActive(&types.Transaction{ID: "12", Amount: big.NewInt(300)})
	fake.Recent = []types.Transaction{{ID: "5", Amount: big.NewInt(100), Paid: true}}

	res, err := svc.VerifyPayment(context.Background(), types.NetworkBaseSepolia, "012")
	require.NoError(t, err)
	assert.True(t, res.Active)
	assert.Equal(t, "12", res.ID)

	res, err = svc.VerifyPayment(context.Background(), types.NetworkBaseSepolia, " 05")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, types.StatusPaid, res.Status)
	assert.Equal(t, "5", res.ID)
}

func TestVerifyNotFound(t *testing.T) {
	svc, _ := newService(t)

	res, err := svc.VerifyPayment(context.Background(), types.NetworkBaseSepolia, "99")
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Equal(t, types.StatusNotFound, res.Status)
}

func TestVerifyReportsBrokenInvariant(t *testing.T) {
	svc, fake := newService(t)
	fake.Recent = []types.Transaction{{ID: "3", Amount: big.NewInt(1), Paid: true, Cancelled: true}}

	res, err := svc.VerifyPayment(context.Background(), types.NetworkBaseSepolia, "3")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.False(t, res.Consistent)
	assert.NotEmpty(t, res.Error)
}

func TestVerifyErrors(t *testing.T) {
	svc, fake := newService(t)

	_, err := svc.VerifyPayment(context.Background(), types.NetworkSepolia, "1")
	var te *types.TerminalError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, types.ErrUnsupportedNetwork, te.Code)

	_, err = svc.VerifyPayment(context.Background(), types.NetworkBaseSepolia, "0")
	require.True(t, errors.As(err, &te))
	assert.Equal(t, types.ErrInvalidRequest, te.Code)

	fake.ActiveErr = errors.New("rpc down")
	_, err = svc.VerifyPayment(context.Background(), types.NetworkBaseSepolia, "1")
	assert.EqualError(t, err, "rpc down")
}

func TestAddSourceRejectsUnknownNetwork(t *testing.T) {
	svc := NewVerificationService(0)
	err := svc.AddSource(types.Network("dogecoin"), clienttest.New(types.NetworkSepolia))
	require.Error(t, err)
}
