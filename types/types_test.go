package types

import (
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNetworkFamily(t *testing.T) {
	tests := []struct {
		network Network
		family  ChainFamily
		short   string
	}{
		{NetworkSepolia, ChainEVM, "sepolia"},
		{NetworkStellarTestnet, ChainStellar, "testnet"},
		{NetworkTronNile, ChainTron, "nile"},
		{Network("dogecoin"), "", "dogecoin"},
	}

	for _, tt := range tests {
		t.Run(string(tt.network), func(t *testing.T) {
			assert.Equal(t, tt.family, tt.network.Family())
			assert.Equal(t, tt.short, tt.network.Short())
		})
	}
}

func TestFamilyDecimals(t *testing.T) {
	assert.Equal(t, int32(18), ChainEVM.Decimals())
	assert.Equal(t, int32(7), ChainStellar.Decimals())
	assert.Equal(t, int32(6), ChainTron.Decimals())
}

func TestTransactionStatus(t *testing.T) {
	var missing *Transaction
	assert.Equal(t, StatusNotFound, missing.Status())
	assert.Equal(t, StatusPending, (&Transaction{}).Status())
	assert.Equal(t, StatusPaid, (&Transaction{Paid: true}).Status())
	assert.Equal(t, StatusCancelled, (&Transaction{Cancelled: true}).Status())
}

func TestTransactionIsNative(t *testing.T) {
	tx := &Transaction{RequestedTokenContract: "0x0000000000000000000000000000000000000000"}
	assert.True(t, tx.IsNative(ChainEVM))

	tx.RequestedTokenContract = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	assert.False(t, tx.IsNative(ChainEVM))

	tx.RequestedTokenContract = TronNativeToken
	assert.True(t, tx.IsNative(ChainTron))

	tx.RequestedTokenContract = strings.ToLower(TronNativeToken)
	assert.False(t, tx.IsNative(ChainTron))

	tx.RequestedTokenContract = strings.ToUpper("0x0000000000000000000000000000000000000000")
	assert.False(t, tx.IsNative(ChainEVM))
	tx.RequestedTokenContract = "0x036cbd53842c5426634e7929541ec2318f3dcf7e"
	assert.True(t, tx.IsNative(ChainEVM, "0x036CbD53842c5426634e7929541eC2318f3dCF7e"))

	sac := "CDLZFC3SYJYDZT7K67VZ75HPJVIEUVNIXF47ZG2FB2RMQQVU2HHGCYSC"
	tx.RequestedTokenContract = sac
	assert.False(t, tx.IsNative(ChainStellar))
	assert.True(t, tx.IsNative(ChainStellar, sac))
}

func TestTransactionCloneAndEqual(t *testing.T) {
	tx := &Transaction{ID: "7", Amount: big.NewInt(100), Description: "Tea"}
	c := tx.Clone()
	assert.True(t, tx.Equal(c))

	c.Amount.SetInt64(5)
	assert.Equal(t, int64(100), tx.Amount.Int64())
	assert.False(t, tx.Equal(c))

	var none *Transaction
	assert.True(t, none.Equal(nil))
	assert.False(t, none.Equal(tx))
}

func TestCreateTransactionRequestValidate(t *testing.T) {
	req := &CreateTransactionRequest{Amount: big.NewInt(0)}
	err := req.Validate()
	if assert.Error(t, err) {
		assert.Equal(t, ErrInvalidRequest, err.(*TerminalError).Code)
	}

	req.Amount = big.NewInt(1)
	assert.NoError(t, req.Validate())
}
