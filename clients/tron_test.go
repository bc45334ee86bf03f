package clients

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/payterm/mapper"
	"github.com/vitwit/payterm/types"
	"github.com/vitwit/payterm/utils"
	"github.com/vitwit/payterm/wallet"
)

var (
	testTronTerminal = utils.EVMToTron(common.HexToAddress(testTerminal))
	testTronToken    = utils.EVMToTron(common.HexToAddress(testToken))
)

type fakeTronGrid struct {
	t  *testing.T
	mu sync.Mutex

	results   map[string][]byte
	reverts   map[string]string
	allowance *big.Int
	failed    map[string]string
	badTxID   bool
	apiKeys   []string

	triggered []tronTriggerRequest
	broadcast []tronTransaction
}

func newFakeTronGrid(t *testing.T) (*fakeTronGrid, *httptest.Server) {
	t.Helper()
	f := &fakeTronGrid{
		t:         t,
		results:   map[string][]byte{},
		reverts:   map[string]string{},
		allowance: new(big.Int),
		failed:    map[string]string{},
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeTronGrid) setResult(method string, values ...interface{}) {
	f.t.Helper()
	data, err := tronTerminal.Methods[method].Outputs.Pack(values...)
	require.NoError(f.t, err)
	f.results[method] = data
}

func selectorName(selector string) string {
	if i := strings.Index(selector, "("); i >= 0 {
		return selector[:i]
	}
	return selector
}

func (f *fakeTronGrid) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, r.Header.Get("TRON-PRO-API-KEY"))

	var out interface{}
	switch r.URL.Path {
	case "/wallet/triggerconstantcontract":
		var req tronTriggerRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		out = f.constant(req)
	case "/wallet/triggersmartcontract":
		var req tronTriggerRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.triggered = append(f.triggered, req)

		raw := []byte(fmt.Sprintf("raw-%d-%s", len(f.triggered), req.FunctionSelector))
		sum := sha256.Sum256(raw)
		txID := hex.EncodeToString(sum[:])
		if f.badTxID {
			txID = strings.Repeat("0", 64)
		}
		out = map[string]interface{}{
			"result": map[string]bool{"result": true},
			"transaction": map[string]interface{}{
				"txID":         txID,
				"raw_data":     map[string]string{"ref_block_bytes": "0000"},
				"raw_data_hex": hex.EncodeToString(raw),
				"visible":      true,
			},
		}
	case "/wallet/broadcasttransaction":
		var tx tronTransaction
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&tx))
		f.broadcast = append(f.broadcast, tx)
		out = map[string]interface{}{"result": true, "txid": tx.TxID}
	case "/wallet/gettransactioninfobyid":
		var req struct {
			Value string `json:"value"`
		}
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		if reason, ok := f.failed[req.Value]; ok {
			out = map[string]interface{}{
				"id":         req.Value,
				"resMessage": hex.EncodeToString([]byte(reason)),
				"receipt":    map[string]string{"result": "REVERT"},
			}
		} else {
			out = map[string]interface{}{"id": req.Value, "receipt": map[string]string{"result": "SUCCESS"}}
		}
	case "/wallet/getaccount":
		out = map[string]interface{}{"address": testTronTerminal, "balance": 5_000_000}
	default:
		f.t.Errorf("unexpected path %s", r.URL.Path)
	}
	_ = json.NewEncoder(w).Encode(out)
}

func (f *fakeTronGrid) constant(req tronTriggerRequest) interface{} {
	name := selectorName(req.FunctionSelector)
	ok := func(data []byte) interface{} {
		return map[string]interface{}{
			"result":          map[string]bool{"result": true},
			"constant_result": []string{hex.EncodeToString(data)},
			"transaction":     map[string]interface{}{"ret": []map[string]string{{}}},
		}
	}

	if req.ContractAddress == testTronToken {
		var data []byte
		var err error
		switch name {
		case "allowance":
			data, err = erc20.Methods["allowance"].Outputs.Pack(f.allowance)
		case "balanceOf":
			data, err = erc20.Methods["balanceOf"].Outputs.Pack(big.NewInt(9))
		case "decimals":
			data, err = erc20.Methods["decimals"].Outputs.Pack(uint8(6))
		}
		require.NoError(f.t, err)
		return ok(data)
	}

	if reason, reverted := f.reverts[name]; reverted {
		revert := newRevertError(f.t, reason)
		return map[string]interface{}{
			"result":          map[string]bool{"result": true},
			"constant_result": []string{strings.TrimPrefix(revert.data, "0x")},
			"transaction":     map[string]interface{}{"ret": []map[string]string{{"ret": "FAILED"}}},
		}
	}
	data, found := f.results[name]
	if !found {
		return map[string]interface{}{
			"result": map[string]interface{}{"result": false, "code": "OTHER_ERROR", "message": hex.EncodeToString([]byte("no result"))},
		}
	}
	return ok(data)
}

func tronActive(id int64, amount int64, token common.Address) []interface{} {
	return []interface{}{
		big.NewInt(id), big.NewInt(amount), common.Address{}, false, big.NewInt(1700000000),
		"Coffee", false, "Cafe", "Main St", "[]", token,
	}
}

func newTestTronClient(t *testing.T, connect bool) (*TronClient, *fakeTronGrid, *wallet.TronSigner) {
	t.Helper()
	fake, srv := newFakeTronGrid(t)

	session := wallet.NewSession(nil)
	signer, err := wallet.NewTronSigner(testEVMKey)
	require.NoError(t, err)
	if connect {
		require.NoError(t, session.Connect(signer))
	}

	c, err := NewTronClientWithHTTP(types.ClientConfig{
		Network:         types.NetworkTronNile,
		RPCUrl:          srv.URL,
		ContractAddress: testTronTerminal,
		APIKey:          "test-key",
	}, srv.Client(), session, nil)
	require.NoError(t, err)
	c.confirmPoll = time.Millisecond
	return c, fake, signer
}

func TestTronGetActiveTransaction(t *testing.T) {
	c, fake, _ := newTestTronClient(t, false)
	fake.setResult("activeTransaction", tronActive(3, 2_000_000, common.Address{})...)

	tx, err := c.GetActiveTransaction(context.Background())
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, "3", tx.ID)
	assert.Equal(t, int64(2_000_000), tx.Amount.Int64())
	assert.Equal(t, types.TronNativeToken, tx.RequestedTokenContract)
	assert.True(t, tx.IsNative(types.ChainTron))
	assert.Equal(t, "test-key", fake.apiKeys[0])
}

func TestTronGetActiveTransactionSentinel(t *testing.T) {
	c, fake, _ := newTestTronClient(t, false)
	fake.setResult("activeTransaction", tronActive(0, 0, common.Address{})...)

	tx, err := c.GetActiveTransaction(context.Background())
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestTronGetActiveTransactionError(t *testing.T) {
	c, _, _ := newTestTronClient(t, false)

	tx, err := c.GetActiveTransaction(context.Background())
	assert.Nil(t, tx)
	var te *types.TerminalError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, types.ErrRPC, te.Code)
}

func TestTronGetRecentTransactions(t *testing.T) {
	c, fake, _ := newTestTronClient(t, false)
	payer := common.HexToAddress(testRecipient)
	fake.setResult("getAllRecentTransactions", []mapper.ContractRecord{
		{Id: big.NewInt(8), Amount: big.NewInt(1), Timestamp: big.NewInt(1)},
		{Id: big.NewInt(9), Amount: big.NewInt(2), Timestamp: big.NewInt(2), Paid: true, Payer: payer},
		{Id: big.NewInt(0), Amount: big.NewInt(0), Timestamp: big.NewInt(0)},
	})

	txs, err := c.GetRecentTransactions(context.Background())
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "9", txs[0].ID)
	assert.Equal(t, utils.EVMToTron(payer), txs[0].Payer)
	assert.Equal(t, "8", txs[1].ID)
}

func TestTronOwnerAndBalances(t *testing.T) {
	c, fake, _ := newTestTronClient(t, false)
	fake.setResult("owner", common.HexToAddress(testRecipient))

	owner, err := c.GetOwner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, utils.EVMToTron(common.HexToAddress(testRecipient)), owner)

	native, err := c.GetContractBalance(context.Background(), types.TronNativeToken)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), native.Int64())

	token, err := c.GetContractBalance(context.Background(), testTronToken)
	require.NoError(t, err)
	assert.Equal(t, int64(9), token.Int64())

	_, err = c.GetContractBalance(context.Background(), "USDT")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, err.(*types.TerminalError).Code)
}

func TestTronInspectAndTokenDecimals(t *testing.T) {
	c, fake, _ := newTestTronClient(t, false)
	payer := common.HexToAddress(testRecipient)
	fake.setResult("txCounter", big.NewInt(4))
	fake.setResult("getPaymentStatus", big.NewInt(4), false, true, payer)

	info, err := c.Inspect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.TxCounter.Int64())
	assert.Nil(t, info.MaxRecent)
	require.NotNil(t, info.Payment)
	assert.True(t, info.Payment.Cancelled)
	assert.Equal(t, utils.EVMToTron(payer), info.Payment.Payer)

	d, err := c.TokenDecimals(context.Background(), testTronToken)
	require.NoError(t, err)
	assert.Equal(t, int32(6), d)

	d, err = c.TokenDecimals(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int32(6), d)
}

func TestTronPayNative(t *testing.T) {
	c, fake, signer := newTestTronClient(t, true)
	fake.setResult("activeTransaction", tronActive(3, 2_000_000, common.Address{})...)

	sub, err := c.PayActiveTransaction(context.Background())
	require.NoError(t, err)

	require.Len(t, fake.triggered, 1)
	req := fake.triggered[0]
	assert.Equal(t, "payActiveTransaction()", req.FunctionSelector)
	assert.Equal(t, int64(2_000_000), req.CallValue)
	assert.Equal(t, int64(defaultTronFeeLimit), req.FeeLimit)
	assert.Equal(t, signer.Address(), req.OwnerAddress)

	require.Len(t, fake.broadcast, 1)
	tx := fake.broadcast[0]
	assert.Equal(t, sub.TxHash, tx.TxID)
	require.Len(t, tx.Signature, 1)

	digest, err := hex.DecodeString(tx.TxID)
	require.NoError(t, err)
	sig, err := hex.DecodeString(tx.Signature[0])
	require.NoError(t, err)
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Common(), crypto.PubkeyToAddress(*pub))

	require.NoError(t, c.WaitForConfirmation(context.Background(), sub))
}

func TestTronPayTokenApprovesFirst(t *testing.T) {
	c, fake, _ := newTestTronClient(t, true)
	fake.setResult("activeTransaction", tronActive(4, 700, common.HexToAddress(testToken))...)

	_, err := c.PayActiveTransaction(context.Background())
	require.NoError(t, err)
	require.Len(t, fake.triggered, 2)

	approve := fake.triggered[0]
	assert.Equal(t, testTronToken, approve.ContractAddress)
	assert.Equal(t, "approve(address,uint256)", approve.FunctionSelector)
	args, err := erc20.Methods["approve"].Inputs.Unpack(common.FromHex(approve.Parameter))
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testTerminal), args[0])
	assert.Equal(t, int64(700), args[1].(*big.Int).Int64())

	pay := fake.triggered[1]
	assert.Equal(t, testTronTerminal, pay.ContractAddress)
	assert.Equal(t, int64(0), pay.CallValue)
}

func TestTronPayTokenWithAllowance(t *testing.T) {
	c, fake, _ := newTestTronClient(t, true)
	fake.allowance = big.NewInt(1000)
	fake.setResult("activeTransaction", tronActive(4, 700, common.HexToAddress(testToken))...)

	_, err := c.PayActiveTransaction(context.Background())
	require.NoError(t, err)
	require.Len(t, fake.triggered, 1)
	assert.Equal(t, "payActiveTransaction()", fake.triggered[0].FunctionSelector)
}

func TestTronSetActiveTransaction(t *testing.T) {
	c, fake, _ := newTestTronClient(t, true)

	_, err := c.SetActiveTransaction(context.Background(), types.CreateTransactionRequest{
		Amount:       big.NewInt(1_500_000),
		Description:  "Lunch",
		MerchantName: "Deli",
	})
	require.NoError(t, err)
	require.Len(t, fake.triggered, 1)

	req := fake.triggered[0]
	args, err := tronTerminal.Methods["setActiveTransaction"].Inputs.Unpack(common.FromHex(req.Parameter))
	require.NoError(t, err)
	assert.Equal(t, int64(1_500_000), args[0].(*big.Int).Int64())
	assert.Equal(t, "Lunch", args[1])
	assert.Equal(t, "Deli", args[2])
	assert.Equal(t, common.Address{}, args[5])
}

func TestTronRevertReasonDecoded(t *testing.T) {
	c, fake, _ := newTestTronClient(t, false)
	fake.reverts["activeTransaction"] = "No active transaction"

	_, err := c.GetActiveTransaction(context.Background())
	var te *types.TerminalError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, types.ErrContractRejected, te.Code)
	assert.Equal(t, "No active transaction", te.Data)
}

func TestTronRejectsMismatchedTxID(t *testing.T) {
	c, fake, _ := newTestTronClient(t, true)
	fake.badTxID = true

	_, err := c.CancelActiveTransaction(context.Background())
	require.Error(t, err)
	assert.Empty(t, fake.broadcast)
}

func TestTronClearAndWithdraw(t *testing.T) {
	c, fake, _ := newTestTronClient(t, true)

	_, err := c.ClearActiveTransaction(context.Background())
	require.NoError(t, err)

	_, err = c.Withdraw(context.Background(), utils.EVMToTron(common.HexToAddress(testRecipient)), "")
	require.NoError(t, err)

	require.Len(t, fake.triggered, 2)
	assert.Equal(t, "clearActiveTransaction()", fake.triggered[0].FunctionSelector)
	assert.Equal(t, "withdraw(address,address)", fake.triggered[1].FunctionSelector)
}

func TestTronWaitForConfirmationFailed(t *testing.T) {
	c, fake, _ := newTestTronClient(t, true)

	sub, err := c.CancelActiveTransaction(context.Background())
	require.NoError(t, err)
	fake.mu.Lock()
	fake.failed[sub.TxHash] = "Only owner"
	fake.mu.Unlock()

	err = c.WaitForConfirmation(context.Background(), sub)
	var te *types.TerminalError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, types.ErrConfirmationFailed, te.Code)
	assert.Contains(t, te.Message, "Only owner")
}

func TestTronWritesRequireWallet(t *testing.T) {
	c, _, _ := newTestTronClient(t, false)

	_, err := c.ClearActiveTransaction(context.Background())
	var te *types.TerminalError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, types.ErrWalletNotConnected, te.Code)
}

func TestNewTronClientRejectsBadConfig(t *testing.T) {
	_, err := NewTronClient(types.ClientConfig{
		Network:         types.NetworkTronNile,
		RPCUrl:          "http://localhost",
		ContractAddress: testTerminal,
	}, nil, nil)
	require.Error(t, err)
}
