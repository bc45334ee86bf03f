package clients

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/stellar/go/network"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/mapper"
	"github.com/vitwit/payterm/types"
	"github.com/vitwit/payterm/wallet"
)

// StellarClient talks to the Soroban terminal contract through Soroban RPC.
type StellarClient struct {
	network     types.Network
	passphrase  string
	contract    string
	contractID  xdr.ScAddress
	owner       string
	nativeToken string
	rpc         *sorobanRPC
	session     *wallet.Session
	logger      logger.Logger
	confirmPoll time.Duration
	ownerOnce   sync.Once
}

var _ Client = (*StellarClient)(nil)

func NewStellarClient(cfg types.ClientConfig, session *wallet.Session, log logger.Logger) (*StellarClient, error) {
	return NewStellarClientWithHTTP(cfg, nil, session, log)
}

// NewStellarClientWithHTTP uses httpClient for RPC calls.
func NewStellarClientWithHTTP(cfg types.ClientConfig, httpClient *http.Client, session *wallet.Session, log logger.Logger) (*StellarClient, error) {
	if !cfg.Network.IsStellar() {
		return nil, types.NewError(types.ErrUnsupportedNetwork, "%s is not a Stellar network", cfg.Network)
	}
	contractID, err := scAddress(cfg.ContractAddress)
	if err != nil || contractID.Type != xdr.ScAddressTypeScAddressTypeContract {
		return nil, types.NewError(types.ErrConfigError, "invalid contract id: %s", cfg.ContractAddress)
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if session == nil {
		session = wallet.NewSession(log)
	}
	if httpClient == nil && cfg.Timeout > 0 {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	passphrase := cfg.NetworkPassphrase
	if passphrase == "" {
		passphrase = networkPassphrase(cfg.Network)
	}

	return &StellarClient{
		network:     cfg.Network,
		passphrase:  passphrase,
		contract:    cfg.ContractAddress,
		contractID:  contractID,
		owner:       cfg.OwnerAddress,
		nativeToken: cfg.NativeTokenContract,
		rpc:         newSorobanRPC(cfg.RPCUrl, httpClient),
		session:     session,
		logger:      logger.With(log, map[string]any{"network": cfg.Network}),
		confirmPoll: defaultConfirmPoll,
	}, nil
}

func networkPassphrase(n types.Network) string {
	switch n {
	case types.NetworkStellarMainnet:
		return network.PublicNetworkPassphrase
	case types.NetworkStellarFuturenet:
		return network.FutureNetworkPassphrase
	default:
		return network.TestNetworkPassphrase
	}
}

func (c *StellarClient) Kind() types.ChainFamily   { return types.ChainStellar }
func (c *StellarClient) GetNetwork() types.Network { return c.network }
func (c *StellarClient) Close()                    {}

// NativeTokenContract is the configured asset contract of XLM.
func (c *StellarClient) NativeTokenContract() string { return c.nativeToken }

func (c *StellarClient) QRPayload() types.QRPayload {
	return types.QRPayload{
		Type:            types.ChainStellar,
		Network:         c.network.Short(),
		ContractAddress: c.contract,
	}
}

func (c *StellarClient) GetActiveTransaction(ctx context.Context) (*types.Transaction, error) {
	val, err := c.read(ctx, "get_active_transaction")
	if err != nil {
		return nil, err
	}
	tx, err := mapper.DecodeStellarTransaction(val)
	if err != nil {
		return nil, rpcError("get_active_transaction", err)
	}
	return mapper.Normalize(tx), nil
}

func (c *StellarClient) GetRecentTransactions(ctx context.Context) ([]types.Transaction, error) {
	val, err := c.read(ctx, "get_all_recent_transactions")
	if err != nil {
		return nil, err
	}
	decoded, err := mapper.DecodeStellarTransactions(val)
	if err != nil {
		return nil, rpcError("get_all_recent_transactions", err)
	}

	txs := make([]types.Transaction, 0, len(decoded))
	for i := range decoded {
		if tx := mapper.Normalize(&decoded[i]); tx != nil {
			txs = append(txs, *tx)
		}
	}
	return mostRecentFirst(txs), nil
}

// GetOwner returns the configured deployment owner. The contract keeps its
// owner private, so this value is trusted rather than read on chain.
func (c *StellarClient) GetOwner(context.Context) (string, error) {
	if c.owner == "" {
		return "", types.NewError(types.ErrConfigError, "%s: owner address is not configured", c.network)
	}
	c.ownerOnce.Do(func() {
		c.logger.Warn("stellar owner taken from configuration, not from the contract", map[string]any{
			"owner": c.owner,
		})
	})
	return c.owner, nil
}

func (c *StellarClient) GetContractBalance(ctx context.Context, tokenContract string) (*big.Int, error) {
	token, err := c.tokenArg(tokenContract)
	if err != nil {
		return nil, err
	}
	val, err := c.read(ctx, "get_contract_balance", token)
	if err != nil {
		return nil, err
	}
	n, err := mapper.DecodeScVal(val)
	if err != nil {
		return nil, rpcError("get_contract_balance", err)
	}
	bal, ok := n.(*big.Int)
	if !ok {
		return nil, rpcError("get_contract_balance", fmt.Errorf("unexpected balance type %T", n))
	}
	return bal, nil
}

func (c *StellarClient) SetActiveTransaction(ctx context.Context, req types.CreateTransactionRequest) (*Submission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	signer, caller, err := c.signer()
	if err != nil {
		return nil, err
	}
	amount, err := scI128Val(req.Amount)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "%v", err)
	}
	token, err := c.tokenArg(req.RequestedTokenContract)
	if err != nil {
		return nil, err
	}

	return c.invoke(ctx, signer, ActionCreate, "set_active_transaction",
		caller,
		amount,
		scStringVal(req.Description),
		scStringVal(req.MerchantName),
		scStringVal(req.MerchantLocation),
		scStringVal(req.ItemizedList),
		token,
	)
}

func (c *StellarClient) PayActiveTransaction(ctx context.Context) (*Submission, error) {
	signer, payer, err := c.signer()
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, signer, ActionPay, "pay_active_transaction", payer)
}

func (c *StellarClient) CancelActiveTransaction(ctx context.Context) (*Submission, error) {
	signer, caller, err := c.signer()
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, signer, ActionCancel, "cancel_active_transaction", caller)
}

func (c *StellarClient) ClearActiveTransaction(ctx context.Context) (*Submission, error) {
	signer, caller, err := c.signer()
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, signer, ActionClear, "clear_active_transaction", caller)
}

func (c *StellarClient) Withdraw(ctx context.Context, to, tokenContract string) (*Submission, error) {
	signer, caller, err := c.signer()
	if err != nil {
		return nil, err
	}
	recipient, err := scAddressVal(to)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "%v", err)
	}
	token, err := c.tokenArg(tokenContract)
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, signer, ActionWithdraw, "withdraw", caller, recipient, token)
}

func (c *StellarClient) WaitForConfirmation(ctx context.Context, sub *Submission) error {
	return pollUntil(ctx, c.confirmPoll, func() (bool, error) {
		res, err := c.rpc.getTransaction(ctx, sub.TxHash)
		if err != nil {
			c.logger.Debug("getTransaction failed", map[string]any{"tx": sub.TxHash, "error": err})
			return false, nil
		}
		switch res.Status {
		case "SUCCESS":
			return true, nil
		case "FAILED":
			return false, types.NewError(types.ErrConfirmationFailed, "%s transaction %s failed", sub.Action, sub.TxHash)
		default:
			return false, nil
		}
	})
}

func (c *StellarClient) signer() (*wallet.StellarSigner, xdr.ScVal, error) {
	signer, err := c.session.Stellar()
	if err != nil {
		return nil, xdr.ScVal{}, err
	}
	addr, err := scAddressVal(signer.Address())
	if err != nil {
		return nil, xdr.ScVal{}, types.NewError(types.ErrWalletNotConnected, "%v", err)
	}
	return signer, addr, nil
}

// tokenArg resolves the native sentinel to the configured asset contract.
func (c *StellarClient) tokenArg(tokenContract string) (xdr.ScVal, error) {
	if tokenContract == types.StellarNativeToken {
		tokenContract = c.nativeToken
	}
	if tokenContract == "" {
		return xdr.ScVal{}, types.NewError(types.ErrConfigError, "%s: native token contract is not configured", c.network)
	}
	val, err := scAddressVal(tokenContract)
	if err != nil {
		return xdr.ScVal{}, types.NewError(types.ErrInvalidRequest, "%v", err)
	}
	return val, nil
}

// readSource is the account simulations run as: the connected wallet, or
// the configured owner.
func (c *StellarClient) readSource() (string, error) {
	if account, ok := c.session.Account(types.ChainStellar); ok {
		return account, nil
	}
	if c.owner != "" {
		return c.owner, nil
	}
	return "", types.NewError(types.ErrWalletNotConnected, "%s: no account to simulate reads with", c.network)
}

func (c *StellarClient) read(ctx context.Context, fn string, args ...xdr.ScVal) (xdr.ScVal, error) {
	source, err := c.readSource()
	if err != nil {
		return xdr.ScVal{}, err
	}

	op := c.operation(fn, args...)
	tx, err := c.build(&txnbuild.SimpleAccount{AccountID: source}, op, txnbuild.MinBaseFee)
	if err != nil {
		return xdr.ScVal{}, rpcError(fn, err)
	}
	txB64, err := tx.Base64()
	if err != nil {
		return xdr.ScVal{}, rpcError(fn, err)
	}

	sim, err := c.rpc.simulateTransaction(ctx, txB64)
	if err != nil {
		return xdr.ScVal{}, rpcError(fn, err)
	}
	if sim.Error != "" {
		return xdr.ScVal{}, sorobanError(sim.Error)
	}
	if len(sim.Results) == 0 {
		return xdr.ScVal{}, rpcError(fn, fmt.Errorf("simulation returned no result"))
	}

	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(sim.Results[0].XDR, &val); err != nil {
		return xdr.ScVal{}, rpcError(fn, fmt.Errorf("decode result: %w", err))
	}
	return val, nil
}

// invoke simulates the call, attaches the resources and authorizations the
// simulation reported, signs with the connected wallet and submits.
func (c *StellarClient) invoke(ctx context.Context, signer *wallet.StellarSigner, action, fn string, args ...xdr.ScVal) (*Submission, error) {
	seq, err := c.sequence(ctx, signer.Address())
	if err != nil {
		return nil, err
	}

	op := c.operation(fn, args...)
	draft, err := c.build(&txnbuild.SimpleAccount{AccountID: signer.Address(), Sequence: seq}, op, txnbuild.MinBaseFee)
	if err != nil {
		return nil, rpcError(fn, err)
	}
	draftB64, err := draft.Base64()
	if err != nil {
		return nil, rpcError(fn, err)
	}

	sim, err := c.rpc.simulateTransaction(ctx, draftB64)
	if err != nil {
		return nil, rpcError(fn, err)
	}
	if sim.Error != "" {
		return nil, sorobanError(sim.Error)
	}

	var sorobanData xdr.SorobanTransactionData
	if err := xdr.SafeUnmarshalBase64(sim.TransactionData, &sorobanData); err != nil {
		return nil, rpcError(fn, fmt.Errorf("decode transaction data: %w", err))
	}
	op.Ext = xdr.TransactionExt{V: 1, SorobanData: &sorobanData}

	if len(sim.Results) > 0 {
		for _, a := range sim.Results[0].Auth {
			var entry xdr.SorobanAuthorizationEntry
			if err := xdr.SafeUnmarshalBase64(a, &entry); err != nil {
				return nil, rpcError(fn, fmt.Errorf("decode auth entry: %w", err))
			}
			op.Auth = append(op.Auth, entry)
		}
	}

	resourceFee, err := strconv.ParseInt(sim.MinResourceFee, 10, 64)
	if err != nil {
		return nil, rpcError(fn, fmt.Errorf("invalid resource fee %q", sim.MinResourceFee))
	}

	tx, err := c.build(&txnbuild.SimpleAccount{AccountID: signer.Address(), Sequence: seq}, op, txnbuild.MinBaseFee+resourceFee)
	if err != nil {
		return nil, rpcError(fn, err)
	}
	tx, err = signer.SignTransaction(tx, c.passphrase)
	if err != nil {
		return nil, types.NewError(types.ErrWalletRejected, "sign %s: %v", fn, err)
	}
	txB64, err := tx.Base64()
	if err != nil {
		return nil, rpcError(fn, err)
	}

	sent, err := c.rpc.sendTransaction(ctx, txB64)
	if err != nil {
		return nil, rpcError(fn, err)
	}
	switch sent.Status {
	case "PENDING", "DUPLICATE":
	default:
		return nil, types.NewError(types.ErrRPC, "%s: sendTransaction status %s %s", fn, sent.Status, sent.ErrorResultXDR)
	}

	c.logger.Info("transaction submitted", map[string]any{
		"action": action,
		"tx":     sent.Hash,
		"from":   signer.Address(),
	})
	return newSubmission(c.network, action, sent.Hash), nil
}

func (c *StellarClient) operation(fn string, args ...xdr.ScVal) *txnbuild.InvokeHostFunction {
	if args == nil {
		args = []xdr.ScVal{}
	}
	return &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: c.contractID,
				FunctionName:    xdr.ScSymbol(fn),
				Args:            args,
			},
		},
	}
}

func (c *StellarClient) build(source *txnbuild.SimpleAccount, op txnbuild.Operation, fee int64) (*txnbuild.Transaction, error) {
	return txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        source,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              fee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
	})
}

// sequence reads the current sequence number of account.
func (c *StellarClient) sequence(ctx context.Context, account string) (int64, error) {
	raw, err := strkey.Decode(strkey.VersionByteAccountID, account)
	if err != nil {
		return 0, types.NewError(types.ErrWalletNotConnected, "invalid account %s", account)
	}
	var pk xdr.Uint256
	copy(pk[:], raw)
	accountID := xdr.AccountId{Type: xdr.PublicKeyTypePublicKeyTypeEd25519, Ed25519: &pk}

	key := xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return 0, rpcError("getLedgerEntries", err)
	}

	res, err := c.rpc.getLedgerEntries(ctx, keyB64)
	if err != nil {
		return 0, rpcError("getLedgerEntries", err)
	}
	if len(res.Entries) == 0 {
		return 0, types.NewError(types.ErrRPC, "account %s not found on %s", account, c.network)
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(res.Entries[0].XDR, &data); err != nil {
		return 0, rpcError("getLedgerEntries", fmt.Errorf("decode account entry: %w", err))
	}
	if data.Account == nil {
		return 0, rpcError("getLedgerEntries", fmt.Errorf("entry is not an account"))
	}
	return int64(data.Account.SeqNum), nil
}
