package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/mapper"
	"github.com/vitwit/payterm/types"
	"github.com/vitwit/payterm/wallet"
)

// Contract variants of the EVM terminal.
const (
	VariantBasic    = "basic"
	VariantExtended = "extended"
)

// EVMBackend is the subset of ethclient.Client the terminal uses.
type EVMBackend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	Close()
}

type EVMClient struct {
	network     types.Network
	chainID     *big.Int
	contract    common.Address
	variant     string
	abi         abi.ABI
	eth         EVMBackend
	erc20       *erc20Caller
	session     *wallet.Session
	logger      logger.Logger
	confirmPoll time.Duration
}

var _ Client = (*EVMClient)(nil)

func NewEVMClient(cfg types.ClientConfig, session *wallet.Session, log logger.Logger) (*EVMClient, error) {
	eth, err := ethclient.Dial(cfg.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("ethereum rpc dial: %w", err)
	}
	c, err := NewEVMClientWithBackend(cfg, eth, session, log)
	if err != nil {
		eth.Close()
		return nil, err
	}
	return c, nil
}

// NewEVMClientWithBackend builds a client over an existing backend.
func NewEVMClientWithBackend(cfg types.ClientConfig, eth EVMBackend, session *wallet.Session, log logger.Logger) (*EVMClient, error) {
	if !cfg.Network.IsEVM() {
		return nil, types.NewError(types.ErrUnsupportedNetwork, "%s is not an EVM network", cfg.Network)
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, types.NewError(types.ErrConfigError, "invalid contract address: %s", cfg.ContractAddress)
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if session == nil {
		session = wallet.NewSession(log)
	}

	variant := cfg.ContractVariant
	parsed := terminalExtended
	switch variant {
	case VariantBasic:
		parsed = terminalBasic
	case "", VariantExtended:
		variant = VariantExtended
	default:
		return nil, types.NewError(types.ErrConfigError, "unknown contract variant: %s", variant)
	}

	return &EVMClient{
		network:     cfg.Network,
		chainID:     big.NewInt(cfg.Network.ChainID()),
		contract:    common.HexToAddress(cfg.ContractAddress),
		variant:     variant,
		abi:         parsed,
		eth:         eth,
		erc20:       newERC20(eth),
		session:     session,
		logger:      logger.With(log, map[string]any{"network": cfg.Network}),
		confirmPoll: defaultConfirmPoll,
	}, nil
}

func (c *EVMClient) Kind() types.ChainFamily   { return types.ChainEVM }
func (c *EVMClient) GetNetwork() types.Network { return c.network }
func (c *EVMClient) Close()                    { c.eth.Close() }

func (c *EVMClient) NativeTokenContract() string { return types.EVMNativeToken }

// ERC20 exposes the token side channel.
func (c *EVMClient) ERC20() ERC20 { return c.erc20 }

func (c *EVMClient) QRPayload() types.QRPayload {
	return types.QRPayload{
		Type:            types.ChainEVM,
		ChainID:         c.chainID.Int64(),
		Network:         string(c.network),
		ContractAddress: c.contract.Hex(),
	}
}

func (c *EVMClient) GetActiveTransaction(ctx context.Context) (*types.Transaction, error) {
	out, err := c.call(ctx, "getActiveTransactionFields")
	if err != nil {
		return nil, rpcError("getActiveTransactionFields", err)
	}
	tx, err := mapper.FromEVMTuple(out)
	if err != nil {
		return nil, rpcError("getActiveTransactionFields", err)
	}
	return mapper.Normalize(tx), nil
}

func (c *EVMClient) GetRecentTransactions(ctx context.Context) ([]types.Transaction, error) {
	data, err := c.callRaw(ctx, "getAllRecentTransactions")
	if err != nil {
		return nil, rpcError("getAllRecentTransactions", err)
	}

	var records []mapper.ContractRecord
	if err := c.abi.UnpackIntoInterface(&records, "getAllRecentTransactions", data); err != nil {
		return nil, rpcError("getAllRecentTransactions", err)
	}

	txs := make([]types.Transaction, 0, len(records))
	for _, rec := range records {
		if tx := mapper.Normalize(mapper.FromEVMRecord(rec)); tx != nil {
			txs = append(txs, *tx)
		}
	}
	return mostRecentFirst(txs), nil
}

func (c *EVMClient) GetOwner(ctx context.Context) (string, error) {
	out, err := c.call(ctx, "owner")
	if err != nil {
		return "", rpcError("owner", err)
	}
	return abiConvert[common.Address](out[0]).Hex(), nil
}

// MaxRecent returns the contract's ring buffer size.
func (c *EVMClient) MaxRecent(ctx context.Context) (*big.Int, error) {
	out, err := c.call(ctx, "MAX_RECENT_TX")
	if err != nil {
		return nil, rpcError("MAX_RECENT_TX", err)
	}
	return *abiConvert[*big.Int](out[0]), nil
}

func (c *EVMClient) Inspect(ctx context.Context) (*ContractInfo, error) {
	out, err := c.call(ctx, "txCounter")
	if err != nil {
		return nil, rpcError("txCounter", err)
	}
	info := &ContractInfo{TxCounter: *abiConvert[*big.Int](out[0])}

	if info.MaxRecent, err = c.MaxRecent(ctx); err != nil {
		return nil, err
	}

	out, err = c.call(ctx, "getPaymentStatus")
	if err != nil {
		return nil, rpcError("getPaymentStatus", err)
	}
	id := *abiConvert[*big.Int](out[0])
	if !mapper.IsSentinelID(id.String()) {
		info.Payment = &PaymentStatus{
			ID:        id.String(),
			Paid:      *abiConvert[bool](out[1]),
			Cancelled: *abiConvert[bool](out[2]),
		}
		if payer := *abiConvert[common.Address](out[3]); payer != (common.Address{}) {
			info.Payment.Payer = payer.Hex()
		}
	}
	return info, nil
}

func (c *EVMClient) TokenDecimals(ctx context.Context, tokenContract string) (int32, error) {
	token, err := parseEVMToken(tokenContract)
	if err != nil {
		return 0, err
	}
	if token == (common.Address{}) {
		return types.ChainEVM.Decimals(), nil
	}
	decimals, err := c.erc20.Decimals(ctx, token)
	if err != nil {
		return 0, rpcError("decimals", err)
	}
	return int32(decimals), nil
}

func (c *EVMClient) GetContractBalance(ctx context.Context, tokenContract string) (*big.Int, error) {
	token, err := parseEVMToken(tokenContract)
	if err != nil {
		return nil, err
	}
	if token == (common.Address{}) {
		bal, err := c.eth.BalanceAt(ctx, c.contract, nil)
		if err != nil {
			return nil, rpcError("balance", err)
		}
		return bal, nil
	}
	bal, err := c.erc20.BalanceOf(ctx, token, c.contract)
	if err != nil {
		return nil, rpcError("balanceOf", err)
	}
	return bal, nil
}

func (c *EVMClient) SetActiveTransaction(ctx context.Context, req types.CreateTransactionRequest) (*Submission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if c.variant == VariantBasic {
		return c.transact(ctx, ActionCreate, nil, "setActiveTransaction", req.Amount, req.Description)
	}

	token, err := parseEVMToken(req.RequestedTokenContract)
	if err != nil {
		return nil, err
	}

	return c.transact(ctx, ActionCreate, nil, "setActiveTransaction",
		req.Amount, req.Description, req.MerchantName, req.MerchantLocation, req.ItemizedList, token)
}

// PayActiveTransaction pays the active transaction from the connected
// wallet. Token payments approve the terminal first when the allowance is
// short, and wait for the approval to land.
func (c *EVMClient) PayActiveTransaction(ctx context.Context) (*Submission, error) {
	signer, err := c.session.EVM()
	if err != nil {
		return nil, err
	}

	active, err := c.GetActiveTransaction(ctx)
	if err != nil {
		return nil, err
	}
	if err := payable(active); err != nil {
		return nil, err
	}

	if c.variant == VariantBasic || active.IsNative(types.ChainEVM) {
		return c.transactAs(ctx, signer, ActionPay, active.Amount, "payActiveTransaction")
	}

	token := common.HexToAddress(active.RequestedTokenContract)
	if err := c.ensureAllowance(ctx, signer, token, active.Amount); err != nil {
		return nil, err
	}
	return c.transactAs(ctx, signer, ActionPay, nil, "payActiveTransaction")
}

func (c *EVMClient) ensureAllowance(ctx context.Context, signer *wallet.EVMSigner, token common.Address, amount *big.Int) error {
	allowance, err := c.erc20.Allowance(ctx, token, signer.Common(), c.contract)
	if err != nil {
		return rpcError("allowance", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	data, err := approveCalldata(c.contract, amount)
	if err != nil {
		return rpcError("approve", err)
	}
	sub, err := c.send(ctx, signer, ActionApprove, token, nil, data)
	if err != nil {
		return err
	}
	c.logger.Info("token approval submitted", map[string]any{"tx": sub.TxHash, "token": token.Hex()})
	return c.WaitForConfirmation(ctx, sub)
}

func (c *EVMClient) CancelActiveTransaction(ctx context.Context) (*Submission, error) {
	return c.transact(ctx, ActionCancel, nil, "cancelActiveTransaction")
}

func (c *EVMClient) ClearActiveTransaction(context.Context) (*Submission, error) {
	return nil, unsupported(c.network, ActionClear)
}

// Withdraw sends the contract's native balance to to. The EVM terminal
// has no token withdrawal.
func (c *EVMClient) Withdraw(ctx context.Context, to, tokenContract string) (*Submission, error) {
	token, err := parseEVMToken(tokenContract)
	if err != nil {
		return nil, err
	}
	if token != (common.Address{}) {
		return nil, unsupported(c.network, "token withdrawal")
	}
	if !common.IsHexAddress(to) {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid recipient: %s", to)
	}
	return c.transact(ctx, ActionWithdraw, nil, "withdraw", common.HexToAddress(to))
}

func (c *EVMClient) WaitForConfirmation(ctx context.Context, sub *Submission) error {
	hash := common.HexToHash(sub.TxHash)
	return pollUntil(ctx, c.confirmPoll, func() (bool, error) {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		if err != nil {
			c.logger.Debug("receipt lookup failed", map[string]any{"tx": sub.TxHash, "error": err})
			return false, nil
		}
		if receipt.Status == ethtypes.ReceiptStatusFailed {
			return false, types.NewError(types.ErrConfirmationFailed, "%s transaction %s reverted", sub.Action, sub.TxHash)
		}
		return true, nil
	})
}

func (c *EVMClient) callRaw(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{From: c.caller(), To: &c.contract, Data: data}
	return c.eth.CallContract(ctx, msg, nil)
}

func (c *EVMClient) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	out, err := c.callRaw(ctx, method, args...)
	if err != nil {
		return nil, err
	}
	return c.abi.Unpack(method, out)
}

// caller is the connected account, so owner-only views resolve.
func (c *EVMClient) caller() common.Address {
	if signer, err := c.session.EVM(); err == nil {
		return signer.Common()
	}
	return common.Address{}
}

func (c *EVMClient) transact(ctx context.Context, action string, value *big.Int, method string, args ...interface{}) (*Submission, error) {
	signer, err := c.session.EVM()
	if err != nil {
		return nil, err
	}
	return c.transactAs(ctx, signer, action, value, method, args...)
}

func (c *EVMClient) transactAs(ctx context.Context, signer *wallet.EVMSigner, action string, value *big.Int, method string, args ...interface{}) (*Submission, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "pack %s: %v", method, err)
	}
	return c.send(ctx, signer, action, c.contract, value, data)
}

func (c *EVMClient) send(ctx context.Context, signer *wallet.EVMSigner, action string, to common.Address, value *big.Int, data []byte) (*Submission, error) {
	if value == nil {
		value = new(big.Int)
	}
	from := signer.Common()

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, evmError("estimate gas", err)
	}
	gasLimit = gasLimit * 12 / 10

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, evmError("suggest gas price", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, evmError("pending nonce", err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := signer.SignTx(tx, c.chainID)
	if err != nil {
		return nil, types.NewError(types.ErrWalletRejected, "sign tx failed: %v", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, evmError("send tx", err)
	}

	c.logger.Info("transaction submitted", map[string]any{
		"action": action,
		"tx":     signed.Hash().Hex(),
		"from":   from.Hex(),
	})
	return newSubmission(c.network, action, signed.Hash().Hex()), nil
}

func payable(active *types.Transaction) error {
	switch {
	case active == nil:
		return types.NewError(types.ErrContractRejected, "there is no active transaction")
	case active.Paid:
		return types.NewError(types.ErrContractRejected, "the transaction is already paid")
	case active.Cancelled:
		return types.NewError(types.ErrContractRejected, "the transaction is already cancelled")
	}
	return nil
}

// parseEVMToken returns the zero address for the native asset. Anything
// that is neither empty nor a hex address is rejected.
func parseEVMToken(token string) (common.Address, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(token) {
		return common.Address{}, types.NewError(types.ErrInvalidRequest, "invalid token address: %s", token)
	}
	return common.HexToAddress(token), nil
}

func abiConvert[T any](v interface{}) *T {
	return abi.ConvertType(v, new(T)).(*T)
}
