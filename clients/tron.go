package clients

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/mapper"
	"github.com/vitwit/payterm/types"
	"github.com/vitwit/payterm/utils"
	"github.com/vitwit/payterm/wallet"
)

// TronClient talks to the Tron terminal contract through TronGrid. Calldata
// is encoded with the EVM ABI codec.
type TronClient struct {
	network     types.Network
	contract    string
	contractHex common.Address
	api         *tronAPI
	session     *wallet.Session
	logger      logger.Logger
	feeLimit    int64
	confirmPoll time.Duration
}

var _ Client = (*TronClient)(nil)

func NewTronClient(cfg types.ClientConfig, session *wallet.Session, log logger.Logger) (*TronClient, error) {
	return NewTronClientWithHTTP(cfg, nil, session, log)
}

// NewTronClientWithHTTP uses httpClient for TronGrid requests.
func NewTronClientWithHTTP(cfg types.ClientConfig, httpClient *http.Client, session *wallet.Session, log logger.Logger) (*TronClient, error) {
	if !cfg.Network.IsTron() {
		return nil, types.NewError(types.ErrUnsupportedNetwork, "%s is not a Tron network", cfg.Network)
	}
	contractHex, err := utils.TronToEVM(cfg.ContractAddress)
	if err != nil {
		return nil, types.NewError(types.ErrConfigError, "invalid contract address: %v", err)
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
	feeLimit := cfg.FeeLimit
	if feeLimit <= 0 {
		feeLimit = defaultTronFeeLimit
	}

	return &TronClient{
		network:     cfg.Network,
		contract:    cfg.ContractAddress,
		contractHex: contractHex,
		api:         newTronAPI(cfg.RPCUrl, cfg.APIKey, httpClient),
		session:     session,
		logger:      logger.With(log, map[string]any{"network": cfg.Network}),
		feeLimit:    feeLimit,
		confirmPoll: defaultConfirmPoll,
	}, nil
}

func (c *TronClient) Kind() types.ChainFamily   { return types.ChainTron }
func (c *TronClient) GetNetwork() types.Network { return c.network }
func (c *TronClient) Close()                    {}

func (c *TronClient) NativeTokenContract() string { return types.TronNativeToken }

func (c *TronClient) QRPayload() types.QRPayload {
	return types.QRPayload{
		Type:            types.ChainTron,
		Network:         c.network.Short(),
		ContractAddress: c.contract,
	}
}

func (c *TronClient) GetActiveTransaction(ctx context.Context) (*types.Transaction, error) {
	data, err := c.constant(ctx, c.contract, tronTerminal, "activeTransaction")
	if err != nil {
		return nil, err
	}
	var rec mapper.ContractRecord
	if err := tronTerminal.UnpackIntoInterface(&rec, "activeTransaction", data); err != nil {
		return nil, rpcError("activeTransaction", err)
	}
	return mapper.Normalize(mapper.FromTronRecord(rec)), nil
}

func (c *TronClient) GetRecentTransactions(ctx context.Context) ([]types.Transaction, error) {
	data, err := c.constant(ctx, c.contract, tronTerminal, "getAllRecentTransactions")
	if err != nil {
		return nil, err
	}
	var records []mapper.ContractRecord
	if err := tronTerminal.UnpackIntoInterface(&records, "getAllRecentTransactions", data); err != nil {
		return nil, rpcError("getAllRecentTransactions", err)
	}

	txs := make([]types.Transaction, 0, len(records))
	for _, rec := range records {
		if tx := mapper.Normalize(mapper.FromTronRecord(rec)); tx != nil {
			txs = append(txs, *tx)
		}
	}
	return mostRecentFirst(txs), nil
}

func (c *TronClient) GetOwner(ctx context.Context) (string, error) {
	out, err := c.constantUnpack(ctx, c.contract, tronTerminal, "owner")
	if err != nil {
		return "", err
	}
	return utils.EVMToTron(*abiConvert[common.Address](out[0])), nil
}

func (c *TronClient) Inspect(ctx context.Context) (*ContractInfo, error) {
	out, err := c.constantUnpack(ctx, c.contract, tronTerminal, "txCounter")
	if err != nil {
		return nil, err
	}
	info := &ContractInfo{TxCounter: abiConvert[big.Int](out[0])}

	out, err = c.constantUnpack(ctx, c.contract, tronTerminal, "getPaymentStatus")
	if err != nil {
		return nil, err
	}
	id := abiConvert[big.Int](out[0])
	if !mapper.IsSentinelID(id.String()) {
		info.Payment = &PaymentStatus{
			ID:        id.String(),
			Paid:      *abiConvert[bool](out[1]),
			Cancelled: *abiConvert[bool](out[2]),
		}
		if payer := *abiConvert[common.Address](out[3]); payer != (common.Address{}) {
			info.Payment.Payer = utils.EVMToTron(payer)
		}
	}
	return info, nil
}

func (c *TronClient) TokenDecimals(ctx context.Context, tokenContract string) (int32, error) {
	if isTronNative(tokenContract) {
		return types.ChainTron.Decimals(), nil
	}
	if err := utils.ValidateAddress(types.ChainTron, tokenContract); err != nil {
		return 0, types.NewError(types.ErrInvalidRequest, "invalid token address: %s", tokenContract)
	}
	out, err := c.constantUnpack(ctx, tokenContract, erc20, "decimals")
	if err != nil {
		return 0, err
	}
	return int32(*abiConvert[uint8](out[0])), nil
}

// GetContractBalance returns the contract's TRX balance in sun, or its TRC20
// balance of tokenContract.
func (c *TronClient) GetContractBalance(ctx context.Context, tokenContract string) (*big.Int, error) {
	if isTronNative(tokenContract) {
		acct, err := c.api.account(ctx, c.contract)
		if err != nil {
			return nil, rpcError("getaccount", err)
		}
		return big.NewInt(acct.Balance), nil
	}
	if err := utils.ValidateAddress(types.ChainTron, tokenContract); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid token address: %s", tokenContract)
	}
	out, err := c.constantUnpack(ctx, tokenContract, erc20, "balanceOf", c.contractHex)
	if err != nil {
		return nil, err
	}
	return abiConvert[big.Int](out[0]), nil
}

func (c *TronClient) SetActiveTransaction(ctx context.Context, req types.CreateTransactionRequest) (*Submission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	token := req.RequestedTokenContract
	if token == "" {
		token = types.TronNativeToken
	}
	tokenHex, err := utils.TronToEVM(token)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "%v", err)
	}
	return c.transact(ctx, ActionCreate, 0, c.contract, tronTerminal, "setActiveTransaction",
		req.Amount, req.Description, req.MerchantName, req.MerchantLocation, req.ItemizedList, tokenHex)
}

// PayActiveTransaction pays in TRX through call_value, or approves the
// terminal for the TRC20 amount first.
func (c *TronClient) PayActiveTransaction(ctx context.Context) (*Submission, error) {
	signer, err := c.session.Tron()
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

	if active.IsNative(types.ChainTron) {
		if !active.Amount.IsInt64() {
			return nil, types.NewError(types.ErrInvalidRequest, "amount %s exceeds call value range", active.Amount)
		}
		return c.transactAs(ctx, signer, ActionPay, active.Amount.Int64(), c.contract, tronTerminal, "payActiveTransaction")
	}

	if err := c.ensureAllowance(ctx, signer, active.RequestedTokenContract, active.Amount); err != nil {
		return nil, err
	}
	return c.transactAs(ctx, signer, ActionPay, 0, c.contract, tronTerminal, "payActiveTransaction")
}

func (c *TronClient) ensureAllowance(ctx context.Context, signer *wallet.TronSigner, token string, amount *big.Int) error {
	out, err := c.constantUnpack(ctx, token, erc20, "allowance", signer.Common(), c.contractHex)
	if err != nil {
		return err
	}
	if abiConvert[big.Int](out[0]).Cmp(amount) >= 0 {
		return nil
	}

	sub, err := c.transactAs(ctx, signer, ActionApprove, 0, token, erc20, "approve", c.contractHex, amount)
	if err != nil {
		return err
	}
	return c.WaitForConfirmation(ctx, sub)
}

func (c *TronClient) CancelActiveTransaction(ctx context.Context) (*Submission, error) {
	return c.transact(ctx, ActionCancel, 0, c.contract, tronTerminal, "cancelActiveTransaction")
}

func (c *TronClient) ClearActiveTransaction(ctx context.Context) (*Submission, error) {
	return c.transact(ctx, ActionClear, 0, c.contract, tronTerminal, "clearActiveTransaction")
}

func (c *TronClient) Withdraw(ctx context.Context, to, tokenContract string) (*Submission, error) {
	toHex, err := utils.TronToEVM(to)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "%v", err)
	}
	if tokenContract == "" {
		tokenContract = types.TronNativeToken
	}
	tokenHex, err := utils.TronToEVM(tokenContract)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "%v", err)
	}
	return c.transact(ctx, ActionWithdraw, 0, c.contract, tronTerminal, "withdraw", toHex, tokenHex)
}

func (c *TronClient) WaitForConfirmation(ctx context.Context, sub *Submission) error {
	return pollUntil(ctx, c.confirmPoll, func() (bool, error) {
		info, err := c.api.transactionInfo(ctx, sub.TxHash)
		if err != nil {
			c.logger.Debug("gettransactioninfobyid failed", map[string]any{"tx": sub.TxHash, "error": err})
			return false, nil
		}
		if info == nil {
			return false, nil
		}
		if info.Receipt.Result != "" && info.Receipt.Result != "SUCCESS" {
			reason := decodeTronMessage(info.ResMessage)
			if reason == "" {
				reason = info.Receipt.Result
			}
			return false, &types.TerminalError{
				Code:    types.ErrConfirmationFailed,
				Message: fmt.Sprintf("%s transaction %s failed: %s", sub.Action, sub.TxHash, reason),
				Data:    info.Receipt.Result,
			}
		}
		return true, nil
	})
}

// readAs is the owner_address sent with constant calls.
func (c *TronClient) readAs() string {
	if account, ok := c.session.Account(types.ChainTron); ok {
		return account
	}
	return c.contract
}

func (c *TronClient) constant(ctx context.Context, contract string, parsed abi.ABI, method string, args ...interface{}) ([]byte, error) {
	selector, param, err := encodeTronCall(parsed, method, args...)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "%s: %v", method, err)
	}
	res, err := c.api.triggerConstant(ctx, tronTriggerRequest{
		OwnerAddress:     c.readAs(),
		ContractAddress:  contract,
		FunctionSelector: selector,
		Parameter:        param,
	})
	if err != nil {
		return nil, rpcError(method, err)
	}
	if err := tronTriggerError(method, res); err != nil {
		return nil, err
	}
	if len(res.ConstantResult) == 0 {
		return nil, rpcError(method, fmt.Errorf("empty constant result"))
	}
	data, err := hex.DecodeString(res.ConstantResult[0])
	if err != nil {
		return nil, rpcError(method, err)
	}
	return data, nil
}

func (c *TronClient) constantUnpack(ctx context.Context, contract string, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.constant(ctx, contract, parsed, method, args...)
	if err != nil {
		return nil, err
	}
	out, err := parsed.Unpack(method, data)
	if err != nil {
		return nil, rpcError(method, err)
	}
	if len(out) == 0 {
		return nil, rpcError(method, fmt.Errorf("no outputs"))
	}
	return out, nil
}

func (c *TronClient) transact(ctx context.Context, action string, callValue int64, contract string, parsed abi.ABI, method string, args ...interface{}) (*Submission, error) {
	signer, err := c.session.Tron()
	if err != nil {
		return nil, err
	}
	return c.transactAs(ctx, signer, action, callValue, contract, parsed, method, args...)
}

// transactAs builds the transaction on the node, checks its txID against
// the raw data, signs the txID and broadcasts.
func (c *TronClient) transactAs(ctx context.Context, signer *wallet.TronSigner, action string, callValue int64, contract string, parsed abi.ABI, method string, args ...interface{}) (*Submission, error) {
	selector, param, err := encodeTronCall(parsed, method, args...)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "%s: %v", method, err)
	}

	res, err := c.api.triggerSmart(ctx, tronTriggerRequest{
		OwnerAddress:     signer.Address(),
		ContractAddress:  contract,
		FunctionSelector: selector,
		Parameter:        param,
		FeeLimit:         c.feeLimit,
		CallValue:        callValue,
	})
	if err != nil {
		return nil, rpcError(method, err)
	}
	if err := tronTriggerError(method, res); err != nil {
		return nil, err
	}
	tx := res.Transaction
	if tx == nil {
		return nil, rpcError(method, fmt.Errorf("node returned no transaction"))
	}

	digest, err := checkTxID(tx)
	if err != nil {
		return nil, rpcError(method, err)
	}
	sig, err := signer.SignDigest(digest)
	if err != nil {
		return nil, types.NewError(types.ErrWalletRejected, "sign %s: %v", method, err)
	}
	tx.Signature = []string{hex.EncodeToString(sig)}
	tx.Ret = nil

	sent, err := c.api.broadcast(ctx, tx)
	if err != nil {
		return nil, rpcError(method, err)
	}
	if !sent.Result {
		return nil, types.NewError(types.ErrRPC, "%s: broadcast rejected: %s %s", method, sent.Code, decodeTronMessage(sent.Message))
	}

	c.logger.Info("transaction submitted", map[string]any{
		"action": action,
		"tx":     tx.TxID,
		"from":   signer.Address(),
	})
	return newSubmission(c.network, action, tx.TxID), nil
}

// tronTriggerError classifies a failed trigger response. Reverts carry the
// ABI encoded reason in constant_result.
func tronTriggerError(method string, res *tronTriggerResponse) *types.TerminalError {
	if res.Transaction.failed() {
		if len(res.ConstantResult) > 0 {
			if reason, ok := decodeRevert(res.ConstantResult[0]); ok {
				return &types.TerminalError{
					Code:    types.ErrContractRejected,
					Message: fmt.Sprintf("%s reverted: %s", method, reason),
					Data:    reason,
				}
			}
		}
		return types.NewError(types.ErrContractRejected, "%s reverted", method)
	}
	if !res.Result.Result {
		msg := decodeTronMessage(res.Result.Message)
		if strings.Contains(strings.ToUpper(msg), "REVERT") {
			return types.NewError(types.ErrContractRejected, "%s: %s", method, msg)
		}
		return types.NewError(types.ErrRPC, "%s: %s %s", method, res.Result.Code, msg)
	}
	return nil
}

// encodeTronCall returns the function selector and hex encoded arguments in
// the form triggersmartcontract expects.
func encodeTronCall(parsed abi.ABI, method string, args ...interface{}) (string, string, error) {
	m, ok := parsed.Methods[method]
	if !ok {
		return "", "", fmt.Errorf("unknown method %s", method)
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return "", "", err
	}
	return m.Sig, hex.EncodeToString(data[4:]), nil
}

func isTronNative(token string) bool {
	return token == "" || token == types.TronNativeToken
}
