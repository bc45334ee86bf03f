package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// TransactionStatus is the lifecycle state of a payment request.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusPaid      TransactionStatus = "paid"
	StatusCancelled TransactionStatus = "cancelled"
	StatusNotFound  TransactionStatus = "not_found"
)

// Transaction is the chain independent view of a payment request. Every chain
// client maps its native representation into this shape.
type Transaction struct {
	// Chain-native identifier (uint64/u64/uint256) rendered in base 10.
	ID string `json:"id"`

	// Requested amount in the smallest unit of the asset (wei, stroop, sun).
	Amount *big.Int `json:"amount"`

	// Address that settled the request. Empty until paid.
	Payer string `json:"payer,omitempty"`

	Paid      bool `json:"paid"`
	Cancelled bool `json:"cancelled"`

	// Creation time in milliseconds since epoch.
	Timestamp int64 `json:"timestamp"`

	Description      string `json:"description"`
	MerchantName     string `json:"merchantName"`
	MerchantLocation string `json:"merchantLocation"`

	// JSON encoded line items, stored on chain as an opaque string.
	ItemizedList string `json:"itemizedList"`

	// Token the merchant asked to be paid in. The family's native sentinel
	// means the chain's native asset.
	RequestedTokenContract string `json:"requestedTokenContract"`
}

// Status derives the lifecycle state from the paid/cancelled flags.
func (t *Transaction) Status() TransactionStatus {
	switch {
	case t == nil:
		return StatusNotFound
	case t.Paid:
		return StatusPaid
	case t.Cancelled:
		return StatusCancelled
	default:
		return StatusPending
	}
}

// IsNative reports whether the transaction asks for the native asset of
// family. aliases are further contracts standing for the native asset, such
// as a Stellar asset contract. Only EVM hex compares case-insensitively.
func (t *Transaction) IsNative(family ChainFamily, aliases ...string) bool {
	token := strings.TrimSpace(t.RequestedTokenContract)
	if token == "" {
		return true
	}
	for _, native := range append([]string{family.NativeToken()}, aliases...) {
		if native == "" {
			continue
		}
		if token == native || (family == ChainEVM && strings.EqualFold(token, native)) {
			return true
		}
	}
	return false
}

// Time returns the creation time.
func (t *Transaction) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// Clone returns a deep copy so callers can hold snapshots safely.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	if t.Amount != nil {
		c.Amount = new(big.Int).Set(t.Amount)
	}
	return &c
}

// Equal compares two transactions field by field.
func (t *Transaction) Equal(o *Transaction) bool {
	if t == nil || o == nil {
		return t == o
	}
	if (t.Amount == nil) != (o.Amount == nil) {
		return false
	}
	if t.Amount != nil && t.Amount.Cmp(o.Amount) != 0 {
		return false
	}
	a, b := *t, *o
	a.Amount, b.Amount = nil, nil
	return a == b
}

// CreateTransactionRequest carries the fields of setActiveTransaction.
type CreateTransactionRequest struct {
	Amount                 *big.Int `json:"amount" validate:"required"`
	Description            string   `json:"description" validate:"max=256"`
	MerchantName           string   `json:"merchantName" validate:"max=128"`
	MerchantLocation       string   `json:"merchantLocation" validate:"max=128"`
	ItemizedList           string   `json:"itemizedList"`
	RequestedTokenContract string   `json:"requestedTokenContract"`
}

// Validate checks that the request can be sent to a contract.
func (r *CreateTransactionRequest) Validate() error {
	if r.Amount == nil || r.Amount.Sign() <= 0 {
		return &TerminalError{
			Code:    ErrInvalidRequest,
			Message: "amount must be positive",
		}
	}
	return nil
}

// ActionResult contains the outcome of a write action
type ActionResult struct {
	Success   bool    `json:"success"`
	Action    string  `json:"action"`
	Network   Network `json:"network"`
	TxHash    string  `json:"txHash,omitempty"`
	Confirmed bool    `json:"confirmed"`
	Error     string  `json:"error,omitempty"`
	ErrorCode string  `json:"errorCode,omitempty"`
}

// VerificationResult describes a transaction found by id
type VerificationResult struct {
	Network    Network           `json:"network"`
	ID         string            `json:"id"`
	Found      bool              `json:"found"`
	Status     TransactionStatus `json:"status"`
	Payer      string            `json:"payer,omitempty"`
	Amount     string            `json:"amount,omitempty"`
	Consistent bool              `json:"consistent"`
	Error      string            `json:"error,omitempty"`

	// Active is true when the transaction is still in the active slot.
	Active      bool         `json:"active"`
	Transaction *Transaction `json:"transaction,omitempty"`
}

// QRPayload is the JSON object rendered as a QR code so that a payer's wallet
// can locate the terminal contract.
type QRPayload struct {
	Type            ChainFamily `json:"type"`
	ChainID         int64       `json:"chainId,omitempty"`
	Network         string      `json:"network,omitempty"`
	ContractAddress string      `json:"contractAddress"`
}

// SignerConfig points at the key used to sign writes on a network.
type SignerConfig struct {
	// Hex encoded secp256k1 key (EVM, Tron) or Stellar secret seed.
	PrivateKey string `json:"privateKey,omitempty" mapstructure:"private_key"`

	// go-ethereum keystore file; EVM only.
	KeystorePath     string `json:"keystorePath,omitempty" mapstructure:"keystore_path"`
	KeystorePassword string `json:"-" mapstructure:"keystore_password"`
}

// ClientConfig contains configuration for blockchain clients
type ClientConfig struct {
	Network         Network `json:"network" mapstructure:"network" validate:"required"`
	RPCUrl          string  `json:"rpcUrl" mapstructure:"rpc_url" validate:"required,url"`
	ContractAddress string  `json:"contractAddress" mapstructure:"contract_address" validate:"required"`

	// EVM contract flavour: "basic" (native only) or "extended" (ERC20).
	ContractVariant string `json:"contractVariant,omitempty" mapstructure:"contract_variant" validate:"omitempty,oneof=basic extended"`

	// TronGrid API key.
	APIKey string `json:"apiKey,omitempty" mapstructure:"api_key"`

	// Tron fee limit in sun.
	FeeLimit int64 `json:"feeLimit,omitempty" mapstructure:"fee_limit"`

	// Stellar deployment owner. The contract does not expose its owner, so
	// the terminal trusts this value.
	OwnerAddress string `json:"ownerAddress,omitempty" mapstructure:"owner_address"`

	// Stellar asset contract used when the native asset is requested.
	NativeTokenContract string `json:"nativeTokenContract,omitempty" mapstructure:"native_token_contract"`

	NetworkPassphrase string `json:"networkPassphrase,omitempty" mapstructure:"network_passphrase"`

	PollInterval    time.Duration `json:"pollInterval,omitempty" mapstructure:"poll_interval"`
	MaxPollInterval time.Duration `json:"maxPollInterval,omitempty" mapstructure:"max_poll_interval"`
	RecentSchedule  string        `json:"recentSchedule,omitempty" mapstructure:"recent_schedule"`
	Timeout         time.Duration `json:"timeout,omitempty" mapstructure:"timeout"`

	Signer SignerConfig `json:"signer,omitempty" mapstructure:"signer"`
}

// TerminalConfig contains global configuration for the terminal
type TerminalConfig struct {
	Env             string                   `json:"env,omitempty" mapstructure:"env"`
	LogLevel        string                   `json:"logLevel,omitempty" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	DefaultTimeout  time.Duration            `json:"defaultTimeout,omitempty" mapstructure:"default_timeout"`
	PollInterval    time.Duration            `json:"pollInterval,omitempty" mapstructure:"poll_interval"`
	MaxPollInterval time.Duration            `json:"maxPollInterval,omitempty" mapstructure:"max_poll_interval"`
	RecentSchedule  string                   `json:"recentSchedule,omitempty" mapstructure:"recent_schedule"`
	WatchdogTimeout time.Duration            `json:"watchdogTimeout,omitempty" mapstructure:"watchdog_timeout"`
	ConfirmTimeout  time.Duration            `json:"confirmTimeout,omitempty" mapstructure:"confirm_timeout"`
	SettleDelay     time.Duration            `json:"settleDelay,omitempty" mapstructure:"settle_delay"`
	EnableMetrics   bool                     `json:"enableMetrics,omitempty" mapstructure:"enable_metrics"`
	Clients         map[Network]ClientConfig `json:"clients,omitempty" mapstructure:"clients" validate:"dive"`
}

// Error types
type TerminalError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *TerminalError) Error() string {
	return e.Message
}

// Common error codes
const (
	ErrUnsupportedNetwork   = "UNSUPPORTED_NETWORK"
	ErrUnsupportedOperation = "UNSUPPORTED_OPERATION"
	ErrInvalidRequest       = "INVALID_REQUEST"
	ErrWalletNotConnected   = "WALLET_NOT_CONNECTED"
	ErrWalletRejected       = "WALLET_REJECTED"
	ErrRPC                  = "RPC_ERROR"
	ErrContractRejected     = "CONTRACT_REJECTED"
	ErrBusy                 = "BUSY"
	ErrNotOwner             = "NOT_OWNER"
	ErrConfigError          = "CONFIG_ERROR"
	ErrConfirmationFailed   = "CONFIRMATION_FAILED"
)

// NewError builds a TerminalError with a formatted message.
func NewError(code, format string, args ...interface{}) *TerminalError {
	return &TerminalError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the fields every client needs.
func (c *ClientConfig) Validate() error {
	if c.Network.Family() == "" {
		return NewError(ErrUnsupportedNetwork, "unsupported network: %s", c.Network)
	}
	if c.RPCUrl == "" {
		return NewError(ErrConfigError, "%s: rpc url is required", c.Network)
	}
	if c.ContractAddress == "" {
		return NewError(ErrConfigError, "%s: contract address is required", c.Network)
	}
	return nil
}
