package clients

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/vitwit/payterm/types"
)

// Action names used in submissions, results and logs.
const (
	ActionCreate   = "create"
	ActionPay      = "pay"
	ActionCancel   = "cancel"
	ActionClear    = "clear"
	ActionWithdraw = "withdraw"
	ActionApprove  = "approve"
)

// Client is the per chain family view of a payment terminal contract.
type Client interface {
	Kind() types.ChainFamily
	GetNetwork() types.Network

	// GetActiveTransaction returns nil, nil when the contract has no active
	// transaction. Read failures are returned as errors so callers can keep
	// what they showed before.
	GetActiveTransaction(ctx context.Context) (*types.Transaction, error)

	// GetRecentTransactions returns the contract's ring buffer, most recent
	// first.
	GetRecentTransactions(ctx context.Context) ([]types.Transaction, error)

	GetOwner(ctx context.Context) (string, error)
	GetContractBalance(ctx context.Context, tokenContract string) (*big.Int, error)

	// Writes return once the node accepted the transaction.
	SetActiveTransaction(ctx context.Context, req types.CreateTransactionRequest) (*Submission, error)
	PayActiveTransaction(ctx context.Context) (*Submission, error)
	CancelActiveTransaction(ctx context.Context) (*Submission, error)
	ClearActiveTransaction(ctx context.Context) (*Submission, error)
	Withdraw(ctx context.Context, to, tokenContract string) (*Submission, error)

	// WaitForConfirmation blocks until the chain reports the submission as
	// included, it fails, or ctx ends.
	WaitForConfirmation(ctx context.Context, sub *Submission) error

	// NativeTokenContract is the token address that stands for the native
	// asset in transactions of this contract.
	NativeTokenContract() string

	QRPayload() types.QRPayload
	Close()
}

// ContractInfo is the bookkeeping a terminal contract reports about itself.
type ContractInfo struct {
	TxCounter *big.Int `json:"txCounter"`
	// MaxRecent is the ring buffer size, nil when the contract does not
	// expose it.
	MaxRecent *big.Int `json:"maxRecent,omitempty"`
	// Payment is the payment status of the active slot, nil when the slot
	// is empty.
	Payment *PaymentStatus `json:"payment,omitempty"`
}

type PaymentStatus struct {
	ID        string `json:"id"`
	Paid      bool   `json:"paid"`
	Cancelled bool   `json:"cancelled"`
	Payer     string `json:"payer,omitempty"`
}

// Inspector is implemented by clients whose contract exposes its counters.
type Inspector interface {
	Inspect(ctx context.Context) (*ContractInfo, error)
}

// TokenDecimaler is implemented by clients that can read a token's
// decimals from chain. The native asset reports the family decimals.
type TokenDecimaler interface {
	TokenDecimals(ctx context.Context, tokenContract string) (int32, error)
}

// Submission identifies a write accepted by a node.
type Submission struct {
	Network     types.Network `json:"network"`
	Action      string        `json:"action"`
	TxHash      string        `json:"txHash"`
	SubmittedAt time.Time     `json:"submittedAt"`
}

func newSubmission(network types.Network, action, hash string) *Submission {
	return &Submission{
		Network:     network,
		Action:      action,
		TxHash:      hash,
		SubmittedAt: time.Now(),
	}
}

const (
	defaultTimeout      = 30 * time.Second
	defaultConfirmPoll  = 2 * time.Second
	defaultTronFeeLimit = 100_000_000
)

// pollUntil calls check every interval until it reports done, returns an
// error, or ctx ends.
func pollUntil(ctx context.Context, interval time.Duration, check func() (bool, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return types.NewError(types.ErrConfirmationFailed, "confirmation wait ended: %v", ctx.Err())
		case <-ticker.C:
		}
	}
}

// mostRecentFirst orders transactions by descending id. Ring buffers wrap,
// so storage order is not creation order.
func mostRecentFirst(txs []types.Transaction) []types.Transaction {
	out := make([]types.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := new(big.Int).SetString(out[i].ID, 10)
		b, _ := new(big.Int).SetString(out[j].ID, 10)
		if a == nil || b == nil {
			return false
		}
		return a.Cmp(b) > 0
	})
	return out
}
