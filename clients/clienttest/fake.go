// Package clienttest provides an in-memory Client for tests of the packages
// built on top of clients.
package clienttest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/vitwit/payterm/clients"
	"github.com/vitwit/payterm/types"
)

// Fake is a configurable clients.Client. Writes mutate Active the way the
// terminal contract would.
type Fake struct {
	mu sync.Mutex

	Network  types.Network
	Contract string
	Active   *types.Transaction
	Recent   []types.Transaction
	Owner    string
	Balance  *big.Int
	// NativeToken overrides the family's native sentinel.
	NativeToken string
	// Info is what Inspect reports.
	Info clients.ContractInfo
	// TokenDecimalsOf maps token contracts to their decimals.
	TokenDecimalsOf map[string]int32

	ActiveErr  error
	RecentErr  error
	SubmitErr  error
	ConfirmErr error

	// SubmitGate, when set, blocks writes until it is closed.
	SubmitGate chan struct{}
	// HangConfirm makes WaitForConfirmation block until ctx ends.
	HangConfirm bool

	Calls       []string
	Created     []types.CreateTransactionRequest
	Withdrawals [][2]string

	nextTx int
}

var (
	_ clients.Client         = (*Fake)(nil)
	_ clients.Inspector      = (*Fake)(nil)
	_ clients.TokenDecimaler = (*Fake)(nil)
)

func New(network types.Network) *Fake {
	return &Fake{
		Network:  network,
		Contract: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		Owner:    "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Balance:  big.NewInt(0),
	}
}

func (f *Fake) record(call string) {
	f.mu.Lock()
	f.Calls = append(f.Calls, call)
	f.mu.Unlock()
}

// CallCount returns how many times call was made.
func (f *Fake) CallCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *Fake) SetActive(tx *types.Transaction) {
	f.mu.Lock()
	f.Active = tx.Clone()
	f.mu.Unlock()
}

func (f *Fake) Kind() types.ChainFamily   { return f.Network.Family() }
func (f *Fake) GetNetwork() types.Network { return f.Network }
func (f *Fake) Close()                    { f.record("Close") }

func (f *Fake) NativeTokenContract() string {
	if f.NativeToken != "" {
		return f.NativeToken
	}
	return f.Network.Family().NativeToken()
}

func (f *Fake) QRPayload() types.QRPayload {
	return types.QRPayload{
		Type:            f.Network.Family(),
		ChainID:         f.Network.ChainID(),
		Network:         f.Network.Short(),
		ContractAddress: f.Contract,
	}
}

func (f *Fake) GetActiveTransaction(context.Context) (*types.Transaction, error) {
	f.record("GetActiveTransaction")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ActiveErr != nil {
		return nil, f.ActiveErr
	}
	return f.Active.Clone(), nil
}

func (f *Fake) GetRecentTransactions(context.Context) ([]types.Transaction, error) {
	f.record("GetRecentTransactions")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RecentErr != nil {
		return nil, f.RecentErr
	}
	out := make([]types.Transaction, len(f.Recent))
	copy(out, f.Recent)
	return out, nil
}

func (f *Fake) GetOwner(context.Context) (string, error) {
	f.record("GetOwner")
	return f.Owner, nil
}

func (f *Fake) GetContractBalance(context.Context, string) (*big.Int, error) {
	f.record("GetContractBalance")
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.Balance), nil
}

func (f *Fake) SetActiveTransaction(ctx context.Context, req types.CreateTransactionRequest) (*clients.Submission, error) {
	return f.submit(ctx, clients.ActionCreate, func() error {
		if err := req.Validate(); err != nil {
			return err
		}
		if f.Active != nil && !f.Active.Paid && !f.Active.Cancelled {
			return types.NewError(types.ErrContractRejected, "the current transaction is still pending")
		}
		f.Created = append(f.Created, req)
		f.nextTx++
		f.Active = &types.Transaction{
			ID:                     fmt.Sprint(f.nextTx),
			Amount:                 new(big.Int).Set(req.Amount),
			Timestamp:              time.Now().UnixMilli(),
			Description:            req.Description,
			MerchantName:           req.MerchantName,
			MerchantLocation:       req.MerchantLocation,
			ItemizedList:           req.ItemizedList,
			RequestedTokenContract: req.RequestedTokenContract,
		}
		return nil
	})
}

func (f *Fake) PayActiveTransaction(ctx context.Context) (*clients.Submission, error) {
	return f.submit(ctx, clients.ActionPay, func() error {
		if f.Active == nil {
			return types.NewError(types.ErrContractRejected, "there is no active transaction")
		}
		f.Active.Paid = true
		f.Active.Payer = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
		return nil
	})
}

func (f *Fake) CancelActiveTransaction(ctx context.Context) (*clients.Submission, error) {
	return f.submit(ctx, clients.ActionCancel, func() error {
		if f.Active == nil {
			return types.NewError(types.ErrContractRejected, "there is no active transaction")
		}
		f.Active.Cancelled = true
		return nil
	})
}

func (f *Fake) ClearActiveTransaction(ctx context.Context) (*clients.Submission, error) {
	return f.submit(ctx, clients.ActionClear, func() error {
		f.Active = nil
		return nil
	})
}

func (f *Fake) Withdraw(ctx context.Context, to, tokenContract string) (*clients.Submission, error) {
	return f.submit(ctx, clients.ActionWithdraw, func() error {
		f.Withdrawals = append(f.Withdrawals, [2]string{to, tokenContract})
		return nil
	})
}

func (f *Fake) submit(ctx context.Context, action string, apply func() error) (*clients.Submission, error) {
	f.record(action)

	f.mu.Lock()
	gate := f.SubmitGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, types.NewError(types.ErrRPC, "%s: %v", action, ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return nil, f.SubmitErr
	}
	if err := apply(); err != nil {
		return nil, err
	}
	return &clients.Submission{
		Network:     f.Network,
		Action:      action,
		TxHash:      fmt.Sprintf("0x%064x", len(f.Calls)),
		SubmittedAt: time.Now(),
	}, nil
}

func (f *Fake) WaitForConfirmation(ctx context.Context, _ *clients.Submission) error {
	f.record("WaitForConfirmation")
	f.mu.Lock()
	hang, err := f.HangConfirm, f.ConfirmErr
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return types.NewError(types.ErrConfirmationFailed, "confirmation wait ended: %v", ctx.Err())
	}
	return err
}

func (f *Fake) Inspect(context.Context) (*clients.ContractInfo, error) {
	f.record("Inspect")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ActiveErr != nil {
		return nil, f.ActiveErr
	}
	info := f.Info
	return &info, nil
}

func (f *Fake) TokenDecimals(_ context.Context, token string) (int32, error) {
	f.record("TokenDecimals")
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.TokenDecimalsOf[token]; ok {
		return d, nil
	}
	if token == "" || token == f.Network.Family().NativeToken() {
		return f.Network.Family().Decimals(), nil
	}
	return 0, types.NewError(types.ErrRPC, "decimals: unknown token %s", token)
}
