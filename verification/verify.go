package verification

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/vitwit/payterm/mapper"
	"github.com/vitwit/payterm/types"
)

// Source is the part of a chain client verification reads from.
type Source interface {
	GetNetwork() types.Network
	GetActiveTransaction(ctx context.Context) (*types.Transaction, error)
	GetRecentTransactions(ctx context.Context) ([]types.Transaction, error)
}

// Verifier locates a terminal transaction by id.
type Verifier interface {
	VerifyPayment(ctx context.Context, network types.Network, id string) (*types.VerificationResult, error)
}

// VerificationService verifies payments across all registered networks
type VerificationService struct {
	mu      sync.RWMutex
	sources map[types.Network]Source
	timeout time.Duration
}

var _ Verifier = (*VerificationService)(nil)

// NewVerificationService creates a new verification service
func NewVerificationService(timeout time.Duration) *VerificationService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &VerificationService{
		sources: make(map[types.Network]Source),
		timeout: timeout,
	}
}

// AddSource registers the client of a network
func (s *VerificationService) AddSource(network types.Network, source Source) error {
	if network.Family() == "" {
		return types.NewError(types.ErrUnsupportedNetwork, "unsupported network: %s", network)
	}
	s.mu.Lock()
	s.sources[network] = source
	s.mu.Unlock()
	return nil
}

// VerifyPayment looks for id in the active slot first, then in the recent
// ring buffer. A transaction that is in neither is reported as not found;
// read failures are returned as errors.
func (s *VerificationService) VerifyPayment(ctx context.Context, network types.Network, id string) (*types.VerificationResult, error) {
	s.mu.RLock()
	source, ok := s.sources[network]
	s.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedNetwork, "no client for network %s", network)
	}
	if mapper.IsSentinelID(id) {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid transaction id %q", id)
	}
	want, _ := new(big.Int).SetString(strings.TrimSpace(id), 10)
	id = want.String()

	vctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	active, err := source.GetActiveTransaction(vctx)
	if err != nil {
		return nil, err
	}
	if active != nil && sameID(active.ID, want) {
		res := result(network, id, active)
		res.Active = true
		return res, nil
	}

	recent, err := source.GetRecentTransactions(vctx)
	if err != nil {
		return nil, err
	}
	for i := range recent {
		if sameID(recent[i].ID, want) {
			return result(network, id, &recent[i]), nil
		}
	}

	return &types.VerificationResult{
		Network:    network,
		ID:         id,
		Status:     types.StatusNotFound,
		Consistent: true,
	}, nil
}

// sameID compares ids as numbers, so "05" and "5" match.
func sameID(id string, want *big.Int) bool {
	n, ok := new(big.Int).SetString(strings.TrimSpace(id), 10)
	return ok && n.Cmp(want) == 0
}

func result(network types.Network, id string, tx *types.Transaction) *types.VerificationResult {
	res := &types.VerificationResult{
		Network:     network,
		ID:          id,
		Found:       true,
		Status:      tx.Status(),
		Payer:       tx.Payer,
		Consistent:  true,
		Transaction: tx.Clone(),
	}
	if tx.Amount != nil {
		res.Amount = tx.Amount.String()
	}
	if err := mapper.CheckInvariants(tx); err != nil {
		res.Consistent = false
		res.Error = err.Error()
	}
	return res
}
