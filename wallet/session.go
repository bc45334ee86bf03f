// Package wallet keeps the accounts connected to the terminal, one per chain
// family, and tells subscribers when they change.
package wallet

import (
	"sync"

	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/types"
)

type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
)

type Event struct {
	Family  types.ChainFamily
	Kind    EventKind
	Account string
}

// Session is owned by the terminal root and lives as long as it does.
type Session struct {
	mu      sync.RWMutex
	signers map[types.ChainFamily]Signer
	subs    map[int]func(Event)
	nextSub int
	closed  bool
	logger  logger.Logger
}

func NewSession(log logger.Logger) *Session {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Session{
		signers: make(map[types.ChainFamily]Signer),
		subs:    make(map[int]func(Event)),
		logger:  log,
	}
}

// Connect makes signer the account of its family, replacing any previous one.
func (s *Session) Connect(signer Signer) error {
	if signer == nil || !signer.Family().Valid() {
		return types.NewError(types.ErrInvalidRequest, "invalid signer")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.NewError(types.ErrWalletNotConnected, "wallet session closed")
	}
	s.signers[signer.Family()] = signer
	subs := s.snapshotSubs()
	s.mu.Unlock()

	s.logger.Info("wallet connected", map[string]any{
		"family":  signer.Family(),
		"account": signer.Address(),
	})
	notify(subs, Event{Family: signer.Family(), Kind: EventConnected, Account: signer.Address()})
	return nil
}

func (s *Session) Disconnect(family types.ChainFamily) {
	s.mu.Lock()
	signer, ok := s.signers[family]
	delete(s.signers, family)
	subs := s.snapshotSubs()
	s.mu.Unlock()

	if !ok {
		return
	}
	s.logger.Info("wallet disconnected", map[string]any{"family": family})
	notify(subs, Event{Family: family, Kind: EventDisconnected, Account: signer.Address()})
}

// Account returns the connected address of family.
func (s *Session) Account(family types.ChainFamily) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	signer, ok := s.signers[family]
	if !ok {
		return "", false
	}
	return signer.Address(), true
}

func (s *Session) Signer(family types.ChainFamily) (Signer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	signer, ok := s.signers[family]
	if !ok {
		return nil, types.NewError(types.ErrWalletNotConnected, "no %s wallet connected", family)
	}
	return signer, nil
}

func (s *Session) EVM() (*EVMSigner, error) {
	signer, err := s.Signer(types.ChainEVM)
	if err != nil {
		return nil, err
	}
	evm, ok := signer.(*EVMSigner)
	if !ok {
		return nil, types.NewError(types.ErrWalletNotConnected, "connected evm wallet cannot sign")
	}
	return evm, nil
}

func (s *Session) Stellar() (*StellarSigner, error) {
	signer, err := s.Signer(types.ChainStellar)
	if err != nil {
		return nil, err
	}
	st, ok := signer.(*StellarSigner)
	if !ok {
		return nil, types.NewError(types.ErrWalletNotConnected, "connected stellar wallet cannot sign")
	}
	return st, nil
}

func (s *Session) Tron() (*TronSigner, error) {
	signer, err := s.Signer(types.ChainTron)
	if err != nil {
		return nil, err
	}
	tr, ok := signer.(*TronSigner)
	if !ok {
		return nil, types.NewError(types.ErrWalletNotConnected, "connected tron wallet cannot sign")
	}
	return tr, nil
}

// Subscribe registers fn for connect and disconnect events. The returned
// function removes the subscription.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Close drops every subscriber and account.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[int]func(Event))
	s.signers = make(map[types.ChainFamily]Signer)
}

func (s *Session) snapshotSubs() []func(Event) {
	subs := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
