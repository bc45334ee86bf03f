// Package payterm runs a point of sale terminal against payment terminal
// contracts on EVM, Stellar/Soroban and Tron networks.
package payterm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitwit/payterm/cache"
	"github.com/vitwit/payterm/clients"
	"github.com/vitwit/payterm/events"
	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/metrics"
	"github.com/vitwit/payterm/reconciler"
	"github.com/vitwit/payterm/settlement"
	"github.com/vitwit/payterm/types"
	"github.com/vitwit/payterm/utils"
	"github.com/vitwit/payterm/verification"
	"github.com/vitwit/payterm/wallet"
)

const defaultTimeout = 30 * time.Second

// Terminal is the main struct that wires the chain clients, reconcilers and
// dispatchers of every configured network.
type Terminal struct {
	config    types.TerminalConfig
	logger    logger.Logger
	metrics   metrics.Recorder
	timeout   time.Duration
	publisher events.Publisher
	profiles  *cache.ProfileStore

	session  *wallet.Session
	verifier *verification.VerificationService

	mu       sync.RWMutex
	networks map[types.Network]*runtime
	runCtx   context.Context
	cancel   context.CancelFunc
	closed   bool
}

// runtime is everything the terminal runs for one network.
type runtime struct {
	client     clients.Client
	reconciler *reconciler.Reconciler
	recent     *reconciler.RecentTracker
	dispatcher *settlement.Dispatcher
	stopEvents func()
}

// New creates a terminal. Networks from cfg.Clients are not added; call
// AddNetwork or AddConfiguredNetworks.
func New(cfg *types.TerminalConfig, opts ...Option) *Terminal {
	t := &Terminal{
		timeout:  defaultTimeout,
		networks: make(map[types.Network]*runtime),
	}
	if cfg != nil {
		t.config = *cfg
		if cfg.DefaultTimeout > 0 {
			t.timeout = cfg.DefaultTimeout
		}
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.logger == nil {
		t.logger = logger.NoopLogger{}
	}
	if t.metrics == nil {
		t.metrics = metrics.NoopRecorder{}
	}
	if t.publisher == nil {
		t.publisher = events.NoopPublisher{}
	}
	if t.profiles == nil {
		t.profiles = cache.NewProfileStore(cache.NewMemoryCache(0, 0))
	}

	t.session = wallet.NewSession(t.logger)
	t.verifier = verification.NewVerificationService(t.timeout)
	return t
}

// AddConfiguredNetworks adds every client of the terminal config, in
// network order.
func (t *Terminal) AddConfiguredNetworks() error {
	names := make([]types.Network, 0, len(t.config.Clients))
	for network := range t.config.Clients {
		names = append(names, network)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	for _, network := range names {
		if err := t.AddNetwork(network, t.config.Clients[network]); err != nil {
			return err
		}
	}
	return nil
}

// AddNetwork connects the configured signer, if any, and creates the client
// matching the network's chain family.
func (t *Terminal) AddNetwork(network types.Network, cfg types.ClientConfig) error {
	if cfg.Network == "" {
		cfg.Network = network
	}
	if cfg.Network != network {
		return types.NewError(types.ErrConfigError, "client for %s declares network %s", network, cfg.Network)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = t.timeout
	}
	if err := utils.ValidateClientConfig(&cfg); err != nil {
		return err
	}

	if _, err := t.lookup(network); err == nil {
		return types.NewError(types.ErrConfigError, "network %s already added", network)
	}

	var signer wallet.Signer
	if cfg.Signer.PrivateKey != "" || cfg.Signer.KeystorePath != "" {
		var err error
		signer, err = wallet.NewSigner(network.Family(), cfg.Signer)
		if err != nil {
			return fmt.Errorf("signer for %s: %w", network, err)
		}
	}

	var (
		client clients.Client
		err    error
	)
	switch {
	case network.IsEVM():
		client, err = clients.NewEVMClient(cfg, t.session, t.logger)
	case network.IsStellar():
		client, err = clients.NewStellarClient(cfg, t.session, t.logger)
	case network.IsTron():
		client, err = clients.NewTronClient(cfg, t.session, t.logger)
	default:
		return types.NewError(types.ErrUnsupportedNetwork, "unsupported network: %s", network)
	}
	if err != nil {
		return fmt.Errorf("failed to create client for %s: %w", network, err)
	}
	if err := t.register(client, cfg); err != nil {
		client.Close()
		return err
	}

	// The session is shared by every network of the family, so the signer
	// only replaces the current one once the network is in.
	if signer != nil {
		return t.session.Connect(signer)
	}
	return nil
}

// RegisterClient adds an already built client using the terminal-wide
// intervals.
func (t *Terminal) RegisterClient(client clients.Client) error {
	return t.register(client, types.ClientConfig{Network: client.GetNetwork()})
}

func (t *Terminal) register(client clients.Client, cfg types.ClientConfig) error {
	network := client.GetNetwork()
	if network.Family() == "" {
		return types.NewError(types.ErrUnsupportedNetwork, "unsupported network: %s", network)
	}

	ropts := reconciler.Options{
		Interval:    pick(cfg.PollInterval, t.config.PollInterval),
		MaxInterval: pick(cfg.MaxPollInterval, t.config.MaxPollInterval),
		Timeout:     pick(cfg.Timeout, t.timeout),
		Logger:      t.logger,
		Metrics:     t.metrics,
	}
	schedule := cfg.RecentSchedule
	if schedule == "" {
		schedule = t.config.RecentSchedule
	}

	rt := &runtime{
		client:     client,
		reconciler: reconciler.New(client, ropts),
		recent:     reconciler.NewRecentTracker(client, schedule, ropts),
	}
	rt.reconciler.AttachRecent(rt.recent)
	rt.dispatcher = settlement.NewDispatcher(client, rt, settlement.Options{
		WatchdogTimeout: t.config.WatchdogTimeout,
		ConfirmTimeout:  t.config.ConfirmTimeout,
		SettleDelay:     t.config.SettleDelay,
		Logger:          t.logger,
		Metrics:         t.metrics,
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return types.NewError(types.ErrConfigError, "terminal closed")
	}
	if _, ok := t.networks[network]; ok {
		return types.NewError(types.ErrConfigError, "network %s already added", network)
	}
	if err := t.verifier.AddSource(network, client); err != nil {
		return err
	}
	t.networks[network] = rt
	rt.stopEvents = events.Forward(rt.reconciler, t.publisher, t.logger, t.metrics)

	if t.runCtx != nil {
		if err := rt.start(t.runCtx); err != nil {
			return err
		}
	}

	t.logger.Info("network added", map[string]any{
		"network":  network,
		"family":   network.Family(),
		"contract": client.QRPayload().ContractAddress,
	})
	return nil
}

// Refresh re-reads the active transaction and the recent list after an
// action settled.
func (rt *runtime) Refresh(ctx context.Context) error {
	err := rt.reconciler.Refresh(ctx)
	if rerr := rt.recent.Refresh(ctx); err == nil {
		err = rerr
	}
	return err
}

func (rt *runtime) start(ctx context.Context) error {
	if err := rt.recent.Start(ctx); err != nil {
		return err
	}
	rt.reconciler.Start(ctx)
	return nil
}

func (rt *runtime) stop() {
	rt.reconciler.Stop()
	rt.recent.Stop()
	if rt.stopEvents != nil {
		rt.stopEvents()
	}
	rt.client.Close()
}

// Start begins polling every network. Networks added later start
// immediately.
func (t *Terminal) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return types.NewError(types.ErrConfigError, "terminal closed")
	}
	if t.runCtx != nil {
		return nil
	}
	t.runCtx, t.cancel = context.WithCancel(ctx)

	for network, rt := range t.networks {
		if err := rt.start(t.runCtx); err != nil {
			return fmt.Errorf("start %s: %w", network, err)
		}
	}
	t.logger.Info("terminal started", map[string]any{"networks": len(t.networks)})
	return nil
}

// Close stops every loop and releases the clients, the publisher and the
// wallet session.
func (t *Terminal) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	networks := t.networks
	t.networks = make(map[types.Network]*runtime)
	t.mu.Unlock()

	for _, rt := range networks {
		rt.stop()
	}
	t.session.Close()
	return t.publisher.Close()
}

// Networks returns the added networks in sorted order.
func (t *Terminal) Networks() []types.Network {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Network, 0, len(t.networks))
	for network := range t.networks {
		out = append(out, network)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t *Terminal) lookup(network types.Network) (*runtime, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rt, ok := t.networks[network]
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedNetwork, "network %s is not configured", network)
	}
	return rt, nil
}

func (t *Terminal) Client(network types.Network) (clients.Client, error) {
	rt, err := t.lookup(network)
	if err != nil {
		return nil, err
	}
	return rt.client, nil
}

func (t *Terminal) Reconciler(network types.Network) (*reconciler.Reconciler, error) {
	rt, err := t.lookup(network)
	if err != nil {
		return nil, err
	}
	return rt.reconciler, nil
}

func (t *Terminal) Recent(network types.Network) (*reconciler.RecentTracker, error) {
	rt, err := t.lookup(network)
	if err != nil {
		return nil, err
	}
	return rt.recent, nil
}

func (t *Terminal) Dispatcher(network types.Network) (*settlement.Dispatcher, error) {
	rt, err := t.lookup(network)
	if err != nil {
		return nil, err
	}
	return rt.dispatcher, nil
}

func (t *Terminal) Verifier() verification.Verifier { return t.verifier }
func (t *Terminal) Session() *wallet.Session        { return t.session }
func (t *Terminal) Profiles() *cache.ProfileStore   { return t.profiles }
func (t *Terminal) Logger() logger.Logger           { return t.logger }

// IsOwner reports whether the connected account of the network's family is
// the contract owner.
func (t *Terminal) IsOwner(ctx context.Context, network types.Network) (bool, string, error) {
	client, err := t.Client(network)
	if err != nil {
		return false, "", err
	}
	owner, err := client.GetOwner(ctx)
	if err != nil {
		return false, "", err
	}
	account, ok := t.session.Account(network.Family())
	if !ok {
		return false, owner, nil
	}
	return utils.SameAddress(network.Family(), owner, account), owner, nil
}

func pick(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
