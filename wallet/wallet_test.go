package wallet

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitwit/payterm/types"
)

const hardhatKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestEVMSigner(t *testing.T) {
	s, err := NewEVMSigner(hardhatKey)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", s.Address())
	assert.Equal(t, types.ChainEVM, s.Family())

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})
	signed, err := s.SignTx(tx, big.NewInt(31337))
	require.NoError(t, err)

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(31337)), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Common(), from)

	_, err = NewEVMSigner("zz")
	assert.Error(t, err)
}

func TestEVMSignerFromKeystore(t *testing.T) {
	key, err := crypto.HexToECDSA(hardhatKey[2:])
	require.NoError(t, err)

	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	acct, err := ks.ImportECDSA(key, "secret")
	require.NoError(t, err)

	s, err := NewEVMSignerFromKeystore(acct.URL.Path, "secret")
	require.NoError(t, err)
	assert.Equal(t, acct.Address, s.Common())

	_, err = NewEVMSignerFromKeystore(acct.URL.Path, "wrong")
	assert.Error(t, err)
}

func TestTronSigner(t *testing.T) {
	s, err := NewTronSigner(hardhatKey)
	require.NoError(t, err)
	assert.Equal(t, byte('T'), s.Address()[0])
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Common())

	digest := crypto.Keccak256([]byte("tx"))
	sig, err := s.SignDigest(digest)
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, s.Common(), crypto.PubkeyToAddress(*pub))

	_, err = s.SignDigest([]byte("short"))
	assert.Error(t, err)
}

func TestStellarSigner(t *testing.T) {
	kp := keypair.MustRandom()
	s, err := NewStellarSigner(kp.Seed())
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), s.Address())

	_, err = NewStellarSigner(kp.Address())
	assert.Error(t, err)
}

func TestNewSigner(t *testing.T) {
	s, err := NewSigner(types.ChainTron, types.SignerConfig{PrivateKey: hardhatKey})
	require.NoError(t, err)
	assert.Equal(t, types.ChainTron, s.Family())

	_, err = NewSigner(types.ChainFamily("solana"), types.SignerConfig{})
	assert.Error(t, err)
}

func TestSessionConnectAndSubscribe(t *testing.T) {
	session := NewSession(nil)

	var (
		mu     sync.Mutex
		events []Event
	)
	unsubscribe := session.Subscribe(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	_, err := session.EVM()
	require.Error(t, err)
	assert.Equal(t, types.ErrWalletNotConnected, err.(*types.TerminalError).Code)

	signer, err := NewEVMSigner(hardhatKey)
	require.NoError(t, err)
	require.NoError(t, session.Connect(signer))

	account, ok := session.Account(types.ChainEVM)
	assert.True(t, ok)
	assert.Equal(t, signer.Address(), account)

	got, err := session.EVM()
	require.NoError(t, err)
	assert.Same(t, signer, got)

	_, err = session.Tron()
	assert.Error(t, err)

	session.Disconnect(types.ChainEVM)
	_, ok = session.Account(types.ChainEVM)
	assert.False(t, ok)

	unsubscribe()
	require.NoError(t, session.Connect(signer))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, EventConnected, events[0].Kind)
	assert.Equal(t, EventDisconnected, events[1].Kind)
}

func TestSessionClose(t *testing.T) {
	session := NewSession(nil)
	called := false
	session.Subscribe(func(Event) { called = true })
	session.Close()

	signer, err := NewTronSigner(hardhatKey)
	require.NoError(t, err)
	assert.Error(t, session.Connect(signer))
	assert.False(t, called)

	_, ok := session.Account(types.ChainTron)
	assert.False(t, ok)
}
