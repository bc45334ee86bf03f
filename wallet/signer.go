package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	"github.com/vitwit/payterm/types"
	"github.com/vitwit/payterm/utils"
)

// Signer is a connected account able to authorize writes on one chain family.
type Signer interface {
	Family() types.ChainFamily
	Address() string
}

// NewSigner builds the signer described by cfg for family.
func NewSigner(family types.ChainFamily, cfg types.SignerConfig) (Signer, error) {
	switch family {
	case types.ChainEVM:
		if cfg.KeystorePath != "" {
			return NewEVMSignerFromKeystore(cfg.KeystorePath, cfg.KeystorePassword)
		}
		return NewEVMSigner(cfg.PrivateKey)
	case types.ChainStellar:
		return NewStellarSigner(cfg.PrivateKey)
	case types.ChainTron:
		return NewTronSigner(cfg.PrivateKey)
	default:
		return nil, types.NewError(types.ErrUnsupportedNetwork, "unsupported chain family: %s", family)
	}
}

// EVMSigner signs legacy and typed EVM transactions with a secp256k1 key.
type EVMSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewEVMSigner(hexKey string) (*EVMSigner, error) {
	key, err := crypto.HexToECDSA(cleanHex(hexKey))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	return &EVMSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewEVMSignerFromKeystore decrypts a go-ethereum keystore file.
func NewEVMSignerFromKeystore(path, password string) (*EVMSigner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	k, err := keystore.DecryptKey(data, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return &EVMSigner{key: k.PrivateKey, address: k.Address}, nil
}

func (s *EVMSigner) Family() types.ChainFamily { return types.ChainEVM }
func (s *EVMSigner) Address() string           { return s.address.Hex() }
func (s *EVMSigner) Common() common.Address    { return s.address }

func (s *EVMSigner) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	return ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), s.key)
}

// StellarSigner holds a Stellar secret seed.
type StellarSigner struct {
	kp *keypair.Full
}

func NewStellarSigner(seed string) (*StellarSigner, error) {
	kp, err := keypair.ParseFull(strings.TrimSpace(seed))
	if err != nil {
		return nil, fmt.Errorf("invalid stellar seed: %w", err)
	}
	return &StellarSigner{kp: kp}, nil
}

func (s *StellarSigner) Family() types.ChainFamily { return types.ChainStellar }
func (s *StellarSigner) Address() string           { return s.kp.Address() }

func (s *StellarSigner) SignTransaction(tx *txnbuild.Transaction, passphrase string) (*txnbuild.Transaction, error) {
	return tx.Sign(passphrase, s.kp)
}

// TronSigner signs Tron transaction ids. Tron accounts share the secp256k1
// key format of EVM accounts and differ only in address encoding.
type TronSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewTronSigner(hexKey string) (*TronSigner, error) {
	key, err := crypto.HexToECDSA(cleanHex(hexKey))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	return &TronSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *TronSigner) Family() types.ChainFamily { return types.ChainTron }
func (s *TronSigner) Address() string           { return utils.EVMToTron(s.address) }
func (s *TronSigner) Common() common.Address    { return s.address }

// SignDigest returns the 65 byte r|s|v signature of a 32 byte txID.
func (s *TronSigner) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return crypto.Sign(digest, s.key)
}

func cleanHex(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0:2] == "0x" {
		return s[2:]
	}
	return s
}
