package utils

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stellar/go/strkey"

	"github.com/vitwit/payterm/types"
)

// TronAddressPrefix is the version byte of Tron mainnet and testnet addresses.
const TronAddressPrefix byte = 0x41

// ValidateAddress checks that address is well formed for the family.
func ValidateAddress(family types.ChainFamily, address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch family {
	case types.ChainEVM:
		if !common.IsHexAddress(address) || !strings.HasPrefix(address, "0x") {
			return fmt.Errorf("invalid EVM address: %s", address)
		}

	case types.ChainStellar:
		if _, err := strkey.Decode(strkey.VersionByteAccountID, address); err == nil {
			return nil
		}
		if _, err := strkey.Decode(strkey.VersionByteContract, address); err == nil {
			return nil
		}
		return fmt.Errorf("invalid Stellar address: %s", address)

	case types.ChainTron:
		if _, err := TronToEVM(address); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported chain family: %s", family)
	}

	return nil
}

// ValidateTokenAddress accepts the family's native sentinel as well as any
// valid address.
func ValidateTokenAddress(family types.ChainFamily, address string) error {
	if address == "" || address == family.NativeToken() {
		return nil
	}
	return ValidateAddress(family, address)
}

// TronToEVM decodes a base58check Tron address into its 20 byte form.
func TronToEVM(address string) (common.Address, error) {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid Tron address %q: %w", address, err)
	}
	if version != TronAddressPrefix || len(payload) != common.AddressLength {
		return common.Address{}, fmt.Errorf("invalid Tron address %q: wrong prefix or length", address)
	}
	return common.BytesToAddress(payload), nil
}

// EVMToTron encodes a 20 byte address as a base58check Tron address.
func EVMToTron(addr common.Address) string {
	return base58.CheckEncode(addr.Bytes(), TronAddressPrefix)
}

// SameAddress compares two addresses of family. EVM addresses compare
// without regard to checksum case.
func SameAddress(family types.ChainFamily, a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if family == types.ChainEVM {
		return strings.EqualFold(a, b)
	}
	return a == b
}
