package clients

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

var (
	maxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	mask64  = new(big.Int).SetUint64(^uint64(0))
)

func scAddress(address string) (xdr.ScAddress, error) {
	address = strings.TrimSpace(address)
	switch {
	case strings.HasPrefix(address, "G"):
		var id xdr.AccountId
		if err := id.SetAddress(address); err != nil {
			return xdr.ScAddress{}, fmt.Errorf("invalid account %q: %w", address, err)
		}
		return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeAccount, AccountId: &id}, nil
	case strings.HasPrefix(address, "C"):
		raw, err := strkey.Decode(strkey.VersionByteContract, address)
		if err != nil {
			return xdr.ScAddress{}, fmt.Errorf("invalid contract %q: %w", address, err)
		}
		var hash xdr.Hash
		copy(hash[:], raw)
		return xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeContract, ContractId: &hash}, nil
	default:
		return xdr.ScAddress{}, fmt.Errorf("invalid stellar address %q", address)
	}
}

func scAddressVal(address string) (xdr.ScVal, error) {
	addr, err := scAddress(address)
	if err != nil {
		return xdr.ScVal{}, err
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &addr}, nil
}

func scStringVal(s string) xdr.ScVal {
	v := xdr.ScString(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvString, Str: &v}
}

func scI128Val(n *big.Int) (xdr.ScVal, error) {
	if n == nil || n.Sign() < 0 || n.Cmp(maxI128) > 0 {
		return xdr.ScVal{}, fmt.Errorf("amount %v does not fit in i128", n)
	}
	hi := new(big.Int).Rsh(n, 64)
	lo := new(big.Int).And(n, mask64)
	parts := xdr.Int128Parts{Hi: xdr.Int64(hi.Int64()), Lo: xdr.Uint64(lo.Uint64())}
	return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}, nil
}
