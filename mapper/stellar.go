package mapper

import (
	"fmt"
	"math/big"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"

	"github.com/vitwit/payterm/types"
)

// StellarRecord is the Transaction struct of the Soroban terminal contract.
type StellarRecord struct {
	ID                     uint64
	Amount                 *big.Int
	Payer                  string
	Paid                   bool
	Cancelled              bool
	Timestamp              uint64
	Description            string
	MerchantName           string
	MerchantLocation       string
	ItemizedList           string
	RequestedTokenContract string
}

// FromStellarRecord maps the typed contract struct.
func FromStellarRecord(rec StellarRecord) *types.Transaction {
	return &types.Transaction{
		ID:                     new(big.Int).SetUint64(rec.ID).String(),
		Amount:                 copyInt(rec.Amount),
		Payer:                  rec.Payer,
		Paid:                   rec.Paid,
		Cancelled:              rec.Cancelled,
		Timestamp:              secondsToMillis(new(big.Int).SetUint64(rec.Timestamp)),
		Description:            rec.Description,
		MerchantName:           rec.MerchantName,
		MerchantLocation:       rec.MerchantLocation,
		ItemizedList:           rec.ItemizedList,
		RequestedTokenContract: rec.RequestedTokenContract,
	}
}

// DecodeStellarTransaction decodes the return value of get_active_transaction.
// A void value (Option::None) yields nil.
func DecodeStellarTransaction(val xdr.ScVal) (*types.Transaction, error) {
	if val.Type == xdr.ScValTypeScvVoid {
		return nil, nil
	}
	rec, err := DecodeStellarRecord(val)
	if err != nil {
		return nil, err
	}
	return FromStellarRecord(*rec), nil
}

// DecodeStellarTransactions decodes a Vec<Transaction>.
func DecodeStellarTransactions(val xdr.ScVal) ([]types.Transaction, error) {
	if val.Type == xdr.ScValTypeScvVoid {
		return nil, nil
	}
	vec, ok := val.GetVec()
	if !ok || vec == nil {
		return nil, fmt.Errorf("soroban: expected vec, got %s", val.Type)
	}

	txs := make([]types.Transaction, 0, len(*vec))
	for i, item := range *vec {
		tx, err := DecodeStellarTransaction(item)
		if err != nil {
			return nil, fmt.Errorf("soroban: transaction %d: %w", i, err)
		}
		if tx != nil {
			txs = append(txs, *tx)
		}
	}
	return txs, nil
}

// DecodeStellarRecord reads a contract struct encoded as a ScMap keyed by
// symbol or string.
func DecodeStellarRecord(val xdr.ScVal) (*StellarRecord, error) {
	m, ok := val.GetMap()
	if !ok || m == nil {
		return nil, fmt.Errorf("soroban: expected map, got %s", val.Type)
	}

	rec := &StellarRecord{Amount: new(big.Int)}
	for _, entry := range *m {
		key, err := scKey(entry.Key)
		if err != nil {
			return nil, err
		}
		value, err := DecodeScVal(entry.Val)
		if err != nil {
			return nil, fmt.Errorf("soroban: field %s: %w", key, err)
		}
		if err := rec.set(key, value); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (r *StellarRecord) set(key string, value interface{}) error {
	var err error
	switch key {
	case "id":
		r.ID, err = asUint64(value, key)
	case "amount":
		r.Amount, err = asBigIntValue(value, key)
	case "timestamp":
		r.Timestamp, err = asUint64(value, key)
	case "paid":
		r.Paid, err = asBool(value, key)
	case "cancelled":
		r.Cancelled, err = asBool(value, key)
	case "payer":
		r.Payer, err = asOptionalString(value, key)
	case "description":
		r.Description, err = asOptionalString(value, key)
	case "merchant_name":
		r.MerchantName, err = asOptionalString(value, key)
	case "merchant_location":
		r.MerchantLocation, err = asOptionalString(value, key)
	case "itemized_list":
		r.ItemizedList, err = asOptionalString(value, key)
	case "requested_token_contract":
		r.RequestedTokenContract, err = asOptionalString(value, key)
	}
	return err
}

// DecodeScVal converts the scalar ScVal variants the terminal contract
// returns: string, symbol, bool, u32, i32, u64, i64, u128, i128, address and
// void. Integers become *big.Int, addresses their strkey form, void nil.
func DecodeScVal(val xdr.ScVal) (interface{}, error) {
	switch val.Type {
	case xdr.ScValTypeScvVoid:
		return nil, nil
	case xdr.ScValTypeScvBool:
		return bool(*val.B), nil
	case xdr.ScValTypeScvString:
		return string(*val.Str), nil
	case xdr.ScValTypeScvSymbol:
		return string(*val.Sym), nil
	case xdr.ScValTypeScvU32:
		return new(big.Int).SetUint64(uint64(*val.U32)), nil
	case xdr.ScValTypeScvI32:
		return big.NewInt(int64(*val.I32)), nil
	case xdr.ScValTypeScvU64:
		return new(big.Int).SetUint64(uint64(*val.U64)), nil
	case xdr.ScValTypeScvI64:
		return big.NewInt(int64(*val.I64)), nil
	case xdr.ScValTypeScvU128:
		parts := *val.U128
		return joinU128(uint64(parts.Hi), uint64(parts.Lo)), nil
	case xdr.ScValTypeScvI128:
		parts := *val.I128
		return joinI128(int64(parts.Hi), uint64(parts.Lo)), nil
	case xdr.ScValTypeScvAddress:
		return EncodeScAddress(*val.Address)
	default:
		return nil, fmt.Errorf("unsupported value type %s", val.Type)
	}
}

// EncodeScAddress renders an account (G...) or contract (C...) address.
func EncodeScAddress(addr xdr.ScAddress) (string, error) {
	switch addr.Type {
	case xdr.ScAddressTypeScAddressTypeAccount:
		if addr.AccountId == nil {
			return "", fmt.Errorf("account address without id")
		}
		return addr.AccountId.Address(), nil
	case xdr.ScAddressTypeScAddressTypeContract:
		if addr.ContractId == nil {
			return "", fmt.Errorf("contract address without id")
		}
		id := *addr.ContractId
		return strkey.Encode(strkey.VersionByteContract, id[:])
	default:
		return "", fmt.Errorf("unsupported address type %d", addr.Type)
	}
}

func joinU128(hi, lo uint64) *big.Int {
	v := new(big.Int).SetUint64(hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(lo))
}

func joinI128(hi int64, lo uint64) *big.Int {
	v := big.NewInt(hi)
	v.Lsh(v, 64)
	return v.Add(v, new(big.Int).SetUint64(lo))
}

func scKey(val xdr.ScVal) (string, error) {
	switch val.Type {
	case xdr.ScValTypeScvSymbol:
		return string(*val.Sym), nil
	case xdr.ScValTypeScvString:
		return string(*val.Str), nil
	default:
		return "", fmt.Errorf("soroban: unsupported map key type %s", val.Type)
	}
}

func asUint64(v interface{}, field string) (uint64, error) {
	n, err := asBigIntValue(v, field)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("soroban: %s out of range: %s", field, n)
	}
	return n.Uint64(), nil
}

func asBigIntValue(v interface{}, field string) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("soroban: %s has type %T, want integer", field, v)
	}
	return n, nil
}

func asOptionalString(v interface{}, field string) (string, error) {
	if v == nil {
		return "", nil
	}
	return asString(v, field)
}
