package mapper

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vitwit/payterm/types"
	"github.com/vitwit/payterm/utils"
)

// EVMFieldCount is the arity of getActiveTransactionFields.
const EVMFieldCount = 11

// ContractRecord is the Transaction struct of the Solidity terminal contracts
// (EVM and Tron) as decoded by the ABI codec. Field names follow the ABI
// component names so abi.ConvertType can fill it.
type ContractRecord struct {
	Id                     *big.Int
	Amount                 *big.Int
	Payer                  common.Address
	Paid                   bool
	Timestamp              *big.Int
	Description            string
	Cancelled              bool
	MerchantName           string
	MerchantLocation       string
	ItemizedList           string
	RequestedTokenContract common.Address
}

// FromEVMTuple maps the positional result of getActiveTransactionFields:
// id, amount, payer, paid, timestamp, description, cancelled, merchantName,
// merchantLocation, itemizedList, requestedTokenContract.
func FromEVMTuple(fields []interface{}) (*types.Transaction, error) {
	if len(fields) != EVMFieldCount {
		return nil, fmt.Errorf("evm tuple: expected %d fields, got %d", EVMFieldCount, len(fields))
	}

	rec, err := recordFromTuple(fields)
	if err != nil {
		return nil, fmt.Errorf("evm tuple: %w", err)
	}
	return FromEVMRecord(rec), nil
}

func recordFromTuple(fields []interface{}) (rec ContractRecord, err error) {
	if rec.Id, err = asBigInt(fields[0], "id"); err != nil {
		return rec, err
	}
	if rec.Amount, err = asBigInt(fields[1], "amount"); err != nil {
		return rec, err
	}
	if rec.Payer, err = asAddress(fields[2], "payer"); err != nil {
		return rec, err
	}
	if rec.Paid, err = asBool(fields[3], "paid"); err != nil {
		return rec, err
	}
	if rec.Timestamp, err = asBigInt(fields[4], "timestamp"); err != nil {
		return rec, err
	}
	if rec.Description, err = asString(fields[5], "description"); err != nil {
		return rec, err
	}
	if rec.Cancelled, err = asBool(fields[6], "cancelled"); err != nil {
		return rec, err
	}
	if rec.MerchantName, err = asString(fields[7], "merchantName"); err != nil {
		return rec, err
	}
	if rec.MerchantLocation, err = asString(fields[8], "merchantLocation"); err != nil {
		return rec, err
	}
	if rec.ItemizedList, err = asString(fields[9], "itemizedList"); err != nil {
		return rec, err
	}
	if rec.RequestedTokenContract, err = asAddress(fields[10], "requestedTokenContract"); err != nil {
		return rec, err
	}

	return rec, nil
}

// FromEVMRecord maps a decoded struct with hex addresses.
func FromEVMRecord(rec ContractRecord) *types.Transaction {
	tx := fromRecord(rec)
	if rec.Payer != (common.Address{}) {
		tx.Payer = rec.Payer.Hex()
	}
	tx.RequestedTokenContract = rec.RequestedTokenContract.Hex()
	return tx
}

// FromTronRecord maps a decoded struct with base58 addresses.
func FromTronRecord(rec ContractRecord) *types.Transaction {
	tx := fromRecord(rec)
	if rec.Payer != (common.Address{}) {
		tx.Payer = utils.EVMToTron(rec.Payer)
	}
	tx.RequestedTokenContract = utils.EVMToTron(rec.RequestedTokenContract)
	return tx
}

func fromRecord(rec ContractRecord) *types.Transaction {
	id := "0"
	if rec.Id != nil {
		id = rec.Id.String()
	}
	return &types.Transaction{
		ID:               id,
		Amount:           copyInt(rec.Amount),
		Paid:             rec.Paid,
		Cancelled:        rec.Cancelled,
		Timestamp:        secondsToMillis(rec.Timestamp),
		Description:      rec.Description,
		MerchantName:     rec.MerchantName,
		MerchantLocation: rec.MerchantLocation,
		ItemizedList:     rec.ItemizedList,
	}
}

func asBigInt(v interface{}, field string) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return new(big.Int), nil
		}
		return n, nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case int64:
		return big.NewInt(n), nil
	default:
		return nil, fmt.Errorf("%s has type %T, want integer", field, v)
	}
}

func asAddress(v interface{}, field string) (common.Address, error) {
	switch a := v.(type) {
	case common.Address:
		return a, nil
	case string:
		if !common.IsHexAddress(a) {
			return common.Address{}, fmt.Errorf("%s is not an address: %q", field, a)
		}
		return common.HexToAddress(a), nil
	default:
		return common.Address{}, fmt.Errorf("%s has type %T, want address", field, v)
	}
}

func asBool(v interface{}, field string) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s has type %T, want bool", field, v)
	}
	return b, nil
}

func asString(v interface{}, field string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s has type %T, want string", field, v)
	}
	return s, nil
}
