package clients

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vitwit/payterm/types"
)

// Soroban contract errors, by contract error code.
const (
	SorobanNotOwner             = "NotOwner"
	SorobanNoActiveTx           = "NoActiveTx"
	SorobanAlreadyPaid          = "AlreadyPaid"
	SorobanAlreadyCancelled     = "AlreadyCancelled"
	SorobanTxNotFinished        = "TxNotFinished"
	SorobanAmountMustBePositive = "AmountMustBePositive"
	SorobanWrongTokenSent       = "WrongTokenSent"
	SorobanReentrant            = "Reentrant"
	SorobanIndexOob             = "IndexOob"
)

var sorobanErrorNames = map[int]string{
	1: SorobanNotOwner,
	2: SorobanNoActiveTx,
	3: SorobanAlreadyPaid,
	4: SorobanAlreadyCancelled,
	5: SorobanTxNotFinished,
	6: SorobanAmountMustBePositive,
	7: SorobanWrongTokenSent,
	8: SorobanReentrant,
	9: SorobanIndexOob,
}

var sorobanErrorMessages = map[string]string{
	SorobanNotOwner:             "only the contract owner can do this",
	SorobanNoActiveTx:           "there is no active transaction",
	SorobanAlreadyPaid:          "the transaction is already paid",
	SorobanAlreadyCancelled:     "the transaction is already cancelled",
	SorobanTxNotFinished:        "the current transaction is still pending",
	SorobanAmountMustBePositive: "amount must be positive",
	SorobanWrongTokenSent:       "wrong token sent",
	SorobanReentrant:            "reentrant call rejected",
	SorobanIndexOob:             "index out of bounds",
}

var sorobanContractError = regexp.MustCompile(`Error\(Contract, #(\d+)\)`)

// SorobanErrorName extracts the contract error name from a host error
// message such as "HostError: Error(Contract, #3)".
func SorobanErrorName(message string) (string, bool) {
	m := sorobanContractError.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return "", false
	}
	name, ok := sorobanErrorNames[code]
	return name, ok
}

func sorobanError(message string) *types.TerminalError {
	if name, ok := SorobanErrorName(message); ok {
		code := types.ErrContractRejected
		if name == SorobanNotOwner {
			code = types.ErrNotOwner
		}
		return &types.TerminalError{
			Code:    code,
			Message: sorobanErrorMessages[name],
			Data:    name,
		}
	}
	return &types.TerminalError{Code: types.ErrRPC, Message: message}
}

// evmError turns an EVM node error into a TerminalError, decoding the
// revert reason when the node returned revert data.
func evmError(op string, err error) *types.TerminalError {
	var te *types.TerminalError
	if errors.As(err, &te) {
		return te
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if reason, ok := decodeRevert(dataErr.ErrorData()); ok {
			return &types.TerminalError{
				Code:    types.ErrContractRejected,
				Message: fmt.Sprintf("%s reverted: %s", op, reason),
				Data:    reason,
			}
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "execution reverted"):
		return &types.TerminalError{Code: types.ErrContractRejected, Message: fmt.Sprintf("%s: %s", op, msg)}
	case isRejection(msg):
		return &types.TerminalError{Code: types.ErrWalletRejected, Message: fmt.Sprintf("%s: %s", op, msg)}
	default:
		return &types.TerminalError{Code: types.ErrRPC, Message: fmt.Sprintf("%s: %s", op, msg)}
	}
}

func decodeRevert(data interface{}) (string, bool) {
	s, ok := data.(string)
	if !ok {
		return "", false
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) == 0 {
		return "", false
	}
	reason, err := abi.UnpackRevert(raw)
	if err != nil {
		return "", false
	}
	return reason, true
}

func isRejection(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "user rejected") ||
		strings.Contains(msg, "user denied") ||
		strings.Contains(msg, "declined")
}

func rpcError(op string, err error) *types.TerminalError {
	var te *types.TerminalError
	if errors.As(err, &te) {
		return te
	}
	return &types.TerminalError{Code: types.ErrRPC, Message: fmt.Sprintf("%s: %v", op, err)}
}

func unsupported(network types.Network, op string) *types.TerminalError {
	return types.NewError(types.ErrUnsupportedOperation, "%s is not supported on %s", op, network)
}
