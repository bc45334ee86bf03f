package clients

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20 is the token side channel used by the extended terminal contract.
type ERC20 interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

type erc20Caller struct {
	eth EVMBackend
}

func newERC20(eth EVMBackend) *erc20Caller {
	return &erc20Caller{eth: eth}
}

func (e *erc20Caller) call(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := e.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return erc20.Unpack(method, out)
}

func (e *erc20Caller) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := e.call(ctx, token, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return *abiConvert[*big.Int](out[0]), nil
}

func (e *erc20Caller) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := e.call(ctx, token, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return *abiConvert[*big.Int](out[0]), nil
}

func (e *erc20Caller) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := e.call(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	return *abiConvert[uint8](out[0]), nil
}

func approveCalldata(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20.Pack("approve", spender, amount)
}
