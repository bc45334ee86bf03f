package clients

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ABIs of the terminal contracts and the ERC20/TRC20 side channel. Tron
// contracts use the Solidity ABI encoding.

const terminalBasicABI = `[
	{"type":"function","name":"owner","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"txCounter","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"MAX_RECENT_TX","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"getActiveTransactionFields","inputs":[],"outputs":[{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"payer","type":"address"},{"name":"paid","type":"bool"},{"name":"timestamp","type":"uint256"},{"name":"description","type":"string"},{"name":"cancelled","type":"bool"},{"name":"merchantName","type":"string"},{"name":"merchantLocation","type":"string"},{"name":"itemizedList","type":"string"},{"name":"requestedTokenContract","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"getAllRecentTransactions","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"payer","type":"address"},{"name":"paid","type":"bool"},{"name":"timestamp","type":"uint256"},{"name":"description","type":"string"},{"name":"cancelled","type":"bool"},{"name":"merchantName","type":"string"},{"name":"merchantLocation","type":"string"},{"name":"itemizedList","type":"string"},{"name":"requestedTokenContract","type":"address"}]}],"stateMutability":"view"},
	{"type":"function","name":"getPaymentStatus","inputs":[],"outputs":[{"name":"id","type":"uint256"},{"name":"paid","type":"bool"},{"name":"cancelled","type":"bool"},{"name":"payer","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"cancelActiveTransaction","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"payActiveTransaction","inputs":[],"outputs":[],"stateMutability":"payable"},
	{"type":"function","name":"withdraw","inputs":[{"name":"to","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"setActiveTransaction","inputs":[{"name":"amount","type":"uint256"},{"name":"description","type":"string"}],"outputs":[],"stateMutability":"nonpayable"}
]`

const terminalExtendedABI = `[
	{"type":"function","name":"owner","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"txCounter","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"MAX_RECENT_TX","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"getActiveTransactionFields","inputs":[],"outputs":[{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"payer","type":"address"},{"name":"paid","type":"bool"},{"name":"timestamp","type":"uint256"},{"name":"description","type":"string"},{"name":"cancelled","type":"bool"},{"name":"merchantName","type":"string"},{"name":"merchantLocation","type":"string"},{"name":"itemizedList","type":"string"},{"name":"requestedTokenContract","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"getAllRecentTransactions","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"payer","type":"address"},{"name":"paid","type":"bool"},{"name":"timestamp","type":"uint256"},{"name":"description","type":"string"},{"name":"cancelled","type":"bool"},{"name":"merchantName","type":"string"},{"name":"merchantLocation","type":"string"},{"name":"itemizedList","type":"string"},{"name":"requestedTokenContract","type":"address"}]}],"stateMutability":"view"},
	{"type":"function","name":"getPaymentStatus","inputs":[],"outputs":[{"name":"id","type":"uint256"},{"name":"paid","type":"bool"},{"name":"cancelled","type":"bool"},{"name":"payer","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"cancelActiveTransaction","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"payActiveTransaction","inputs":[],"outputs":[],"stateMutability":"payable"},
	{"type":"function","name":"withdraw","inputs":[{"name":"to","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"setActiveTransaction","inputs":[{"name":"amount","type":"uint256"},{"name":"description","type":"string"},{"name":"merchantName","type":"string"},{"name":"merchantLocation","type":"string"},{"name":"itemizedList","type":"string"},{"name":"requestedTokenContract","type":"address"}],"outputs":[],"stateMutability":"nonpayable"}
]`

const tronTerminalABI = `[
	{"type":"function","name":"owner","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"txCounter","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"activeTransaction","inputs":[],"outputs":[{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"payer","type":"address"},{"name":"paid","type":"bool"},{"name":"timestamp","type":"uint256"},{"name":"description","type":"string"},{"name":"cancelled","type":"bool"},{"name":"merchantName","type":"string"},{"name":"merchantLocation","type":"string"},{"name":"itemizedList","type":"string"},{"name":"requestedTokenContract","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"getAllRecentTransactions","inputs":[],"outputs":[{"name":"","type":"tuple[]","components":[{"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"payer","type":"address"},{"name":"paid","type":"bool"},{"name":"timestamp","type":"uint256"},{"name":"description","type":"string"},{"name":"cancelled","type":"bool"},{"name":"merchantName","type":"string"},{"name":"merchantLocation","type":"string"},{"name":"itemizedList","type":"string"},{"name":"requestedTokenContract","type":"address"}]}],"stateMutability":"view"},
	{"type":"function","name":"getPaymentStatus","inputs":[],"outputs":[{"name":"id","type":"uint256"},{"name":"paid","type":"bool"},{"name":"cancelled","type":"bool"},{"name":"payer","type":"address"}],"stateMutability":"view"},
	{"type":"function","name":"setActiveTransaction","inputs":[{"name":"amount","type":"uint256"},{"name":"description","type":"string"},{"name":"merchantName","type":"string"},{"name":"merchantLocation","type":"string"},{"name":"itemizedList","type":"string"},{"name":"requestedTokenContract","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"payActiveTransaction","inputs":[],"outputs":[],"stateMutability":"payable"},
	{"type":"function","name":"cancelActiveTransaction","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"clearActiveTransaction","inputs":[],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"withdraw","inputs":[{"name":"to","type":"address"},{"name":"tokenContract","type":"address"}],"outputs":[],"stateMutability":"nonpayable"}
]`

const erc20ABI = `[
	{"type":"function","name":"allowance","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"decimals","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"}
]`

var (
	terminalBasic    = mustParseABI(terminalBasicABI)
	terminalExtended = mustParseABI(terminalExtendedABI)
	tronTerminal     = mustParseABI(tronTerminalABI)
	erc20            = mustParseABI(erc20ABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
