package types

// ChainFamily classifies a network into a blockchain family.
type ChainFamily string

const (
	ChainEVM     ChainFamily = "evm"
	ChainStellar ChainFamily = "stellar"
	ChainTron    ChainFamily = "tron"
)

// Network represents supported blockchain networks
type Network string

const (
	// EVM Networks
	NetworkEthereum    Network = "ethereum"
	NetworkSepolia     Network = "sepolia" // testnet
	NetworkBase        Network = "base"
	NetworkBaseSepolia Network = "base-sepolia" // testnet
	NetworkPolygon     Network = "polygon"
	NetworkPolygonAmoy Network = "polygon-amoy" // testnet
	NetworkHardhat     Network = "hardhat"      // local

	// Stellar Networks
	NetworkStellarMainnet   Network = "stellar-mainnet"
	NetworkStellarTestnet   Network = "stellar-testnet"
	NetworkStellarFuturenet Network = "stellar-futurenet"

	// Tron Networks
	NetworkTronMainnet Network = "tron-mainnet"
	NetworkTronShasta  Network = "tron-shasta" // testnet
	NetworkTronNile    Network = "tron-nile"   // testnet
)

// Native token sentinels. A transaction whose requested token equals the
// sentinel of its family is paid in the chain's native asset.
const (
	EVMNativeToken     = "0x0000000000000000000000000000000000000000"
	TronNativeToken    = "T9yD14Nj9j7xAB4dbGeiX9h8unkKHxuWwb"
	StellarNativeToken = ""
)

var evmChainIDs = map[Network]int64{
	NetworkEthereum:    1,
	NetworkSepolia:     11155111,
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
	NetworkPolygon:     137,
	NetworkPolygonAmoy: 80002,
	NetworkHardhat:     31337,
}

// Helper functions for network classification
func (n Network) IsEVM() bool {
	_, ok := evmChainIDs[n]
	return ok
}

func (n Network) IsStellar() bool {
	return n == NetworkStellarMainnet || n == NetworkStellarTestnet || n == NetworkStellarFuturenet
}

func (n Network) IsTron() bool {
	return n == NetworkTronMainnet || n == NetworkTronShasta || n == NetworkTronNile
}

func (n Network) IsTestnet() bool {
	switch n {
	case NetworkSepolia, NetworkBaseSepolia, NetworkPolygonAmoy, NetworkHardhat,
		NetworkStellarTestnet, NetworkStellarFuturenet,
		NetworkTronShasta, NetworkTronNile:
		return true
	}
	return false
}

// Family returns the chain family of the network, or "" when unknown.
func (n Network) Family() ChainFamily {
	switch {
	case n.IsEVM():
		return ChainEVM
	case n.IsStellar():
		return ChainStellar
	case n.IsTron():
		return ChainTron
	default:
		return ""
	}
}

// ChainID returns the EIP-155 chain id for EVM networks and 0 otherwise.
func (n Network) ChainID() int64 {
	return evmChainIDs[n]
}

// Short returns the network name without its family prefix, e.g. "testnet"
// for stellar-testnet. This is the identifier wallets expect in QR payloads.
func (n Network) Short() string {
	switch n.Family() {
	case ChainStellar:
		return string(n)[len("stellar-"):]
	case ChainTron:
		return string(n)[len("tron-"):]
	default:
		return string(n)
	}
}

func (n Network) String() string {
	return string(n)
}

// Decimals is the number of decimal places of the family's native asset
// (wei, stroop, sun).
func (f ChainFamily) Decimals() int32 {
	switch f {
	case ChainEVM:
		return 18
	case ChainStellar:
		return 7
	case ChainTron:
		return 6
	default:
		return 0
	}
}

// NativeToken returns the sentinel token address meaning "native asset".
func (f ChainFamily) NativeToken() string {
	switch f {
	case ChainEVM:
		return EVMNativeToken
	case ChainTron:
		return TronNativeToken
	default:
		return StellarNativeToken
	}
}

func (f ChainFamily) Valid() bool {
	return f == ChainEVM || f == ChainStellar || f == ChainTron
}

// KnownNetworks lists every network the terminal can be configured for.
func KnownNetworks() []Network {
	return []Network{
		NetworkEthereum, NetworkSepolia, NetworkBase, NetworkBaseSepolia,
		NetworkPolygon, NetworkPolygonAmoy, NetworkHardhat,
		NetworkStellarMainnet, NetworkStellarTestnet, NetworkStellarFuturenet,
		NetworkTronMainnet, NetworkTronShasta, NetworkTronNile,
	}
}
