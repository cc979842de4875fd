package chains

import (
	"fmt"
	"sort"
)

// Blockchain is an EVM network the provider can be bound to.
type Blockchain struct {
	ID     int
	IDHex  string
	Name   string
	RPCURL string
}

// UnsupportedChainError is returned for chain ids without a known network mapping.
type UnsupportedChainError struct {
	ChainID int
}

func (e *UnsupportedChainError) Error() string {
	return fmt.Sprintf("unsupported chain id %d", e.ChainID)
}

var Mapping = map[int]*Blockchain{
	1: {
		ID:     1,
		IDHex:  "0x1",
		Name:   "eth",
		RPCURL: "https://cloudflare-eth.com",
	},
	5: {
		ID:     5,
		IDHex:  "0x5",
		Name:   "goerli",
		RPCURL: "https://rpc.ankr.com/eth_goerli",
	},
	11155111: {
		ID:     11155111,
		IDHex:  "0xaa36a7",
		Name:   "sepolia",
		RPCURL: "https://rpc.sepolia.org",
	},
	137: {
		ID:     137,
		IDHex:  "0x89",
		Name:   "polygon",
		RPCURL: "https://polygon-rpc.com",
	},
	80001: {
		ID:     80001,
		IDHex:  "0x13881",
		Name:   "mumbai",
		RPCURL: "https://rpc-mumbai.maticvigil.com",
	},
	56: {
		ID:     56,
		IDHex:  "0x38",
		Name:   "bsc",
		RPCURL: "https://bsc-dataseed.binance.org",
	},
	97: {
		ID:     97,
		IDHex:  "0x61",
		Name:   "bsc testnet",
		RPCURL: "https://data-seed-prebsc-1-s1.binance.org:8545",
	},
	43114: {
		ID:     43114,
		IDHex:  "0xa86a",
		Name:   "avalanche",
		RPCURL: "https://api.avax.network/ext/bc/C/rpc",
	},
	43113: {
		ID:     43113,
		IDHex:  "0xa869",
		Name:   "avalanche testnet",
		RPCURL: "https://api.avax-test.network/ext/bc/C/rpc",
	},
	250: {
		ID:     250,
		IDHex:  "0xfa",
		Name:   "fantom",
		RPCURL: "https://rpc.ftm.tools",
	},
	25: {
		ID:     25,
		IDHex:  "0x19",
		Name:   "cronos",
		RPCURL: "https://evm.cronos.org",
	},
}

// Lookup returns a copy of the network registered under id.
func Lookup(id int) (*Blockchain, error) {
	chain, ok := Mapping[id]
	if !ok {
		return nil, &UnsupportedChainError{ChainID: id}
	}
	cp := *chain
	return &cp, nil
}

// IDs lists the supported chain ids in ascending order.
func IDs() []int {
	ids := make([]int, 0, len(Mapping))
	for id := range Mapping {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
