package chain

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Contracts is the set of protocol deployments the gateway talks to.
type Contracts struct {
	TroveManager       common.Address
	BorrowerOperations common.Address
	PriceFeed          common.Address
	SortedTroves       common.Address
	HintHelpers        common.Address
	MUSD               common.Address
}

// Network is a known deployment preset.
type Network struct {
	Name      string
	ChainID   int64
	RPCURL    string
	Contracts Contracts
}

var (
	Mainnet = Network{
		Name:    "mainnet",
		ChainID: 31612,
		RPCURL:  "https://rpc-http.mezo.boar.network",
		Contracts: Contracts{
			TroveManager:       common.HexToAddress("0x94AfB503dBca74aC3E4929BACEeDfCe19B93c193"),
			BorrowerOperations: common.HexToAddress("0x44b1bac67dDA612a41a58AAf779143B181dEe031"),
			PriceFeed:          common.HexToAddress("0xc5aC5A8892230E0A3e1c473881A2de7353fFcA88"),
			SortedTroves:       common.HexToAddress("0x8C5DB4C62BF29c1C4564390d10c20a47E0b2749f"),
			HintHelpers:        common.HexToAddress("0xD267b3bE2514375A075fd03C3D9CBa6b95317DC3"),
			MUSD:               common.HexToAddress("0xdD468A1DDc392dcdbEf6db6e34E89AA338F9F186"),
		},
	}

	Testnet = Network{
		Name:    "testnet",
		ChainID: 31611,
		RPCURL:  "https://rpc.test.mezo.org",
		Contracts: Contracts{
			TroveManager:       common.HexToAddress("0xE47c80e8c23f6B4A1aE41c34837a0599D5D16bb0"),
			BorrowerOperations: common.HexToAddress("0xCdF7028ceAB81fA0C6971208e83fa7872994beE5"),
			PriceFeed:          common.HexToAddress("0x86bCF0841622a5dAC14A313a15f96A95421b9366"),
			SortedTroves:       common.HexToAddress("0x722E4D24FD6Ff8b0AC679450F3D91294607268fA"),
			HintHelpers:        common.HexToAddress("0x4e4cBA3779d56386ED43631b4dCD6d8EacEcBCF6"),
			MUSD:               common.HexToAddress("0x118917a40FAF1CD7a13dB0Ef56C86De7973Ac503"),
		},
	}

	// LocalFork points at a forked testnet node; contract addresses follow
	// the fork source.
	LocalFork = Network{
		Name:      "local",
		ChainID:   31337,
		RPCURL:    "http://127.0.0.1:8545",
		Contracts: Testnet.Contracts,
	}
)

// NetworkByChainID returns the preset for a chain id.
func NetworkByChainID(id int64) (Network, error) {
	for _, n := range []Network{Mainnet, Testnet, LocalFork} {
		if n.ChainID == id {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("chain: no preset for chain id %d", id)
}

// NetworkByName returns the preset with the given name.
func NetworkByName(name string) (Network, error) {
	for _, n := range []Network{Mainnet, Testnet, LocalFork} {
		if n.Name == name {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("chain: unknown network %q", name)
}

// Missing lists the contracts that are unset.
func (c Contracts) Missing() []string {
	var missing []string
	for name, addr := range map[string]common.Address{
		"trove_manager": c.TroveManager,
		"price_feed":    c.PriceFeed,
		"sorted_troves": c.SortedTroves,
		"hint_helpers":  c.HintHelpers,
	} {
		if addr == (common.Address{}) {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
