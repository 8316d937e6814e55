// Package gas holds the pure fee and gas-limit calculations. Everything here
// works on resolved chain quantities; nothing does I/O.
package gas

import (
	"math/big"
)

// FeeType tags how a transaction prices its gas.
type FeeType string

const (
	TypeLegacy  FeeType = "legacy"
	TypeEIP1559 FeeType = "eip1559"
	TypeEIP7702 FeeType = "eip7702"
)

const (
	// MinGasLimit is the intrinsic cost of a plain transfer; no estimate may
	// come out below it.
	MinGasLimit = 21_000

	// bufferFloor is the smallest absolute headroom added on top of an
	// eth_estimateGas result.
	bufferFloor = 1_500

	// DefaultMaxFeeCapGwei bounds maxFeePerGas derived from the network price.
	DefaultMaxFeeCapGwei = 100

	// maxPriorityFeeCeilingWei caps the suggested tip at 2 gwei.
	maxPriorityFeeCeilingWei = 2_000_000_000
)

var weiPerGwei = big.NewInt(1_000_000_000)

// Prices is a resolved fee pair.
type Prices struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Type                 FeeType
}

// Overrides carries dapp-supplied fee fields, already parsed from hex.
// Nil means "not supplied".
type Overrides struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	GasPrice             *big.Int
}

// Estimate is the full cost picture for one transaction.
type Estimate struct {
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	// EstimatedGasCost = GasLimit × MaxFeePerGas.
	EstimatedGasCost *big.Int
	// TotalCost = EstimatedGasCost + transaction value.
	TotalCost *big.Int
	Type      FeeType
}

// ApplyGasBuffer pads an eth_estimateGas result with 20% headroom (at least
// bufferFloor) and clamps the result to the intrinsic minimum.
func ApplyGasBuffer(estimate uint64) uint64 {
	buffer := estimate / 5
	if buffer < bufferFloor {
		buffer = bufferFloor
	}
	padded := estimate + buffer
	if padded < MinGasLimit {
		return MinGasLimit
	}
	return padded
}

// FetchGasPrices derives an EIP-1559 fee pair from the network gas price:
// maxFee = min(2p, cap), tip = min(p/2, 2 gwei).
func FetchGasPrices(networkGasPrice *big.Int, maxFeeCapGwei uint64) Prices {
	if networkGasPrice == nil {
		networkGasPrice = new(big.Int)
	}
	if maxFeeCapGwei == 0 {
		maxFeeCapGwei = DefaultMaxFeeCapGwei
	}

	capWei := new(big.Int).Mul(new(big.Int).SetUint64(maxFeeCapGwei), weiPerGwei)

	maxFee := new(big.Int).Lsh(networkGasPrice, 1)
	if maxFee.Cmp(capWei) > 0 {
		maxFee = capWei
	}

	tip := new(big.Int).Rsh(networkGasPrice, 1)
	if ceiling := big.NewInt(maxPriorityFeeCeilingWei); tip.Cmp(ceiling) > 0 {
		tip = ceiling
	}

	return Prices{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip, Type: TypeEIP1559}
}

// GetGasPrices resolves the fee pair for a transaction. Explicit EIP-1559
// overrides win verbatim; an explicit legacy gasPrice is used verbatim with a
// zero tip; otherwise the pair is derived from the network price.
func GetGasPrices(o Overrides, networkGasPrice *big.Int, maxFeeCapGwei uint64) Prices {
	if o.MaxFeePerGas != nil && o.MaxPriorityFeePerGas != nil {
		return Prices{
			MaxFeePerGas:         new(big.Int).Set(o.MaxFeePerGas),
			MaxPriorityFeePerGas: new(big.Int).Set(o.MaxPriorityFeePerGas),
			Type:                 TypeEIP1559,
		}
	}
	if o.GasPrice != nil {
		return Prices{
			MaxFeePerGas:         new(big.Int).Set(o.GasPrice),
			MaxPriorityFeePerGas: new(big.Int),
			Type:                 TypeLegacy,
		}
	}
	return FetchGasPrices(networkGasPrice, maxFeeCapGwei)
}

// CalculateTotalCost combines a gas limit, a fee pair, and the transferred
// value into an Estimate. The gas limit is clamped to the intrinsic minimum so
// the invariant GasLimit >= 21000 always holds.
func CalculateTotalCost(gasLimit uint64, prices Prices, value *big.Int) Estimate {
	if gasLimit < MinGasLimit {
		gasLimit = MinGasLimit
	}
	if value == nil {
		value = new(big.Int)
	}

	maxFee := prices.MaxFeePerGas
	if maxFee == nil {
		maxFee = new(big.Int)
	}
	tip := prices.MaxPriorityFeePerGas
	if tip == nil {
		tip = new(big.Int)
	}

	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), maxFee)

	return Estimate{
		GasLimit:             gasLimit,
		MaxFeePerGas:         new(big.Int).Set(maxFee),
		MaxPriorityFeePerGas: new(big.Int).Set(tip),
		EstimatedGasCost:     gasCost,
		TotalCost:            new(big.Int).Add(gasCost, value),
		Type:                 prices.Type,
	}
}
