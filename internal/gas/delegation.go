package gas

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
)

// EIP-7702 gas accounting and delegation-state inspection.

const (
	// PerAuthGas is the intrinsic cost charged per authorization tuple.
	PerAuthGas = 25_000

	// safetyMarginGas is extra headroom for the delegated account's first
	// execution after an upgrade.
	safetyMarginGas = 20_000
)

// delegationPrefix is the EIP-7702 delegation designator.
var delegationPrefix = []byte{0xef, 0x01, 0x00}

// Need classifies an account's delegation state relative to a target
// implementation.
type Need int

const (
	// NeedNone: the account already delegates to the target implementation.
	NeedNone Need = iota
	// NeedDelegation: the account has no code and must be upgraded.
	NeedDelegation
	// NeedRedelegation: the account delegates to a different implementation.
	NeedRedelegation
)

func (n Need) String() string {
	switch n {
	case NeedDelegation:
		return "needs_delegation"
	case NeedRedelegation:
		return "needs_redelegation"
	default:
		return "none"
	}
}

// CalculateEIP7702Overhead returns the gas added by an authorization list:
// the per-tuple intrinsic cost plus the base transaction cost, plus an
// optional safety margin.
func CalculateEIP7702Overhead(authCount int, safetyMargin bool) uint64 {
	if authCount < 0 {
		authCount = 0
	}
	overhead := uint64(PerAuthGas)*uint64(authCount) + MinGasLimit
	if safetyMargin {
		overhead += safetyMarginGas
	}
	return overhead
}

// ApplyEIP7702Overhead adds the authorization overhead to a base gas limit.
func ApplyEIP7702Overhead(gasLimit uint64, authCount int, safetyMargin bool) uint64 {
	return gasLimit + CalculateEIP7702Overhead(authCount, safetyMargin)
}

// DetectDelegation inspects on-chain code at an account and decides whether it
// needs a (re)delegation to reach the target implementation.
func DetectDelegation(code []byte, target common.Address) Need {
	if len(code) == 0 {
		return NeedDelegation
	}
	if !bytes.HasPrefix(code, delegationPrefix) {
		// real contract code; cannot be 7702-upgraded
		return NeedRedelegation
	}
	delegate := code[len(delegationPrefix):]
	if len(delegate) == common.AddressLength && common.BytesToAddress(delegate) == target {
		return NeedNone
	}
	return NeedRedelegation
}

// DelegatedTo extracts the implementation address from a delegation
// designator, if the code carries one.
func DelegatedTo(code []byte) (common.Address, bool) {
	if !bytes.HasPrefix(code, delegationPrefix) {
		return common.Address{}, false
	}
	delegate := code[len(delegationPrefix):]
	if len(delegate) != common.AddressLength {
		return common.Address{}, false
	}
	return common.BytesToAddress(delegate), true
}
