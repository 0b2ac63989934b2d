package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// MaxBps is the total weight of a fully allocated balance share,
	// in basis points (1/10000).
	MaxBps uint64 = 10000

	// NoRemainderChange is the sentinel remainder value meaning "leave the
	// stored remainder untouched". It sits just outside the valid
	// remainder range [0, MaxBps).
	NoRemainderChange uint64 = MaxBps

	// balanceSumRemainderBits and balanceSumBalanceBits are the widths of
	// the two fields of a persisted balance-sum cell. They mirror a packed
	// 256-bit cell split into a 48-bit remainder and a 208-bit balance.
	balanceSumRemainderBits = 48
	balanceSumBalanceBits   = 208
)

var (
	// MaxBalanceSumBalance is the capacity of one balance-sum cell,
	// 2^208 - 1. Accumulating past it forces a checkpoint rollover.
	MaxBalanceSumBalance = maxUint(balanceSumBalanceBits)

	// MaxBalanceSumRemainder is the largest value the remainder field can
	// store, 2^48 - 1. The ledger keeps remainders below MaxBps, well
	// inside this bound.
	MaxBalanceSumRemainder = maxUint(balanceSumRemainderBits)

	bigMaxBps = new(big.Int).SetUint64(MaxBps)
)

func maxUint(bits uint) *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), bits)
	return max.Sub(max, big.NewInt(1))
}

// BigMaxBps returns MaxBps as a big integer. The returned value must not be
// mutated.
func BigMaxBps() *big.Int {
	return bigMaxBps
}

// LedgerKey uniquely identifies one balance share's ledger. It is derived
// from a client address and a client-chosen id, see the identity package.
type LedgerKey common.Hash

func (k LedgerKey) Bytes() []byte {
	return common.Hash(k).Bytes()
}

func (k LedgerKey) Hex() string {
	return common.Hash(k).Hex()
}

// BalanceSum is the per-asset accumulator of one checkpoint: the running
// balance total and the fractional remainder carried between deposits.
// Remainder is a numerator over MaxBps.
type BalanceSum struct {
	Remainder *big.Int
	Balance   *big.Int
}

// NewBalanceSum returns an all-zero accumulator cell.
func NewBalanceSum() *BalanceSum {
	return &BalanceSum{
		Remainder: new(big.Int),
		Balance:   new(big.Int),
	}
}

// Room returns how much more the balance field can take before the cell
// saturates.
func (sum *BalanceSum) Room() *big.Int {
	return new(big.Int).Sub(MaxBalanceSumBalance, sum.Balance)
}

// CheckpointHead is the per-checkpoint record read on every allocation:
// the share's total weight and the first-touch marker. It is stored apart
// from the per-asset cells so reading the weight never loads balance data.
type CheckpointHead struct {
	TotalBps    uint64
	HasBalances bool
}

// Allocation is the record emitted after a successful deposit.
type Allocation struct {
	Key             LedgerKey
	Asset           common.Address
	AmountAllocated *big.Int
	NewRemainder    *big.Int
	Rollovers       uint64
}
