package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearledger/go-allocations/db"
	"github.com/clearledger/go-allocations/log"
	"github.com/clearledger/go-allocations/transfer"
	"github.com/clearledger/go-allocations/types"
)

// Quote is the result of the pure allocation computation: how much of a
// delta the balance share is entitled to, and the remainder the deposit
// would leave behind. NewRemainder is types.NoRemainderChange when the
// quote did not track remainders.
type Quote struct {
	AmountToAllocate   *big.Int
	NewRemainder       uint64
	RemainderIncreased bool
}

// Engine applies deposits to balance share ledgers. All mutations on one
// ledger key are serialized; unrelated keys proceed concurrently.
type Engine struct {
	store    *Store
	transfer transfer.AssetTransfer
	logger   *log.Logger
}

func NewEngine(database db.DB, assetTransfer transfer.AssetTransfer) (*Engine, error) {
	store, err := NewStore(database)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:    store,
		transfer: assetTransfer,
		logger:   log.NewLogger("ledger"),
	}, nil
}

// Store exposes the underlying ledger store, e.g. for the account-share
// manager to write weights through.
func (e *Engine) Store() *Store {
	return e.store
}

// GetTotalBps reads the total weight on the active checkpoint.
func (e *Engine) GetTotalBps(key types.LedgerKey) (uint64, error) {
	lock := e.store.locks.get(key)
	lock.RLock()
	defer lock.RUnlock()

	index, err := e.store.ActiveIndex(key)
	if err != nil {
		return 0, err
	}
	head, err := e.store.Head(key, index)
	if err != nil {
		return 0, err
	}
	return head.TotalBps, nil
}

// Quote computes the share's cut of delta without remainder tracking.
// It never mutates state. An inactive ledger quotes zero.
func (e *Engine) Quote(key types.LedgerKey, asset common.Address, delta *big.Int) (*Quote, error) {
	lock := e.store.locks.get(key)
	lock.RLock()
	defer lock.RUnlock()

	return e.quote(key, asset, delta, false)
}

// QuoteWithRemainder computes the share's cut of delta carrying the stored
// fractional remainder. It never mutates state; both the raw new remainder
// and whether it grew are reported.
func (e *Engine) QuoteWithRemainder(key types.LedgerKey, asset common.Address, delta *big.Int) (*Quote, error) {
	lock := e.store.locks.get(key)
	lock.RLock()
	defer lock.RUnlock()

	return e.quote(key, asset, delta, true)
}

func (e *Engine) quote(key types.LedgerKey, asset common.Address, delta *big.Int, useRemainder bool) (*Quote, error) {
	if delta == nil || delta.Sign() < 0 {
		return nil, fmt.Errorf("quote delta %v: %w", delta, ErrInvalidAllocationAmount)
	}

	index, err := e.store.ActiveIndex(key)
	if err != nil {
		return nil, err
	}
	head, err := e.store.Head(key, index)
	if err != nil {
		return nil, err
	}
	if head.TotalBps == 0 {
		return &Quote{
			AmountToAllocate: new(big.Int),
			NewRemainder:     types.NoRemainderChange,
		}, nil
	}

	totalBps := new(big.Int).SetUint64(head.TotalBps)
	numerator := new(big.Int).Mul(delta, totalBps)

	if !useRemainder {
		return &Quote{
			AmountToAllocate: numerator.Div(numerator, types.BigMaxBps()),
			NewRemainder:     types.NoRemainderChange,
		}, nil
	}

	sum, err := e.store.BalanceSum(key, index, asset)
	if err != nil {
		return nil, err
	}

	// carry the stored remainder into the numerator, then split off the
	// whole units; the rest becomes the new remainder
	numerator.Add(numerator, sum.Remainder)
	amount := new(big.Int)
	newRemainder := new(big.Int)
	amount.DivMod(numerator, types.BigMaxBps(), newRemainder)

	return &Quote{
		AmountToAllocate:   amount,
		NewRemainder:       newRemainder.Uint64(),
		RemainderIncreased: newRemainder.Cmp(sum.Remainder) > 0,
	}, nil
}

// Allocate records a fixed, externally computed amount against the balance
// share, pulling the value from depositor into custody first. A zero
// amount is rejected.
func (e *Engine) Allocate(ctx context.Context, key types.LedgerKey, asset common.Address, depositor common.Address, amount *big.Int) (*types.Allocation, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("allocate %v to %s: %w", amount, key.Hex(), ErrInvalidAllocationAmount)
	}

	lock := e.store.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	return e.deposit(ctx, key, asset, depositor, amount, types.NoRemainderChange)
}

// AllocateWithRemainder quotes the share's cut of delta with remainder
// carry and records it, pulling the cut from depositor into custody. A
// zero delta is a silent no-op. Only the registered owner of the key may
// call it, so outsiders cannot nudge the remainder.
func (e *Engine) AllocateWithRemainder(ctx context.Context, key types.LedgerKey, asset common.Address, depositor common.Address, delta *big.Int) (*types.Allocation, error) {
	if delta == nil || delta.Sign() == 0 {
		return nil, nil
	}
	if delta.Sign() < 0 {
		return nil, fmt.Errorf("allocate delta %v to %s: %w", delta, key.Hex(), ErrInvalidAllocationAmount)
	}

	owner, registered, err := e.store.Owner(key)
	if err != nil {
		return nil, err
	}
	if registered && owner != depositor {
		return nil, fmt.Errorf("depositor %s on %s: %w", depositor.Hex(), key.Hex(), ErrNotShareOwner)
	}

	lock := e.store.locks.get(key)
	lock.Lock()
	defer lock.Unlock()

	quote, err := e.quote(key, asset, delta, true)
	if err != nil {
		return nil, err
	}
	if quote.NewRemainder == types.NoRemainderChange {
		// inactive ledger quotes zero; a remainder-tracked deposit must fail instead
		return nil, fmt.Errorf("deposit to %s: %w", key.Hex(), ErrInactiveLedger)
	}

	return e.deposit(ctx, key, asset, depositor, quote.AmountToAllocate, quote.NewRemainder)
}

// deposit is the state-changing half of an allocation. The caller holds
// the key's write lock. The asset transfer-in happens before any ledger
// write; the writes go through a single db transaction, and any failure
// after the transfer-in refunds the depositor, so neither side is left
// with partial state.
func (e *Engine) deposit(ctx context.Context, key types.LedgerKey, asset common.Address, depositor common.Address, amount *big.Int, newRemainder uint64) (*types.Allocation, error) {
	if amount.Sign() == 0 && newRemainder == types.NoRemainderChange {
		return nil, nil
	}

	index, err := e.store.ActiveIndex(key)
	if err != nil {
		return nil, err
	}
	head, err := e.store.Head(key, index)
	if err != nil {
		return nil, err
	}
	if head.TotalBps == 0 {
		return nil, fmt.Errorf("deposit to %s: %w", key.Hex(), ErrInactiveLedger)
	}

	if amount.Sign() > 0 {
		if err := e.transfer.Receive(ctx, asset, depositor, amount); err != nil {
			return nil, fmt.Errorf("receive %v of %s from %s: %w", amount, asset.Hex(), depositor.Hex(), err)
		}
	}

	finalIndex, err := e.writeDeposit(key, asset, amount, newRemainder, head, index)
	if err != nil {
		// the value is already in custody; push it back before failing
		if amount.Sign() > 0 {
			if refundErr := e.transfer.Send(ctx, asset, depositor, amount); refundErr != nil {
				e.logger.Error().Err(refundErr).Str("key", key.Hex()).Str("depositor", depositor.Hex()).Msg("Refund after failed deposit did not go through")
			}
		}
		return nil, err
	}

	allocation := &types.Allocation{
		Key:             key,
		Asset:           asset,
		AmountAllocated: new(big.Int).Set(amount),
		NewRemainder:    remainderOrZero(newRemainder),
		Rollovers:       finalIndex - index,
	}

	e.logger.Info().
		Str("key", key.Hex()).
		Str("asset", asset.Hex()).
		Str("amount", allocation.AmountAllocated.String()).
		Uint64("newRemainder", allocation.NewRemainder.Uint64()).
		Uint64("rollovers", allocation.Rollovers).
		Msg("Allocated deposit")

	return allocation, nil
}

// writeDeposit runs the ledger writes of a deposit inside one db
// transaction and returns the active checkpoint index after rollovers.
// Any error means nothing was written.
func (e *Engine) writeDeposit(key types.LedgerKey, asset common.Address, amount *big.Int, newRemainder uint64, head *types.CheckpointHead, index uint64) (uint64, error) {
	sum, err := e.store.BalanceSum(key, index, asset)
	if err != nil {
		return 0, err
	}
	if newRemainder != types.NoRemainderChange {
		sum.Remainder = new(big.Int).SetUint64(newRemainder)
	}

	tx := e.store.db.NewTx()
	startIndex := index

	if !head.HasBalances {
		head.HasBalances = true
		if err := e.store.putHead(tx, key, index, head); err != nil {
			tx.Discard()
			return 0, err
		}
	}

	remaining := new(big.Int).Set(amount)
	for {
		room := sum.Room()
		take := remaining
		if room.Cmp(remaining) < 0 {
			take = room
		}
		sum.Balance.Add(sum.Balance, take)
		remaining = new(big.Int).Sub(remaining, take)

		if err := e.store.putBalanceSum(tx, key, index, asset, sum); err != nil {
			tx.Discard()
			return 0, err
		}
		if remaining.Sign() == 0 {
			break
		}

		// the cell is full: seal this checkpoint and open the next one
		// with the same weight, pre-activated, carrying the live remainder
		index++
		if err := e.store.putHead(tx, key, index, head); err != nil {
			tx.Discard()
			return 0, err
		}
		sum = &types.BalanceSum{
			Remainder: new(big.Int).Set(sum.Remainder),
			Balance:   new(big.Int),
		}
	}

	if index != startIndex {
		if err := e.store.putActiveIndex(tx, key, index); err != nil {
			tx.Discard()
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit deposit to %s: %w", key.Hex(), err)
	}
	return index, nil
}

func remainderOrZero(newRemainder uint64) *big.Int {
	if newRemainder == types.NoRemainderChange {
		return new(big.Int)
	}
	return new(big.Int).SetUint64(newRemainder)
}
