package ledger

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearledger/go-allocations/db"
	"github.com/clearledger/go-allocations/db/memorydb"
	"github.com/clearledger/go-allocations/identity"
	"github.com/clearledger/go-allocations/transfer"
	"github.com/clearledger/go-allocations/types"
)

var (
	testClient = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testToken  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func setupEngine(t *testing.T) (*Engine, *transfer.Vault, types.LedgerKey) {
	vault := transfer.NewVault()
	engine, err := NewEngine(memorydb.NewDB(), vault)
	require.NoError(t, err)

	key := identity.DeriveLedgerKey(testClient, big.NewInt(1))
	require.NoError(t, engine.Store().RegisterOwner(key, testClient))
	return engine, vault, key
}

func fund(vault *transfer.Vault, amount *big.Int) {
	vault.Fund(testToken, testClient, amount)
}

func TestGetTotalBps(t *testing.T) {
	engine, _, key := setupEngine(t)

	bps, err := engine.GetTotalBps(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), bps)

	require.NoError(t, engine.Store().SetTotalBps(key, 2500))
	bps, err = engine.GetTotalBps(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500), bps)
}

func TestQuoteInactiveLedger(t *testing.T) {
	engine, _, key := setupEngine(t)

	quote, err := engine.Quote(key, testToken, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int64(0), quote.AmountToAllocate.Int64())
	assert.Equal(t, types.NoRemainderChange, quote.NewRemainder)
}

func TestQuoteFixedMode(t *testing.T) {
	engine, _, key := setupEngine(t)
	require.NoError(t, engine.Store().SetTotalBps(key, 2500))

	quote, err := engine.Quote(key, testToken, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), quote.AmountToAllocate.Int64())
	assert.Equal(t, types.NoRemainderChange, quote.NewRemainder)
}

func TestRemainderScenario(t *testing.T) {
	engine, vault, key := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Store().SetTotalBps(key, 2500))
	fund(vault, big.NewInt(1000))

	// 3 * 2500 = 7500: nothing allocable yet, the fraction is carried
	allocation, err := engine.AllocateWithRemainder(ctx, key, testToken, testClient, big.NewInt(3))
	require.NoError(t, err)
	require.NotNil(t, allocation)
	assert.Equal(t, int64(0), allocation.AmountAllocated.Int64())
	assert.Equal(t, uint64(7500), allocation.NewRemainder.Uint64())

	// 5 * 2500 + 7500 = 20000: two whole units, carry cleared
	allocation, err = engine.AllocateWithRemainder(ctx, key, testToken, testClient, big.NewInt(5))
	require.NoError(t, err)
	require.NotNil(t, allocation)
	assert.Equal(t, int64(2), allocation.AmountAllocated.Int64())
	assert.Equal(t, uint64(0), allocation.NewRemainder.Uint64())

	total, err := engine.Store().TotalBalance(key, testToken)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total.Int64())
	assert.Equal(t, big.NewInt(2), vault.Custody(testToken))
}

func TestConservation(t *testing.T) {
	for _, totalBps := range []uint64{1, 2500, 3333, 9999, 10000} {
		engine, vault, key := setupEngine(t)
		ctx := context.Background()

		require.NoError(t, engine.Store().SetTotalBps(key, totalBps))

		deltas := []int64{0, 1, 3, 7, 999, 1, 12345, 2, 88}
		sumDeltas := new(big.Int)
		allocated := new(big.Int)
		fund(vault, big.NewInt(1<<40))

		for _, delta := range deltas {
			allocation, err := engine.AllocateWithRemainder(ctx, key, testToken, testClient, big.NewInt(delta))
			require.NoError(t, err)
			sumDeltas.Add(sumDeltas, big.NewInt(delta))
			if allocation != nil {
				allocated.Add(allocated, allocation.AmountAllocated)
			}
		}

		index, err := engine.Store().ActiveIndex(key)
		require.NoError(t, err)
		sum, err := engine.Store().BalanceSum(key, index, testToken)
		require.NoError(t, err)

		// allocated * 10000 + remainder == totalBps * sum(deltas)
		lhs := new(big.Int).Mul(allocated, types.BigMaxBps())
		lhs.Add(lhs, sum.Remainder)
		rhs := new(big.Int).Mul(sumDeltas, new(big.Int).SetUint64(totalBps))
		assert.Equal(t, rhs, lhs, "totalBps %d", totalBps)
	}
}

func TestOverflowRollovers(t *testing.T) {
	engine, vault, key := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Store().SetTotalBps(key, 10000))

	// K * capacity + r must produce exactly K rollovers and leave r in the
	// active checkpoint
	r := big.NewInt(12345)
	amount := new(big.Int).Mul(types.MaxBalanceSumBalance, big.NewInt(2))
	amount.Add(amount, r)
	fund(vault, amount)

	allocation, err := engine.Allocate(ctx, key, testToken, testClient, amount)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), allocation.Rollovers)

	index, err := engine.Store().ActiveIndex(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), index)

	sum, err := engine.Store().BalanceSum(key, index, testToken)
	require.NoError(t, err)
	assert.Equal(t, r, sum.Balance)

	for i := uint64(0); i < index; i++ {
		sealed, err := engine.Store().BalanceSum(key, i, testToken)
		require.NoError(t, err)
		assert.Equal(t, types.MaxBalanceSumBalance, sealed.Balance)
	}

	// the weight is copied forward onto the fresh checkpoint
	bps, err := engine.GetTotalBps(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(10000), bps)

	total, err := engine.Store().TotalBalance(key, testToken)
	require.NoError(t, err)
	assert.Equal(t, amount, total)
}

func TestRolloverInRemainderMode(t *testing.T) {
	engine, vault, key := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Store().SetTotalBps(key, 9999))

	delta := new(big.Int).Mul(types.MaxBalanceSumBalance, big.NewInt(2))
	fund(vault, delta)

	allocation, err := engine.AllocateWithRemainder(ctx, key, testToken, testClient, delta)
	require.NoError(t, err)
	require.NotNil(t, allocation)
	assert.True(t, allocation.Rollovers >= 1)

	total, err := engine.Store().TotalBalance(key, testToken)
	require.NoError(t, err)

	index, err := engine.Store().ActiveIndex(key)
	require.NoError(t, err)
	sum, err := engine.Store().BalanceSum(key, index, testToken)
	require.NoError(t, err)

	lhs := new(big.Int).Mul(total, types.BigMaxBps())
	lhs.Add(lhs, sum.Remainder)
	rhs := new(big.Int).Mul(delta, big.NewInt(9999))
	assert.Equal(t, rhs, lhs)
}

func TestInactiveLedgerRejected(t *testing.T) {
	engine, vault, key := setupEngine(t)
	ctx := context.Background()

	fund(vault, big.NewInt(100))

	_, err := engine.Allocate(ctx, key, testToken, testClient, big.NewInt(10))
	assert.True(t, errors.Is(err, ErrInactiveLedger))

	_, err = engine.AllocateWithRemainder(ctx, key, testToken, testClient, big.NewInt(10))
	assert.True(t, errors.Is(err, ErrInactiveLedger))

	// no side effect on custody or holder balance
	assert.Equal(t, big.NewInt(0), vault.Custody(testToken))
	assert.Equal(t, big.NewInt(100), vault.BalanceOf(testToken, testClient))
}

func TestZeroAmountFixedDeposit(t *testing.T) {
	engine, _, key := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Store().SetTotalBps(key, 5000))

	_, err := engine.Allocate(ctx, key, testToken, testClient, big.NewInt(0))
	assert.True(t, errors.Is(err, ErrInvalidAllocationAmount))
}

func TestZeroDeltaNoOp(t *testing.T) {
	engine, vault, key := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Store().SetTotalBps(key, 5000))
	fund(vault, big.NewInt(100))

	allocation, err := engine.AllocateWithRemainder(ctx, key, testToken, testClient, big.NewInt(0))
	require.NoError(t, err)
	assert.Nil(t, allocation)

	index, err := engine.Store().ActiveIndex(key)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), index)

	sum, err := engine.Store().BalanceSum(key, index, testToken)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum.Balance.Int64())
	assert.Equal(t, int64(0), sum.Remainder.Int64())
	assert.Equal(t, big.NewInt(0), vault.Custody(testToken))
}

func TestQuoteIsIdempotent(t *testing.T) {
	engine, vault, key := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Store().SetTotalBps(key, 2500))
	fund(vault, big.NewInt(1000))

	_, err := engine.AllocateWithRemainder(ctx, key, testToken, testClient, big.NewInt(3))
	require.NoError(t, err)

	first, err := engine.QuoteWithRemainder(key, testToken, big.NewInt(5))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := engine.QuoteWithRemainder(key, testToken, big.NewInt(5))
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	allocation, err := engine.AllocateWithRemainder(ctx, key, testToken, testClient, big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, first.AmountToAllocate, allocation.AmountAllocated)
	assert.Equal(t, first.NewRemainder, allocation.NewRemainder.Uint64())
}

func TestRemainderModeRestrictedToOwner(t *testing.T) {
	engine, vault, key := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Store().SetTotalBps(key, 2500))
	outsider := common.HexToAddress("0x3000000000000000000000000000000000000003")
	vault.Fund(testToken, outsider, big.NewInt(100))

	_, err := engine.AllocateWithRemainder(ctx, key, testToken, outsider, big.NewInt(10))
	assert.True(t, errors.Is(err, ErrNotShareOwner))

	// the fixed mode stays open to any depositor
	_, err = engine.Allocate(ctx, key, testToken, outsider, big.NewInt(10))
	require.NoError(t, err)
}

func TestTransferFailureLeavesNoState(t *testing.T) {
	engine, vault, key := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Store().SetTotalBps(key, 10000))
	fund(vault, big.NewInt(5))

	_, err := engine.Allocate(ctx, key, testToken, testClient, big.NewInt(10))
	assert.True(t, errors.Is(err, transfer.ErrTransferFailed))

	total, err := engine.Store().TotalBalance(key, testToken)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total.Int64())
}

func TestNativePaymentMismatchRejected(t *testing.T) {
	engine, vault, key := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Store().SetTotalBps(key, 10000))
	vault.AttachPayment(testClient, big.NewInt(9))

	_, err := engine.Allocate(ctx, key, transfer.NativeAsset, testClient, big.NewInt(10))
	assert.True(t, errors.Is(err, transfer.ErrInvalidPaymentAmount))

	total, err := engine.Store().TotalBalance(key, transfer.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total.Int64())
}

func TestSweepSmallAndHugeDeltas(t *testing.T) {
	for _, totalBps := range []uint64{1, 9999, 10000} {
		engine, vault, key := setupEngine(t)
		ctx := context.Background()

		require.NoError(t, engine.Store().SetTotalBps(key, totalBps))

		huge := new(big.Int).Add(types.MaxBalanceSumBalance, big.NewInt(1))
		fund(vault, new(big.Int).Mul(huge, big.NewInt(2)))

		sumDeltas := new(big.Int)
		allocated := new(big.Int)
		for _, delta := range []*big.Int{big.NewInt(0), big.NewInt(1), huge} {
			allocation, err := engine.AllocateWithRemainder(ctx, key, testToken, testClient, delta)
			require.NoError(t, err)
			sumDeltas.Add(sumDeltas, delta)
			if allocation != nil {
				allocated.Add(allocated, allocation.AmountAllocated)
			}
		}

		total, err := engine.Store().TotalBalance(key, testToken)
		require.NoError(t, err)
		assert.Equal(t, allocated, total, "totalBps %d", totalBps)

		index, err := engine.Store().ActiveIndex(key)
		require.NoError(t, err)
		sum, err := engine.Store().BalanceSum(key, index, testToken)
		require.NoError(t, err)

		lhs := new(big.Int).Mul(allocated, types.BigMaxBps())
		lhs.Add(lhs, sum.Remainder)
		rhs := new(big.Int).Mul(sumDeltas, new(big.Int).SetUint64(totalBps))
		assert.Equal(t, rhs, lhs, "totalBps %d", totalBps)
	}
}

func TestAssetsAreIndependent(t *testing.T) {
	engine, vault, key := setupEngine(t)
	ctx := context.Background()

	otherToken := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	require.NoError(t, engine.Store().SetTotalBps(key, 2500))
	fund(vault, big.NewInt(1000))
	vault.Fund(otherToken, testClient, big.NewInt(1000))

	_, err := engine.AllocateWithRemainder(ctx, key, testToken, testClient, big.NewInt(3))
	require.NoError(t, err)

	// the other asset's cell still has a zero remainder
	quote, err := engine.QuoteWithRemainder(key, otherToken, big.NewInt(3))
	require.NoError(t, err)
	assert.Equal(t, int64(0), quote.AmountToAllocate.Int64())
	assert.Equal(t, uint64(7500), quote.NewRemainder)
}

// readFailDB fails reads in one namespace so tests can break a deposit
// after its transfer-in succeeded.
type readFailDB struct {
	db.DB
	failNamespace []byte
}

func (f *readFailDB) Get(namespace []byte, key []byte) ([]byte, bool, error) {
	if bytes.Equal(namespace, f.failNamespace) {
		return nil, false, errors.New("backing store read failed")
	}
	return f.DB.Get(namespace, key)
}

func TestWriteFailureRefundsDepositor(t *testing.T) {
	vault := transfer.NewVault()
	database := &readFailDB{DB: memorydb.NewDB(), failNamespace: db.NamespaceBalanceSum}
	engine, err := NewEngine(database, vault)
	require.NoError(t, err)

	key := identity.DeriveLedgerKey(testClient, big.NewInt(1))
	require.NoError(t, engine.Store().SetTotalBps(key, 10000))
	fund(vault, big.NewInt(10))

	_, err = engine.Allocate(context.Background(), key, testToken, testClient, big.NewInt(10))
	require.Error(t, err)

	// the transfer-in must unwind along with the ledger writes
	assert.Equal(t, int64(0), vault.Custody(testToken).Int64())
	assert.Equal(t, int64(10), vault.BalanceOf(testToken, testClient).Int64())
	total, err := engine.Store().TotalBalance(key, testToken)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total.Int64())
}

func TestNilDeltaQuoteRejected(t *testing.T) {
	engine, _, key := setupEngine(t)
	require.NoError(t, engine.Store().SetTotalBps(key, 2500))

	_, err := engine.Quote(key, testToken, nil)
	assert.True(t, errors.Is(err, ErrInvalidAllocationAmount))

	_, err = engine.QuoteWithRemainder(key, testToken, nil)
	assert.True(t, errors.Is(err, ErrInvalidAllocationAmount))
}

func TestWeightUpdateKeepsActivation(t *testing.T) {
	engine, vault, key := setupEngine(t)
	require.NoError(t, engine.Store().SetTotalBps(key, 2500))
	fund(vault, big.NewInt(10))

	_, err := engine.Allocate(context.Background(), key, testToken, testClient, big.NewInt(10))
	require.NoError(t, err)

	require.NoError(t, engine.Store().SetTotalBps(key, 5000))
	head, err := engine.Store().Head(key, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), head.TotalBps)
	assert.True(t, head.HasBalances)
}

func TestConcurrentWeightUpdatesAndDeposits(t *testing.T) {
	engine, vault, key := setupEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.Store().SetTotalBps(key, 2500))
	fund(vault, big.NewInt(32))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, engine.Store().SetTotalBps(key, 5000))
		}()
		go func() {
			defer wg.Done()
			_, err := engine.Allocate(ctx, key, testToken, testClient, big.NewInt(1))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// weight writes and deposits serialize per key: every weight write
	// lands and the first deposit's activation is never lost
	head, err := engine.Store().Head(key, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), head.TotalBps)
	assert.True(t, head.HasBalances)

	total, err := engine.Store().TotalBalance(key, testToken)
	require.NoError(t, err)
	assert.Equal(t, int64(32), total.Int64())
	assert.Equal(t, int64(32), vault.Custody(testToken).Int64())
}
