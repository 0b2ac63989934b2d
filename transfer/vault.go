package transfer

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/clearledger/go-allocations/log"
)

// Vault is a book-keeping AssetTransfer used by tests and the demo binary.
// Token transfers draw on funded holder balances. Native-currency transfers
// consume a payment attached beforehand with AttachPayment, and the attached
// amount must match the transferred amount exactly.
type Vault struct {
	lock     sync.Mutex
	logger   *log.Logger
	holdings map[common.Address]map[common.Address]*big.Int
	attached map[common.Address]*big.Int
	custody  map[common.Address]*big.Int
}

var _ AssetTransfer = (*Vault)(nil)

func NewVault() *Vault {
	return &Vault{
		logger:   log.NewLogger("transfer"),
		holdings: make(map[common.Address]map[common.Address]*big.Int),
		attached: make(map[common.Address]*big.Int),
		custody:  make(map[common.Address]*big.Int),
	}
}

// Fund credits a holder with amount of asset, so later Receive calls can
// draw on it.
func (v *Vault) Fund(asset common.Address, holder common.Address, amount *big.Int) {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.balanceOf(asset, holder).Add(v.balanceOf(asset, holder), amount)
}

// AttachPayment records a native-currency payment sent along with the next
// Receive from the payer.
func (v *Vault) AttachPayment(from common.Address, amount *big.Int) {
	v.lock.Lock()
	defer v.lock.Unlock()

	v.attached[from] = new(big.Int).Set(amount)
}

func (v *Vault) Receive(ctx context.Context, asset common.Address, from common.Address, amount *big.Int) error {
	v.lock.Lock()
	defer v.lock.Unlock()

	if asset == NativeAsset {
		paid, ok := v.attached[from]
		if !ok || paid.Cmp(amount) != 0 {
			return fmt.Errorf("payer %s attached %v, needs %v: %w", from.Hex(), paid, amount, ErrInvalidPaymentAmount)
		}
		delete(v.attached, from)
	} else {
		balance := v.balanceOf(asset, from)
		if balance.Cmp(amount) < 0 {
			return fmt.Errorf("payer %s holds %v of %s, needs %v: %w", from.Hex(), balance, asset.Hex(), amount, ErrTransferFailed)
		}
		balance.Sub(balance, amount)
	}

	custody := v.custodyOf(asset)
	custody.Add(custody, amount)

	v.logger.Debug().Str("asset", asset.Hex()).Str("from", from.Hex()).Str("amount", amount.String()).Msg("Received into custody")
	return nil
}

func (v *Vault) Send(ctx context.Context, asset common.Address, to common.Address, amount *big.Int) error {
	v.lock.Lock()
	defer v.lock.Unlock()

	custody := v.custodyOf(asset)
	if custody.Cmp(amount) < 0 {
		return fmt.Errorf("custody holds %v of %s, needs %v: %w", custody, asset.Hex(), amount, ErrTransferFailed)
	}
	custody.Sub(custody, amount)

	balance := v.balanceOf(asset, to)
	balance.Add(balance, amount)

	v.logger.Debug().Str("asset", asset.Hex()).Str("to", to.Hex()).Str("amount", amount.String()).Msg("Sent out of custody")
	return nil
}

// Custody reports how much of asset is currently held.
func (v *Vault) Custody(asset common.Address) *big.Int {
	v.lock.Lock()
	defer v.lock.Unlock()

	return new(big.Int).Set(v.custodyOf(asset))
}

// BalanceOf reports a holder's funded balance of asset.
func (v *Vault) BalanceOf(asset common.Address, holder common.Address) *big.Int {
	v.lock.Lock()
	defer v.lock.Unlock()

	return new(big.Int).Set(v.balanceOf(asset, holder))
}

func (v *Vault) balanceOf(asset common.Address, holder common.Address) *big.Int {
	holders, ok := v.holdings[asset]
	if !ok {
		holders = make(map[common.Address]*big.Int)
		v.holdings[asset] = holders
	}
	balance, ok := holders[holder]
	if !ok {
		balance = new(big.Int)
		holders[holder] = balance
	}
	return balance
}

func (v *Vault) custodyOf(asset common.Address) *big.Int {
	custody, ok := v.custody[asset]
	if !ok {
		custody = new(big.Int)
		v.custody[asset] = custody
	}
	return custody
}
