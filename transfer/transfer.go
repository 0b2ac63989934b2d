// Package transfer moves asset value in and out of ledger custody.
package transfer

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrTransferFailed is returned when an asset movement could not be
	// completed, e.g. the payer does not hold the amount.
	ErrTransferFailed = errors.New("asset transfer failed")

	// ErrInvalidPaymentAmount is returned when a native-currency payment
	// does not exactly match the amount attached to the call.
	ErrInvalidPaymentAmount = errors.New("invalid payment amount")
)

// NativeAsset is the asset address standing for the native currency.
var NativeAsset = common.Address{}

// AssetTransfer receives value into custody and sends it back out. Both
// operations either succeed in full or fail without effect.
type AssetTransfer interface {
	Receive(ctx context.Context, asset common.Address, from common.Address, amount *big.Int) error
	Send(ctx context.Context, asset common.Address, to common.Address, amount *big.Int) error
}
