package transfer

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testToken = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	payer     = common.HexToAddress("0x1000000000000000000000000000000000000001")
	payee     = common.HexToAddress("0x2000000000000000000000000000000000000002")
)

func TestVaultTokenRoundTrip(t *testing.T) {
	vault := NewVault()
	ctx := context.Background()

	vault.Fund(testToken, payer, big.NewInt(100))

	err := vault.Receive(ctx, testToken, payer, big.NewInt(60))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(60), vault.Custody(testToken))
	assert.Equal(t, big.NewInt(40), vault.BalanceOf(testToken, payer))

	err = vault.Send(ctx, testToken, payee, big.NewInt(25))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(35), vault.Custody(testToken))
	assert.Equal(t, big.NewInt(25), vault.BalanceOf(testToken, payee))
}

func TestVaultInsufficientFunds(t *testing.T) {
	vault := NewVault()
	ctx := context.Background()

	vault.Fund(testToken, payer, big.NewInt(10))

	err := vault.Receive(ctx, testToken, payer, big.NewInt(11))
	assert.True(t, errors.Is(err, ErrTransferFailed))
	assert.Equal(t, big.NewInt(0), vault.Custody(testToken))
	assert.Equal(t, big.NewInt(10), vault.BalanceOf(testToken, payer))
}

func TestVaultNativePaymentMismatch(t *testing.T) {
	vault := NewVault()
	ctx := context.Background()

	vault.AttachPayment(payer, big.NewInt(5))
	err := vault.Receive(ctx, NativeAsset, payer, big.NewInt(6))
	assert.True(t, errors.Is(err, ErrInvalidPaymentAmount))

	// attachment must match exactly and is consumed by a successful receive
	vault.AttachPayment(payer, big.NewInt(6))
	err = vault.Receive(ctx, NativeAsset, payer, big.NewInt(6))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(6), vault.Custody(NativeAsset))

	err = vault.Receive(ctx, NativeAsset, payer, big.NewInt(6))
	assert.True(t, errors.Is(err, ErrInvalidPaymentAmount))
}
