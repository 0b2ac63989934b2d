package ledger

import "errors"

var (
	// ErrInactiveLedger is returned when a deposit targets a balance share
	// whose active checkpoint has a zero total weight.
	ErrInactiveLedger = errors.New("balance share ledger is inactive")

	// ErrInvalidAllocationAmount is returned for a zero or negative
	// fixed-amount deposit.
	ErrInvalidAllocationAmount = errors.New("invalid allocation amount")

	// ErrNotShareOwner is returned when a remainder-tracked deposit is
	// attempted by a caller other than the share's registered owner.
	ErrNotShareOwner = errors.New("caller is not the balance share owner")

	// ErrInvalidTotalBps is returned when the account-share manager tries
	// to set a weight above the full allocation.
	ErrInvalidTotalBps = errors.New("total bps exceeds maximum")

	// ErrOwnerAlreadyRegistered is returned when registration targets a
	// share that already has an owner on record.
	ErrOwnerAlreadyRegistered = errors.New("balance share owner already registered")

	// ErrInvalidSnapshot is returned when a restored snapshot does not
	// cover its own active checkpoint.
	ErrInvalidSnapshot = errors.New("snapshot does not cover the active checkpoint")
)
