package domain

import "github.com/pkg/errors"

// precondition failures, detected before any state is touched.
var (
	ErrPriceMustBeNonZero  = errors.New("price must be non-zero")
	ErrNotOwner            = errors.New("caller is not the owner")
	ErrAlreadyListed       = errors.New("asset is already listed")
	ErrNotApproved         = errors.New("marketplace is not approved to transfer the asset")
	ErrNotListed           = errors.New("asset is not listed")
	ErrInsufficientPayment = errors.New("payment is below the listing price")
	ErrFeeExceedsPrice     = errors.New("royalty and platform fee exceed the price")
	ErrNothingToWithdraw   = errors.New("nothing to withdraw")
	ErrNotOperator         = errors.New("caller is not the marketplace operator")
	ErrInvalidFeeRate      = errors.New("platform fee rate must be between 0 and 10000 bps")
	ErrReentrantCall       = errors.New("reentrant call into a mutating marketplace operation")
)

// ErrBusy is returned when another mutating operation holds the engine for too long.
var ErrBusy = errors.New("marketplace is busy")

// ErrJournalFaulted is returned by every mutation once an applied event could not
// be journaled. The process has to be restarted after the journal is repaired.
var ErrJournalFaulted = errors.New("marketplace journal is faulted")

// ErrOverflow is a configuration-class fault: the value range of a balance was exceeded.
var ErrOverflow = errors.New("balance overflow")
