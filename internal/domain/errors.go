package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrLockHeld            = errors.New("lock already held")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrTransientRead       = errors.New("transient read failure")
	ErrOracleUnavailable   = errors.New("price oracle unavailable")
	ErrRegistryUnreachable = errors.New("sorted registry unreachable")
	ErrInvalidPosition     = errors.New("invalid position")
	ErrSubmission          = errors.New("redemption submission failed")
	ErrStalePlan           = errors.New("redemption plan is stale")
	ErrSigningFailed       = errors.New("signing failed")
)

// ErrNothingRedeemable is returned when a redemption plan redeems zero.
var ErrNothingRedeemable = errors.New("nothing redeemable")
