package game

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidBet          = errors.New("invalid bet amount")
	ErrInvalidMineCount    = errors.New("invalid mine count")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidRoundState   = errors.New("invalid round state")
	ErrIndexOutOfRange     = errors.New("cell index out of range")
	ErrSettlementFailed    = errors.New("settlement failed")

	ErrRoundNotFound   = errors.New("round not found")
	ErrRoundInProgress = errors.New("account already has an active round")

	// ErrStaleRequest is returned when a reveal was built from an outdated
	// view of the round. It also matches ErrInvalidRoundState.
	ErrStaleRequest = fmt.Errorf("%w: stale request", ErrInvalidRoundState)

	// ErrVersionConflict is returned by a RoundStore when the stored
	// version no longer matches the one the update was derived from.
	ErrVersionConflict = errors.New("round version conflict")

	ErrMultiplierDomain = errors.New("multiplier arguments out of domain")
)
