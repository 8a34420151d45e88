package lendbook

import "errors"

// Every error aborts its operation as a whole; no partial state change is ever
// observable after a non-nil return.
var (
	ErrInvalidQuantity        = errors.New("lendbook: quantity must be positive")
	ErrInvalidPrice           = errors.New("lendbook: price must be positive")
	ErrOrderNotFound          = errors.New("lendbook: order not found")
	ErrPositionNotFound       = errors.New("lendbook: position not found")
	ErrInsufficientAvailable  = errors.New("lendbook: insufficient available assets")
	ErrInsufficientCollateral = errors.New("lendbook: excess collateral would go negative")
	ErrFloorBreach            = errors.New("lendbook: residual below non-borrowable floor")
	ErrRelocationFailed       = errors.New("lendbook: outstanding debt could not be relocated")
	ErrUnauthorizedCaller     = errors.New("lendbook: caller is not the maker")
	ErrPriceGuardFailed       = errors.New("lendbook: oracle price guard rejected the operation")
	ErrNotBorrowable          = errors.New("lendbook: order is not borrowable")
	ErrSelfLending            = errors.New("lendbook: borrowing against own order on the same pairing")
	ErrInvalidPairedPrice     = errors.New("lendbook: paired price rejected")
	ErrNotLiquidatable        = errors.New("lendbook: borrower excess collateral still positive")
	ErrOracleUnavailable      = errors.New("lendbook: price oracle unavailable")
)
