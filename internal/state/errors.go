package state

import "errors"

var (
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrInvalidConfiguration   = errors.New("invalid configuration")
	ErrUnauthorized           = errors.New("unauthorized")
)
