package ledger

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrCapExceeded         = errors.New("supply cap exceeded")
	ErrNegativeAmount      = errors.New("negative amount")
	ErrUnknownSource       = errors.New("unknown collateral source")
	ErrInvalidHolder       = errors.New("invalid holder")
)
