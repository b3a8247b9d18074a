package server

import (
	"context"
	"errors"

	"EqaLedger/internal/config"
	"EqaLedger/internal/core"
	"EqaLedger/internal/ingestion"
	"EqaLedger/internal/ledger"
	fpmath "EqaLedger/internal/math"
	"EqaLedger/internal/oracle"
	"EqaLedger/internal/state"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps domain errors to gRPC status codes. Domain messages are
// returned as-is; anything unrecognised becomes an opaque Internal.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, state.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, ingestion.ErrMalformedMessage),
		errors.Is(err, ledger.ErrNegativeAmount),
		errors.Is(err, ledger.ErrUnknownSource),
		errors.Is(err, ledger.ErrInvalidHolder),
		errors.Is(err, state.ErrInvalidConfiguration):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, state.ErrInsufficientCollateral),
		errors.Is(err, oracle.ErrNoPrice),
		errors.Is(err, config.ErrNetworkNotConfigured):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ledger.ErrCapExceeded):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, fpmath.ErrOverflow), errors.Is(err, fpmath.ErrDivideByZero):
		return status.Error(codes.OutOfRange, err.Error())
	case errors.Is(err, core.ErrSequenceGap), errors.Is(err, core.ErrOutOfOrder):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, ingestion.ErrShuttingDown):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
