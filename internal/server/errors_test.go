package server

import (
	"context"
	"errors"
	"fmt"
	"testing"

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

func TestToStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"unauthorized", fmt.Errorf("wrap: %w", state.ErrUnauthorized), codes.PermissionDenied},
		{"malformed", fmt.Errorf("wrap: %w", ingestion.ErrMalformedMessage), codes.InvalidArgument},
		{"negative", ledger.ErrNegativeAmount, codes.InvalidArgument},
		{"unknown source", ledger.ErrUnknownSource, codes.InvalidArgument},
		{"bad config", state.ErrInvalidConfiguration, codes.InvalidArgument},
		{"funds", fmt.Errorf("redeem: %w", ledger.ErrInsufficientFunds), codes.FailedPrecondition},
		{"cap", fmt.Errorf("mint: %w", ledger.ErrCapExceeded), codes.ResourceExhausted},
		{"collateral", state.ErrInsufficientCollateral, codes.FailedPrecondition},
		{"no price", oracle.ErrNoPrice, codes.FailedPrecondition},
		{"network", config.ErrNetworkNotConfigured, codes.FailedPrecondition},
		{"overflow", fpmath.ErrOverflow, codes.OutOfRange},
		{"gap", fmt.Errorf("sequence validation failed: %w", core.ErrSequenceGap), codes.Aborted},
		{"out of order", core.ErrOutOfOrder, codes.Aborted},
		{"shutdown", ingestion.ErrShuttingDown, codes.Unavailable},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"canceled", context.Canceled, codes.Canceled},
		{"passthrough", status.Error(codes.NotFound, "gone"), codes.NotFound},
		{"unknown", errors.New("boom"), codes.Internal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			st := status.Convert(toStatus(tc.err))
			if st.Code() != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, st.Code())
			}
		})
	}

	if toStatus(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	if msg := status.Convert(toStatus(errors.New("secret detail"))).Message(); msg != "internal error" {
		t.Fatalf("internal errors must not leak detail, got %q", msg)
	}
}
