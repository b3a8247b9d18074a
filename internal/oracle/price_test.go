package oracle_test

import (
	"errors"
	"testing"
	"time"

	fpmath "EqaLedger/internal/math"
	"EqaLedger/internal/oracle"
)

func TestPriceBook_IgnoresStaleSequence(t *testing.T) {
	pb := oracle.NewPriceBook()
	ts := time.Unix(1_700_000_000, 0)

	if !pb.Update(oracle.PriceQuote{Denom: "EQA", Price: fpmath.MustParseDecimal("1.01"), LastUpdated: ts, Sequence: 2}) {
		t.Fatal("first quote should be accepted")
	}
	if pb.Update(oracle.PriceQuote{Denom: "EQA", Price: fpmath.MustParseDecimal("0.5"), LastUpdated: ts, Sequence: 1}) {
		t.Error("older sequence should be ignored")
	}

	q, err := pb.Latest("EQA")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if q.Price.String() != "1.01" {
		t.Errorf("got %s, want 1.01", q.Price)
	}
}

func TestPriceBook_Missing(t *testing.T) {
	pb := oracle.NewPriceBook()
	if _, err := pb.Latest("EQA"); !errors.Is(err, oracle.ErrNoPrice) {
		t.Errorf("got %v, want ErrNoPrice", err)
	}
}

func TestPriceQuote_IsStale(t *testing.T) {
	ts := time.Unix(1_700_000_000, 0)
	q := oracle.PriceQuote{LastUpdated: ts}

	if q.IsStale(ts.Add(30*time.Second), time.Minute) {
		t.Error("30s old quote should be fresh with 1m timeout")
	}
	if !q.IsStale(ts.Add(2*time.Minute), time.Minute) {
		t.Error("2m old quote should be stale with 1m timeout")
	}
	if q.IsStale(ts.Add(time.Hour), 0) {
		t.Error("zero timeout disables staleness")
	}
}
