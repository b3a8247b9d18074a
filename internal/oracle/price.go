package oracle

import (
	"errors"
	"fmt"
	"sort"
	"time"

	fpmath "EqaLedger/internal/math"
)

// DefaultDenom is the denom the peg is quoted in.
const DefaultDenom = "EQA"

var ErrNoPrice = errors.New("oracle: no price for denom")

// PriceQuote is the oracle output contract: a price and when it was produced.
type PriceQuote struct {
	Denom       string
	Price       fpmath.Decimal
	LastUpdated time.Time
	Sequence    int64
}

// IsStale reports whether the quote is older than timeout at now.
// The core never calls this; freshness is judged at the query surface.
func (q PriceQuote) IsStale(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	return now.Sub(q.LastUpdated) > timeout
}

// PriceBook holds the latest quote per denom.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type PriceBook struct {
	quotes map[string]PriceQuote
}

func NewPriceBook() *PriceBook {
	return &PriceBook{quotes: make(map[string]PriceQuote)}
}

// Update stores q unless a quote with an equal or newer sequence is already held.
// It reports whether q was accepted.
func (pb *PriceBook) Update(q PriceQuote) bool {
	if cur, ok := pb.quotes[q.Denom]; ok && q.Sequence <= cur.Sequence {
		return false
	}
	pb.quotes[q.Denom] = q
	return true
}

func (pb *PriceBook) Latest(denom string) (PriceQuote, error) {
	q, ok := pb.quotes[denom]
	if !ok {
		return PriceQuote{}, fmt.Errorf("%w: %s", ErrNoPrice, denom)
	}
	return q, nil
}

// All returns quotes sorted by denom.
func (pb *PriceBook) All() []PriceQuote {
	out := make([]PriceQuote, 0, len(pb.quotes))
	for _, q := range pb.quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Denom < out[j].Denom })
	return out
}

func (pb *PriceBook) Restore(quotes []PriceQuote) {
	pb.quotes = make(map[string]PriceQuote, len(quotes))
	for _, q := range quotes {
		pb.quotes[q.Denom] = q
	}
}
