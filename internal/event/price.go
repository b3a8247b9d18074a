package event

import (
	"fmt"
	"time"

	fpmath "EqaLedger/internal/math"
)

// PriceUpdated carries an oracle quote. PriceSequence is monotonic per denom;
// gaps are tolerated and stale sequences are ignored.
type PriceUpdated struct {
	Denom         string         `json:"denom"`
	Price         fpmath.Decimal `json:"price"`
	PriceSequence int64          `json:"price_sequence"`
	Timestamp     time.Time      `json:"timestamp"`
}

func (p *PriceUpdated) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Denom, p.PriceSequence)
}

func (p *PriceUpdated) EventType() EventType      { return EventTypePriceUpdated }
func (p *PriceUpdated) Partition() string         { return "price:" + p.Denom }
func (p *PriceUpdated) SourceSequence() int64     { return p.PriceSequence }
func (p *PriceUpdated) EventTimestamp() time.Time { return p.Timestamp }
