package event

import (
	"time"

	fpmath "EqaLedger/internal/math"

	"github.com/google/uuid"
)

// LiquidationCheckRequested runs the solvency check.
// A nil Supply checks the tracked total supply; a nil Price uses the latest quote.
type LiquidationCheckRequested struct {
	RequestID uuid.UUID       `json:"request_id"`
	Supply    *int64          `json:"supply,omitempty"`
	Price     *fpmath.Decimal `json:"price,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (l *LiquidationCheckRequested) IdempotencyKey() string    { return l.RequestID.String() }
func (l *LiquidationCheckRequested) EventType() EventType      { return EventTypeLiquidationCheckRequested }
func (l *LiquidationCheckRequested) Partition() string         { return "liquidation" }
func (l *LiquidationCheckRequested) SourceSequence() int64     { return 0 }
func (l *LiquidationCheckRequested) EventTimestamp() time.Time { return l.Timestamp }
