package event

import (
	"time"

	fpmath "EqaLedger/internal/math"

	"github.com/google/uuid"
)

// MintRequested issues EQA to Holder for Amount, less the deviation fee.
// A nil Price means "use the latest oracle quote".
type MintRequested struct {
	RequestID uuid.UUID       `json:"request_id"`
	Holder    string          `json:"holder"`
	Amount    int64           `json:"amount"`
	Price     *fpmath.Decimal `json:"price,omitempty"`
	Sequence  int64           `json:"sequence,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (m *MintRequested) IdempotencyKey() string    { return m.RequestID.String() }
func (m *MintRequested) EventType() EventType      { return EventTypeMintRequested }
func (m *MintRequested) Partition() string         { return "holder:" + m.Holder }
func (m *MintRequested) SourceSequence() int64     { return m.Sequence }
func (m *MintRequested) EventTimestamp() time.Time { return m.Timestamp }

// RedeemRequested burns Amount from Holder and pays out Amount less the fee.
type RedeemRequested struct {
	RequestID uuid.UUID       `json:"request_id"`
	Holder    string          `json:"holder"`
	Amount    int64           `json:"amount"`
	Price     *fpmath.Decimal `json:"price,omitempty"`
	Sequence  int64           `json:"sequence,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (r *RedeemRequested) IdempotencyKey() string    { return r.RequestID.String() }
func (r *RedeemRequested) EventType() EventType      { return EventTypeRedeemRequested }
func (r *RedeemRequested) Partition() string         { return "holder:" + r.Holder }
func (r *RedeemRequested) SourceSequence() int64     { return r.Sequence }
func (r *RedeemRequested) EventTimestamp() time.Time { return r.Timestamp }
