package event

import (
	"time"

	"EqaLedger/internal/ledger"

	"github.com/google/uuid"
)

// CollateralDeposited locks bridged collateral into the pool.
// Relayer is the gateway address that delivered it.
type CollateralDeposited struct {
	RequestID uuid.UUID               `json:"request_id"`
	Source    ledger.CollateralSource `json:"source"`
	Amount    int64                   `json:"amount"`
	Relayer   string                  `json:"relayer"`
	Sequence  int64                   `json:"sequence,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

func (d *CollateralDeposited) IdempotencyKey() string    { return d.RequestID.String() }
func (d *CollateralDeposited) EventType() EventType      { return EventTypeCollateralDeposited }
func (d *CollateralDeposited) Partition() string         { return "collateral:" + d.Source.String() }
func (d *CollateralDeposited) SourceSequence() int64     { return d.Sequence }
func (d *CollateralDeposited) EventTimestamp() time.Time { return d.Timestamp }

// CollateralWithdrawn releases collateral from the pool back over the bridge.
type CollateralWithdrawn struct {
	RequestID uuid.UUID               `json:"request_id"`
	Source    ledger.CollateralSource `json:"source"`
	Amount    int64                   `json:"amount"`
	Relayer   string                  `json:"relayer"`
	Sequence  int64                   `json:"sequence,omitempty"`
	Timestamp time.Time               `json:"timestamp"`
}

func (w *CollateralWithdrawn) IdempotencyKey() string    { return w.RequestID.String() }
func (w *CollateralWithdrawn) EventType() EventType      { return EventTypeCollateralWithdrawn }
func (w *CollateralWithdrawn) Partition() string         { return "collateral:" + w.Source.String() }
func (w *CollateralWithdrawn) SourceSequence() int64     { return w.Sequence }
func (w *CollateralWithdrawn) EventTimestamp() time.Time { return w.Timestamp }

// CollateralUpdated overwrites the per-source balances (admin only).
type CollateralUpdated struct {
	RequestID  uuid.UUID                         `json:"request_id"`
	Sender     string                            `json:"sender"`
	Authorized bool                              `json:"authorized"`
	Balances   map[ledger.CollateralSource]int64 `json:"balances"`
	Timestamp  time.Time                         `json:"timestamp"`
}

func (u *CollateralUpdated) IdempotencyKey() string    { return u.RequestID.String() }
func (u *CollateralUpdated) EventType() EventType      { return EventTypeCollateralUpdated }
func (u *CollateralUpdated) Partition() string         { return "admin" }
func (u *CollateralUpdated) SourceSequence() int64     { return 0 }
func (u *CollateralUpdated) EventTimestamp() time.Time { return u.Timestamp }
func (u *CollateralUpdated) AdminSender() string       { return u.Sender }
func (u *CollateralUpdated) IsAuthorized() bool        { return u.Authorized }
func (u *CollateralUpdated) SetAuthorized(ok bool)     { u.Authorized = ok }
