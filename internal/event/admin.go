package event

import (
	"time"

	fpmath "EqaLedger/internal/math"

	"github.com/google/uuid"
)

// FeeParamsUpdated is a partial fee curve update; nil fields are unchanged.
type FeeParamsUpdated struct {
	RequestID          uuid.UUID       `json:"request_id"`
	Sender             string          `json:"sender"`
	Authorized         bool            `json:"authorized"`
	PegTarget          *fpmath.Decimal `json:"peg_target,omitempty"`
	BaseFeeRate        *fpmath.Decimal `json:"base_fee_rate,omitempty"`
	MaxFeeRate         *fpmath.Decimal `json:"max_fee_rate,omitempty"`
	DeviationThreshold *fpmath.Decimal `json:"deviation_threshold,omitempty"`
	Timestamp          time.Time       `json:"timestamp"`
}

func (f *FeeParamsUpdated) IdempotencyKey() string    { return f.RequestID.String() }
func (f *FeeParamsUpdated) EventType() EventType      { return EventTypeFeeParamsUpdated }
func (f *FeeParamsUpdated) Partition() string         { return "admin" }
func (f *FeeParamsUpdated) SourceSequence() int64     { return 0 }
func (f *FeeParamsUpdated) EventTimestamp() time.Time { return f.Timestamp }
func (f *FeeParamsUpdated) AdminSender() string       { return f.Sender }
func (f *FeeParamsUpdated) IsAuthorized() bool        { return f.Authorized }
func (f *FeeParamsUpdated) SetAuthorized(ok bool)     { f.Authorized = ok }

// LiquidationConfigUpdated is a partial liquidation config update.
type LiquidationConfigUpdated struct {
	RequestID          uuid.UUID `json:"request_id"`
	Sender             string    `json:"sender"`
	Authorized         bool      `json:"authorized"`
	ThresholdRatio     *uint64   `json:"threshold_ratio,omitempty"`
	LiquidationFeeRate *uint64   `json:"liquidation_fee,omitempty"`
	IsActive           *bool     `json:"is_active,omitempty"`
	OracleAddress      *string   `json:"oracle_address,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

func (l *LiquidationConfigUpdated) IdempotencyKey() string    { return l.RequestID.String() }
func (l *LiquidationConfigUpdated) EventType() EventType      { return EventTypeLiquidationConfigUpdated }
func (l *LiquidationConfigUpdated) Partition() string         { return "admin" }
func (l *LiquidationConfigUpdated) SourceSequence() int64     { return 0 }
func (l *LiquidationConfigUpdated) EventTimestamp() time.Time { return l.Timestamp }
func (l *LiquidationConfigUpdated) AdminSender() string       { return l.Sender }
func (l *LiquidationConfigUpdated) IsAuthorized() bool        { return l.Authorized }
func (l *LiquidationConfigUpdated) SetAuthorized(ok bool)     { l.Authorized = ok }
