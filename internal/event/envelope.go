package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMintRequested
	EventTypeRedeemRequested
	EventTypeCollateralDeposited
	EventTypeCollateralWithdrawn
	EventTypeCollateralUpdated
	EventTypeLiquidationCheckRequested
	EventTypeFeeParamsUpdated
	EventTypeLiquidationConfigUpdated
	EventTypePriceUpdated
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Ordering partition of the source
	Partition string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation (0 = unsequenced)
	SourceSequence int64

	// JSON-encoded event, decodable with Decode
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Partition returns the ordering partition for SourceSequence
	Partition() string

	// SourceSequence returns upstream ordering key; 0 means unsequenced
	SourceSequence() int64

	// EventTimestamp returns the versioned input timestamp
	EventTimestamp() time.Time
}

// AdminEvent is implemented by configuration mutations. Authorized is decided
// at ingestion by the authorization collaborator and travels with the event.
type AdminEvent interface {
	Event
	AdminSender() string
	IsAuthorized() bool
	SetAuthorized(bool)
}

func (et EventType) String() string {
	switch et {
	case EventTypeMintRequested:
		return "MintRequested"
	case EventTypeRedeemRequested:
		return "RedeemRequested"
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	case EventTypeCollateralWithdrawn:
		return "CollateralWithdrawn"
	case EventTypeCollateralUpdated:
		return "CollateralUpdated"
	case EventTypeLiquidationCheckRequested:
		return "LiquidationCheckRequested"
	case EventTypeFeeParamsUpdated:
		return "FeeParamsUpdated"
	case EventTypeLiquidationConfigUpdated:
		return "LiquidationConfigUpdated"
	case EventTypePriceUpdated:
		return "PriceUpdated"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, error) {
	for et := EventTypeMintRequested; et <= EventTypePriceUpdated; et++ {
		if et.String() == s {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown event type: %q", s)
}

// Encode serializes an event for the envelope payload.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

// Decode restores an event from an envelope payload (used by replay).
func Decode(et EventType, payload []byte) (Event, error) {
	var evt Event
	switch et {
	case EventTypeMintRequested:
		evt = &MintRequested{}
	case EventTypeRedeemRequested:
		evt = &RedeemRequested{}
	case EventTypeCollateralDeposited:
		evt = &CollateralDeposited{}
	case EventTypeCollateralWithdrawn:
		evt = &CollateralWithdrawn{}
	case EventTypeCollateralUpdated:
		evt = &CollateralUpdated{}
	case EventTypeLiquidationCheckRequested:
		evt = &LiquidationCheckRequested{}
	case EventTypeFeeParamsUpdated:
		evt = &FeeParamsUpdated{}
	case EventTypeLiquidationConfigUpdated:
		evt = &LiquidationConfigUpdated{}
	case EventTypePriceUpdated:
		evt = &PriceUpdated{}
	default:
		return nil, fmt.Errorf("decode: unknown event type %d", et)
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
