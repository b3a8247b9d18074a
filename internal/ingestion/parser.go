package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"EqaLedger/internal/event"
	"EqaLedger/internal/ledger"
	fpmath "EqaLedger/internal/math"
	"EqaLedger/internal/state"

	"github.com/google/uuid"
)

var ErrMalformedMessage = errors.New("malformed message")

// GatewayResolver resolves the relayer address allowed to deliver a source.
// config.NetworkConfig satisfies it.
type GatewayResolver interface {
	GatewayAddress(source ledger.CollateralSource) (string, error)
}

// --- JSON wire formats ---
// Shared by the NATS subjects and the gRPC/HTTP surface. Field names use
// snake_case to match upstream producers; decimals travel as strings.

// IssuanceMessage is the body of a mint or redeem request.
type IssuanceMessage struct {
	RequestID   string `json:"request_id"`
	Holder      string `json:"holder"`
	Amount      int64  `json:"amount"`
	Price       string `json:"price,omitempty"`
	Sequence    int64  `json:"sequence,omitempty"`
	TimestampUs int64  `json:"timestamp_us,omitempty"`
}

// CollateralMessage is the body of a bridged deposit or withdrawal.
type CollateralMessage struct {
	RequestID   string `json:"request_id"`
	Source      string `json:"source"`
	Amount      int64  `json:"amount"`
	Relayer     string `json:"relayer"`
	Sequence    int64  `json:"sequence,omitempty"`
	TimestampUs int64  `json:"timestamp_us,omitempty"`
}

type CollateralUpdateMessage struct {
	RequestID   string           `json:"request_id"`
	Sender      string           `json:"sender"`
	Balances    map[string]int64 `json:"balances"`
	TimestampUs int64            `json:"timestamp_us,omitempty"`
}

type LiquidationCheckMessage struct {
	RequestID   string `json:"request_id"`
	Supply      *int64 `json:"supply,omitempty"`
	Price       string `json:"price,omitempty"`
	TimestampUs int64  `json:"timestamp_us,omitempty"`
}

// FeeParamsMessage updates the fee curve; empty fields are left unchanged.
type FeeParamsMessage struct {
	RequestID          string `json:"request_id"`
	Sender             string `json:"sender"`
	PegTarget          string `json:"peg_target,omitempty"`
	BaseFeeRate        string `json:"base_fee_rate,omitempty"`
	MaxFeeRate         string `json:"max_fee_rate,omitempty"`
	DeviationThreshold string `json:"deviation_threshold,omitempty"`
	TimestampUs        int64  `json:"timestamp_us,omitempty"`
}

type LiquidationConfigMessage struct {
	RequestID      string  `json:"request_id"`
	Sender         string  `json:"sender"`
	ThresholdRatio *uint64 `json:"threshold_ratio,omitempty"`
	LiquidationFee *uint64 `json:"liquidation_fee,omitempty"`
	IsActive       *bool   `json:"is_active,omitempty"`
	OracleAddress  *string `json:"oracle_address,omitempty"`
	TimestampUs    int64   `json:"timestamp_us,omitempty"`
}

type PriceMessage struct {
	Denom         string `json:"denom"`
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	TimestampUs   int64  `json:"timestamp_us,omitempty"`
}

// Parser converts wire messages into typed events. It checks relayers against
// the active network and stamps admin events with their authorization.
type Parser struct {
	gateways   GatewayResolver
	authorizer *Authorizer
}

func NewParser(gateways GatewayResolver, authorizer *Authorizer) *Parser {
	return &Parser{gateways: gateways, authorizer: authorizer}
}

// ParseRawEvent decodes raw.Data as the message type of raw.EventType.
func (p *Parser) ParseRawEvent(raw RawEvent) (event.Event, error) {
	received := raw.Timestamp
	switch raw.EventType {
	case event.EventTypeMintRequested, event.EventTypeRedeemRequested:
		var m IssuanceMessage
		if err := decode(raw.Data, &m); err != nil {
			return nil, err
		}
		if raw.EventType == event.EventTypeMintRequested {
			return p.Mint(m, received)
		}
		return p.Redeem(m, received)
	case event.EventTypeCollateralDeposited, event.EventTypeCollateralWithdrawn:
		var m CollateralMessage
		if err := decode(raw.Data, &m); err != nil {
			return nil, err
		}
		if raw.EventType == event.EventTypeCollateralDeposited {
			return p.Deposit(m, received)
		}
		return p.Withdraw(m, received)
	case event.EventTypeCollateralUpdated:
		var m CollateralUpdateMessage
		if err := decode(raw.Data, &m); err != nil {
			return nil, err
		}
		return p.CollateralUpdate(m, received)
	case event.EventTypeLiquidationCheckRequested:
		var m LiquidationCheckMessage
		if err := decode(raw.Data, &m); err != nil {
			return nil, err
		}
		return p.LiquidationCheck(m, received)
	case event.EventTypeFeeParamsUpdated:
		var m FeeParamsMessage
		if err := decode(raw.Data, &m); err != nil {
			return nil, err
		}
		return p.FeeParams(m, received)
	case event.EventTypeLiquidationConfigUpdated:
		var m LiquidationConfigMessage
		if err := decode(raw.Data, &m); err != nil {
			return nil, err
		}
		return p.LiquidationConfig(m, received)
	case event.EventTypePriceUpdated:
		var m PriceMessage
		if err := decode(raw.Data, &m); err != nil {
			return nil, err
		}
		return p.Price(m, received)
	default:
		return nil, fmt.Errorf("%w: unknown event type %s", ErrMalformedMessage, raw.EventType)
	}
}

func (p *Parser) Mint(m IssuanceMessage, received time.Time) (*event.MintRequested, error) {
	id, price, err := parseIssuance(m)
	if err != nil {
		return nil, fmt.Errorf("parse MintRequested: %w", err)
	}
	return &event.MintRequested{
		RequestID: id,
		Holder:    m.Holder,
		Amount:    m.Amount,
		Price:     price,
		Sequence:  m.Sequence,
		Timestamp: timestampOr(m.TimestampUs, received),
	}, nil
}

func (p *Parser) Redeem(m IssuanceMessage, received time.Time) (*event.RedeemRequested, error) {
	id, price, err := parseIssuance(m)
	if err != nil {
		return nil, fmt.Errorf("parse RedeemRequested: %w", err)
	}
	return &event.RedeemRequested{
		RequestID: id,
		Holder:    m.Holder,
		Amount:    m.Amount,
		Price:     price,
		Sequence:  m.Sequence,
		Timestamp: timestampOr(m.TimestampUs, received),
	}, nil
}

func (p *Parser) Deposit(m CollateralMessage, received time.Time) (*event.CollateralDeposited, error) {
	id, source, err := p.parseCollateral(m)
	if err != nil {
		return nil, fmt.Errorf("parse CollateralDeposited: %w", err)
	}
	return &event.CollateralDeposited{
		RequestID: id,
		Source:    source,
		Amount:    m.Amount,
		Relayer:   m.Relayer,
		Sequence:  m.Sequence,
		Timestamp: timestampOr(m.TimestampUs, received),
	}, nil
}

func (p *Parser) Withdraw(m CollateralMessage, received time.Time) (*event.CollateralWithdrawn, error) {
	id, source, err := p.parseCollateral(m)
	if err != nil {
		return nil, fmt.Errorf("parse CollateralWithdrawn: %w", err)
	}
	return &event.CollateralWithdrawn{
		RequestID: id,
		Source:    source,
		Amount:    m.Amount,
		Relayer:   m.Relayer,
		Sequence:  m.Sequence,
		Timestamp: timestampOr(m.TimestampUs, received),
	}, nil
}

func (p *Parser) CollateralUpdate(m CollateralUpdateMessage, received time.Time) (*event.CollateralUpdated, error) {
	id, err := parseRequestID(m.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse CollateralUpdated: %w", err)
	}
	balances := make(map[ledger.CollateralSource]int64, len(m.Balances))
	for key, amount := range m.Balances {
		source, err := ledger.ParseSource(key)
		if err != nil {
			return nil, fmt.Errorf("parse CollateralUpdated: %w", err)
		}
		balances[source] = amount
	}
	evt := &event.CollateralUpdated{
		RequestID: id,
		Sender:    m.Sender,
		Balances:  balances,
		Timestamp: timestampOr(m.TimestampUs, received),
	}
	p.authorizer.Authorize(evt)
	return evt, nil
}

func (p *Parser) LiquidationCheck(m LiquidationCheckMessage, received time.Time) (*event.LiquidationCheckRequested, error) {
	id, err := parseRequestID(m.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse LiquidationCheckRequested: %w", err)
	}
	price, err := parseOptionalDecimal("price", m.Price)
	if err != nil {
		return nil, fmt.Errorf("parse LiquidationCheckRequested: %w", err)
	}
	return &event.LiquidationCheckRequested{
		RequestID: id,
		Supply:    m.Supply,
		Price:     price,
		Timestamp: timestampOr(m.TimestampUs, received),
	}, nil
}

func (p *Parser) FeeParams(m FeeParamsMessage, received time.Time) (*event.FeeParamsUpdated, error) {
	id, err := parseRequestID(m.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse FeeParamsUpdated: %w", err)
	}
	evt := &event.FeeParamsUpdated{
		RequestID: id,
		Sender:    m.Sender,
		Timestamp: timestampOr(m.TimestampUs, received),
	}
	fields := []struct {
		name string
		raw  string
		dst  **fpmath.Decimal
	}{
		{"peg_target", m.PegTarget, &evt.PegTarget},
		{"base_fee_rate", m.BaseFeeRate, &evt.BaseFeeRate},
		{"max_fee_rate", m.MaxFeeRate, &evt.MaxFeeRate},
		{"deviation_threshold", m.DeviationThreshold, &evt.DeviationThreshold},
	}
	for _, f := range fields {
		d, err := parseOptionalDecimal(f.name, f.raw)
		if err != nil {
			return nil, fmt.Errorf("parse FeeParamsUpdated: %w", err)
		}
		*f.dst = d
	}
	p.authorizer.Authorize(evt)
	return evt, nil
}

func (p *Parser) LiquidationConfig(m LiquidationConfigMessage, received time.Time) (*event.LiquidationConfigUpdated, error) {
	id, err := parseRequestID(m.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse LiquidationConfigUpdated: %w", err)
	}
	evt := &event.LiquidationConfigUpdated{
		RequestID:          id,
		Sender:             m.Sender,
		ThresholdRatio:     m.ThresholdRatio,
		LiquidationFeeRate: m.LiquidationFee,
		IsActive:           m.IsActive,
		OracleAddress:      m.OracleAddress,
		Timestamp:          timestampOr(m.TimestampUs, received),
	}
	p.authorizer.Authorize(evt)
	return evt, nil
}

func (p *Parser) Price(m PriceMessage, received time.Time) (*event.PriceUpdated, error) {
	if m.Denom == "" {
		return nil, fmt.Errorf("parse PriceUpdated: %w: denom is empty", ErrMalformedMessage)
	}
	price, err := fpmath.ParseDecimal(m.Price)
	if err != nil {
		return nil, fmt.Errorf("parse PriceUpdated: %w: price: %v", ErrMalformedMessage, err)
	}
	return &event.PriceUpdated{
		Denom:         m.Denom,
		Price:         price,
		PriceSequence: m.PriceSequence,
		Timestamp:     timestampOr(m.TimestampUs, received),
	}, nil
}

// parseCollateral resolves the source and insists the relayer is the
// gateway configured for it on the active network.
func (p *Parser) parseCollateral(m CollateralMessage) (uuid.UUID, ledger.CollateralSource, error) {
	id, err := parseRequestID(m.RequestID)
	if err != nil {
		return uuid.Nil, 0, err
	}
	source, err := ledger.ParseSource(m.Source)
	if err != nil {
		return uuid.Nil, 0, err
	}
	gateway, err := p.gateways.GatewayAddress(source)
	if err != nil {
		return uuid.Nil, 0, err
	}
	if m.Relayer != gateway {
		return uuid.Nil, 0, fmt.Errorf("%w: relayer %q is not the %s gateway",
			state.ErrUnauthorized, m.Relayer, source.Gateway())
	}
	return id, source, nil
}

func parseIssuance(m IssuanceMessage) (uuid.UUID, *fpmath.Decimal, error) {
	id, err := parseRequestID(m.RequestID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if m.Holder == "" {
		return uuid.Nil, nil, ledger.ErrInvalidHolder
	}
	price, err := parseOptionalDecimal("price", m.Price)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return id, price, nil
}

func parseRequestID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: request_id: %v", ErrMalformedMessage, err)
	}
	return id, nil
}

func parseOptionalDecimal(name, s string) (*fpmath.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := fpmath.ParseDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, name, err)
	}
	return &d, nil
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

func timestampOr(us int64, fallback time.Time) time.Time {
	if us == 0 {
		return fallback.UTC()
	}
	return time.UnixMicro(us).UTC()
}
