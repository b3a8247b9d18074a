package server

import (
	"encoding/hex"
	"time"

	"EqaLedger/internal/core"
	fpmath "EqaLedger/internal/math"
	"EqaLedger/internal/state"
)

// OutcomeResponse is the common part of every command reply.
type OutcomeResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
}

func newOutcomeResponse(o core.Outcome) OutcomeResponse {
	return OutcomeResponse{
		Sequence:  o.Sequence,
		StateHash: hex.EncodeToString(o.StateHash[:]),
		Duplicate: o.Duplicate,
		Ignored:   o.Ignored,
	}
}

// MintResponse is empty apart from the outcome for duplicates.
type MintResponse struct {
	OutcomeResponse
	Holder      string         `json:"holder,omitempty"`
	Amount      int64          `json:"amount"`
	Fee         int64          `json:"fee"`
	Minted      int64          `json:"minted"`
	FeeRate     fpmath.Decimal `json:"fee_rate"`
	Price       fpmath.Decimal `json:"price"`
	SupplyAfter int64          `json:"supply_after"`
}

func newMintResponse(o core.Outcome) *MintResponse {
	resp := &MintResponse{OutcomeResponse: newOutcomeResponse(o)}
	if r := o.Mint; r != nil {
		resp.Holder = r.Holder
		resp.Amount = r.Quote.Amount
		resp.Fee = r.Quote.Fee
		resp.Minted = r.Minted()
		resp.FeeRate = r.Quote.Rate
		resp.Price = r.Quote.Price
		resp.SupplyAfter = r.SupplyAfter
	}
	return resp
}

type RedeemResponse struct {
	OutcomeResponse
	Holder      string         `json:"holder,omitempty"`
	Burned      int64          `json:"burned"`
	Fee         int64          `json:"fee"`
	Payout      int64          `json:"payout"`
	FeeRate     fpmath.Decimal `json:"fee_rate"`
	Price       fpmath.Decimal `json:"price"`
	SupplyAfter int64          `json:"supply_after"`
}

func newRedeemResponse(o core.Outcome) *RedeemResponse {
	resp := &RedeemResponse{OutcomeResponse: newOutcomeResponse(o)}
	if r := o.Redeem; r != nil {
		resp.Holder = r.Holder
		resp.Burned = r.Burned()
		resp.Fee = r.Quote.Fee
		resp.Payout = r.Payout()
		resp.FeeRate = r.Quote.Rate
		resp.Price = r.Quote.Price
		resp.SupplyAfter = r.SupplyAfter
	}
	return resp
}

// LiquidationCheckResponse reports one solvency check. Liquidate is set when
// the check failed; a failed check is never sequenced and leaves Sequence 0.
type LiquidationCheckResponse struct {
	OutcomeResponse
	Status             string                     `json:"status"`
	Collateral         int64                      `json:"collateral"`
	Supply             int64                      `json:"supply"`
	RequiredCollateral int64                      `json:"required_collateral"`
	CurrentRatio       uint64                     `json:"current_ratio"`
	ThresholdRatio     uint64                     `json:"threshold_ratio"`
	Shortfall          int64                      `json:"shortfall"`
	Liquidate          bool                       `json:"liquidate"`
	LiquidationFeeRate uint64                     `json:"liquidation_fee,omitempty"`
	Valuation          *LiquidationStatusResponse `json:"valuation,omitempty"`
}

func newLiquidationCheckResponse(o core.Outcome) *LiquidationCheckResponse {
	resp := &LiquidationCheckResponse{OutcomeResponse: newOutcomeResponse(o)}
	if r := o.Solvency; r != nil {
		resp.Status = r.Status.String()
		resp.Collateral = r.Collateral
		resp.Supply = r.Supply
		resp.RequiredCollateral = r.RequiredCollateral
		resp.CurrentRatio = r.CurrentRatio
		resp.ThresholdRatio = r.ThresholdRatio
		resp.Shortfall = r.Shortfall()
	}
	if s := o.Signal; s != nil {
		resp.Liquidate = true
		resp.LiquidationFeeRate = s.LiquidationFeeRate
	}
	if l := o.Liquidation; l != nil {
		v := newLiquidationStatusResponse(*l, resp.Supply, fpmath.Decimal{})
		resp.Valuation = &v
	}
	return resp
}

// LiquidationStatusResponse is the read-only collateralization view.
type LiquidationStatusResponse struct {
	IsSolvent          bool            `json:"is_solvent"`
	CurrentRatio       uint64          `json:"current_ratio"`
	RequiredRatio      uint64          `json:"required_ratio"`
	CollateralValue    int64           `json:"collateral_value"`
	RequiredCollateral int64           `json:"required_collateral"`
	BackedValue        int64           `json:"backed_value"`
	Active             bool            `json:"is_active"`
	Supply             int64           `json:"supply"`
	Price              *fpmath.Decimal `json:"price,omitempty"`
}

func newLiquidationStatusResponse(s state.LiquidationStatus, supply int64, price fpmath.Decimal) LiquidationStatusResponse {
	resp := LiquidationStatusResponse{
		IsSolvent:          s.IsSolvent,
		CurrentRatio:       s.CurrentRatio,
		RequiredRatio:      s.RequiredRatio,
		CollateralValue:    s.CollateralValue,
		RequiredCollateral: s.RequiredCollateral,
		BackedValue:        s.BackedValue,
		Active:             s.Active,
		Supply:             supply,
	}
	if !price.IsZero() {
		resp.Price = &price
	}
	return resp
}

type FeeQuoteResponse struct {
	Amount    int64          `json:"amount"`
	Price     fpmath.Decimal `json:"price"`
	Deviation fpmath.Decimal `json:"deviation"`
	Rate      fpmath.Decimal `json:"rate"`
	Fee       int64          `json:"fee"`
	Net       int64          `json:"net"`
}

func newFeeQuoteResponse(q state.FeeQuote) FeeQuoteResponse {
	return FeeQuoteResponse{
		Amount:    q.Amount,
		Price:     q.Price,
		Deviation: q.Deviation,
		Rate:      q.Rate,
		Fee:       q.Fee,
		Net:       q.Net,
	}
}

type ArbitrageResponse struct {
	Exists           bool            `json:"exists"`
	Direction        state.Direction `json:"direction"`
	Price            fpmath.Decimal  `json:"price"`
	Deviation        fpmath.Decimal  `json:"deviation"`
	ExpectedProfit   fpmath.Decimal  `json:"expected_profit"`
	OptimalTradeSize int64           `json:"optimal_trade_size"`
}

// SupplyView is the live supply as the core sees it.
type SupplyView struct {
	TotalSupply  int64 `json:"total_supply"`
	SupplyCap    int64 `json:"supply_cap"`
	FeesWithheld struct {
		Mint   int64 `json:"mint"`
		Redeem int64 `json:"redeem"`
	} `json:"fees_withheld"`
	Holders      int   `json:"holders"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

type PriceResponse struct {
	Denom       string         `json:"denom"`
	Price       fpmath.Decimal `json:"price"`
	Sequence    int64          `json:"price_sequence"`
	LastUpdated time.Time      `json:"last_updated"`
	Stale       bool           `json:"stale"`
}

// ConfigResponse echoes the parameters currently in force.
type ConfigResponse struct {
	Network string `json:"network"`
	Fees    struct {
		PegTarget          fpmath.Decimal `json:"peg_target"`
		BaseFeeRate        fpmath.Decimal `json:"base_fee_rate"`
		MaxFeeRate         fpmath.Decimal `json:"max_fee_rate"`
		DeviationThreshold fpmath.Decimal `json:"deviation_threshold"`
	} `json:"fees"`
	Liquidation struct {
		ThresholdRatio uint64 `json:"threshold_ratio"`
		LiquidationFee uint64 `json:"liquidation_fee"`
		IsActive       bool   `json:"is_active"`
		OracleAddress  string `json:"oracle_address,omitempty"`
	} `json:"liquidation"`
	Arbitrage struct {
		RewardPercentage fpmath.Decimal `json:"reward_percentage"`
	} `json:"arbitrage"`
	SupplyCap    int64 `json:"supply_cap"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

func newConfigResponse(v *core.View, network string) ConfigResponse {
	var resp ConfigResponse
	resp.Network = network
	resp.Fees.PegTarget = v.Fees.PegTarget
	resp.Fees.BaseFeeRate = v.Fees.BaseFeeRate
	resp.Fees.MaxFeeRate = v.Fees.MaxFeeRate
	resp.Fees.DeviationThreshold = v.Fees.DeviationThreshold
	resp.Liquidation.ThresholdRatio = v.Liquidation.ThresholdRatio
	resp.Liquidation.LiquidationFee = v.Liquidation.LiquidationFeeRate
	resp.Liquidation.IsActive = v.Liquidation.IsActive
	resp.Liquidation.OracleAddress = v.Liquidation.OracleAddress
	resp.Arbitrage.RewardPercentage = v.Arbitrage.RewardPercentage
	resp.SupplyCap = v.SupplyCap
	resp.AsOfSequence = v.Sequence
	return resp
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
