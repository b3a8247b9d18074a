package core

import (
	"EqaLedger/internal/ledger"
	fpmath "EqaLedger/internal/math"
	"EqaLedger/internal/oracle"
	"EqaLedger/internal/state"
)

// View is an immutable copy of core state published after every applied event.
// Readers on other goroutines get it from DeterministicCore.View.
type View struct {
	Sequence    int64
	StateHash   [32]byte
	Collateral  map[ledger.CollateralSource]int64
	TotalLocked int64
	Supply      int64
	SupplyCap   int64
	Withheld    state.FeesWithheld
	Fees        state.FeeParams
	Liquidation state.LiquidationConfig
	Arbitrage   state.ArbitrageParams
	Prices      []oracle.PriceQuote
	PriceDenom  string

	// shared between views until a holder balance changes; never mutated
	holders map[string]int64
}

// Total implements state.CollateralTotaler.
func (v *View) Total() int64 { return v.TotalLocked }

func (v *View) BalanceOf(holder string) int64 { return v.holders[holder] }

// HolderCount returns the number of holders with a non-zero balance.
func (v *View) HolderCount() int { return len(v.holders) }

// Price returns the latest quote for denom.
func (v *View) Price(denom string) (oracle.PriceQuote, bool) {
	for _, q := range v.Prices {
		if q.Denom == denom {
			return q, true
		}
	}
	return oracle.PriceQuote{}, false
}

// ResolvePrice returns explicit when given, else the latest quote for the peg denom.
func (v *View) ResolvePrice(explicit *fpmath.Decimal) (fpmath.Decimal, error) {
	if explicit != nil {
		return *explicit, nil
	}
	q, ok := v.Price(v.PriceDenom)
	if !ok {
		return fpmath.Decimal{}, oracle.ErrNoPrice
	}
	return q.Price, nil
}

// FeeQuote applies the current fee curve to amount at price.
func (v *View) FeeQuote(amount int64, price fpmath.Decimal) (state.FeeQuote, error) {
	return state.NewFeeCurve(v.Fees).Quote(amount, price)
}

// QuoteMint plans a mint against this view.
func (v *View) QuoteMint(amount int64, price fpmath.Decimal) (MintReport, error) {
	return QuoteMint(state.NewFeeCurve(v.Fees), amount, price, v.Supply, v.SupplyCap)
}

// QuoteRedeem plans a redeem for holder against this view.
func (v *View) QuoteRedeem(holder string, amount int64, price fpmath.Decimal) (RedeemReport, error) {
	return QuoteRedeem(state.NewFeeCurve(v.Fees), amount, price, v.BalanceOf(holder), v.Supply)
}

// LiquidationStatus reports collateralization of supply at price.
func (v *View) LiquidationStatus(supply int64, price fpmath.Decimal) (state.LiquidationStatus, error) {
	return state.NewSolvencyChecker(v).Status(supply, price, v.Liquidation)
}

// ArbitrageOpportunity evaluates the opportunity query at price.
func (v *View) ArbitrageOpportunity(price fpmath.Decimal) (state.ArbitrageOpportunity, error) {
	return state.FindOpportunity(price, v.Fees, v.Arbitrage)
}
