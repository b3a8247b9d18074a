package core

import (
	"fmt"

	"EqaLedger/internal/ledger"
	fpmath "EqaLedger/internal/math"
	"EqaLedger/internal/state"
)

// MintReport is the outcome of a planned or applied mint.
type MintReport struct {
	Holder      string
	Quote       state.FeeQuote
	SupplyAfter int64
}

// Minted is the amount issued and credited.
func (r MintReport) Minted() int64 { return r.Quote.Net }

// RedeemReport is the outcome of a planned or applied redeem.
type RedeemReport struct {
	Holder      string
	Quote       state.FeeQuote
	SupplyAfter int64
}

// Burned is the full amount removed from the holder and from supply.
func (r RedeemReport) Burned() int64 { return r.Quote.Amount }

// Payout is the collateral-denominated amount returned to the holder.
func (r RedeemReport) Payout() int64 { return r.Quote.Net }

// QuoteMint plans a mint of amount at price without mutating anything.
// A cap of 0 means uncapped.
func QuoteMint(curve state.FeeCurve, amount int64, price fpmath.Decimal, supply, cap int64) (MintReport, error) {
	if amount < 0 {
		return MintReport{}, fmt.Errorf("mint: %w: %d", ledger.ErrNegativeAmount, amount)
	}
	quote, err := curve.Quote(amount, price)
	if err != nil {
		return MintReport{}, fmt.Errorf("mint: %w", err)
	}
	after, err := fpmath.CheckedAdd(supply, quote.Net)
	if err != nil {
		return MintReport{}, fmt.Errorf("mint: supply: %w", err)
	}
	if cap > 0 && after > cap {
		return MintReport{}, fmt.Errorf("mint: %w: supply=%d, net=%d, cap=%d",
			ledger.ErrCapExceeded, supply, quote.Net, cap)
	}
	return MintReport{Quote: quote, SupplyAfter: after}, nil
}

// QuoteRedeem plans a redeem of amount at price without mutating anything.
// The balance check comes first: an underfunded caller never gets a fee quote.
func QuoteRedeem(curve state.FeeCurve, amount int64, price fpmath.Decimal, callerBalance, supply int64) (RedeemReport, error) {
	if amount < 0 {
		return RedeemReport{}, fmt.Errorf("redeem: %w: %d", ledger.ErrNegativeAmount, amount)
	}
	if callerBalance < amount {
		return RedeemReport{}, fmt.Errorf("redeem: %w: balance=%d, amount=%d",
			ledger.ErrInsufficientFunds, callerBalance, amount)
	}
	if supply < amount {
		return RedeemReport{}, fmt.Errorf("redeem: %w: supply=%d, amount=%d",
			ledger.ErrInsufficientFunds, supply, amount)
	}
	quote, err := curve.Quote(amount, price)
	if err != nil {
		return RedeemReport{}, fmt.Errorf("redeem: %w", err)
	}
	return RedeemReport{Quote: quote, SupplyAfter: supply - amount}, nil
}

// MintRedeemEngine converts between collateral value and EQA.
// Every operation is planned in full before the first mutation, so a
// failure leaves supply, balances and fee totals untouched.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type MintRedeemEngine struct {
	supply  *ledger.TokenSupply
	holders ledger.BalanceBook
	fees    *state.FeeLedger
}

func NewMintRedeemEngine(supply *ledger.TokenSupply, holders ledger.BalanceBook, fees *state.FeeLedger) *MintRedeemEngine {
	return &MintRedeemEngine{supply: supply, holders: holders, fees: fees}
}

// QuoteMint plans against the engine's current supply and cap.
func (e *MintRedeemEngine) QuoteMint(curve state.FeeCurve, amount int64, price fpmath.Decimal) (MintReport, error) {
	return QuoteMint(curve, amount, price, e.supply.Total(), e.supply.Cap())
}

// QuoteRedeem plans against the holder's current balance.
func (e *MintRedeemEngine) QuoteRedeem(curve state.FeeCurve, holder string, amount int64, price fpmath.Decimal) (RedeemReport, error) {
	return QuoteRedeem(curve, amount, price, e.holders.BalanceOf(holder), e.supply.Total())
}

// Mint issues amount minus the fee to holder. The fee is withheld, never issued.
func (e *MintRedeemEngine) Mint(curve state.FeeCurve, holder string, amount int64, price fpmath.Decimal) (MintReport, error) {
	if holder == "" {
		return MintReport{}, fmt.Errorf("mint: %w", ledger.ErrInvalidHolder)
	}
	report, err := e.QuoteMint(curve, amount, price)
	if err != nil {
		return MintReport{}, err
	}
	report.Holder = holder

	net := report.Quote.Net
	if _, err := fpmath.CheckedAdd(e.holders.BalanceOf(holder), net); err != nil {
		return MintReport{}, fmt.Errorf("mint: credit %s: %w", holder, err)
	}
	withheld := e.fees.Withheld()
	if _, err := fpmath.CheckedAdd(withheld.Mint, report.Quote.Fee); err != nil {
		return MintReport{}, fmt.Errorf("mint: fee total: %w", err)
	}

	// Everything below was checked above and cannot fail.
	if err := e.supply.Issue(net); err != nil {
		panic(fmt.Sprintf("FATAL: issue after successful plan: %v", err))
	}
	if err := e.holders.Credit(holder, net); err != nil {
		panic(fmt.Sprintf("FATAL: credit after successful plan: %v", err))
	}
	if err := e.fees.RecordMintFee(report.Quote.Fee); err != nil {
		panic(fmt.Sprintf("FATAL: record mint fee after successful plan: %v", err))
	}
	return report, nil
}

// Redeem burns amount from holder and supply and reports the net payout.
func (e *MintRedeemEngine) Redeem(curve state.FeeCurve, holder string, amount int64, price fpmath.Decimal) (RedeemReport, error) {
	if holder == "" {
		return RedeemReport{}, fmt.Errorf("redeem: %w", ledger.ErrInvalidHolder)
	}
	report, err := e.QuoteRedeem(curve, holder, amount, price)
	if err != nil {
		return RedeemReport{}, err
	}
	report.Holder = holder

	withheld := e.fees.Withheld()
	if _, err := fpmath.CheckedAdd(withheld.Redeem, report.Quote.Fee); err != nil {
		return RedeemReport{}, fmt.Errorf("redeem: fee total: %w", err)
	}

	if err := e.holders.Debit(holder, amount); err != nil {
		panic(fmt.Sprintf("FATAL: debit after successful plan: %v", err))
	}
	if err := e.supply.Retire(amount); err != nil {
		panic(fmt.Sprintf("FATAL: retire after successful plan: %v", err))
	}
	if err := e.fees.RecordRedeemFee(report.Quote.Fee); err != nil {
		panic(fmt.Sprintf("FATAL: record redeem fee after successful plan: %v", err))
	}
	return report, nil
}
