package query

import "time"

// Every projection-backed response carries as_of_sequence: the projection
// watermark it was read at, which may trail the core.

type SourceBalance struct {
	Source  string `json:"source"`
	Balance int64  `json:"balance"`
}

type CollateralResponse struct {
	Sources      []SourceBalance `json:"sources"`
	Total        int64           `json:"total"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

type HolderBalanceResponse struct {
	Holder       string `json:"holder"`
	Balance      int64  `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

type SupplyResponse struct {
	TotalSupply  int64 `json:"total_supply"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// LiquidationCheckResponse is one recorded solvency check. Sequence is nil
// for failed checks, which are signalled but never logged.
type LiquidationCheckResponse struct {
	ID                 int64     `json:"id"`
	Sequence           *int64    `json:"sequence,omitempty"`
	Status             string    `json:"status"`
	Collateral         int64     `json:"collateral"`
	Supply             int64     `json:"supply"`
	RequiredCollateral int64     `json:"required_collateral"`
	CurrentRatio       int64     `json:"current_ratio"`
	ThresholdRatio     int64     `json:"threshold_ratio"`
	Shortfall          int64     `json:"shortfall"`
	CheckedAt          time.Time `json:"checked_at"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	// Supply minus the sum of holder balances; always 0 when consistent.
	SupplyMismatch int64 `json:"supply_mismatch"`
	AsOfSequence   int64 `json:"as_of_sequence"`
}
