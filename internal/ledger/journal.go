package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeCollateralDeposit JournalType = iota
	JournalTypeCollateralWithdraw
	JournalTypeCollateralAdjustment
	JournalTypeMint
	JournalTypeRedeem
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeCollateralDeposit:
		return "collateral_deposit"
	case JournalTypeCollateralWithdraw:
		return "collateral_withdraw"
	case JournalTypeCollateralAdjustment:
		return "collateral_adjustment"
	case JournalTypeMint:
		return "mint"
	case JournalTypeRedeem:
		return "redeem"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry.
// The debit account's balance increases and the credit account's decreases.
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string // Idempotency key of source event
	Sequence      int64  // Global event sequence
	DebitAccount  AccountKey
	CreditAccount AccountKey
	Asset         string
	Amount        int64 // Atomic amount (ALWAYS positive)
	JournalType   JournalType
	Timestamp     int64 // Event timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount between two accounts, so Σ debits == Σ credits holds per entry.
// An empty batch is valid: state-only events still get an envelope.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Asset != j.Asset || j.CreditAccount.Asset != j.Asset {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
