package ledger

import (
	"strconv"

	"github.com/google/uuid"
)

// journalNamespace roots the name-based IDs below. A journal's identity is a
// function of its sequence and position, so replaying an event yields the
// same rows.
var journalNamespace = uuid.MustParse("6f1c2a4e-0b7d-5c39-9e0a-3d2f8b5c7a11")

// BatchRef carries the identity shared by every journal in a batch.
type BatchRef struct {
	EventRef  string
	Sequence  int64
	Timestamp int64 // epoch microseconds
}

// JournalGenerator creates balanced journal batches for core state transitions.
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

func (jg *JournalGenerator) newBatch(ref BatchRef) *Batch {
	return &Batch{
		BatchID:   uuid.NewSHA1(journalNamespace, []byte(strconv.FormatInt(ref.Sequence, 10))),
		EventRef:  ref.EventRef,
		Sequence:  ref.Sequence,
		Timestamp: ref.Timestamp,
		Journals:  make([]Journal, 0, 1),
	}
}

func (jg *JournalGenerator) appendJournal(batch *Batch, debit, credit AccountKey, amount int64, jt JournalType) {
	if amount <= 0 {
		return
	}
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.NewSHA1(batch.BatchID, []byte(strconv.Itoa(len(batch.Journals)))),
		BatchID:       batch.BatchID,
		EventRef:      batch.EventRef,
		Sequence:      batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Asset:         debit.Asset,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     batch.Timestamp,
	})
}

// GenerateEmpty creates a batch with no journals for state-only events.
func (jg *JournalGenerator) GenerateEmpty(ref BatchRef) *Batch {
	return jg.newBatch(ref)
}

// GenerateCollateralDeposit moves funds: external:bridge → pool:collateral
func (jg *JournalGenerator) GenerateCollateralDeposit(ref BatchRef, source CollateralSource, amount int64) *Batch {
	batch := jg.newBatch(ref)
	jg.appendJournal(batch, NewPoolCollateralKey(source), NewBridgeKey(source), amount, JournalTypeCollateralDeposit)
	return batch
}

// GenerateCollateralWithdraw moves funds: pool:collateral → external:bridge
func (jg *JournalGenerator) GenerateCollateralWithdraw(ref BatchRef, source CollateralSource, amount int64) *Batch {
	batch := jg.newBatch(ref)
	jg.appendJournal(batch, NewBridgeKey(source), NewPoolCollateralKey(source), amount, JournalTypeCollateralWithdraw)
	return batch
}

// GenerateCollateralAdjustment books the per-source delta of an admin overwrite
// against external:adjustment. Sources that did not change produce no entry.
func (jg *JournalGenerator) GenerateCollateralAdjustment(ref BatchRef, before, after map[CollateralSource]int64) *Batch {
	batch := jg.newBatch(ref)
	for _, src := range AllSources() {
		delta := after[src] - before[src]
		switch {
		case delta > 0:
			jg.appendJournal(batch, NewPoolCollateralKey(src), NewAdjustmentKey(src), delta, JournalTypeCollateralAdjustment)
		case delta < 0:
			jg.appendJournal(batch, NewAdjustmentKey(src), NewPoolCollateralKey(src), -delta, JournalTypeCollateralAdjustment)
		}
	}
	return batch
}

// GenerateMint issues the net amount: system:issuance → holder.
// The withheld fee is never issued and so never journaled.
func (jg *JournalGenerator) GenerateMint(ref BatchRef, holder string, netMinted int64) *Batch {
	batch := jg.newBatch(ref)
	jg.appendJournal(batch, NewHolderKey(holder), NewIssuanceKey(), netMinted, JournalTypeMint)
	return batch
}

// GenerateRedeem burns the full requested amount: holder → system:issuance.
func (jg *JournalGenerator) GenerateRedeem(ref BatchRef, holder string, amount int64) *Batch {
	batch := jg.newBatch(ref)
	jg.appendJournal(batch, NewIssuanceKey(), NewHolderKey(holder), amount, JournalTypeRedeem)
	return batch
}
