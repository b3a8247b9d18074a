package core

import (
	"errors"
	"fmt"
)

var (
	ErrSequenceGap = errors.New("sequence gap")
	ErrOutOfOrder  = errors.New("out-of-order event")
)

// SequenceValidator validates source sequences per partition.
// Sequences start at 1; a source sequence of 0 means the producer does not
// sequence that partition and validation is skipped.
//
// A sequence is consumed once it passes the check and reaches dispatch, even
// when the core then rejects the event. Rejected events never reach the event
// log, so a replay sees gaps where they were; replay mode accepts them, and
// after recovery each partition accepts one forward jump to resync.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence

	replaying bool
	resyncing bool
	synced    map[string]bool
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{expectedNextSeq: make(map[string]int64)}
}

// Check validates without advancing. Duplicates below the expected sequence pass.
func (sv *SequenceValidator) Check(partition string, sourceSequence int64, isDuplicate bool) error {
	if sourceSequence == 0 {
		return nil
	}
	expected := sv.GetExpectedSequence(partition)

	switch {
	case sourceSequence == expected:
		return nil
	case sourceSequence < expected:
		if isDuplicate {
			return nil
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	case sv.replaying, sv.resyncing && !sv.synced[partition]:
		return nil
	default:
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrSequenceGap, partition, expected, sourceSequence)
	}
}

// Advance marks sourceSequence as consumed, whether the event applied or was
// rejected by the domain.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if sourceSequence == 0 {
		return
	}
	if sourceSequence >= sv.GetExpectedSequence(partition) {
		sv.expectedNextSeq[partition] = sourceSequence + 1
	}
	if sv.resyncing {
		sv.synced[partition] = true
	}
}

// BeginReplay accepts forward gaps until EndReplay.
func (sv *SequenceValidator) BeginReplay() {
	sv.replaying = true
}

// EndReplay leaves replay mode. Every partition then accepts one forward jump,
// covering sequences consumed by rejected events after the last logged one.
func (sv *SequenceValidator) EndReplay() {
	sv.replaying = false
	sv.resyncing = true
	sv.synced = make(map[string]bool)
}

// CheckPriceSequence validates an oracle sequence. Gaps are tolerated;
// a stale sequence reports stale=true and is ignored by the caller.
func (sv *SequenceValidator) CheckPriceSequence(denom string, priceSequence int64) (stale bool, gap bool) {
	partition := "price:" + denom
	expected := sv.GetExpectedSequence(partition)
	if priceSequence < expected {
		return true, false
	}
	return false, priceSequence > expected
}

// AdvancePrice moves the price partition past priceSequence.
func (sv *SequenceValidator) AdvancePrice(denom string, priceSequence int64) {
	sv.expectedNextSeq["price:"+denom] = priceSequence + 1
}

// GetExpectedSequence returns the next expected sequence for a partition.
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	if next, ok := sv.expectedNextSeq[partition]; ok {
		return next
	}
	return 1
}

// SetExpectedSequence initializes a partition (used during recovery).
func (sv *SequenceValidator) SetExpectedSequence(partition string, seq int64) {
	sv.expectedNextSeq[partition] = seq
}

// Partitions returns a copy of all partition cursors.
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// Restore replaces all partition cursors from a snapshot.
func (sv *SequenceValidator) Restore(partitions map[string]int64) {
	sv.expectedNextSeq = make(map[string]int64, len(partitions))
	for k, v := range partitions {
		sv.expectedNextSeq[k] = v
	}
}
