package ledger

import (
	"fmt"
	"sort"

	fpmath "EqaLedger/internal/math"
)

// TokenSupply tracks outstanding EQA. A cap of 0 means uncapped.
type TokenSupply struct {
	total int64
	cap   int64
}

func NewTokenSupply(cap int64) *TokenSupply {
	return &TokenSupply{cap: cap}
}

func (s *TokenSupply) Total() int64 { return s.total }
func (s *TokenSupply) Cap() int64   { return s.cap }

// CheckIssue reports whether amount can be issued without mutating anything.
func (s *TokenSupply) CheckIssue(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("issue: %w: %d", ErrNegativeAmount, amount)
	}
	next, err := fpmath.CheckedAdd(s.total, amount)
	if err != nil {
		return fmt.Errorf("issue: %w", err)
	}
	if s.cap > 0 && next > s.cap {
		return fmt.Errorf("issue: %w: supply=%d, amount=%d, cap=%d", ErrCapExceeded, s.total, amount, s.cap)
	}
	return nil
}

func (s *TokenSupply) Issue(amount int64) error {
	if err := s.CheckIssue(amount); err != nil {
		return err
	}
	s.total += amount
	return nil
}

// Retire removes amount from supply.
func (s *TokenSupply) Retire(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("retire: %w: %d", ErrNegativeAmount, amount)
	}
	if s.total < amount {
		return fmt.Errorf("retire: %w: supply=%d, amount=%d", ErrInsufficientFunds, s.total, amount)
	}
	s.total -= amount
	return nil
}

// Restore resets the supply from a snapshot.
func (s *TokenSupply) Restore(total int64) {
	s.total = total
}

// BalanceBook is the per-holder token balance collaborator.
// The core queries and instructs it; Sum feeds the supply invariant.
type BalanceBook interface {
	BalanceOf(holder string) int64
	Credit(holder string, amount int64) error
	Debit(holder string, amount int64) error
	Sum() (int64, error)
}

// HolderBalances is the in-memory BalanceBook.
// Not thread-safe: only accessed from the single-threaded deterministic core.
type HolderBalances struct {
	balances map[string]int64
}

func NewHolderBalances() *HolderBalances {
	return &HolderBalances{balances: make(map[string]int64)}
}

func (hb *HolderBalances) BalanceOf(holder string) int64 {
	return hb.balances[holder]
}

func (hb *HolderBalances) Credit(holder string, amount int64) error {
	if holder == "" {
		return ErrInvalidHolder
	}
	if amount < 0 {
		return fmt.Errorf("credit %s: %w: %d", holder, ErrNegativeAmount, amount)
	}
	if amount == 0 {
		return nil
	}
	next, err := fpmath.CheckedAdd(hb.balances[holder], amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", holder, err)
	}
	hb.balances[holder] = next
	return nil
}

func (hb *HolderBalances) Debit(holder string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("debit %s: %w: %d", holder, ErrNegativeAmount, amount)
	}
	have := hb.balances[holder]
	if have < amount {
		return fmt.Errorf("debit %s: %w: have=%d, need=%d", holder, ErrInsufficientFunds, have, amount)
	}
	if have == amount {
		delete(hb.balances, holder)
		return nil
	}
	hb.balances[holder] = have - amount
	return nil
}

// Sum adds all holder balances in sorted holder order.
func (hb *HolderBalances) Sum() (int64, error) {
	holders := hb.Holders()
	values := make([]int64, 0, len(holders))
	for _, h := range holders {
		values = append(values, hb.balances[h])
	}
	return fpmath.SumNonNegative(values...)
}

// Holders returns holder addresses in sorted order.
func (hb *HolderBalances) Holders() []string {
	holders := make([]string, 0, len(hb.balances))
	for h := range hb.balances {
		holders = append(holders, h)
	}
	sort.Strings(holders)
	return holders
}

// Snapshot returns a copy of all balances
func (hb *HolderBalances) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(hb.balances))
	for k, v := range hb.balances {
		out[k] = v
	}
	return out
}

func (hb *HolderBalances) Restore(balances map[string]int64) {
	hb.balances = make(map[string]int64, len(balances))
	for k, v := range balances {
		if v != 0 {
			hb.balances[k] = v
		}
	}
}
