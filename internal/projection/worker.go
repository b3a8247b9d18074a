package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"EqaLedger/internal/core"
	"EqaLedger/internal/ledger"
	"EqaLedger/internal/observability"
	"EqaLedger/internal/state"

	"github.com/rs/zerolog"
)

// Delta is the net effect of one batch on the projected tables.
// A debit raises an account's balance and a credit lowers it.
type Delta struct {
	Collateral map[string]int64 // source -> change
	Holders    map[string]int64 // holder -> change
	Supply     int64
}

// DeltaFromBatch folds a journal batch into per-table changes. External
// counterparties (bridge, adjustment) are not projected.
func DeltaFromBatch(batch *ledger.Batch) Delta {
	d := Delta{Collateral: map[string]int64{}, Holders: map[string]int64{}}
	if batch == nil {
		return d
	}
	for _, j := range batch.Journals {
		d.apply(j.DebitAccount, j.Amount)
		d.apply(j.CreditAccount, -j.Amount)
	}
	return d
}

func (d *Delta) apply(key ledger.AccountKey, change int64) {
	switch {
	case key.Scope == ledger.AccountScopePool && key.SubType == ledger.SubTypeCollateral:
		d.Collateral[key.Asset] += change
	case key.Scope == ledger.AccountScopeHolder:
		d.Holders[key.Entity] += change
	case key.Scope == ledger.AccountScopeSystem && key.SubType == ledger.SubTypeIssuance:
		// The issuance account mirrors supply with the opposite sign.
		d.Supply -= change
	}
}

func (d Delta) IsEmpty() bool {
	return len(d.Collateral) == 0 && len(d.Holders) == 0 && d.Supply == 0
}

// ProjectionWorker updates projection tables from core outputs.
// The projection channel drops on overflow; a lagging projection is
// repaired with RebuildProjections.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run loads the watermark and applies outputs until ctx is cancelled.
// Outputs at or below the watermark (replays) are skipped.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	seq, err := LoadWatermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = seq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if err := pw.processOutput(ctx, output); err != nil {
				// Eventually consistent: RebuildProjections repairs gaps.
				pw.logger.Warn().Err(err).Int64("seq", outputSequence(output)).Msg("projection update failed")
			}
		}
	}
}

func outputSequence(output core.CoreOutput) int64 {
	if output.Envelope == nil {
		return 0
	}
	return output.Envelope.Sequence
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	if output.Envelope == nil {
		if output.Solvency == nil {
			return nil
		}
		return pw.timed("liquidation_checks", func() error {
			return insertLiquidationCheck(ctx, pw.db, nil, output.Solvency)
		})
	}

	seq := output.Envelope.Sequence
	if seq <= pw.lastSeq {
		return nil
	}

	err := pw.timed("balances", func() error {
		tx, err := pw.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if err := applyDelta(ctx, tx, seq, DeltaFromBatch(output.Batch)); err != nil {
			return err
		}
		if output.Solvency != nil {
			if err := insertLiquidationCheck(ctx, tx, &seq, output.Solvency); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.watermark SET last_sequence = $1, updated_at = NOW() WHERE id = 1
		`, seq); err != nil {
			return fmt.Errorf("watermark update: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	pw.lastSeq = seq
	if pw.metrics != nil {
		pw.metrics.ProjectionLastSeq.Set(float64(seq))
	}
	return nil
}

func (pw *ProjectionWorker) timed(name string, f func() error) error {
	start := time.Now()
	err := f()
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// applyDelta upserts in sorted key order so concurrent writers lock rows
// in the same order.
func applyDelta(ctx context.Context, tx execer, seq int64, d Delta) error {
	for _, source := range sortedKeys(d.Collateral) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.collateral_balances (source, balance, last_sequence, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (source) DO UPDATE
			SET balance = projections.collateral_balances.balance + $2, last_sequence = $3, updated_at = NOW()
		`, source, d.Collateral[source], seq); err != nil {
			return fmt.Errorf("collateral projection: %w", err)
		}
	}
	for _, holder := range sortedKeys(d.Holders) {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.holder_balances (holder, balance, last_sequence, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (holder) DO UPDATE
			SET balance = projections.holder_balances.balance + $2, last_sequence = $3, updated_at = NOW()
		`, holder, d.Holders[holder], seq); err != nil {
			return fmt.Errorf("holder projection: %w", err)
		}
	}
	if d.Supply != 0 {
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections.supply
			SET total_supply = total_supply + $1, last_sequence = $2, updated_at = NOW()
			WHERE id = 1
		`, d.Supply, seq); err != nil {
			return fmt.Errorf("supply projection: %w", err)
		}
	}
	return nil
}

func insertLiquidationCheck(ctx context.Context, ex execer, seq *int64, r *state.SolvencyReport) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO projections.liquidation_checks
			(sequence, status, collateral, supply, required_collateral, current_ratio, threshold_ratio, shortfall, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`, seq, r.Status.String(), r.Collateral, r.Supply, r.RequiredCollateral,
		int64(r.CurrentRatio), int64(r.ThresholdRatio), r.Shortfall())
	if err != nil {
		return fmt.Errorf("liquidation check projection: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadWatermark returns the last sequence applied to the projections.
func LoadWatermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx, `SELECT last_sequence FROM projections.watermark WHERE id = 1`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

// RebuildProjections recomputes the balance tables from event_log.journal
// in one transaction. The liquidation check history is not derived from the
// journal and is left as is.
func RebuildProjections(ctx context.Context, db *sql.DB, metrics *observability.Metrics, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []struct {
		name string
		sql  string
	}{
		{"truncate collateral", `TRUNCATE projections.collateral_balances`},
		{"truncate holders", `TRUNCATE projections.holder_balances`},
		{"rebuild collateral", `
			INSERT INTO projections.collateral_balances (source, balance, last_sequence, updated_at)
			SELECT substr(account, length('pool:collateral:') + 1), SUM(delta), MAX(sequence), NOW()
			FROM (
				SELECT debit_account AS account, amount AS delta, sequence FROM event_log.journal
				UNION ALL
				SELECT credit_account, -amount, sequence FROM event_log.journal
			) j
			WHERE account LIKE 'pool:collateral:%'
			GROUP BY account`},
		{"rebuild holders", `
			INSERT INTO projections.holder_balances (holder, balance, last_sequence, updated_at)
			SELECT substring(account from '^holder:(.*):balance:[^:]+$'), SUM(delta), MAX(sequence), NOW()
			FROM (
				SELECT debit_account AS account, amount AS delta, sequence FROM event_log.journal
				UNION ALL
				SELECT credit_account, -amount, sequence FROM event_log.journal
			) j
			WHERE account LIKE 'holder:%'
			GROUP BY account`},
		{"rebuild supply", `
			UPDATE projections.supply SET
				total_supply = COALESCE((
					SELECT SUM(CASE WHEN credit_account LIKE 'system:issuance:%' THEN amount ELSE -amount END)
					FROM event_log.journal
					WHERE credit_account LIKE 'system:issuance:%' OR debit_account LIKE 'system:issuance:%'
				), 0),
				last_sequence = COALESCE((SELECT MAX(sequence) FROM event_log.events), 0),
				updated_at = NOW()
			WHERE id = 1`},
		{"reset watermark", `
			UPDATE projections.watermark
			SET last_sequence = COALESCE((SELECT MAX(sequence) FROM event_log.events), 0), updated_at = NOW()
			WHERE id = 1`},
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("%s: %w", stmt.name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if metrics != nil {
		metrics.ProjectionRebuilds.Inc()
	}
	logger.Info().Msg("projection rebuild complete")
	return nil
}
