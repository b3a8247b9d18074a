package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// DefaultPageSize bounds list queries when the caller passes no limit.
const DefaultPageSize = 100

// QueryService provides read-only access to the projection tables and the
// event log. Reads of live core state go through core.View instead.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetCollateral returns projected collateral per source.
func (qs *QueryService) GetCollateral(ctx context.Context) (*CollateralResponse, error) {
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT source, balance FROM projections.collateral_balances ORDER BY source
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &CollateralResponse{Sources: []SourceBalance{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		var sb SourceBalance
		if err := rows.Scan(&sb.Source, &sb.Balance); err != nil {
			return nil, err
		}
		resp.Sources = append(resp.Sources, sb)
		resp.Total += sb.Balance
	}
	return resp, rows.Err()
}

// GetHolderBalance returns a holder's projected balance; unknown holders have 0.
func (qs *QueryService) GetHolderBalance(ctx context.Context, holder string) (*HolderBalanceResponse, error) {
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var balance int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.holder_balances WHERE holder = $1
	`, holder).Scan(&balance)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return &HolderBalanceResponse{Holder: holder, Balance: balance, AsOfSequence: asOfSeq}, nil
}

func (qs *QueryService) GetSupply(ctx context.Context) (*SupplyResponse, error) {
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var total int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT total_supply FROM projections.supply WHERE id = 1
	`).Scan(&total)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return &SupplyResponse{TotalSupply: total, AsOfSequence: asOfSeq}, nil
}

// GetLiquidationChecks returns recent checks, newest first. beforeID pages
// backwards through history.
func (qs *QueryService) GetLiquidationChecks(ctx context.Context, limit int, beforeID *int64) ([]LiquidationCheckResponse, error) {
	query := `
		SELECT id, sequence, status, collateral, supply, required_collateral,
		       current_ratio, threshold_ratio, shortfall, checked_at
		FROM projections.liquidation_checks
	`
	args := []any{}
	argIdx := 1

	if beforeID != nil {
		query += fmt.Sprintf(" WHERE id < $%d", argIdx)
		args = append(args, *beforeID)
		argIdx++
	}

	query += " ORDER BY id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, pageSize(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	checks := []LiquidationCheckResponse{}
	for rows.Next() {
		var (
			c   LiquidationCheckResponse
			seq sql.NullInt64
		)
		if err := rows.Scan(
			&c.ID, &seq, &c.Status, &c.Collateral, &c.Supply, &c.RequiredCollateral,
			&c.CurrentRatio, &c.ThresholdRatio, &c.Shortfall, &c.CheckedAt,
		); err != nil {
			return nil, err
		}
		if seq.Valid {
			c.Sequence = &seq.Int64
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// GetJournalHistory returns journal entries touching a holder, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	holder string,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := "holder:" + escapeLike(holder) + ":%"

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, pageSize(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []JournalHistoryEntry{}
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyIntegrity checks the hash chain of the event log and that projected
// supply equals the sum of projected holder balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT s.total_supply - COALESCE((SELECT SUM(balance) FROM projections.holder_balances), 0)
		FROM projections.supply s WHERE s.id = 1
	`).Scan(&report.SupplyMismatch)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && report.SupplyMismatch == 0
	return report, nil
}

// Watermark returns the last sequence applied to the projections.
func (qs *QueryService) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE id = 1
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func pageSize(limit int) int {
	if limit <= 0 || limit > DefaultPageSize {
		return DefaultPageSize
	}
	return limit
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike escapes LIKE wildcards in a literal (Postgres default escape is '\').
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
