package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"backoffice/internal/monthrange"
)

// monthlyTables hold month-scoped branch data subject to range trimming.
var monthlyTables = []string{
	"monthly_bank_transactions",
	"monthly_payroll",
	"monthly_documents",
}

// MonthRanges adapts Store to the month range manager.
type MonthRanges struct {
	s *Store
}

func (s *Store) MonthRanges() *MonthRanges { return &MonthRanges{s: s} }

func monthDates(months []monthrange.Month) []time.Time {
	out := make([]time.Time, 0, len(months))
	for _, m := range months {
		out = append(out, m.Time())
	}
	return out
}

func (r *MonthRanges) GetRange(ctx context.Context, branchID string) (monthrange.Range, bool, error) {
	var (
		out        monthrange.Range
		start, end time.Time
	)
	err := r.s.DB.QueryRow(ctx, `
		SELECT branch_id, client_id, start_month, end_month FROM month_ranges WHERE branch_id=$1
	`, branchID).Scan(&out.BranchID, &out.ClientID, &start, &end)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return monthrange.Range{}, false, nil
		}
		return monthrange.Range{}, false, err
	}
	out.Start = monthrange.MonthOf(start)
	out.End = monthrange.MonthOf(end)
	return out, true, nil
}

func (r *MonthRanges) SaveRange(ctx context.Context, rng monthrange.Range, now time.Time) error {
	_, err := r.s.DB.Exec(ctx, `
		INSERT INTO month_ranges (branch_id, client_id, start_month, end_month, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (branch_id) DO UPDATE
		SET client_id=EXCLUDED.client_id, start_month=EXCLUDED.start_month,
		    end_month=EXCLUDED.end_month, updated_at=EXCLUDED.updated_at
	`, rng.BranchID, rng.ClientID, rng.Start.Time(), rng.End.Time(), now)
	return err
}

func (r *MonthRanges) PreviewDeletion(ctx context.Context, branchID string, months []monthrange.Month) (monthrange.DeletionPreview, error) {
	out := monthrange.DeletionPreview{Months: months}
	dates := monthDates(months)
	for _, table := range monthlyTables {
		var n int64
		err := r.s.DB.QueryRow(ctx,
			`SELECT count(*) FROM `+table+` WHERE branch_id=$1 AND date_trunc('month', month)::date = ANY($2::date[])`,
			branchID, dates).Scan(&n)
		if err != nil {
			return monthrange.DeletionPreview{}, err
		}
		out.Tables = append(out.Tables, monthrange.TableCount{Table: table, Rows: n})
		out.TotalRows += n
	}
	return out, nil
}

// DeleteMonths purges the months from every monthly table in one transaction.
func (r *MonthRanges) DeleteMonths(ctx context.Context, branchID string, months []monthrange.Month) (int64, error) {
	dates := monthDates(months)

	tx, err := r.s.DB.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for _, table := range monthlyTables {
		ct, err := tx.Exec(ctx,
			`DELETE FROM `+table+` WHERE branch_id=$1 AND date_trunc('month', month)::date = ANY($2::date[])`,
			branchID, dates)
		if err != nil {
			return 0, err
		}
		total += ct.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}
