package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/types"
)

// SnapshotRepository stores account and company snapshot chains in Postgres.
// Each (entity, snapshot_time) is unique; chain links are stored as neighbour times.
type SnapshotRepository struct {
	pool *pgxpool.Pool
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(pool *pgxpool.Pool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// chainTable names a snapshot table and the column owning its chains
type chainTable struct {
	name    string
	key     string
	kind    types.EntityKind
	columns []string
}

var accountColumns = []string{
	"id", "account_id", "company_id", "account_type", "snapshot_time",
	"last_snapshot_time", "next_snapshot_time",
	"change_in_realized_pnl_fxspot", "change_in_realized_pnl_fxforward", "total_realized_pnl",
	"unrealized_pnl_fxspot", "unrealized_pnl_fxforward",
	"cashflow_npv", "cashflow_abs_npv", "change_in_npv", "cashflow_fwd", "cashflow_abs_fwd",
	"cashflow_roll_off", "cashflow_roll_on", "num_cashflows_rolled_off", "num_cashflows_rolled_on",
	"num_cashflows_in_window", "total_cashflow_roll_off", "cashflow_meddling_adjustment",
	"daily_commission", "cumulative_commission", "daily_trading",
	"daily_roll_value", "cumulative_roll_value", "estimated_fx_roll_cost",
	"unhedged_value", "hedged_value",
	"daily_unhedged_variance", "daily_hedged_variance", "daily_hedged_modified_change",
	"daily_hedged_earning", "daily_hedged_modified_variance", "one_day_variance",
	"margin", "degraded_fields", "created_at",
}

var companyColumns = []string{
	"id", "company_id", "snapshot_time", "last_snapshot_time", "next_snapshot_time",
	"live_change_in_realized_pnl", "demo_change_in_realized_pnl",
	"live_total_realized_pnl", "demo_total_realized_pnl",
	"total_cash_holding", "excess_liquidity", "total_maintenance_margin", "total_asset_value",
	"live_cashflow_abs_fwd", "demo_cashflow_abs_fwd",
	"num_live_cashflows_in_window", "num_demo_cashflows_in_window",
	"daily_roll_value", "cumulative_roll_value",
	"live_position_value", "demo_position_value", "live_unrealized_pnl", "demo_unrealized_pnl",
	"degraded_fields", "created_at",
}

var (
	accountTable = chainTable{name: "account_snapshots", key: "account_id", kind: types.EntityAccount, columns: accountColumns}
	companyTable = chainTable{name: "company_snapshots", key: "company_id", kind: types.EntityCompany, columns: companyColumns}
)

// accountFields lists s's fields in accountColumns order, for both Exec and Scan
func accountFields(s *models.AccountSnapshot) []interface{} {
	return []interface{}{
		&s.ID, &s.AccountID, &s.CompanyID, &s.AccountType, &s.SnapshotTime,
		&s.Last, &s.Next,
		&s.ChangeInRealizedPnLFxSpot, &s.ChangeInRealizedPnLFxForward, &s.TotalRealizedPnL,
		&s.UnrealizedPnLFxSpot, &s.UnrealizedPnLFxForward,
		&s.CashflowNPV, &s.CashflowAbsNPV, &s.ChangeInNPV, &s.CashflowFwd, &s.CashflowAbsFwd,
		&s.CashflowRollOff, &s.CashflowRollOn, &s.NumCashflowsRolledOff, &s.NumCashflowsRolledOn,
		&s.NumCashflowsInWindow, &s.TotalCashflowRollOff, &s.CashflowMeddlingAdjustment,
		&s.DailyCommission, &s.CumulativeCommission, &s.DailyTrading,
		&s.DailyRollValue, &s.CumulativeRollValue, &s.EstimatedFxRollCost,
		&s.UnhedgedValue, &s.HedgedValue,
		&s.DailyUnhedgedVariance, &s.DailyHedgedVariance, &s.DailyHedgedModifiedChange,
		&s.DailyHedgedEarning, &s.DailyHedgedModifiedVariance, &s.OneDayVariance,
		&s.Margin, &s.DegradedFields, &s.CreatedAt,
	}
}

func companyFields(s *models.CompanySnapshot) []interface{} {
	return []interface{}{
		&s.ID, &s.CompanyID, &s.SnapshotTime, &s.Last, &s.Next,
		&s.LiveChangeInRealizedPnL, &s.DemoChangeInRealizedPnL,
		&s.LiveTotalRealizedPnL, &s.DemoTotalRealizedPnL,
		&s.TotalCashHolding, &s.ExcessLiquidity, &s.TotalMaintenanceMargin, &s.TotalAssetValue,
		&s.LiveCashflowAbsFwd, &s.DemoCashflowAbsFwd,
		&s.NumLiveCashflowsInWindow, &s.NumDemoCashflowsInWindow,
		&s.DailyRollValue, &s.CumulativeRollValue,
		&s.LivePositionValue, &s.DemoPositionValue, &s.LiveUnrealizedPnL, &s.DemoUnrealizedPnL,
		&s.DegradedFields, &s.CreatedAt,
	}
}

// values dereferences field pointers for use as query arguments
func values(fields []interface{}) []interface{} {
	out := make([]interface{}, len(fields))
	for i, f := range fields {
		switch p := f.(type) {
		case **time.Time:
			out[i] = *p
		case **float64:
			out[i] = *p
		case *[]string:
			if *p == nil {
				out[i] = []string{}
			} else {
				out[i] = *p
			}
		default:
			out[i] = f
		}
	}
	return out
}

func (t chainTable) selectSQL(where string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(t.columns, ", "), t.name, where)
}

func (t chainTable) insertSQL() string {
	params := make([]string, len(t.columns))
	for i := range params {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s, snapshot_time) DO NOTHING",
		t.name, strings.Join(t.columns, ", "), strings.Join(params, ", "), t.key)
}

func (t chainTable) entity(id string) types.EntityKey {
	return types.EntityKey{Kind: t.kind, ID: id}
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// --- account snapshots ---

// LastAccountSnapshot returns the latest snapshot strictly before t, or nil
func (r *SnapshotRepository) LastAccountSnapshot(ctx context.Context, accountID string, t time.Time) (*models.AccountSnapshot, error) {
	q := accountTable.selectSQL("account_id = $1 AND snapshot_time < $2 ORDER BY snapshot_time DESC LIMIT 1")
	s := &models.AccountSnapshot{}
	err := r.pool.QueryRow(ctx, q, accountID, t).Scan(accountFields(s)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("last account snapshot", err)
	}
	return s, nil
}

// GetAccountSnapshot returns the snapshot at exactly t
func (r *SnapshotRepository) GetAccountSnapshot(ctx context.Context, accountID string, t time.Time) (*models.AccountSnapshot, error) {
	q := accountTable.selectSQL("account_id = $1 AND snapshot_time = $2")
	s := &models.AccountSnapshot{}
	err := r.pool.QueryRow(ctx, q, accountID, t).Scan(accountFields(s)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewSnapshotNotFoundError(accountTable.entity(accountID), stamp(t))
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get account snapshot", err)
	}
	return s, nil
}

// ListAccountSnapshots returns the snapshots within [from, to], oldest first
func (r *SnapshotRepository) ListAccountSnapshots(ctx context.Context, accountID string, from, to time.Time) ([]*models.AccountSnapshot, error) {
	q := accountTable.selectSQL("account_id = $1 AND snapshot_time >= $2 AND snapshot_time <= $3 ORDER BY snapshot_time ASC")
	return r.queryAccounts(ctx, "list account snapshots", q, accountID, from, to)
}

// ListCompanyAccountSnapshots returns the company's account snapshots taken at t
func (r *SnapshotRepository) ListCompanyAccountSnapshots(ctx context.Context, companyID string, t time.Time) ([]*models.AccountSnapshot, error) {
	q := accountTable.selectSQL("company_id = $1 AND snapshot_time = $2 ORDER BY account_id")
	return r.queryAccounts(ctx, "list company account snapshots", q, companyID, t)
}

func (r *SnapshotRepository) queryAccounts(ctx context.Context, operation, q string, args ...interface{}) ([]*models.AccountSnapshot, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError(operation, err)
	}
	defer rows.Close()

	var out []*models.AccountSnapshot
	for rows.Next() {
		s := &models.AccountSnapshot{}
		if err := rows.Scan(accountFields(s)...); err != nil {
			return nil, apperrors.NewDatabaseError(operation, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(operation, err)
	}
	return out, nil
}

// InsertAccountSnapshot appends s to its chain. s.Last is set to the stored tail and, with
// attach, the tail's next link is written in the same transaction.
func (r *SnapshotRepository) InsertAccountSnapshot(ctx context.Context, s *models.AccountSnapshot, attach bool) error {
	return r.insertLinked(ctx, accountTable, s.AccountID, s.SnapshotTime, &s.Links, attach, func() []interface{} {
		return values(accountFields(s))
	})
}

// AttachAccountSnapshot points the predecessor of the snapshot at t forward to it
func (r *SnapshotRepository) AttachAccountSnapshot(ctx context.Context, accountID string, t time.Time) error {
	return r.attach(ctx, accountTable, accountID, t)
}

// ReplaceAccountSnapshot swaps the stored snapshot at s's time for s and relinks both
// neighbours in one transaction
func (r *SnapshotRepository) ReplaceAccountSnapshot(ctx context.Context, s *models.AccountSnapshot) error {
	return r.replaceLinked(ctx, accountTable, s.AccountID, s.SnapshotTime, &s.Links, func() []interface{} {
		return values(accountFields(s))
	})
}

// --- company snapshots ---

// LastCompanySnapshot returns the latest company snapshot strictly before t, or nil
func (r *SnapshotRepository) LastCompanySnapshot(ctx context.Context, companyID string, t time.Time) (*models.CompanySnapshot, error) {
	q := companyTable.selectSQL("company_id = $1 AND snapshot_time < $2 ORDER BY snapshot_time DESC LIMIT 1")
	s := &models.CompanySnapshot{}
	err := r.pool.QueryRow(ctx, q, companyID, t).Scan(companyFields(s)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("last company snapshot", err)
	}
	return s, nil
}

// GetCompanySnapshot returns the company snapshot at exactly t
func (r *SnapshotRepository) GetCompanySnapshot(ctx context.Context, companyID string, t time.Time) (*models.CompanySnapshot, error) {
	q := companyTable.selectSQL("company_id = $1 AND snapshot_time = $2")
	s := &models.CompanySnapshot{}
	err := r.pool.QueryRow(ctx, q, companyID, t).Scan(companyFields(s)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewSnapshotNotFoundError(companyTable.entity(companyID), stamp(t))
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get company snapshot", err)
	}
	return s, nil
}

// ListCompanySnapshots returns the company snapshots within [from, to], oldest first
func (r *SnapshotRepository) ListCompanySnapshots(ctx context.Context, companyID string, from, to time.Time) ([]*models.CompanySnapshot, error) {
	q := companyTable.selectSQL("company_id = $1 AND snapshot_time >= $2 AND snapshot_time <= $3 ORDER BY snapshot_time ASC")
	rows, err := r.pool.Query(ctx, q, companyID, from, to)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list company snapshots", err)
	}
	defer rows.Close()

	var out []*models.CompanySnapshot
	for rows.Next() {
		s := &models.CompanySnapshot{}
		if err := rows.Scan(companyFields(s)...); err != nil {
			return nil, apperrors.NewDatabaseError("list company snapshots", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list company snapshots", err)
	}
	return out, nil
}

// InsertCompanySnapshot appends s to its company chain
func (r *SnapshotRepository) InsertCompanySnapshot(ctx context.Context, s *models.CompanySnapshot, attach bool) error {
	return r.insertLinked(ctx, companyTable, s.CompanyID, s.SnapshotTime, &s.Links, attach, func() []interface{} {
		return values(companyFields(s))
	})
}

// AttachCompanySnapshot points the predecessor's Next at the company snapshot stored at t
func (r *SnapshotRepository) AttachCompanySnapshot(ctx context.Context, companyID string, t time.Time) error {
	return r.attach(ctx, companyTable, companyID, t)
}

// ReplaceCompanySnapshot swaps the stored company snapshot at s's time for s
func (r *SnapshotRepository) ReplaceCompanySnapshot(ctx context.Context, s *models.CompanySnapshot) error {
	return r.replaceLinked(ctx, companyTable, s.CompanyID, s.SnapshotTime, &s.Links, func() []interface{} {
		return values(companyFields(s))
	})
}

// --- chain maintenance ---

// lockChain serializes writers of one chain for the rest of tx
func lockChain(ctx context.Context, tx pgx.Tx, table chainTable, id string) error {
	_, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", table.name+":"+id)
	return err
}

func neighbour(ctx context.Context, tx pgx.Tx, table chainTable, id string, t time.Time, before bool) (*time.Time, error) {
	q := fmt.Sprintf("SELECT snapshot_time FROM %s WHERE %s = $1 AND snapshot_time > $2 ORDER BY snapshot_time ASC LIMIT 1", table.name, table.key)
	if before {
		q = fmt.Sprintf("SELECT snapshot_time FROM %s WHERE %s = $1 AND snapshot_time < $2 ORDER BY snapshot_time DESC LIMIT 1", table.name, table.key)
	}
	var out time.Time
	err := tx.QueryRow(ctx, q, id, t).Scan(&out)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func setLink(ctx context.Context, tx pgx.Tx, table chainTable, id string, at time.Time, column string, to *time.Time) error {
	q := fmt.Sprintf("UPDATE %s SET %s = $3 WHERE %s = $1 AND snapshot_time = $2", table.name, column, table.key)
	_, err := tx.Exec(ctx, q, id, at, to)
	return err
}

func (r *SnapshotRepository) insertLinked(ctx context.Context, table chainTable, id string, t time.Time, links *models.Links, attach bool, args func() []interface{}) error {
	key := table.entity(id)
	return withTx(ctx, r.pool, "insert snapshot", func(tx pgx.Tx) error {
		if err := lockChain(ctx, tx, table, id); err != nil {
			return apperrors.NewDatabaseError("lock chain", err)
		}
		tail, err := neighbour(ctx, tx, table, id, t, true)
		if err != nil {
			return apperrors.NewDatabaseError("chain tail", err)
		}
		later, err := neighbour(ctx, tx, table, id, t, false)
		if err != nil {
			return apperrors.NewDatabaseError("chain tail", err)
		}
		if later != nil {
			return apperrors.NewOutOfOrderError(key, stamp(t), stamp(*later))
		}

		links.Last, links.Next = tail, nil
		tag, err := tx.Exec(ctx, table.insertSQL(), args()...)
		if err != nil {
			return apperrors.NewDatabaseError("insert snapshot", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NewSnapshotExistsError(key, stamp(t))
		}
		if attach && tail != nil {
			at := t
			if err := setLink(ctx, tx, table, id, *tail, "next_snapshot_time", &at); err != nil {
				return apperrors.NewDatabaseError("attach snapshot", err)
			}
		}
		return nil
	})
}

func (r *SnapshotRepository) attach(ctx context.Context, table chainTable, id string, t time.Time) error {
	key := table.entity(id)
	return withTx(ctx, r.pool, "attach snapshot", func(tx pgx.Tx) error {
		if err := lockChain(ctx, tx, table, id); err != nil {
			return apperrors.NewDatabaseError("lock chain", err)
		}
		var exists bool
		q := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND snapshot_time = $2)", table.name, table.key)
		if err := tx.QueryRow(ctx, q, id, t).Scan(&exists); err != nil {
			return apperrors.NewDatabaseError("attach snapshot", err)
		}
		if !exists {
			return apperrors.NewSnapshotNotFoundError(key, stamp(t))
		}
		prev, err := neighbour(ctx, tx, table, id, t, true)
		if err != nil || prev == nil {
			if err != nil {
				return apperrors.NewDatabaseError("attach snapshot", err)
			}
			return nil
		}
		at := t
		if err := setLink(ctx, tx, table, id, *prev, "next_snapshot_time", &at); err != nil {
			return apperrors.NewDatabaseError("attach snapshot", err)
		}
		if err := setLink(ctx, tx, table, id, t, "last_snapshot_time", prev); err != nil {
			return apperrors.NewDatabaseError("attach snapshot", err)
		}
		return nil
	})
}

// replaceLinked detaches and deletes the stored row at t, inserts the new one and relinks
// both neighbours. Any failure rolls the whole swap back.
func (r *SnapshotRepository) replaceLinked(ctx context.Context, table chainTable, id string, t time.Time, links *models.Links, args func() []interface{}) error {
	key := table.entity(id)
	return withTx(ctx, r.pool, "replace snapshot", func(tx pgx.Tx) error {
		if err := lockChain(ctx, tx, table, id); err != nil {
			return apperrors.NewDatabaseError("lock chain", err)
		}
		del := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND snapshot_time = $2", table.name, table.key)
		tag, err := tx.Exec(ctx, del, id, t)
		if err != nil {
			return apperrors.NewDatabaseError("delete snapshot", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NewSnapshotNotFoundError(key, stamp(t))
		}

		prev, err := neighbour(ctx, tx, table, id, t, true)
		if err != nil {
			return apperrors.NewDatabaseError("replace snapshot", err)
		}
		next, err := neighbour(ctx, tx, table, id, t, false)
		if err != nil {
			return apperrors.NewDatabaseError("replace snapshot", err)
		}

		links.Last, links.Next = prev, next
		if _, err := tx.Exec(ctx, table.insertSQL(), args()...); err != nil {
			return apperrors.NewDatabaseError("insert snapshot", err)
		}
		at := t
		if prev != nil {
			if err := setLink(ctx, tx, table, id, *prev, "next_snapshot_time", &at); err != nil {
				return apperrors.NewDatabaseError("relink snapshot", err)
			}
		}
		if next != nil {
			if err := setLink(ctx, tx, table, id, *next, "last_snapshot_time", &at); err != nil {
				return apperrors.NewDatabaseError("relink snapshot", err)
			}
		}
		return nil
	})
}
