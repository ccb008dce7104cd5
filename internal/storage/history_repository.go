package storage

import (
	"context"
	"fmt"

	"github.com/hedge-snapshots/internal/models"
)

// HistoryRepository appends persisted snapshots to ClickHouse for reporting. Rows are
// never updated; a replaced snapshot appears again with a later exported_at and the
// ReplacingMergeTree keeps the newest.
type HistoryRepository struct {
	db *ClickHouseDB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *ClickHouseDB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// ExportAccountSnapshots appends account snapshots in one batch
func (r *HistoryRepository) ExportAccountSnapshots(ctx context.Context, snaps []*models.AccountSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO account_snapshot_history (
			id, account_id, company_id, account_type, snapshot_time,
			total_realized_pnl, unrealized_pnl, cashflow_npv, change_in_npv,
			cashflow_roll_off, cashflow_roll_on, cashflow_meddling_adjustment,
			cumulative_commission, daily_roll_value, cumulative_roll_value, estimated_fx_roll_cost,
			unhedged_value, hedged_value, daily_unhedged_variance, daily_hedged_variance,
			margin, degraded_fields
		)`)
	if err != nil {
		return fmt.Errorf("failed to prepare account history batch: %w", err)
	}
	for _, s := range snaps {
		err := batch.Append(
			s.ID, s.AccountID, s.CompanyID, string(s.AccountType), s.SnapshotTime,
			s.TotalRealizedPnL, s.TotalUnrealizedPnL(), s.CashflowNPV, s.ChangeInNPV,
			s.CashflowRollOff, s.CashflowRollOn, s.CashflowMeddlingAdjustment,
			s.CumulativeCommission, s.DailyRollValue, s.CumulativeRollValue, s.EstimatedFxRollCost,
			s.UnhedgedValue, s.HedgedValue, s.DailyUnhedgedVariance, s.DailyHedgedVariance,
			s.Margin, nonNil(s.DegradedFields),
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append account snapshot %s: %w", s.ID, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send account history batch: %w", err)
	}
	return nil
}

// ExportCompanySnapshot appends one company snapshot
func (r *HistoryRepository) ExportCompanySnapshot(ctx context.Context, s *models.CompanySnapshot) error {
	err := r.db.Conn().Exec(ctx, `
		INSERT INTO company_snapshot_history (
			id, company_id, snapshot_time,
			live_total_realized_pnl, demo_total_realized_pnl,
			total_cash_holding, excess_liquidity, total_maintenance_margin, total_asset_value,
			live_cashflow_abs_fwd, demo_cashflow_abs_fwd,
			daily_roll_value, cumulative_roll_value,
			live_position_value, demo_position_value, degraded_fields
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CompanyID, s.SnapshotTime,
		s.LiveTotalRealizedPnL, s.DemoTotalRealizedPnL,
		s.TotalCashHolding, s.ExcessLiquidity, s.TotalMaintenanceMargin, s.TotalAssetValue,
		s.LiveCashflowAbsFwd, s.DemoCashflowAbsFwd,
		s.DailyRollValue, s.CumulativeRollValue,
		s.LivePositionValue, s.DemoPositionValue, nonNil(s.DegradedFields),
	)
	if err != nil {
		return fmt.Errorf("failed to export company snapshot %s: %w", s.ID, err)
	}
	return nil
}

func nonNil(fields []string) []string {
	if fields == nil {
		return []string{}
	}
	return fields
}
