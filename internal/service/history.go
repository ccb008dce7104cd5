package service

import (
	"context"
	"math"
	"time"

	"github.com/hedge-snapshots/internal/chain"
	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/logging"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/types"
)

// HistoryService answers reporting queries over stored snapshot chains
type HistoryService struct {
	store  SnapshotStore
	logger *logging.Logger
}

// NewHistoryService creates a new history service
func NewHistoryService(store SnapshotStore, logger *logging.Logger) *HistoryService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &HistoryService{store: store, logger: logger}
}

// SummaryStats summarizes an account over a date range
type SummaryStats struct {
	AccountID           string    `json:"accountId"`
	StartDate           time.Time `json:"startDate"`
	EndDate             time.Time `json:"endDate"`
	InitialCashNPV      float64   `json:"initialCashNpv"`
	RemainingCashNPV    float64   `json:"remainingCashNpv"`
	FinalHedgedValue    float64   `json:"finalHedgedValue"`
	FinalUnhedgedValue  float64   `json:"finalUnhedgedValue"`
	RealizedHedgePnL    float64   `json:"realizedHedgePnl"`
	UnrealizedHedgePnL  float64   `json:"unrealizedHedgePnl"`
	VarianceOfHedged    float64   `json:"varianceOfHedged"`
	VarianceOfUnhedged  float64   `json:"varianceOfUnhedged"`
	CashflowsReceived   float64   `json:"cashflowsReceived"`
	MarginStart         float64   `json:"marginStart"`
	MarginEnd           float64   `json:"marginEnd"`
	RollCosts           float64   `json:"rollCosts"`
	CumulativeCommision float64   `json:"cumulativeCommission"`
}

// VariancePoint is one point of the cumulative variance series
type VariancePoint struct {
	Time                time.Time `json:"time"`
	HedgedVariance      float64   `json:"hedgedVariance"`
	UnhedgedVariance    float64   `json:"unhedgedVariance"`
	VarianceReduction   *float64  `json:"varianceReduction,omitempty"`
	VolatilityReduction *float64  `json:"volatilityReduction,omitempty"`
}

// AccountSnapshots lists an account's snapshots within [from, to]
func (h *HistoryService) AccountSnapshots(ctx context.Context, accountID string, from, to time.Time) ([]*models.AccountSnapshot, error) {
	if to.Before(from) {
		return nil, apperrors.NewInvalidParameterError("to", "must not be before from")
	}
	return h.store.ListAccountSnapshots(ctx, accountID, from, to)
}

// CompanySnapshots lists a company's snapshots within [from, to]
func (h *HistoryService) CompanySnapshots(ctx context.Context, companyID string, from, to time.Time) ([]*models.CompanySnapshot, error) {
	if to.Before(from) {
		return nil, apperrors.NewInvalidParameterError("to", "must not be before from")
	}
	return h.store.ListCompanySnapshots(ctx, companyID, from, to)
}

// AccountSummaryStats summarizes the snapshots within [from, to]. At least two are needed.
func (h *HistoryService) AccountSummaryStats(ctx context.Context, accountID string, from, to time.Time) (*SummaryStats, error) {
	snaps, err := h.AccountSnapshots(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}
	if len(snaps) < 2 {
		return nil, apperrors.NewNotFoundError("summary stats", accountID)
	}
	first, final := snaps[0], snaps[len(snaps)-1]

	T := types.Actual365Fixed{}.YearFraction(from, to)
	var hedged, unhedged float64
	for _, s := range snaps {
		hedged += s.DailyHedgedVariance
		unhedged += s.DailyUnhedgedVariance
	}

	return &SummaryStats{
		AccountID:           accountID,
		StartDate:           first.SnapshotTime,
		EndDate:             final.SnapshotTime,
		InitialCashNPV:      first.CashflowNPV,
		RemainingCashNPV:    final.CashflowNPV,
		FinalHedgedValue:    final.HedgedValue,
		FinalUnhedgedValue:  final.UnhedgedValue,
		RealizedHedgePnL:    final.TotalRealizedPnL - first.TotalRealizedPnL,
		UnrealizedHedgePnL:  final.UnrealizedPnLFxSpot - first.UnrealizedPnLFxSpot,
		VarianceOfHedged:    hedged * T,
		VarianceOfUnhedged:  unhedged * T,
		CashflowsReceived:   final.TotalCashflowRollOff - first.TotalCashflowRollOff,
		MarginStart:         first.Margin,
		MarginEnd:           final.Margin,
		RollCosts:           final.CumulativeRollValue - first.CumulativeRollValue + first.DailyRollValue,
		CumulativeCommision: final.CumulativeCommission - first.CumulativeCommission,
	}, nil
}

// VarianceSeries accumulates the daily variances within [from, to]. Reductions are
// 1 - hedged/unhedged for variance and volatility, set only while unhedged is positive.
func (h *HistoryService) VarianceSeries(ctx context.Context, accountID string, from, to time.Time) ([]VariancePoint, error) {
	snaps, err := h.AccountSnapshots(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]VariancePoint, 0, len(snaps))
	var hedged, unhedged float64
	for _, s := range snaps {
		hedged += s.DailyHedgedVariance
		unhedged += s.DailyUnhedgedVariance
		p := VariancePoint{Time: s.SnapshotTime, HedgedVariance: hedged, UnhedgedVariance: unhedged}
		if unhedged > 0 {
			vr := 1 - hedged/unhedged
			volr := 1 - math.Sqrt(hedged)/math.Sqrt(unhedged)
			p.VarianceReduction = &vr
			p.VolatilityReduction = &volr
		}
		out = append(out, p)
	}
	return out, nil
}

// chainRange covers every stored snapshot
var chainRange = struct{ from, to time.Time }{
	from: time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
	to:   time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC),
}

// VerifyAccountChain loads the whole chain of an account and checks its links.
// It returns CHAIN_BROKEN describing the first inconsistency.
func (h *HistoryService) VerifyAccountChain(ctx context.Context, accountID string) (int, error) {
	snaps, err := h.store.ListAccountSnapshots(ctx, accountID, chainRange.from, chainRange.to)
	if err != nil {
		return 0, err
	}
	key := types.EntityKey{Kind: types.EntityAccount, ID: accountID}
	c, err := chain.FromNodes(key, snaps)
	if err != nil {
		return 0, err
	}
	if err := c.Verify(); err != nil {
		h.logger.WithEntity(key).WithError(err).Error("Snapshot chain is broken")
		return c.Len(), err
	}
	return c.Len(), nil
}

// VerifyCompanyChain is VerifyAccountChain for a company
func (h *HistoryService) VerifyCompanyChain(ctx context.Context, companyID string) (int, error) {
	snaps, err := h.store.ListCompanySnapshots(ctx, companyID, chainRange.from, chainRange.to)
	if err != nil {
		return 0, err
	}
	key := types.EntityKey{Kind: types.EntityCompany, ID: companyID}
	c, err := chain.FromNodes(key, snaps)
	if err != nil {
		return 0, err
	}
	if err := c.Verify(); err != nil {
		h.logger.WithEntity(key).WithError(err).Error("Snapshot chain is broken")
		return c.Len(), err
	}
	return c.Len(), nil
}
