package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/types"
)

// RateTableRepository reads broker interest and loan tier tables
type RateTableRepository struct {
	pool *pgxpool.Pool
}

// NewRateTableRepository creates a new rate table repository
func NewRateTableRepository(pool *pgxpool.Pool) *RateTableRepository {
	return &RateTableRepository{pool: pool}
}

// LookupBroker reports whether broker is known
func (r *RateTableRepository) LookupBroker(ctx context.Context, broker string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM brokers WHERE name = $1)`, broker).Scan(&exists)
	if err != nil {
		return false, apperrors.NewDatabaseError("lookup broker", err)
	}
	return exists, nil
}

// RateRows returns the broker's tier rows dated within [from, to], newest date first.
// Rates and bounds are stored as NUMERIC and parsed exactly before conversion.
func (r *RateTableRepository) RateRows(ctx context.Context, broker string, from, to time.Time) ([]models.RateRow, error) {
	query := `
		SELECT currency, date, direction, tier_from, tier_to, rate
		FROM broker_rates
		WHERE broker = $1
			AND date >= $2
			AND date <= $3
		ORDER BY date DESC, currency, direction, tier_from NULLS FIRST
	`
	rows, err := r.pool.Query(ctx, query, broker, from, to)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query rate rows", err)
	}
	defer rows.Close()

	var out []models.RateRow
	for rows.Next() {
		var (
			currency, direction string
			date                time.Time
			tierFrom, tierTo    decimal.NullDecimal
			rate                decimal.Decimal
		)
		if err := rows.Scan(&currency, &date, &direction, &tierFrom, &tierTo, &rate); err != nil {
			return nil, apperrors.NewDatabaseError("scan rate row", err)
		}
		dir, err := types.ParseDirection(direction)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan rate row", err)
		}
		out = append(out, models.RateRow{
			Broker:    broker,
			Currency:  types.Currency(currency),
			Date:      date,
			Direction: dir,
			TierFrom:  nullFloat(tierFrom),
			TierTo:    nullFloat(tierTo),
			Rate:      rate.InexactFloat64(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate rate rows", err)
	}
	return out, nil
}

func nullFloat(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.InexactFloat64()
	return &v
}

// CostTableRepository reads the per-pair commission, spread and margin tables
type CostTableRepository struct {
	pool *pgxpool.Pool
}

// NewCostTableRepository creates a new cost table repository
func NewCostTableRepository(pool *pgxpool.Pool) *CostTableRepository {
	return &CostTableRepository{pool: pool}
}

// PairRates returns the latest rate on or before date for each pair of the kind. With pairs
// given, only those pairs and their inverses are returned.
func (r *CostTableRepository) PairRates(ctx context.Context, broker string, kind models.CostKind, date time.Time, pairs []types.FxPair) (map[types.FxPair]float64, error) {
	query := `
		SELECT DISTINCT ON (base, quote) base, quote, rate
		FROM broker_pair_costs
		WHERE broker = $1
			AND kind = $2
			AND date <= $3
		ORDER BY base, quote, date DESC
	`
	rows, err := r.pool.Query(ctx, query, broker, string(kind), date)
	if err != nil {
		return nil, apperrors.NewDatabaseError("query pair costs", err)
	}
	defer rows.Close()

	var wanted map[types.FxPair]bool
	if len(pairs) > 0 {
		wanted = make(map[types.FxPair]bool, 2*len(pairs))
		for _, p := range pairs {
			wanted[p] = true
			wanted[p.Inverse()] = true
		}
	}

	out := make(map[types.FxPair]float64)
	for rows.Next() {
		var base, quote string
		var rate decimal.Decimal
		if err := rows.Scan(&base, &quote, &rate); err != nil {
			return nil, apperrors.NewDatabaseError("scan pair cost", err)
		}
		pair := types.NewFxPair(types.Currency(base), types.Currency(quote))
		if wanted != nil && !wanted[pair] {
			continue
		}
		out[pair] = rate.InexactFloat64()
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("iterate pair costs", err)
	}
	return out, nil
}
