package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/models"
)

// DirectoryRepository reads companies, their accounts and the accounts' hedge settings
type DirectoryRepository struct {
	pool *pgxpool.Pool
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(pool *pgxpool.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

const companyQuery = `SELECT id, name, domestic, broker, created_at FROM companies`

// ListCompanies returns every company, ordered by ID
func (r *DirectoryRepository) ListCompanies(ctx context.Context) ([]models.Company, error) {
	rows, err := r.pool.Query(ctx, companyQuery+` ORDER BY id`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list companies", err)
	}
	defer rows.Close()

	var out []models.Company
	for rows.Next() {
		var c models.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.Domestic, &c.Broker, &c.CreatedAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan company", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list companies", err)
	}
	return out, nil
}

// GetCompany returns one company
func (r *DirectoryRepository) GetCompany(ctx context.Context, companyID string) (models.Company, error) {
	var c models.Company
	err := r.pool.QueryRow(ctx, companyQuery+` WHERE id = $1`, companyID).
		Scan(&c.ID, &c.Name, &c.Domestic, &c.Broker, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Company{}, apperrors.NewNotFoundError("company", companyID)
	}
	if err != nil {
		return models.Company{}, apperrors.NewDatabaseError("get company", err)
	}
	return c, nil
}

const accountQuery = `SELECT id, company_id, name, type, domestic, active FROM accounts`

// ListAccounts returns the accounts of a company, ordered by ID
func (r *DirectoryRepository) ListAccounts(ctx context.Context, companyID string) ([]models.Account, error) {
	rows, err := r.pool.Query(ctx, accountQuery+` WHERE company_id = $1 ORDER BY id`, companyID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list accounts", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.Name, &a.Type, &a.Domestic, &a.Active); err != nil {
			return nil, apperrors.NewDatabaseError("scan account", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list accounts", err)
	}
	return out, nil
}

// GetAccount returns one account
func (r *DirectoryRepository) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx, accountQuery+` WHERE id = $1`, accountID).
		Scan(&a.ID, &a.CompanyID, &a.Name, &a.Type, &a.Domestic, &a.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, apperrors.NewNotFoundError("account", accountID)
	}
	if err != nil {
		return models.Account{}, apperrors.NewDatabaseError("get account", err)
	}
	return a, nil
}

// GetHedgeSettings returns the account's hedge settings; ok is false when it has none
func (r *DirectoryRepository) GetHedgeSettings(ctx context.Context, accountID string) (models.HedgeSettings, bool, error) {
	s := models.HedgeSettings{AccountID: accountID}
	err := r.pool.QueryRow(ctx, `SELECT max_horizon_days FROM hedge_settings WHERE account_id = $1`, accountID).
		Scan(&s.MaxHorizonDays)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.HedgeSettings{}, false, nil
	}
	if err != nil {
		return models.HedgeSettings{}, false, apperrors.NewDatabaseError("get hedge settings", err)
	}
	return s, true, nil
}
