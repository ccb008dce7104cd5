package service

import (
	"context"
	"errors"
	"time"

	"github.com/hedge-snapshots/internal/models"
)

// ErrNotEligible is returned for an account whose cashflows do not cover the reference date
var ErrNotEligible = errors.New("account has no cashflows covering the reference date")

// SnapshotStore persists snapshot chains. Implementations enforce one snapshot per
// (entity, time) and fail an insert at an existing time with SNAPSHOT_EXISTS.
type SnapshotStore interface {
	// LastAccountSnapshot returns the latest snapshot strictly before t, or nil
	LastAccountSnapshot(ctx context.Context, accountID string, t time.Time) (*models.AccountSnapshot, error)
	GetAccountSnapshot(ctx context.Context, accountID string, t time.Time) (*models.AccountSnapshot, error)
	ListAccountSnapshots(ctx context.Context, accountID string, from, to time.Time) ([]*models.AccountSnapshot, error)
	// ListCompanyAccountSnapshots returns the account snapshots of a company taken at t
	ListCompanyAccountSnapshots(ctx context.Context, companyID string, t time.Time) ([]*models.AccountSnapshot, error)
	// InsertAccountSnapshot stores s. With attach, the predecessor's Next is pointed at s in
	// the same write.
	InsertAccountSnapshot(ctx context.Context, s *models.AccountSnapshot, attach bool) error
	// AttachAccountSnapshot points the predecessor's Next at the snapshot stored at t
	AttachAccountSnapshot(ctx context.Context, accountID string, t time.Time) error
	// ReplaceAccountSnapshot swaps the stored snapshot at s's time for s and relinks both
	// neighbours, all or nothing.
	ReplaceAccountSnapshot(ctx context.Context, s *models.AccountSnapshot) error

	LastCompanySnapshot(ctx context.Context, companyID string, t time.Time) (*models.CompanySnapshot, error)
	GetCompanySnapshot(ctx context.Context, companyID string, t time.Time) (*models.CompanySnapshot, error)
	ListCompanySnapshots(ctx context.Context, companyID string, from, to time.Time) ([]*models.CompanySnapshot, error)
	InsertCompanySnapshot(ctx context.Context, s *models.CompanySnapshot, attach bool) error
	AttachCompanySnapshot(ctx context.Context, companyID string, t time.Time) error
	ReplaceCompanySnapshot(ctx context.Context, s *models.CompanySnapshot) error
}

// RunLock serializes runs of the same company across workers
type RunLock interface {
	// Acquire takes key for ttl. It fails with LOCK_HELD when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// HistoryExporter receives persisted snapshots for reporting
type HistoryExporter interface {
	ExportAccountSnapshots(ctx context.Context, snaps []*models.AccountSnapshot) error
	ExportCompanySnapshot(ctx context.Context, snap *models.CompanySnapshot) error
}

// CreateOptions controls what CreateAccountSnapshot does with the computed snapshot
type CreateOptions struct {
	// AttachToChain points the previous tail's Next at the new snapshot
	AttachToChain bool
	// Save persists the snapshot; without it the snapshot is only computed
	Save bool
}

// DefaultCreateOptions saves and attaches
func DefaultCreateOptions() CreateOptions {
	return CreateOptions{AttachToChain: true, Save: true}
}
