package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/types"
)

var memDay = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// accountAt is a snapshot of account a1 (company c1) taken days after memDay
func accountAt(days int, npv float64) *models.AccountSnapshot {
	return &models.AccountSnapshot{
		ID:           uuid.New(),
		AccountID:    "a1",
		CompanyID:    "c1",
		AccountType:  types.AccountLive,
		SnapshotTime: memDay.AddDate(0, 0, days),
		CashflowNPV:  npv,
	}
}

func companyAt(days int) *models.CompanySnapshot {
	return &models.CompanySnapshot{ID: uuid.New(), CompanyID: "c1", SnapshotTime: memDay.AddDate(0, 0, days)}
}
