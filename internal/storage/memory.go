package storage

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hedge-snapshots/internal/chain"
	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/types"
)

// MemorySnapshotStore keeps snapshot chains in process. It backs dry runs and tests.
// Snapshots are copied in and out so callers never share the stored values.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	accounts  map[string]*chain.Chain[*models.AccountSnapshot]
	companies map[string]*chain.Chain[*models.CompanySnapshot]
	// owner maps an account to its company
	owner map[string]string
}

// NewMemorySnapshotStore creates an empty store
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{
		accounts:  make(map[string]*chain.Chain[*models.AccountSnapshot]),
		companies: make(map[string]*chain.Chain[*models.CompanySnapshot]),
		owner:     make(map[string]string),
	}
}

func copyAccount(s *models.AccountSnapshot) *models.AccountSnapshot {
	c := *s
	c.DegradedFields = slices.Clone(s.DegradedFields)
	return &c
}

func copyCompany(s *models.CompanySnapshot) *models.CompanySnapshot {
	c := *s
	c.DegradedFields = slices.Clone(s.DegradedFields)
	return &c
}

func (m *MemorySnapshotStore) accountChain(id string, create bool) *chain.Chain[*models.AccountSnapshot] {
	c, ok := m.accounts[id]
	if !ok && create {
		c = chain.New[*models.AccountSnapshot](types.EntityKey{Kind: types.EntityAccount, ID: id})
		m.accounts[id] = c
	}
	return c
}

func (m *MemorySnapshotStore) companyChain(id string, create bool) *chain.Chain[*models.CompanySnapshot] {
	c, ok := m.companies[id]
	if !ok && create {
		c = chain.New[*models.CompanySnapshot](types.EntityKey{Kind: types.EntityCompany, ID: id})
		m.companies[id] = c
	}
	return c
}

// LastAccountSnapshot returns the latest snapshot strictly before t, or nil
func (m *MemorySnapshotStore) LastAccountSnapshot(ctx context.Context, accountID string, t time.Time) (*models.AccountSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.accountChain(accountID, false)
	if c == nil {
		return nil, nil
	}
	if s, ok := c.Before(t); ok {
		return copyAccount(s), nil
	}
	return nil, nil
}

// GetAccountSnapshot returns the snapshot at exactly t
func (m *MemorySnapshotStore) GetAccountSnapshot(ctx context.Context, accountID string, t time.Time) (*models.AccountSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.accountChain(accountID, false); c != nil {
		if s, ok := c.Get(t); ok {
			return copyAccount(s), nil
		}
	}
	return nil, apperrors.NewSnapshotNotFoundError(types.EntityKey{Kind: types.EntityAccount, ID: accountID}, t.Format(time.RFC3339))
}

// ListAccountSnapshots returns the snapshots within [from, to], oldest first
func (m *MemorySnapshotStore) ListAccountSnapshots(ctx context.Context, accountID string, from, to time.Time) ([]*models.AccountSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.accountChain(accountID, false)
	if c == nil {
		return nil, nil
	}
	nodes := c.Between(from, to)
	out := make([]*models.AccountSnapshot, 0, len(nodes))
	for _, s := range nodes {
		out = append(out, copyAccount(s))
	}
	return out, nil
}

// ListCompanyAccountSnapshots returns the company's account snapshots taken at t
func (m *MemorySnapshotStore) ListCompanyAccountSnapshots(ctx context.Context, companyID string, t time.Time) ([]*models.AccountSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.AccountSnapshot
	for accountID, owner := range m.owner {
		if owner != companyID {
			continue
		}
		if s, ok := m.accounts[accountID].Get(t); ok {
			out = append(out, copyAccount(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// InsertAccountSnapshot appends s to its chain. s.Last is set to the stored predecessor.
func (m *MemorySnapshotStore) InsertAccountSnapshot(ctx context.Context, s *models.AccountSnapshot, attach bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := copyAccount(s)
	if err := m.accountChain(s.AccountID, true).Insert(stored, attach); err != nil {
		return err
	}
	s.Links = stored.Links
	m.owner[s.AccountID] = s.CompanyID
	return nil
}

// AttachAccountSnapshot links the snapshot at t to its predecessor
func (m *MemorySnapshotStore) AttachAccountSnapshot(ctx context.Context, accountID string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.accountChain(accountID, false)
	if c == nil {
		return apperrors.NewSnapshotNotFoundError(types.EntityKey{Kind: types.EntityAccount, ID: accountID}, t.Format(time.RFC3339))
	}
	return c.Attach(t)
}

// ReplaceAccountSnapshot swaps the stored snapshot at s's time for s and relinks it
func (m *MemorySnapshotStore) ReplaceAccountSnapshot(ctx context.Context, s *models.AccountSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.accountChain(s.AccountID, false)
	if c == nil {
		return apperrors.NewSnapshotNotFoundError(s.Key(), s.SnapshotTime.Format(time.RFC3339))
	}
	stored := copyAccount(s)
	if _, err := c.Replace(stored); err != nil {
		return err
	}
	s.Links = stored.Links
	return nil
}

// LastCompanySnapshot returns the latest company snapshot strictly before t, or nil
func (m *MemorySnapshotStore) LastCompanySnapshot(ctx context.Context, companyID string, t time.Time) (*models.CompanySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.companyChain(companyID, false)
	if c == nil {
		return nil, nil
	}
	if s, ok := c.Before(t); ok {
		return copyCompany(s), nil
	}
	return nil, nil
}

// GetCompanySnapshot returns the company snapshot at exactly t
func (m *MemorySnapshotStore) GetCompanySnapshot(ctx context.Context, companyID string, t time.Time) (*models.CompanySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.companyChain(companyID, false); c != nil {
		if s, ok := c.Get(t); ok {
			return copyCompany(s), nil
		}
	}
	return nil, apperrors.NewSnapshotNotFoundError(types.EntityKey{Kind: types.EntityCompany, ID: companyID}, t.Format(time.RFC3339))
}

// ListCompanySnapshots returns the company snapshots within [from, to], oldest first
func (m *MemorySnapshotStore) ListCompanySnapshots(ctx context.Context, companyID string, from, to time.Time) ([]*models.CompanySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.companyChain(companyID, false)
	if c == nil {
		return nil, nil
	}
	nodes := c.Between(from, to)
	out := make([]*models.CompanySnapshot, 0, len(nodes))
	for _, s := range nodes {
		out = append(out, copyCompany(s))
	}
	return out, nil
}

// InsertCompanySnapshot appends s to its company chain
func (m *MemorySnapshotStore) InsertCompanySnapshot(ctx context.Context, s *models.CompanySnapshot, attach bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := copyCompany(s)
	if err := m.companyChain(s.CompanyID, true).Insert(stored, attach); err != nil {
		return err
	}
	s.Links = stored.Links
	return nil
}

// AttachCompanySnapshot links the company snapshot at t to its predecessor
func (m *MemorySnapshotStore) AttachCompanySnapshot(ctx context.Context, companyID string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.companyChain(companyID, false)
	if c == nil {
		return apperrors.NewSnapshotNotFoundError(types.EntityKey{Kind: types.EntityCompany, ID: companyID}, t.Format(time.RFC3339))
	}
	return c.Attach(t)
}

// ReplaceCompanySnapshot swaps the stored company snapshot at s's time for s
func (m *MemorySnapshotStore) ReplaceCompanySnapshot(ctx context.Context, s *models.CompanySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.companyChain(s.CompanyID, false)
	if c == nil {
		return apperrors.NewSnapshotNotFoundError(s.Key(), s.SnapshotTime.Format(time.RFC3339))
	}
	stored := copyCompany(s)
	if _, err := c.Replace(stored); err != nil {
		return err
	}
	s.Links = stored.Links
	return nil
}
