package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hedge-snapshots/internal/config"
	"github.com/hedge-snapshots/internal/cost"
	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/provider"
	"github.com/hedge-snapshots/internal/storage"
	"github.com/hedge-snapshots/internal/types"
)

// Mock providers for testing

var (
	day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	day1 = day0.AddDate(0, 0, 1)
	day2 = day0.AddDate(0, 0, 2)
)

type mockSpot struct {
	spots map[types.FxPair]float64
	err   error
}

func (m *mockSpot) SpotRates(ctx context.Context, date time.Time) (map[types.FxPair]float64, error) {
	return m.spots, m.err
}

// mockPositions prices cashflows by the date they are valued at, so a test can change what a
// past date is worth after it was snapshotted
type mockPositions struct {
	mu          sync.Mutex
	npv         map[time.Time]float64
	rollOff     map[time.Time]float64
	rollOn      map[time.Time]float64
	cash        models.CashPositions
	fx          []models.FxPosition
	positionErr error
	flowsErr    error
	minCreated  time.Time
	maxPay      time.Time
	summaries   map[types.AccountType]models.PositionsSummary
	rollOnRange [2]time.Time
}

func newMockPositions() *mockPositions {
	return &mockPositions{
		npv:        make(map[time.Time]float64),
		rollOff:    make(map[time.Time]float64),
		rollOn:     make(map[time.Time]float64),
		cash:       models.CashPositions{},
		minCreated: day0.AddDate(0, -1, 0),
		maxPay:     day0.AddDate(1, 0, 0),
		summaries:  make(map[types.AccountType]models.PositionsSummary),
	}
}

func (m *mockPositions) GetCashPositions(ctx context.Context, entity types.EntityKey, date time.Time) (models.CashPositions, []models.FxPosition, error) {
	if m.positionErr != nil {
		return nil, nil, m.positionErr
	}
	return m.cash, m.fx, nil
}

func (m *mockPositions) GetFlowsForAccount(ctx context.Context, accountID string, date time.Time, maxHorizonDays int, inclusive, includeEnd bool) (models.FlowSet, error) {
	if m.flowsErr != nil {
		return models.FlowSet{}, m.flowsErr
	}
	return models.FlowSet{
		Cashflows: []models.Cashflow{{ID: "cf-" + date.Format("20060102"), AccountID: accountID, Currency: "GBP", PayDate: date.AddDate(0, 1, 0)}},
		Domestic:  "USD",
	}, nil
}

// GetCashflowValueSummary values the flows by the valuation date alone
func (m *mockPositions) GetCashflowValueSummary(ctx context.Context, flows []models.Cashflow, date time.Time, domestic types.Currency) (models.CashflowValueSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.npv[date]
	return models.CashflowValueSummary{NPV: v, NPVAbs: v, Fwd: v, FwdAbs: v}, nil
}

func (m *mockPositions) GetHistoricalCashflowsValue(ctx context.Context, accountID string, start, end time.Time, inclusive, includeEnd bool) (float64, int, error) {
	v := m.rollOff[end]
	n := 0
	if v != 0 {
		n = 1
	}
	return v, n, nil
}

func (m *mockPositions) GetNPVForCashflowsInRange(ctx context.Context, accountID string, date, start, end time.Time, inclusive, includeEnd bool) (models.RangeNPV, error) {
	m.rollOnRange = [2]time.Time{start, end}
	v := m.rollOn[date]
	n := 0
	if v != 0 {
		n = 1
	}
	return models.RangeNPV{NPV: v, NPVAbs: v, Count: n}, nil
}

func (m *mockPositions) GetCashflowDateRange(ctx context.Context, accountID string) (time.Time, time.Time, bool, error) {
	if m.minCreated.IsZero() {
		return time.Time{}, time.Time{}, false, nil
	}
	return m.minCreated, m.maxPay, true, nil
}

func (m *mockPositions) GetCompanyPositionsSummary(ctx context.Context, companyID string, accountType types.AccountType, date time.Time) (models.PositionsSummary, error) {
	s, ok := m.summaries[accountType]
	if !ok {
		return models.PositionsSummary{}, errors.New("positions service unavailable")
	}
	return s, nil
}

type mockPnL struct {
	realized   map[types.AccountType]models.PnLData
	unrealized models.PnLData
	err        error
	queries    []provider.RealizedPnLQuery
}

func (m *mockPnL) GetRealizedPnL(ctx context.Context, q provider.RealizedPnLQuery) (models.PnLData, error) {
	m.queries = append(m.queries, q)
	if m.err != nil {
		return models.PnLData{}, m.err
	}
	if len(q.AccountTypes) == 1 {
		return m.realized[q.AccountTypes[0]], nil
	}
	return m.realized[types.AccountLive], nil
}

func (m *mockPnL) GetUnrealizedPnL(ctx context.Context, accountID string, date time.Time) (models.PnLData, error) {
	return m.unrealized, m.err
}

type mockHedge struct {
	settings map[string]models.HedgeSettings
}

func (m *mockHedge) GetHedgeSettings(ctx context.Context, accountID string) (models.HedgeSettings, bool, error) {
	s, ok := m.settings[accountID]
	return s, ok, nil
}

type mockTrades struct {
	trades []models.Trade
	err    error
}

func (m *mockTrades) GetLatestHedgeTrades(ctx context.Context, accountID string, date time.Time) ([]models.Trade, error) {
	return m.trades, m.err
}

type mockBroker struct {
	summary models.BrokerAccountSummary
	ok      bool
}

func (m *mockBroker) GetBrokerAccountSummary(ctx context.Context, companyID string, accountType types.AccountType) (models.BrokerAccountSummary, bool, error) {
	return m.summary, m.ok, nil
}

type mockVols struct {
	vols map[types.FxPair]float64
}

func (m *mockVols) GetSpotVols(ctx context.Context, date time.Time, pairs []types.FxPair) (map[types.FxPair]float64, error) {
	return m.vols, nil
}

type mockDirectory struct {
	companies []models.Company
	accounts  map[string][]models.Account
}

func (m *mockDirectory) ListCompanies(ctx context.Context) ([]models.Company, error) {
	return m.companies, nil
}

func (m *mockDirectory) GetCompany(ctx context.Context, companyID string) (models.Company, error) {
	for _, c := range m.companies {
		if c.ID == companyID {
			return c, nil
		}
	}
	return models.Company{}, apperrors.NewNotFoundError("company", companyID)
}

func (m *mockDirectory) ListAccounts(ctx context.Context, companyID string) ([]models.Account, error) {
	return m.accounts[companyID], nil
}

func (m *mockDirectory) GetAccount(ctx context.Context, accountID string) (models.Account, error) {
	for _, accounts := range m.accounts {
		for _, a := range accounts {
			if a.ID == accountID {
				return a, nil
			}
		}
	}
	return models.Account{}, apperrors.NewNotFoundError("account", accountID)
}

type mockRateTables struct{}

func (mockRateTables) LookupBroker(ctx context.Context, broker string) (bool, error) {
	return broker == "IBKR", nil
}

// RateRows serves flat GBP and USD tables: deposit 1% / 3%, loan 2% / 6%
func (mockRateTables) RateRows(ctx context.Context, broker string, from, to time.Time) ([]models.RateRow, error) {
	row := func(ccy types.Currency, dir types.Direction, rate float64) models.RateRow {
		return models.RateRow{Broker: broker, Currency: ccy, Date: to, Direction: dir, Rate: rate}
	}
	return []models.RateRow{
		row("GBP", types.DirectionDeposit, 0.01),
		row("USD", types.DirectionDeposit, 0.03),
		row("GBP", types.DirectionLoan, 0.02),
		row("USD", types.DirectionLoan, 0.06),
	}, nil
}

type mockCostTables struct{}

func (mockCostTables) PairRates(ctx context.Context, broker string, kind models.CostKind, date time.Time, pairs []types.FxPair) (map[types.FxPair]float64, error) {
	return map[types.FxPair]float64{types.NewFxPair("GBP", "USD"): 0.0001}, nil
}

type mockLock struct {
	mu       sync.Mutex
	held     map[string]bool
	released []string
}

func (m *mockLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, apperrors.NewLockHeldError(key)
	}
	m.held[key] = true
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
		m.released = append(m.released, key)
		return nil
	}, nil
}

type mockExporter struct {
	mu        sync.Mutex
	accounts  int
	companies int
}

func (m *mockExporter) ExportAccountSnapshots(ctx context.Context, snaps []*models.AccountSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts += len(snaps)
	return nil
}

func (m *mockExporter) ExportCompanySnapshot(ctx context.Context, snap *models.CompanySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies++
	return nil
}

// fixture wires one company with one live account
type fixture struct {
	company   models.Company
	account   models.Account
	positions *mockPositions
	pnl       *mockPnL
	hedge     *mockHedge
	trades    *mockTrades
	broker    *mockBroker
	vols      *mockVols
	directory *mockDirectory
	store     *storage.MemorySnapshotStore
	creator   *SnapshotCreatorService
}

func newFixture() *fixture {
	f := &fixture{
		company:   models.Company{ID: "c1", Name: "Acme", Domestic: "USD", Broker: "IBKR"},
		account:   models.Account{ID: "a1", CompanyID: "c1", Type: types.AccountLive, Domestic: "USD", Active: true},
		positions: newMockPositions(),
		pnl:       &mockPnL{realized: make(map[types.AccountType]models.PnLData)},
		hedge:     &mockHedge{settings: map[string]models.HedgeSettings{"a1": {AccountID: "a1", MaxHorizonDays: 90}}},
		trades:    &mockTrades{},
		broker:    &mockBroker{},
		vols:      &mockVols{vols: map[types.FxPair]float64{types.NewFxPair("GBP", "USD"): 0.1}},
		store:     storage.NewMemorySnapshotStore(),
	}
	f.directory = &mockDirectory{
		companies: []models.Company{f.company},
		accounts:  map[string][]models.Account{"c1": {f.account}},
	}
	costs := cost.NewCostProviderService(mockRateTables{}, mockCostTables{}, cost.NewRollCostCalculator(nil), nil)
	f.creator = NewSnapshotCreatorService(Providers{
		Spot:      &mockSpot{spots: map[types.FxPair]float64{types.NewFxPair("GBP", "USD"): 1.25}},
		Positions: f.positions,
		PnL:       f.pnl,
		Hedge:     f.hedge,
		Trades:    f.trades,
		Broker:    f.broker,
		Vols:      f.vols,
		Directory: f.directory,
	}, f.store, costs, config.SnapshotConfig{Brokers: []string{"IBKR"}, Concurrency: 2, LockTTL: time.Minute}, nil)
	f.creator.now = func() time.Time { return day2.Add(time.Hour) }
	return f
}

func (f *fixture) runContext(ref time.Time) *RunContext {
	rc, err := f.creator.NewRunContext(context.Background(), ref, []string{"IBKR"})
	if err != nil {
		panic(err)
	}
	return rc
}

func (f *fixture) create(ref time.Time) (*models.AccountSnapshot, error) {
	return f.creator.CreateAccountSnapshot(context.Background(), f.runContext(ref), f.company, f.account, DefaultCreateOptions())
}
