package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hedge-snapshots/internal/config"
	"github.com/hedge-snapshots/internal/cost"
	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/logging"
	"github.com/hedge-snapshots/internal/metrics"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/provider"
	"github.com/hedge-snapshots/internal/rates"
	"github.com/hedge-snapshots/internal/types"
)

// Providers groups the external collaborators of the snapshot engine.
// Trades, Broker and Vols may be nil; their fields are then left at zero, nil and NaN.
type Providers struct {
	Spot      provider.SpotFxSource
	Positions provider.PositionCashflowProvider
	PnL       provider.PnLProvider
	Hedge     provider.HedgeSettingsProvider
	Trades    provider.TradeActivityProvider
	Broker    provider.BrokerSummaryProvider
	Vols      provider.VolatilityProvider
	Directory provider.AccountDirectory
}

// SnapshotCreatorService computes account and company snapshots and links them into
// their chains
type SnapshotCreatorService struct {
	providers Providers
	store     SnapshotStore
	costs     *cost.CostProviderService
	calc      *cost.RollCostCalculator
	margin    *MarginEstimator
	lock      RunLock
	exporter  HistoryExporter
	cfg       config.SnapshotConfig
	logger    *logging.Logger
	now       func() time.Time
}

// NewSnapshotCreatorService creates a new snapshot creator service
func NewSnapshotCreatorService(
	providers Providers,
	store SnapshotStore,
	costs *cost.CostProviderService,
	cfg config.SnapshotConfig,
	logger *logging.Logger,
) *SnapshotCreatorService {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &SnapshotCreatorService{
		providers: providers,
		store:     store,
		costs:     costs,
		calc:      cost.NewRollCostCalculator(logger),
		margin:    NewMarginEstimator(providers.Vols, cfg.MarginHoldingDays, cfg.MarginConfidence),
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithRunLock serializes company runs through lock
func (s *SnapshotCreatorService) WithRunLock(lock RunLock) *SnapshotCreatorService {
	s.lock = lock
	return s
}

// WithExporter exports every created snapshot after it is stored
func (s *SnapshotCreatorService) WithExporter(exporter HistoryExporter) *SnapshotCreatorService {
	s.exporter = exporter
	return s
}

// RunContext holds what one run shares across entities: the reference date, spot rates,
// the rates caches of every broker and the cost caches built so far. All of it is
// read-only once built.
type RunContext struct {
	ID      string
	RefDate time.Time
	Spot    provider.SpotFxConverter
	Rates   *rates.BrokerRatesCaches
	// RatesFailures holds the brokers whose rates cache failed to build
	RatesFailures map[string]error

	mu    sync.Mutex
	costs map[costKey]*cost.CostCache
}

type costKey struct {
	broker   string
	domestic types.Currency
}

// NewRunContext loads spot rates and builds the rates cache of every broker for refDate
func (s *SnapshotCreatorService) NewRunContext(ctx context.Context, refDate time.Time, brokers []string) (*RunContext, error) {
	spots, err := s.providers.Spot.SpotRates(ctx, refDate)
	if err != nil {
		return nil, apperrors.NewProviderError("spot rates", err)
	}
	window := s.cfg.RatesWindowDays
	if window <= 0 {
		window = cost.DefaultRatesWindowDays
	}
	caches, failures := s.costs.CreateAllRatesCaches(ctx, refDate, brokers, window)
	for broker := range failures {
		metrics.RatesCacheFailures.WithLabelValues(broker).Inc()
	}
	return &RunContext{
		ID:            uuid.NewString(),
		RefDate:       refDate,
		Spot:          provider.NewSpotFxCache(refDate, spots),
		Rates:         caches,
		RatesFailures: failures,
		costs:         make(map[costKey]*cost.CostCache),
	}, nil
}

// ratesFor returns the rates cache of broker
func (rc *RunContext) ratesFor(broker string) (*rates.RatesCache, error) {
	if c, ok := rc.Rates.Get(broker); ok {
		return c, nil
	}
	if err, ok := rc.RatesFailures[broker]; ok {
		return nil, err
	}
	return nil, apperrors.NewBrokerNotFoundError(broker)
}

// costCache builds the cost cache of (broker, domestic) on first use
func (s *SnapshotCreatorService) costCache(ctx context.Context, rc *RunContext, broker string, domestic types.Currency) *cost.CostCache {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	k := costKey{broker: broker, domestic: domestic}
	if c, ok := rc.costs[k]; ok {
		return c
	}
	req := cost.CostRequest{Date: rc.RefDate, Broker: broker, Domestic: domestic}
	if r, ok := rc.Rates.Get(broker); ok {
		req.Rates = r
	}
	c, warnings := s.costs.GetCostProvider(ctx, req, rc.Spot)
	for _, w := range warnings {
		metrics.DegradedFieldsTotal.WithLabelValues("cost_" + w.Field).Inc()
	}
	rc.costs[k] = c
	return c
}

// EntityResult is the outcome of one entity in a run
type EntityResult struct {
	Entity   types.EntityKey `json:"entity"`
	Outcome  string          `json:"outcome"`
	Degraded []string        `json:"degraded,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// RunSummary reports a run per entity
type RunSummary struct {
	RunID         string            `json:"runId"`
	RefDate       time.Time         `json:"refDate"`
	StartedAt     time.Time         `json:"startedAt"`
	FinishedAt    time.Time         `json:"finishedAt"`
	Results       []EntityResult    `json:"results"`
	RatesFailures map[string]string `json:"ratesFailures,omitempty"`

	mu sync.Mutex
}

func (r *RunSummary) add(results ...EntityResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Results = append(r.Results, results...)
}

// Count is the number of results with outcome
func (r *RunSummary) Count(outcome string) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Failed returns the failed results
func (r *RunSummary) Failed() []EntityResult {
	var out []EntityResult
	for _, res := range r.Results {
		if res.Outcome == metrics.OutcomeFailed {
			out = append(out, res)
		}
	}
	return out
}

func resultFor(key types.EntityKey, degraded []string, err error) EntityResult {
	res := EntityResult{Entity: key, Degraded: degraded}
	switch {
	case err == nil:
		res.Outcome = metrics.OutcomeCreated
	case errors.Is(err, ErrNotEligible):
		res.Outcome = metrics.OutcomeSkipped
	case apperrors.HasCode(err, apperrors.CodeSnapshotExists):
		res.Outcome = metrics.OutcomeExisting
	case apperrors.HasCode(err, apperrors.CodeLockHeld):
		res.Outcome = metrics.OutcomeSkipped
		res.Error = err.Error()
	default:
		res.Outcome = metrics.OutcomeFailed
		res.Error = err.Error()
	}
	metrics.ObserveSnapshot(string(key.Kind), res.Outcome, degraded)
	return res
}

// Run snapshots the given companies, or every company when none are given, at refDate.
// Companies run concurrently up to the configured limit; one company's failure never stops
// the others.
func (s *SnapshotCreatorService) Run(ctx context.Context, refDate time.Time, companyIDs []string) (*RunSummary, error) {
	started := s.now()
	companies, err := s.selectCompanies(ctx, companyIDs)
	if err != nil {
		return nil, err
	}

	brokers := brokerSet(s.cfg.Brokers, companies)
	rc, err := s.NewRunContext(ctx, refDate, brokers)
	if err != nil {
		return nil, err
	}
	logger := s.logger.WithRun(rc.ID, refDate)
	logger.WithFields(map[string]interface{}{
		"companies": len(companies),
		"brokers":   len(brokers),
	}).Info("Starting snapshot run")

	summary := &RunSummary{RunID: rc.ID, RefDate: refDate, StartedAt: started}
	if len(rc.RatesFailures) > 0 {
		summary.RatesFailures = make(map[string]string, len(rc.RatesFailures))
		for broker, ferr := range rc.RatesFailures {
			summary.RatesFailures[broker] = ferr.Error()
		}
	}

	limit := s.cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for _, company := range companies {
		if ctx.Err() != nil {
			summary.add(EntityResult{Entity: company.Key(), Outcome: metrics.OutcomeFailed, Error: ctx.Err().Error()})
			continue
		}
		wg.Add(1)
		go func(company models.Company) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			summary.add(s.CreateFullSnapshotForCompany(ctx, rc, company)...)
		}(company)
	}
	wg.Wait()

	sort.SliceStable(summary.Results, func(i, j int) bool {
		return summary.Results[i].Entity.String() < summary.Results[j].Entity.String()
	})
	summary.FinishedAt = s.now()
	metrics.ObserveRun(started)
	logger.WithFields(map[string]interface{}{
		"created":  summary.Count(metrics.OutcomeCreated),
		"existing": summary.Count(metrics.OutcomeExisting),
		"skipped":  summary.Count(metrics.OutcomeSkipped),
		"failed":   summary.Count(metrics.OutcomeFailed),
	}).Info("Snapshot run finished")
	return summary, nil
}

func (s *SnapshotCreatorService) selectCompanies(ctx context.Context, ids []string) ([]models.Company, error) {
	if len(ids) == 0 {
		companies, err := s.providers.Directory.ListCompanies(ctx)
		if err != nil {
			return nil, apperrors.NewProviderError("directory", err)
		}
		return companies, nil
	}
	out := make([]models.Company, 0, len(ids))
	for _, id := range ids {
		c, err := s.providers.Directory.GetCompany(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func brokerSet(configured []string, companies []models.Company) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(b string) {
		if b != "" && !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	for _, b := range configured {
		add(b)
	}
	for _, c := range companies {
		add(c.Broker)
	}
	sort.Strings(out)
	return out
}

// CreateFullSnapshotForCompany snapshots every active account of company, then the company
// itself, under the company's run lock
func (s *SnapshotCreatorService) CreateFullSnapshotForCompany(ctx context.Context, rc *RunContext, company models.Company) []EntityResult {
	start := time.Now()
	defer func() { metrics.CompanyDuration.Observe(time.Since(start).Seconds()) }()
	logger := s.logger.WithRun(rc.ID, rc.RefDate).WithEntity(company.Key())

	if s.lock != nil {
		key := fmt.Sprintf("snapshot:%s:%s", company.ID, rc.RefDate.Format(time.RFC3339))
		release, err := s.lock.Acquire(ctx, key, s.cfg.LockTTL)
		if err != nil {
			logger.WithError(err).Warn("Company is locked by another run, skipping")
			return []EntityResult{resultFor(company.Key(), nil, err)}
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				logger.WithError(err).Warn("Failed to release run lock")
			}
		}()
	}

	accounts, err := s.providers.Directory.ListAccounts(ctx, company.ID)
	if err != nil {
		return []EntityResult{resultFor(company.Key(), nil, apperrors.NewProviderError("directory", err))}
	}

	var results []EntityResult
	var created []*models.AccountSnapshot
	for _, account := range accounts {
		if !account.Active {
			continue
		}
		snap, err := s.CreateAccountSnapshot(ctx, rc, company, account, DefaultCreateOptions())
		var degraded []string
		if snap != nil {
			degraded = snap.DegradedFields
		}
		if err != nil && !errors.Is(err, ErrNotEligible) && !apperrors.HasCode(err, apperrors.CodeSnapshotExists) {
			logger.WithField("account_id", account.ID).WithError(err).Error("Failed to create account snapshot")
		}
		if err == nil {
			created = append(created, snap)
		}
		results = append(results, resultFor(account.Key(), degraded, err))
	}

	// Company snapshot aggregates the account snapshots stored above
	csnap, err := s.CreateCompanySnapshot(ctx, rc, company, DefaultCreateOptions())
	var degraded []string
	if csnap != nil {
		degraded = csnap.DegradedFields
	}
	if err != nil && !apperrors.HasCode(err, apperrors.CodeSnapshotExists) {
		logger.WithError(err).Error("Failed to create company snapshot")
	}
	results = append(results, resultFor(company.Key(), degraded, err))

	s.export(ctx, logger, created, csnap, err == nil)
	return results
}

func (s *SnapshotCreatorService) export(ctx context.Context, logger *logging.Logger, accounts []*models.AccountSnapshot, company *models.CompanySnapshot, companyCreated bool) {
	if s.exporter == nil {
		return
	}
	if len(accounts) > 0 {
		if err := s.exporter.ExportAccountSnapshots(ctx, accounts); err != nil {
			logger.WithError(err).Warn("Failed to export account snapshots")
		}
	}
	if companyCreated && company != nil {
		if err := s.exporter.ExportCompanySnapshot(ctx, company); err != nil {
			logger.WithError(err).Warn("Failed to export company snapshot")
		}
	}
}

// CreateAccountSnapshot computes the snapshot of account at the run's reference date and,
// with opts.Save, stores it. An existing snapshot at that time is returned with
// SNAPSHOT_EXISTS and left untouched; use RedoAccountSnapshot to replace it.
func (s *SnapshotCreatorService) CreateAccountSnapshot(ctx context.Context, rc *RunContext, company models.Company, account models.Account, opts CreateOptions) (*models.AccountSnapshot, error) {
	if opts.Save {
		existing, err := s.store.GetAccountSnapshot(ctx, account.ID, rc.RefDate)
		if err == nil {
			return existing, apperrors.NewSnapshotExistsError(account.Key(), rc.RefDate.Format(time.RFC3339))
		}
		if !apperrors.HasCode(err, apperrors.CodeSnapshotNotFound) {
			return nil, err
		}
	}

	snap, err := s.GenerateAccountSnapshot(ctx, rc, company, account)
	if err != nil {
		return nil, err
	}
	if !opts.Save {
		return snap, nil
	}
	if err := s.store.InsertAccountSnapshot(ctx, snap, opts.AttachToChain); err != nil {
		return nil, err
	}
	return snap, nil
}

// RedoAccountSnapshot recomputes the stored snapshot of account at the run's reference date
// and swaps it in through the store's replacement path
func (s *SnapshotCreatorService) RedoAccountSnapshot(ctx context.Context, rc *RunContext, company models.Company, account models.Account) (*models.AccountSnapshot, error) {
	if _, err := s.store.GetAccountSnapshot(ctx, account.ID, rc.RefDate); err != nil {
		return nil, err
	}
	snap, err := s.GenerateAccountSnapshot(ctx, rc, company, account)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceAccountSnapshot(ctx, snap); err != nil {
		return nil, err
	}
	metrics.ObserveSnapshot(string(types.EntityAccount), metrics.OutcomeReplaced, snap.DegradedFields)
	return snap, nil
}

// RedoAccountRange replaces every stored snapshot of account within [from, to], oldest first.
// It stops at the first failure since later snapshots chain from the earlier ones.
func (s *SnapshotCreatorService) RedoAccountRange(ctx context.Context, accountID string, from, to time.Time) (*RunSummary, error) {
	account, err := s.providers.Directory.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	company, err := s.providers.Directory.GetCompany(ctx, account.CompanyID)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListAccountSnapshots(ctx, accountID, from, to)
	if err != nil {
		return nil, err
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].SnapshotTime.Before(existing[j].SnapshotTime) })

	summary := &RunSummary{RunID: uuid.NewString(), RefDate: to, StartedAt: s.now()}
	for _, old := range existing {
		rc, err := s.NewRunContext(ctx, old.SnapshotTime, brokerSet(s.cfg.Brokers, []models.Company{company}))
		if err != nil {
			summary.add(EntityResult{Entity: account.Key(), Outcome: metrics.OutcomeFailed, Error: err.Error()})
			break
		}
		snap, err := s.RedoAccountSnapshot(ctx, rc, company, account)
		if err != nil {
			s.logger.WithEntity(account.Key()).WithField("snapshot_time", old.SnapshotTime).WithError(err).Error("Redo failed, stopping")
			summary.add(EntityResult{Entity: account.Key(), Outcome: metrics.OutcomeFailed, Error: err.Error()})
			break
		}
		summary.add(EntityResult{Entity: account.Key(), Outcome: metrics.OutcomeReplaced, Degraded: snap.DegradedFields})
	}
	summary.FinishedAt = s.now()
	return summary, nil
}

// CreateCompanySnapshot computes and optionally stores the company snapshot at the run's
// reference date. Account snapshots of the same date should be stored first.
func (s *SnapshotCreatorService) CreateCompanySnapshot(ctx context.Context, rc *RunContext, company models.Company, opts CreateOptions) (*models.CompanySnapshot, error) {
	if opts.Save {
		existing, err := s.store.GetCompanySnapshot(ctx, company.ID, rc.RefDate)
		if err == nil {
			return existing, apperrors.NewSnapshotExistsError(company.Key(), rc.RefDate.Format(time.RFC3339))
		}
		if !apperrors.HasCode(err, apperrors.CodeSnapshotNotFound) {
			return nil, err
		}
	}

	snap, err := s.GenerateCompanySnapshot(ctx, rc, company)
	if err != nil {
		return nil, err
	}
	if !opts.Save {
		return snap, nil
	}
	if err := s.store.InsertCompanySnapshot(ctx, snap, opts.AttachToChain); err != nil {
		return nil, err
	}
	return snap, nil
}

// AttachAccountSnapshot completes a snapshot stored with AttachToChain off by pointing its
// predecessor's Next at it
func (s *SnapshotCreatorService) AttachAccountSnapshot(ctx context.Context, accountID string, t time.Time) error {
	return s.store.AttachAccountSnapshot(ctx, accountID, t)
}

// AttachCompanySnapshot is AttachAccountSnapshot for a company chain
func (s *SnapshotCreatorService) AttachCompanySnapshot(ctx context.Context, companyID string, t time.Time) error {
	return s.store.AttachCompanySnapshot(ctx, companyID, t)
}
