// Package adapter connects the snapshot engine to the upstream data service that owns
// positions, cashflows, P&L, trades, broker reports and market data.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hedge-snapshots/internal/circuitbreaker"
	"github.com/hedge-snapshots/internal/config"
	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/logging"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/provider"
	"github.com/hedge-snapshots/internal/retry"
	"github.com/hedge-snapshots/internal/types"
)

const dateLayout = "2006-01-02"

// ProviderClient is a JSON-over-HTTP client for the data service. Every call is throttled,
// retried on transient failures and guarded by one circuit breaker.
type ProviderClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	retry   *retry.RetryConfig
	logger  *logging.Logger
}

// NewProviderClient creates a client from the providers configuration
func NewProviderClient(cfg config.ProvidersConfig, logger *logging.Logger) *ProviderClient {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	retryCfg := retry.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries + 1
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &ProviderClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("data-service")),
		retry:   retryCfg,
		logger:  logger.WithField("component", "provider_client"),
	}
}

// BreakerState reports the state of the client's circuit breaker
func (c *ProviderClient) BreakerState() circuitbreaker.State {
	return c.breaker.GetState()
}

// do sends one request and decodes the JSON response into out. A nil out discards the body.
func (c *ProviderClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return apperrors.NewInternalError("encode provider request", err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	_, err := retry.Do(ctx, c.retry, func(ctx context.Context) (struct{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, err
		}
		// only upstream failures count against the breaker
		var rejected error
		err := c.breaker.Execute(ctx, func() error {
			err := c.send(ctx, method, target, payload, out)
			if err != nil && !apperrors.IsRetryable(err) {
				rejected = err
				return nil
			}
			return err
		})
		if err == nil {
			err = rejected
		}
		return struct{}{}, err
	})
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"method": method,
			"path":   path,
		}).WithError(err).Debug("Provider request failed")
	}
	return err
}

func (c *ProviderClient) send(ctx context.Context, method, target string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return apperrors.NewInternalError("build provider request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewProviderError(target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewProviderError(target, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.NewNotFoundError("provider resource", target)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperrors.NewProviderError(target, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data)))
	case resp.StatusCode >= 400:
		return apperrors.NewInvalidParameterError(target, fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(data)))
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewProviderError(target, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

func isNotFound(err error) bool {
	return apperrors.HasCode(err, apperrors.CodeNotFound)
}

type pairRate struct {
	Pair string  `json:"pair"`
	Rate float64 `json:"rate"`
}

type pairRatesResponse struct {
	Rates []pairRate `json:"rates"`
}

func (r pairRatesResponse) toMap() (map[types.FxPair]float64, error) {
	out := make(map[types.FxPair]float64, len(r.Rates))
	for _, q := range r.Rates {
		pair, err := types.ParseFxPair(q.Pair)
		if err != nil {
			return nil, apperrors.NewProviderError("rates", err)
		}
		out[pair] = q.Rate
	}
	return out, nil
}

func pairNames(pairs []types.FxPair) string {
	names := make([]string, len(pairs))
	for i, p := range pairs {
		names[i] = p.Name()
	}
	return strings.Join(names, ",")
}

// SpotRates implements provider.SpotFxSource
func (c *ProviderClient) SpotRates(ctx context.Context, date time.Time) (map[types.FxPair]float64, error) {
	var resp pairRatesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/fx/spot", url.Values{"date": {date.Format(dateLayout)}}, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toMap()
}

// GetSpotVols implements provider.VolatilityProvider
func (c *ProviderClient) GetSpotVols(ctx context.Context, date time.Time, pairs []types.FxPair) (map[types.FxPair]float64, error) {
	q := url.Values{"date": {date.Format(dateLayout)}}
	if len(pairs) > 0 {
		q.Set("pairs", pairNames(pairs))
	}
	var resp pairRatesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/fx/vols", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.toMap()
}

type positionsResponse struct {
	Cash map[types.Currency]float64 `json:"cash"`
	Fx   []models.FxPosition        `json:"fx"`
}

// GetCashPositions implements provider.PositionCashflowProvider
func (c *ProviderClient) GetCashPositions(ctx context.Context, entity types.EntityKey, date time.Time) (models.CashPositions, []models.FxPosition, error) {
	q := url.Values{
		"kind": {string(entity.Kind)},
		"id":   {entity.ID},
		"date": {date.Format(dateLayout)},
	}
	var resp positionsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/positions", q, nil, &resp); err != nil {
		return nil, nil, err
	}
	cash := models.CashPositions(resp.Cash)
	if cash == nil {
		cash = models.CashPositions{}
	}
	return cash, resp.Fx, nil
}

func windowQuery(inclusive, includeEnd bool) url.Values {
	return url.Values{
		"inclusive":   {strconv.FormatBool(inclusive)},
		"include_end": {strconv.FormatBool(includeEnd)},
	}
}

// GetFlowsForAccount implements provider.PositionCashflowProvider
func (c *ProviderClient) GetFlowsForAccount(ctx context.Context, accountID string, date time.Time, maxHorizonDays int, inclusive, includeEnd bool) (models.FlowSet, error) {
	q := windowQuery(inclusive, includeEnd)
	q.Set("date", date.Format(dateLayout))
	q.Set("horizon_days", strconv.Itoa(maxHorizonDays))

	var flows models.FlowSet
	err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/cashflows", q, nil, &flows)
	return flows, err
}

type valueRequest struct {
	Cashflows []models.Cashflow `json:"cashflows"`
	Date      string            `json:"date"`
	Domestic  types.Currency    `json:"domestic"`
}

// GetCashflowValueSummary implements provider.PositionCashflowProvider
func (c *ProviderClient) GetCashflowValueSummary(ctx context.Context, flows []models.Cashflow, date time.Time, domestic types.Currency) (models.CashflowValueSummary, error) {
	if len(flows) == 0 {
		return models.CashflowValueSummary{}, nil
	}
	body := valueRequest{Cashflows: flows, Date: date.Format(dateLayout), Domestic: domestic}
	var summary models.CashflowValueSummary
	err := c.do(ctx, http.MethodPost, "/v1/cashflows/value", nil, body, &summary)
	return summary, err
}

type historicalValueResponse struct {
	Value float64 `json:"value"`
	Count int     `json:"count"`
}

// GetHistoricalCashflowsValue implements provider.PositionCashflowProvider
func (c *ProviderClient) GetHistoricalCashflowsValue(ctx context.Context, accountID string, start, end time.Time, inclusive, includeEnd bool) (float64, int, error) {
	q := windowQuery(inclusive, includeEnd)
	q.Set("start", start.Format(time.RFC3339))
	q.Set("end", end.Format(time.RFC3339))

	var resp historicalValueResponse
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/cashflows/historical", q, nil, &resp); err != nil {
		return 0, 0, err
	}
	return resp.Value, resp.Count, nil
}

// GetNPVForCashflowsInRange implements provider.PositionCashflowProvider
func (c *ProviderClient) GetNPVForCashflowsInRange(ctx context.Context, accountID string, date, start, end time.Time, inclusive, includeEnd bool) (models.RangeNPV, error) {
	q := windowQuery(inclusive, includeEnd)
	q.Set("date", date.Format(dateLayout))
	q.Set("start", start.Format(time.RFC3339))
	q.Set("end", end.Format(time.RFC3339))

	var npv models.RangeNPV
	err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/cashflows/npv", q, nil, &npv)
	return npv, err
}

type dateRangeResponse struct {
	MinCreated time.Time `json:"minCreated"`
	MaxPay     time.Time `json:"maxPay"`
}

// GetCashflowDateRange implements provider.PositionCashflowProvider. ok is false for an
// account without cashflows.
func (c *ProviderClient) GetCashflowDateRange(ctx context.Context, accountID string) (time.Time, time.Time, bool, error) {
	var resp dateRangeResponse
	err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/cashflows/range", nil, nil, &resp)
	if isNotFound(err) {
		return time.Time{}, time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return resp.MinCreated, resp.MaxPay, true, nil
}

// GetCompanyPositionsSummary implements provider.PositionCashflowProvider
func (c *ProviderClient) GetCompanyPositionsSummary(ctx context.Context, companyID string, accountType types.AccountType, date time.Time) (models.PositionsSummary, error) {
	q := url.Values{
		"account_type": {string(accountType)},
		"date":         {date.Format(dateLayout)},
	}
	var summary models.PositionsSummary
	err := c.do(ctx, http.MethodGet, "/v1/companies/"+url.PathEscape(companyID)+"/positions/summary", q, nil, &summary)
	return summary, err
}

type realizedRequest struct {
	EntityKind   types.EntityKind    `json:"entityKind"`
	EntityID     string              `json:"entityId"`
	AccountTypes []types.AccountType `json:"accountTypes,omitempty"`
	Start        time.Time           `json:"start"`
	End          time.Time           `json:"end"`
	IncludeStart bool                `json:"includeStart"`
}

// GetRealizedPnL implements provider.PnLProvider
func (c *ProviderClient) GetRealizedPnL(ctx context.Context, q provider.RealizedPnLQuery) (models.PnLData, error) {
	body := realizedRequest{
		EntityKind:   q.Entity.Kind,
		EntityID:     q.Entity.ID,
		AccountTypes: q.AccountTypes,
		Start:        q.Start,
		End:          q.End,
		IncludeStart: q.IncludeStart,
	}
	var pnl models.PnLData
	err := c.do(ctx, http.MethodPost, "/v1/pnl/realized", nil, body, &pnl)
	return pnl, err
}

// GetUnrealizedPnL implements provider.PnLProvider
func (c *ProviderClient) GetUnrealizedPnL(ctx context.Context, accountID string, date time.Time) (models.PnLData, error) {
	var pnl models.PnLData
	err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/pnl/unrealized",
		url.Values{"date": {date.Format(dateLayout)}}, nil, &pnl)
	return pnl, err
}

type tradesResponse struct {
	Trades []models.Trade `json:"trades"`
}

// GetLatestHedgeTrades implements provider.TradeActivityProvider
func (c *ProviderClient) GetLatestHedgeTrades(ctx context.Context, accountID string, date time.Time) ([]models.Trade, error) {
	var resp tradesResponse
	err := c.do(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID)+"/hedges/latest",
		url.Values{"date": {date.Format(time.RFC3339)}}, nil, &resp)
	if isNotFound(err) {
		return nil, nil
	}
	return resp.Trades, err
}

// GetBrokerAccountSummary implements provider.BrokerSummaryProvider. ok is false when the
// broker has no report for the company.
func (c *ProviderClient) GetBrokerAccountSummary(ctx context.Context, companyID string, accountType types.AccountType) (models.BrokerAccountSummary, bool, error) {
	var summary models.BrokerAccountSummary
	err := c.do(ctx, http.MethodGet, "/v1/companies/"+url.PathEscape(companyID)+"/broker/summary",
		url.Values{"account_type": {string(accountType)}}, nil, &summary)
	if isNotFound(err) {
		return models.BrokerAccountSummary{}, false, nil
	}
	if err != nil {
		return models.BrokerAccountSummary{}, false, err
	}
	return summary, true, nil
}

var (
	_ provider.SpotFxSource             = (*ProviderClient)(nil)
	_ provider.VolatilityProvider       = (*ProviderClient)(nil)
	_ provider.PositionCashflowProvider = (*ProviderClient)(nil)
	_ provider.PnLProvider              = (*ProviderClient)(nil)
	_ provider.TradeActivityProvider    = (*ProviderClient)(nil)
	_ provider.BrokerSummaryProvider    = (*ProviderClient)(nil)
)
