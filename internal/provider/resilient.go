package provider

import (
	"context"

	"github.com/hedge-snapshots/internal/circuitbreaker"
	apperrors "github.com/hedge-snapshots/internal/errors"
	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/retry"
	"github.com/hedge-snapshots/internal/types"
)

// ResilientBrokerSummary retries transient failures of a BrokerSummaryProvider and
// stops calling a broker once its breaker opens.
type ResilientBrokerSummary struct {
	next     BrokerSummaryProvider
	breakers *circuitbreaker.Manager
	retry    *retry.RetryConfig
	// breakerKey maps a company to the breaker guarding its broker
	breakerKey func(companyID string) string
}

// NewResilientBrokerSummary wraps next. A nil breakerKey uses one breaker for all companies.
func NewResilientBrokerSummary(next BrokerSummaryProvider, breakers *circuitbreaker.Manager, cfg *retry.RetryConfig, breakerKey func(string) string) *ResilientBrokerSummary {
	if cfg == nil {
		cfg = retry.DefaultRetryConfig()
	}
	if breakerKey == nil {
		breakerKey = func(string) string { return "broker-summary" }
	}
	return &ResilientBrokerSummary{next: next, breakers: breakers, retry: cfg, breakerKey: breakerKey}
}

type summaryResult struct {
	summary models.BrokerAccountSummary
	ok      bool
}

// GetBrokerAccountSummary implements BrokerSummaryProvider
func (r *ResilientBrokerSummary) GetBrokerAccountSummary(ctx context.Context, companyID string, accountType types.AccountType) (models.BrokerAccountSummary, bool, error) {
	cb := r.breakers.Get(r.breakerKey(companyID))

	var res summaryResult
	err := cb.Execute(ctx, func() error {
		var err error
		res, err = retry.Do(ctx, r.retry, func(ctx context.Context) (summaryResult, error) {
			s, ok, err := r.next.GetBrokerAccountSummary(ctx, companyID, accountType)
			if err != nil {
				return summaryResult{}, apperrors.NewProviderError("broker summary", err)
			}
			return summaryResult{summary: s, ok: ok}, nil
		})
		return err
	})
	if err != nil {
		return models.BrokerAccountSummary{}, false, err
	}
	return res.summary, res.ok, nil
}
