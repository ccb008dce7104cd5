package rates

import (
	"sort"
	"sync"
	"time"

	"github.com/hedge-snapshots/internal/models"
	"github.com/hedge-snapshots/internal/types"
)

// RatesCache holds one broker's interest (deposit) and loan tables as of a reference date.
// It is built once per run and never mutated afterwards.
type RatesCache struct {
	broker   string
	refDate  time.Time
	interest map[types.Currency]*TieredRateTable
	loan     map[types.Currency]*TieredRateTable
}

// NewRatesCache builds a cache from per-direction tables
func NewRatesCache(broker string, refDate time.Time, interest, loan map[types.Currency]*TieredRateTable) *RatesCache {
	c := &RatesCache{
		broker:   broker,
		refDate:  refDate,
		interest: make(map[types.Currency]*TieredRateTable, len(interest)),
		loan:     make(map[types.Currency]*TieredRateTable, len(loan)),
	}
	for ccy, t := range interest {
		c.interest[ccy] = t
	}
	for ccy, t := range loan {
		c.loan[ccy] = t
	}
	return c
}

// FromRows groups stored tier rows into tables. Per (direction, currency) only the rows of
// the most recent date are used, so tiers from different days are never mixed.
func FromRows(broker string, refDate time.Time, rows []models.RateRow) *RatesCache {
	type key struct {
		dir types.Direction
		ccy types.Currency
	}
	latest := make(map[key]time.Time)
	for _, r := range rows {
		k := key{r.Direction, r.Currency}
		if d, ok := latest[k]; !ok || r.Date.After(d) {
			latest[k] = r.Date
		}
	}

	tiers := make(map[key][]models.TieredRate)
	for _, r := range rows {
		k := key{r.Direction, r.Currency}
		if r.Date.Equal(latest[k]) {
			tiers[k] = append(tiers[k], r.Tier())
		}
	}

	interest := make(map[types.Currency]*TieredRateTable)
	loan := make(map[types.Currency]*TieredRateTable)
	for k, ts := range tiers {
		table := NewTieredRateTable(k.ccy, ts)
		if k.dir == types.DirectionLoan {
			loan[k.ccy] = table
		} else {
			interest[k.ccy] = table
		}
	}
	return NewRatesCache(broker, refDate, interest, loan)
}

// Broker is the broker the tables belong to
func (c *RatesCache) Broker() string { return c.broker }

// RefDate is the reference date the cache was built for
func (c *RatesCache) RefDate() time.Time { return c.refDate }

// Table returns the table for a direction and currency
func (c *RatesCache) Table(dir types.Direction, ccy types.Currency) (*TieredRateTable, bool) {
	var t *TieredRateTable
	if dir == types.DirectionLoan {
		t = c.loan[ccy]
	} else {
		t = c.interest[ccy]
	}
	return t, t != nil && len(t.Tiers) > 0
}

// HasCurrency reports whether both an interest and a loan table exist for ccy
func (c *RatesCache) HasCurrency(ccy types.Currency) bool {
	_, okDeposit := c.Table(types.DirectionDeposit, ccy)
	_, okLoan := c.Table(types.DirectionLoan, ccy)
	return okDeposit && okLoan
}

// Currencies lists the currencies with both tables, sorted
func (c *RatesCache) Currencies() []types.Currency {
	var out []types.Currency
	for ccy := range c.interest {
		if c.HasCurrency(ccy) {
			out = append(out, ccy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks every table and returns the failures by currency and direction
func (c *RatesCache) Validate() map[string]error {
	out := make(map[string]error)
	for ccy, t := range c.interest {
		if err := t.Validate(); err != nil {
			out[string(ccy)+"/"+types.DirectionDeposit.String()] = err
		}
	}
	for ccy, t := range c.loan {
		if err := t.Validate(); err != nil {
			out[string(ccy)+"/"+types.DirectionLoan.String()] = err
		}
	}
	return out
}

// BrokerRatesCaches is the per-run registry of caches by broker name
type BrokerRatesCaches struct {
	mu     sync.RWMutex
	caches map[string]*RatesCache
}

// NewBrokerRatesCaches returns an empty registry
func NewBrokerRatesCaches() *BrokerRatesCaches {
	return &BrokerRatesCaches{caches: make(map[string]*RatesCache)}
}

// Add registers a cache under its broker, replacing any previous one
func (b *BrokerRatesCaches) Add(c *RatesCache) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.caches[c.Broker()] = c
}

// Get returns the cache of a broker
func (b *BrokerRatesCaches) Get(broker string) (*RatesCache, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.caches[broker]
	return c, ok
}

// Brokers lists the registered brokers, sorted
func (b *BrokerRatesCaches) Brokers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.caches))
	for name := range b.caches {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len is the number of registered brokers
func (b *BrokerRatesCaches) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.caches)
}
