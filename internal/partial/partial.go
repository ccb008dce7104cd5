// Package partial collects the failures of best-effort sub-computations next to
// their defaulted results, so a degraded field is recorded rather than swallowed.
package partial

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hedge-snapshots/internal/logging"
)

// Warning records one degraded field
type Warning struct {
	Field string `json:"field"`
	Err   error  `json:"-"`
}

// Error implements error
func (w Warning) Error() string {
	return fmt.Sprintf("%s: %v", w.Field, w.Err)
}

// Unwrap exposes the underlying failure
func (w Warning) Unwrap() error { return w.Err }

// Collector accumulates warnings. The zero value is ready to use and safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	warnings []Warning
	logger   *logging.Logger
}

// NewCollector returns a collector that also logs each warning as it is recorded
func NewCollector(logger *logging.Logger) *Collector {
	return &Collector{logger: logger}
}

// Add records a failure for field. A nil err is ignored.
func (c *Collector) Add(field string, err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.warnings = append(c.warnings, Warning{Field: field, Err: err})
	c.mu.Unlock()
	if c.logger != nil {
		c.logger.WithField("field", field).WithError(err).Warn("Defaulting field after failed computation")
	}
}

// Warnings returns a copy of what has been recorded
func (c *Collector) Warnings() []Warning {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Warning, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// Fields returns the degraded field names in recording order
func (c *Collector) Fields() []string {
	ws := c.Warnings()
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Field
	}
	return out
}

// Len is the number of warnings recorded
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.warnings)
}

// Err joins every warning into one error, or returns nil when there are none
func (c *Collector) Err() error {
	ws := c.Warnings()
	if len(ws) == 0 {
		return nil
	}
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.Error()
	}
	return fmt.Errorf("%d degraded field(s): %s", len(ws), strings.Join(parts, "; "))
}

// Or returns v, or fallback with the failure recorded under field when err is non-nil
func Or[T any](c *Collector, field string, v T, err error, fallback T) T {
	if err != nil {
		c.Add(field, err)
		return fallback
	}
	return v
}

// Try runs fn and defaults its result on failure
func Try[T any](c *Collector, field string, fallback T, fn func() (T, error)) T {
	v, err := fn()
	return Or(c, field, v, err, fallback)
}
