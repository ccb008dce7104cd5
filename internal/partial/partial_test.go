package partial

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTry_DefaultsAndRecords(t *testing.T) {
	var c Collector
	boom := errors.New("commission table unavailable")

	got := Try(&c, "commissions", map[string]float64{}, func() (map[string]float64, error) {
		return nil, boom
	})
	require.NotNil(t, got)
	assert.Empty(t, got)

	margin := Try(&c, "margin", math.NaN(), func() (float64, error) {
		return 0, errors.New("no vol")
	})
	assert.True(t, math.IsNaN(margin))

	ok := Try(&c, "spread", 0.0, func() (float64, error) { return 0.5, nil })
	assert.Equal(t, 0.5, ok)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"commissions", "margin"}, c.Fields())
	assert.ErrorIs(t, c.Warnings()[0], boom)
	assert.Contains(t, c.Err().Error(), "2 degraded field(s)")
}

func TestCollector_EmptyErr(t *testing.T) {
	var c Collector
	c.Add("ignored", nil)
	assert.NoError(t, c.Err())
	assert.Zero(t, c.Len())
}
