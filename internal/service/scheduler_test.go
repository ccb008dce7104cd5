package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_NextRun(t *testing.T) {
	s, err := NewScheduler(nil, "01:30", nil)
	require.NoError(t, err)

	before := time.Date(2024, 3, 1, 0, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 1, 30, 0, 0, time.UTC), s.NextRun(before))

	at := time.Date(2024, 3, 1, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 2, 1, 30, 0, 0, time.UTC), s.NextRun(at))

	midnight, err := NewScheduler(nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), midnight.NextRun(before))
}

func TestScheduler_InvalidRunAt(t *testing.T) {
	_, err := NewScheduler(nil, "25:99", nil)
	assert.Error(t, err)
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler(newFixture().creator, "00:00", nil)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(context.Background()), "already running")

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Error(t, s.Stop())
}
