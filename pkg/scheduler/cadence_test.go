package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimateInterval(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	minI := 300 * time.Second
	maxI := 43200 * time.Second

	t.Run("half the average gap", func(t *testing.T) {
		// items two hours apart, expect one hour
		ts := []time.Time{base, base.Add(2 * time.Hour), base.Add(4 * time.Hour)}
		got, ok := EstimateInterval(ts, minI, maxI)
		assert.True(t, ok)
		assert.Equal(t, time.Hour, got)
	})

	t.Run("order does not matter", func(t *testing.T) {
		ts := []time.Time{base.Add(4 * time.Hour), base, base.Add(2 * time.Hour)}
		got, ok := EstimateInterval(ts, minI, maxI)
		assert.True(t, ok)
		assert.Equal(t, time.Hour, got)
	})

	t.Run("clamped to minimum", func(t *testing.T) {
		// two minutes apart would suggest one minute
		ts := []time.Time{base, base.Add(2 * time.Minute), base.Add(4 * time.Minute)}
		got, ok := EstimateInterval(ts, minI, maxI)
		assert.True(t, ok)
		assert.Equal(t, minI, got)
	})

	t.Run("clamped to maximum", func(t *testing.T) {
		// a week apart would suggest 3.5 days
		ts := []time.Time{base, base.Add(7 * 24 * time.Hour)}
		got, ok := EstimateInterval(ts, minI, maxI)
		assert.True(t, ok)
		assert.Equal(t, maxI, got)
	})

	t.Run("fewer than two timestamps", func(t *testing.T) {
		_, ok := EstimateInterval([]time.Time{base}, minI, maxI)
		assert.False(t, ok)

		_, ok = EstimateInterval(nil, minI, maxI)
		assert.False(t, ok)
	})

	t.Run("zero timestamps discarded", func(t *testing.T) {
		ts := []time.Time{{}, base, {}}
		_, ok := EstimateInterval(ts, minI, maxI)
		assert.False(t, ok, "a single usable timestamp is not enough")

		ts = []time.Time{{}, base, base.Add(2 * time.Hour)}
		got, ok := EstimateInterval(ts, minI, maxI)
		assert.True(t, ok)
		assert.Equal(t, time.Hour, got)
	})

	t.Run("duplicate timestamps produce no gaps", func(t *testing.T) {
		ts := []time.Time{base, base, base}
		_, ok := EstimateInterval(ts, minI, maxI)
		assert.False(t, ok)
	})

	t.Run("duplicates mixed with real gaps", func(t *testing.T) {
		ts := []time.Time{base, base, base.Add(2 * time.Hour)}
		got, ok := EstimateInterval(ts, minI, maxI)
		assert.True(t, ok)
		assert.Equal(t, time.Hour, got, "zero gaps must not drag the average down")
	})
}
