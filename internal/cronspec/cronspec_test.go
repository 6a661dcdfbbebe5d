package cronspec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldCounts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		expr    string
		seconds bool
		wantErr bool
	}{
		{name: "five field", expr: "*/5 * * * *"},
		{name: "six field", expr: "30 */5 * * * *", seconds: true},
		{name: "five field list", expr: "0,30 9-17 * * 1-5"},
		{name: "six field step", expr: "*/10 * * * * 0", seconds: true},
		{name: "descriptor", expr: "@hourly", wantErr: true},
		{name: "every", expr: "@every 5m", wantErr: true},
		{name: "four fields", expr: "* * * *", wantErr: true},
		{name: "seven fields", expr: "* * * * * * *", wantErr: true},
		{name: "garbage", expr: "61 * * * *", wantErr: true},
		{name: "empty", expr: "   ", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				var serr *ScheduleError
				require.ErrorAs(t, err, &serr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.seconds, s.Seconds())
		})
	}
}

func TestNextWeekdayZeroIsSunday(t *testing.T) {
	t.Parallel()
	s, err := Parse("0 12 * * 0")
	require.NoError(t, err)

	// 2026-01-01 is a Thursday; next Sunday noon is 2026-01-04.
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := s.Next(from)
	assert.Equal(t, time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Sunday, next.Weekday())
}

func TestDueWithinWindow(t *testing.T) {
	t.Parallel()
	s, err := Parse("* * * * *") // every minute
	require.NoError(t, err)

	base := time.Date(2026, 3, 10, 8, 0, 30, 0, time.UTC)

	// Fire time 08:01:00 falls in (08:00:30, 08:01:00].
	assert.True(t, s.DueWithin(base, base.Add(30*time.Second)))

	// Window that ends just before the fire time.
	assert.False(t, s.DueWithin(base, base.Add(29*time.Second)))

	// Empty and inverted windows are never due.
	assert.False(t, s.DueWithin(base, base))
	assert.False(t, s.DueWithin(base.Add(time.Minute), base))
}

func TestDueWithinChainedWindowsFireExactlyOnce(t *testing.T) {
	t.Parallel()
	s, err := Parse("0 */2 * * * *") // every 2 minutes, at second 0
	require.NoError(t, err)

	// Walk 10 minutes in 15s ticks; chain lastTick = previous now.
	start := time.Date(2026, 3, 10, 8, 0, 1, 0, time.UTC)
	fired := 0
	last := start
	for now := start.Add(15 * time.Second); !now.After(start.Add(10 * time.Minute)); now = now.Add(15 * time.Second) {
		if s.DueWithin(last, now) {
			fired++
		}
		last = now
	}
	// Fire times in (08:00:01, 08:10:01]: 08:02, 08:04, 08:06, 08:08, 08:10.
	assert.Equal(t, 5, fired)
}

func TestEvaluatorIsDeterministic(t *testing.T) {
	t.Parallel()
	s, err := Parse("15 3 * * 1")
	require.NoError(t, err)

	from := time.Date(2026, 5, 20, 11, 22, 33, 0, time.UTC)
	first := s.Next(from)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Next(from))
	}

	a := s.DueWithin(from, from.Add(time.Hour))
	b := s.DueWithin(from, from.Add(time.Hour))
	assert.Equal(t, a, b)
}

func TestSixFieldSecondGranularity(t *testing.T) {
	t.Parallel()
	s, err := Parse("*/15 * * * * *")
	require.NoError(t, err)

	from := time.Date(2026, 7, 1, 10, 0, 7, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 7, 1, 10, 0, 15, 0, time.UTC), s.Next(from))
	assert.True(t, s.DueWithin(from, from.Add(10*time.Second)))
	assert.False(t, s.DueWithin(from, from.Add(5*time.Second)))
}
