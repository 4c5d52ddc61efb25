package schedule_test

import (
	"testing"
	"time"

	"github.com/meocodex/evento-gestao-24-10-sub002/pkg/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestDateRange_Overlaps(t *testing.T) {
	tests := []struct {
		name    string
		a, b    schedule.DateRange
		overlap bool
	}{
		{
			name:    "disjoint ranges",
			a:       schedule.NewDateRange(day("2024-01-10"), day("2024-01-12")),
			b:       schedule.NewDateRange(day("2024-01-13"), day("2024-01-15")),
			overlap: false,
		},
		{
			name:    "shared boundary day conflicts",
			a:       schedule.NewDateRange(day("2024-01-10"), day("2024-01-12")),
			b:       schedule.NewDateRange(day("2024-01-12"), day("2024-01-15")),
			overlap: true,
		},
		{
			name:    "candidate fully inside existing",
			a:       schedule.NewDateRange(day("2024-01-01"), day("2024-01-31")),
			b:       schedule.NewDateRange(day("2024-01-10"), day("2024-01-12")),
			overlap: true,
		},
		{
			name:    "existing fully inside candidate",
			a:       schedule.NewDateRange(day("2024-01-10"), day("2024-01-12")),
			b:       schedule.NewDateRange(day("2024-01-01"), day("2024-01-31")),
			overlap: true,
		},
		{
			name:    "identical ranges",
			a:       schedule.NewDateRange(day("2024-01-10"), day("2024-01-12")),
			b:       schedule.NewDateRange(day("2024-01-10"), day("2024-01-12")),
			overlap: true,
		},
		{
			name:    "single day ranges touching",
			a:       schedule.NewDateRange(day("2024-01-10"), day("2024-01-10")),
			b:       schedule.NewDateRange(day("2024-01-10"), day("2024-01-10")),
			overlap: true,
		},
		{
			name:    "one day apart",
			a:       schedule.NewDateRange(day("2024-01-10"), day("2024-01-10")),
			b:       schedule.NewDateRange(day("2024-01-11"), day("2024-01-11")),
			overlap: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.overlap, tt.a.Overlaps(tt.b))
			// Overlap is symmetric
			assert.Equal(t, tt.overlap, tt.b.Overlaps(tt.a))
		})
	}
}

func TestDateRange_Intersection(t *testing.T) {
	a := schedule.NewDateRange(day("2024-01-10"), day("2024-01-20"))
	b := schedule.NewDateRange(day("2024-01-15"), day("2024-01-25"))

	got, ok := a.Intersection(b)
	require.True(t, ok)
	assert.Equal(t, day("2024-01-15"), got.Start)
	assert.Equal(t, day("2024-01-20"), got.End)

	c := schedule.NewDateRange(day("2024-02-01"), day("2024-02-05"))
	_, ok = a.Intersection(c)
	assert.False(t, ok)
}

func TestNewDateRange_SwapsReversedBounds(t *testing.T) {
	r := schedule.NewDateRange(day("2024-01-20"), day("2024-01-10"))
	assert.Equal(t, day("2024-01-10"), r.Start)
	assert.Equal(t, day("2024-01-20"), r.End)
}

func TestDateRange_Days(t *testing.T) {
	assert.Equal(t, 1, schedule.NewDateRange(day("2024-01-10"), day("2024-01-10")).Days())
	assert.Equal(t, 3, schedule.NewDateRange(day("2024-01-10"), day("2024-01-12")).Days())
}
