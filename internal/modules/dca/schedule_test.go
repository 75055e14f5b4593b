package dca

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aristath/fundtrack/internal/domain"
	testingpkg "github.com/aristath/fundtrack/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func days(ts []time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Format(time.DateOnly)
	}
	return out
}

func TestGenerate_MonthlyWithExclusion(t *testing.T) {
	end := testingpkg.Day(2024, 3, 1)
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100")
	plan.EndDate = &end
	plan.ExcludeDates = []time.Time{testingpkg.Day(2024, 2, 1)}

	got, err := Generate(context.Background(), plan, testingpkg.Day(2024, 12, 31), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-03-01"}, days(got))
}

func TestGenerate_Frequencies(t *testing.T) {
	start := testingpkg.Day(2024, 1, 31)
	asOf := testingpkg.Day(2024, 5, 1)

	tests := []struct {
		name  string
		freq  domain.Frequency
		value int
		asOf  time.Time
		want  []string
	}{
		{"daily", domain.FrequencyDaily, 1, testingpkg.Day(2024, 2, 3), []string{"2024-01-31", "2024-02-01", "2024-02-02", "2024-02-03"}},
		{"every other day", domain.FrequencyDaily, 2, testingpkg.Day(2024, 2, 5), []string{"2024-01-31", "2024-02-02", "2024-02-04"}},
		{"weekly", domain.FrequencyWeekly, 1, testingpkg.Day(2024, 2, 21), []string{"2024-01-31", "2024-02-07", "2024-02-14", "2024-02-21"}},
		{"fortnightly", domain.FrequencyWeekly, 2, testingpkg.Day(2024, 3, 1), []string{"2024-01-31", "2024-02-14", "2024-02-28"}},
		{"monthly clamps to month end", domain.FrequencyMonthly, 1, asOf, []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"}},
		{"quarterly", domain.FrequencyMonthly, 3, testingpkg.Day(2024, 12, 31), []string{"2024-01-31", "2024-04-30", "2024-07-31", "2024-10-31"}},
		{"custom ten days", domain.FrequencyCustom, 10, testingpkg.Day(2024, 2, 20), []string{"2024-01-31", "2024-02-10", "2024-02-20"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := testingpkg.NewMonthlyPlan("110011", start, "100")
			plan.Frequency = tt.freq
			plan.FrequencyValue = tt.value

			got, err := Generate(context.Background(), plan, tt.asOf, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, days(got))
		})
	}
}

func TestGenerate_NeverPastAsOf(t *testing.T) {
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 15), "100")

	got, err := Generate(context.Background(), plan, testingpkg.Day(2024, 3, 14), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-15", "2024-02-15"}, days(got))

	// time of day on asOf does not matter
	got, err = Generate(context.Background(), plan, time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC), nil)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestGenerate_StartAfterAsOfIsEmpty(t *testing.T) {
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2025, 1, 1), "100")

	got, err := Generate(context.Background(), plan, testingpkg.Day(2024, 6, 1), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGenerate_EndBeforeStart(t *testing.T) {
	end := testingpkg.Day(2023, 12, 1)
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100")
	plan.EndDate = &end

	_, err := Generate(context.Background(), plan, testingpkg.Day(2024, 6, 1), nil)
	var rangeErr *domain.InvalidRangeError
	require.ErrorAs(t, err, &rangeErr)
}

func TestGenerate_InvalidPlan(t *testing.T) {
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100")
	plan.FrequencyValue = 0

	_, err := Generate(context.Background(), plan, testingpkg.Day(2024, 6, 1), nil)
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)

	plan.FrequencyValue = 1
	plan.Frequency = "hourly"
	_, err = Generate(context.Background(), plan, testingpkg.Day(2024, 6, 1), nil)
	require.ErrorAs(t, err, &validation)
}

func TestGenerate_SkipsHolidaysWithoutShifting(t *testing.T) {
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100")
	plan.Frequency = domain.FrequencyDaily
	plan.SkipHolidays = true
	calendar := testingpkg.NewMockHolidayCalendar(testingpkg.Day(2024, 1, 2))

	got, err := Generate(context.Background(), plan, testingpkg.Day(2024, 1, 4), calendar)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-03", "2024-01-04"}, days(got))

	// the calendar is ignored unless the plan asks for it
	plan.SkipHolidays = false
	got, err = Generate(context.Background(), plan, testingpkg.Day(2024, 1, 4), calendar)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestGenerate_CalendarError(t *testing.T) {
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100")
	plan.SkipHolidays = true
	calendar := testingpkg.NewMockHolidayCalendar()
	calendar.SetError(errors.New("calendar offline"))

	_, err := Generate(context.Background(), plan, testingpkg.Day(2024, 3, 1), calendar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "calendar offline")
}

func TestGenerate_Deterministic(t *testing.T) {
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2023, 1, 31), "100")
	plan.ExcludeDates = []time.Time{testingpkg.Day(2023, 6, 30)}
	plan.SkipHolidays = true
	calendar := testingpkg.NewMockHolidayCalendar(testingpkg.Day(2023, 12, 31))

	first, err := Generate(context.Background(), plan, testingpkg.Day(2024, 6, 1), calendar)
	require.NoError(t, err)
	second, err := Generate(context.Background(), plan, testingpkg.Day(2024, 6, 1), calendar)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	for i := 1; i < len(first); i++ {
		assert.True(t, first[i].After(first[i-1]))
	}
	assert.NotContains(t, days(first), "2023-06-30")
	assert.NotContains(t, days(first), "2023-12-31")
}

func TestNextAfter(t *testing.T) {
	end := testingpkg.Day(2024, 4, 1)
	plan := testingpkg.NewMonthlyPlan("110011", testingpkg.Day(2024, 1, 1), "100")
	plan.EndDate = &end
	plan.ExcludeDates = []time.Time{testingpkg.Day(2024, 3, 1)}

	next, err := NextAfter(context.Background(), plan, testingpkg.Day(2024, 1, 1), nil)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "2024-02-01", next.Format(time.DateOnly))

	next, err = NextAfter(context.Background(), plan, testingpkg.Day(2024, 2, 1), nil)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "2024-04-01", next.Format(time.DateOnly), "excluded date is skipped")

	next, err = NextAfter(context.Background(), plan, testingpkg.Day(2024, 4, 1), nil)
	require.NoError(t, err)
	assert.Nil(t, next)

	next, err = NextAfter(context.Background(), plan, testingpkg.Day(2023, 6, 1), nil)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "2024-01-01", next.Format(time.DateOnly))
}
