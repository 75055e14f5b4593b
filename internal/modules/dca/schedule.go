// Package dca implements recurring investment plans: schedule generation,
// smart amounts, idempotent execution and plan management.
package dca

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/fundtrack/internal/domain"
	"github.com/aristath/fundtrack/internal/utils"
)

// maxScheduleSteps bounds generation for pathological plans (a daily plan
// reaches it after roughly 270 years).
const maxScheduleSteps = 100000

// ValidateSchedule checks the parts of a plan the generator depends on
func ValidateSchedule(plan *domain.DCAPlan) error {
	if !plan.Frequency.Valid() {
		return &domain.ValidationError{Field: "frequency", Message: "must be daily, weekly, monthly or custom"}
	}
	if plan.FrequencyValue < 1 {
		return &domain.ValidationError{Field: "frequency_value", Message: "must be at least 1"}
	}
	if plan.StartDate.IsZero() {
		return &domain.ValidationError{Field: "start_date", Message: "is required"}
	}
	if plan.EndDate != nil && utils.Day(*plan.EndDate).Before(utils.Day(plan.StartDate)) {
		return &domain.InvalidRangeError{Message: fmt.Sprintf(
			"end date %s is before start date %s", utils.FormatDay(*plan.EndDate), utils.FormatDay(plan.StartDate))}
	}
	return nil
}

// step returns the k-th raw schedule date, computed from the start so that
// month-end clamping never drifts (Jan 31, Feb 29, Mar 31, ...).
func step(plan *domain.DCAPlan, start time.Time, k int) time.Time {
	n := k * plan.FrequencyValue
	switch plan.Frequency {
	case domain.FrequencyWeekly:
		return start.AddDate(0, 0, 7*n)
	case domain.FrequencyMonthly:
		return utils.AddMonthsClamped(start, n)
	default:
		return start.AddDate(0, 0, n)
	}
}

// Generate returns the plan's candidate dates in [start, min(end, asOf)], oldest first.
// Excluded dates are dropped, and so are holidays when the plan skips them;
// a dropped date is never shifted to another day.
func Generate(ctx context.Context, plan *domain.DCAPlan, asOf time.Time, calendar domain.HolidayCalendar) ([]time.Time, error) {
	if err := ValidateSchedule(plan); err != nil {
		return nil, err
	}

	start := utils.Day(plan.StartDate)
	limit := utils.Day(asOf)
	if plan.EndDate != nil && utils.Day(*plan.EndDate).Before(limit) {
		limit = utils.Day(*plan.EndDate)
	}

	var dates []time.Time
	for k := 0; k < maxScheduleSteps; k++ {
		d := step(plan, start, k)
		if d.After(limit) {
			break
		}

		keep, err := scheduled(ctx, plan, d, calendar)
		if err != nil {
			return nil, err
		}
		if keep {
			dates = append(dates, d)
		}
	}
	return dates, nil
}

// NextAfter returns the first candidate date strictly after day, or nil when the
// plan has none left before its end date.
func NextAfter(ctx context.Context, plan *domain.DCAPlan, day time.Time, calendar domain.HolidayCalendar) (*time.Time, error) {
	if err := ValidateSchedule(plan); err != nil {
		return nil, err
	}

	start := utils.Day(plan.StartDate)
	after := utils.Day(day)

	for k := 0; k < maxScheduleSteps; k++ {
		d := step(plan, start, k)
		if plan.EndDate != nil && d.After(utils.Day(*plan.EndDate)) {
			return nil, nil
		}
		if !d.After(after) {
			continue
		}

		keep, err := scheduled(ctx, plan, d, calendar)
		if err != nil {
			return nil, err
		}
		if keep {
			return &d, nil
		}
	}
	return nil, nil
}

func scheduled(ctx context.Context, plan *domain.DCAPlan, d time.Time, calendar domain.HolidayCalendar) (bool, error) {
	if plan.IsExcluded(d) {
		return false, nil
	}
	if !plan.SkipHolidays || calendar == nil {
		return true, nil
	}
	holiday, err := calendar.IsHoliday(ctx, d)
	if err != nil {
		return false, fmt.Errorf("holiday lookup for %s: %w", utils.FormatDay(d), err)
	}
	return !holiday, nil
}
