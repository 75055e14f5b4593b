package domain

import (
	"context"
	"testing"
	"time"
)

type stubNAVProvider struct{}

func (stubNAVProvider) GetNAV(context.Context, string, time.Time) (*NAVQuote, error) {
	return nil, ErrNAVNotFound
}

func (stubNAVProvider) GetLatestNAV(context.Context, string) (*NAVQuote, error) {
	return nil, ErrNAVNotFound
}

type stubCalendar struct{}

func (stubCalendar) IsHoliday(context.Context, time.Time) (bool, error) { return false, nil }

// TestNAVProviderInterface verifies the contract compiles against a minimal implementation
func TestNAVProviderInterface(t *testing.T) {
	var _ NAVProvider = stubNAVProvider{}
}

// TestHolidayCalendarInterface verifies the contract compiles against a minimal implementation
func TestHolidayCalendarInterface(t *testing.T) {
	var _ HolidayCalendar = stubCalendar{}
}
