package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNAVNotFound is returned by a NAVProvider when it has no value for the request
var ErrNAVNotFound = errors.New("nav not found")

// NAVProvider supplies unit net asset values for an asset.
// This interface keeps the dca and dividends packages independent of the HTTP client.
type NAVProvider interface {
	// GetNAV returns the NAV published for the given date, or ErrNAVNotFound
	// for non-trading days and unknown assets
	GetNAV(ctx context.Context, assetCode string, date time.Time) (*NAVQuote, error)

	// GetLatestNAV returns the most recent NAV the provider knows of
	GetLatestNAV(ctx context.Context, assetCode string) (*NAVQuote, error)
}

// HolidayCalendar answers whether a civil date is a non-trading day.
// Only consulted for plans with SkipHolidays set.
type HolidayCalendar interface {
	IsHoliday(ctx context.Context, date time.Time) (bool, error)
}
