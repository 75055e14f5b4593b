package testing

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/fundtrack/internal/domain"
	"github.com/shopspring/decimal"
)

// MockNAVProvider is an in-memory NAVProvider keyed by asset and civil date
type MockNAVProvider struct {
	mu     sync.RWMutex
	navs   map[string]map[string]decimal.Decimal
	err    error
	calls  int
	latest map[string]decimal.Decimal
}

// NewMockNAVProvider creates an empty mock provider
func NewMockNAVProvider() *MockNAVProvider {
	return &MockNAVProvider{
		navs:   make(map[string]map[string]decimal.Decimal),
		latest: make(map[string]decimal.Decimal),
	}
}

// SetNAV records a NAV for asset on date
func (m *MockNAVProvider) SetNAV(asset string, date time.Time, nav string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.navs[asset] == nil {
		m.navs[asset] = make(map[string]decimal.Decimal)
	}
	m.navs[asset][date.UTC().Format(time.DateOnly)] = Dec(nav)
}

// SetLatestNAV sets the value returned by GetLatestNAV
func (m *MockNAVProvider) SetLatestNAV(asset string, nav string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[asset] = Dec(nav)
}

// SetError makes every call fail with err
func (m *MockNAVProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many lookups were made
func (m *MockNAVProvider) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// GetNAV implements domain.NAVProvider
func (m *MockNAVProvider) GetNAV(_ context.Context, asset string, date time.Time) (*domain.NAVQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	nav, ok := m.navs[asset][date.UTC().Format(time.DateOnly)]
	if !ok {
		return nil, domain.ErrNAVNotFound
	}
	return &domain.NAVQuote{AssetCode: asset, Date: date, NAV: nav}, nil
}

// GetLatestNAV implements domain.NAVProvider
func (m *MockNAVProvider) GetLatestNAV(_ context.Context, asset string) (*domain.NAVQuote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	nav, ok := m.latest[asset]
	if !ok {
		return nil, domain.ErrNAVNotFound
	}
	return &domain.NAVQuote{AssetCode: asset, Date: time.Now().UTC(), NAV: nav}, nil
}

// MockHolidayCalendar treats the configured dates as holidays
type MockHolidayCalendar struct {
	mu       sync.RWMutex
	holidays map[string]bool
	err      error
}

// NewMockHolidayCalendar creates a calendar with the given holidays
func NewMockHolidayCalendar(days ...time.Time) *MockHolidayCalendar {
	c := &MockHolidayCalendar{holidays: make(map[string]bool)}
	for _, d := range days {
		c.holidays[d.UTC().Format(time.DateOnly)] = true
	}
	return c
}

// SetError makes IsHoliday fail with err
func (c *MockHolidayCalendar) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// IsHoliday implements domain.HolidayCalendar
func (c *MockHolidayCalendar) IsHoliday(_ context.Context, date time.Time) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return false, c.err
	}
	return c.holidays[date.UTC().Format(time.DateOnly)], nil
}
