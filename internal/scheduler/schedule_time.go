package scheduler

import (
	"fmt"
	"strconv"
	"strings"
)

// ScheduleTime is a time of day at which a daily job fires
type ScheduleTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseScheduleTime parses "HH:MM" (24h clock)
func ParseScheduleTime(s string) (ScheduleTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return ScheduleTime{}, fmt.Errorf("invalid schedule time %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid schedule hour %q: %w", parts[0], err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return ScheduleTime{}, fmt.Errorf("invalid schedule minute %q: %w", parts[1], err)
	}
	st := ScheduleTime{Hour: hour, Minute: minute}
	if err := st.Validate(); err != nil {
		return ScheduleTime{}, err
	}
	return st, nil
}

// MustParseScheduleTime is ParseScheduleTime for constants
func MustParseScheduleTime(s string) ScheduleTime {
	st, err := ParseScheduleTime(s)
	if err != nil {
		panic(err)
	}
	return st
}

// Validate checks the hour and minute ranges
func (t ScheduleTime) Validate() error {
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("invalid schedule hour %d: must be 0-23", t.Hour)
	}
	if t.Minute < 0 || t.Minute > 59 {
		return fmt.Errorf("invalid schedule minute %d: must be 0-59", t.Minute)
	}
	return nil
}

// String renders the time as HH:MM
func (t ScheduleTime) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// CronSpec returns the daily cron expression (seconds field first)
func (t ScheduleTime) CronSpec() string {
	return fmt.Sprintf("0 %d %d * * *", t.Minute, t.Hour)
}

// MarshalText implements encoding.TextMarshaler
func (t ScheduleTime) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *ScheduleTime) UnmarshalText(b []byte) error {
	parsed, err := ParseScheduleTime(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
