// Package calendar provides the holiday calendar stored in config.db.
package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/fundtrack/internal/database"
	"github.com/aristath/fundtrack/internal/utils"
	"github.com/rs/zerolog"
)

// Holiday is one non-trading day
type Holiday struct {
	Day       time.Time `json:"day"`
	CreatedAt time.Time `json:"created_at"`
	Name      string    `json:"name"`
}

// Repository handles holiday database operations and answers IsHoliday for
// plan schedules. Weekends optionally count as holidays without being stored.
//
// Database: config.db (holidays table)
type Repository struct {
	db       *sql.DB
	weekends bool
	log      zerolog.Logger
	now      func() time.Time
}

// NewRepository creates a new holiday repository
func NewRepository(db *sql.DB, weekendsAreHolidays bool, log zerolog.Logger) *Repository {
	return &Repository{
		db:       db,
		weekends: weekendsAreHolidays,
		log:      log.With().Str("repo", "calendar").Logger(),
		now:      time.Now,
	}
}

// IsHoliday implements domain.HolidayCalendar
func (r *Repository) IsHoliday(ctx context.Context, date time.Time) (bool, error) {
	day := utils.Day(date)
	if r.weekends {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return true, nil
		}
	}

	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM holidays WHERE day = ?", utils.FormatDay(day)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check holiday %s: %w", utils.FormatDay(day), err)
	}
	return n > 0, nil
}

// Add stores a holiday, replacing the name of an existing one
func (r *Repository) Add(ctx context.Context, day time.Time, name string) (*Holiday, error) {
	h := &Holiday{Day: utils.Day(day), Name: name, CreatedAt: time.Unix(r.now().Unix(), 0).UTC()}
	if err := r.upsert(ctx, r.db, h); err != nil {
		return nil, err
	}

	r.log.Info().Str("day", utils.FormatDay(h.Day)).Str("name", name).Msg("Holiday added")
	return h, nil
}

// Import stores many holidays in one transaction
func (r *Repository) Import(ctx context.Context, holidays []Holiday) (int, error) {
	err := database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		for i := range holidays {
			holidays[i].Day = utils.Day(holidays[i].Day)
			holidays[i].CreatedAt = time.Unix(r.now().Unix(), 0).UTC()
			if err := r.upsert(ctx, tx, &holidays[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.log.Info().Int("count", len(holidays)).Msg("Holidays imported")
	return len(holidays), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *Repository) upsert(ctx context.Context, db execer, h *Holiday) error {
	_, err := db.ExecContext(ctx,
		"INSERT OR REPLACE INTO holidays (day, name, created_at) VALUES (?, ?, ?)",
		utils.FormatDay(h.Day), h.Name, h.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to store holiday %s: %w", utils.FormatDay(h.Day), err)
	}
	return nil
}

// Delete removes a holiday. It reports whether one was stored.
func (r *Repository) Delete(ctx context.Context, day time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM holidays WHERE day = ?", utils.FormatDay(day))
	if err != nil {
		return false, fmt.Errorf("failed to delete holiday: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// List returns stored holidays in [from, to], either bound optional
func (r *Repository) List(ctx context.Context, from, to *time.Time) ([]Holiday, error) {
	query := "SELECT day, name, created_at FROM holidays WHERE 1 = 1"
	var args []interface{}
	if from != nil {
		query += " AND day >= ?"
		args = append(args, utils.FormatDay(*from))
	}
	if to != nil {
		query += " AND day <= ?"
		args = append(args, utils.FormatDay(*to))
	}
	query += " ORDER BY day"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list holidays: %w", err)
	}
	defer rows.Close()

	holidays := []Holiday{}
	for rows.Next() {
		var (
			raw       string
			h         Holiday
			createdAt int64
		)
		if err := rows.Scan(&raw, &h.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		if h.Day, err = utils.ParseDay(raw); err != nil {
			return nil, fmt.Errorf("stored holiday %q: %w", raw, err)
		}
		h.CreatedAt = time.Unix(createdAt, 0).UTC()
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}
