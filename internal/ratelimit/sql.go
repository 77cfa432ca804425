package ratelimit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/models"
)

// upsertWindow either starts a new window or adds to the live one, and returns
// the resulting row, in one statement. Requires sqlite >= 3.35 or postgres.
const upsertWindow = `
INSERT INTO rate_limit_windows (identifier, window_start, count)
VALUES (?, ?, ?)
ON CONFLICT (identifier) DO UPDATE SET
  count = CASE WHEN rate_limit_windows.window_start <= ? THEN excluded.count
               ELSE rate_limit_windows.count + excluded.count END,
  window_start = CASE WHEN rate_limit_windows.window_start <= ? THEN excluded.window_start
                      ELSE rate_limit_windows.window_start END
RETURNING count, window_start`

// SQLLimiter stores windows in the rate_limit_windows table.
type SQLLimiter struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSQLLimiter(db *gorm.DB) *SQLLimiter {
	return &SQLLimiter{db: db, now: time.Now}
}

type windowRow struct {
	Count       int64
	WindowStart int64
}

func (l *SQLLimiter) Take(ctx context.Context, identifier string, cost, limit int64, window time.Duration) (Result, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	cutoff := nowMs - window.Milliseconds()

	var row windowRow
	if err := l.db.WithContext(ctx).Raw(upsertWindow, identifier, nowMs, cost, cutoff, cutoff).Scan(&row).Error; err != nil {
		return Result{}, fmt.Errorf("sql take: %w", err)
	}
	if row.Count == 0 {
		return Result{}, fmt.Errorf("sql take: no row returned for %q", identifier)
	}

	return newResult(row.Count, limit, time.UnixMilli(row.WindowStart).Add(window)), nil
}

// Prune deletes windows that started before cutoff. Expired rows are reset by
// the next Take anyway, so this only bounds the table for identifiers that
// never come back.
func (l *SQLLimiter) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := l.db.WithContext(ctx).Where("window_start < ?", cutoff.UnixMilli()).Delete(&models.RateLimitWindow{})
	if res.Error != nil {
		return 0, fmt.Errorf("sql prune: %w", res.Error)
	}
	return res.RowsAffected, nil
}
