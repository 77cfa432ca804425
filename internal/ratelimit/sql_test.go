package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/models"
)

func openSQLLimiter(t *testing.T) *SQLLimiter {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "rl.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.RateLimitWindow{}))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewSQLLimiter(db)
}

func TestSQLLimiter_ConcurrentExactlyK(t *testing.T) {
	assert.Equal(t, int64(10), hammer(t, openSQLLimiter(t), 40, 10))
}

func TestSQLLimiter_WindowResets(t *testing.T) {
	l := openSQLLimiter(t)
	now := time.UnixMilli(1_700_000_000_000)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	res, err := l.Take(ctx, "threat-ingest:cvt_a", 4, 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(4), res.Count)
	assert.Equal(t, now.Add(time.Minute), res.ResetAt)

	now = now.Add(30 * time.Second)
	res, err = l.Take(ctx, "threat-ingest:cvt_a", 4, 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(8), res.Count)
	assert.Equal(t, now.Add(30*time.Second), res.ResetAt)

	now = now.Add(31 * time.Second)
	res, err = l.Take(ctx, "threat-ingest:cvt_a", 2, 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(2), res.Count)
	assert.Equal(t, now.Add(time.Minute), res.ResetAt)
}

func TestSQLLimiter_MissingTableErrors(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "empty.db")), &gorm.Config{})
	require.NoError(t, err)
	_, err = NewSQLLimiter(db).Take(context.Background(), "x", 1, 1, time.Minute)
	assert.Error(t, err)
}

func TestSQLLimiter_PruneDropsExpiredWindows(t *testing.T) {
	l := openSQLLimiter(t)
	now := time.UnixMilli(1_700_000_000_000)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := l.Take(ctx, "threat-ingest:cvt_old", 1, 5, time.Minute)
	require.NoError(t, err)
	now = now.Add(10 * time.Minute)
	_, err = l.Take(ctx, "threat-ingest:cvt_live", 1, 5, time.Minute)
	require.NoError(t, err)

	deleted, err := l.Prune(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var ids []string
	require.NoError(t, l.db.Model(&models.RateLimitWindow{}).Pluck("identifier", &ids).Error)
	assert.Equal(t, []string{"threat-ingest:cvt_live"}, ids)

	// A pruned identifier starts a fresh window.
	res, err := l.Take(ctx, "threat-ingest:cvt_old", 1, 5, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)
}
