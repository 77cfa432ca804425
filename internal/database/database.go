package database

import (
	"fmt"
	stdlog "log"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/checkvibe/threatwatch/internal/logger"
	"github.com/checkvibe/threatwatch/internal/models"
)

// Config returns the gorm settings shared by the server and tests. Timestamps
// are always written in UTC so sqlite's text comparison orders them correctly.
func Config() *gorm.Config {
	return &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger: gormlogger.New(
			stdlog.New(logger.Log().WriterLevel(logrus.WarnLevel), "", 0),
			gormlogger.Config{
				SlowThreshold:             500 * time.Millisecond,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	}
}

// Open bootstraps a database connection for the given driver. For sqlite the
// target is a filesystem path or memory DSN; for postgres it is a DSN.
func Open(driver, target string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		dialector = sqlite.Open(withBusyTimeout(target))
	case "postgres":
		dialector = postgres.Open(target)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, Config())
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}

	return db, nil
}

// withBusyTimeout makes every pooled sqlite connection wait for locks instead
// of failing with SQLITE_BUSY.
func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "_busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000"
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Project{},
		&models.ThreatEvent{},
		&models.ThreatSettings{},
		&models.AlertRule{},
		&models.AlertLog{},
		&models.Webhook{},
		&models.RateLimitWindow{},
		&models.NotificationProvider{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
