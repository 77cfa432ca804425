package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/version"
)

// StateReporter is implemented by the circuit-broken mailer.
type StateReporter interface {
	State() string
}

// HealthHandler responds with basic service metadata for uptime checks. The
// database is pinged so a broken pool reports 503. An open mail breaker only
// marks the service degraded: ingestion still works without SMTP. mail may be
// nil.
func HealthHandler(db *gorm.DB, mail StateReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":     "ok",
			"service":    version.Name,
			"version":    version.Version,
			"git_commit": version.GitCommit,
			"build_time": version.BuildTime,
			"database":   "ok",
		}
		status := http.StatusOK
		if mail != nil {
			state := mail.State()
			body["mail"] = state
			if state == "open" {
				body["status"] = "degraded"
			}
		}
		if err := pingDB(c.Request.Context(), db); err != nil {
			body["status"] = "degraded"
			body["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, body)
	}
}

func pingDB(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
