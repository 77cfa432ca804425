package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkvibe/threatwatch/internal/services"
	"github.com/checkvibe/threatwatch/internal/version"
)

func TestHealthHandler(t *testing.T) {
	db := openTestDB(t)
	r := gin.New()
	r.GET("/api/v1/health", HealthHandler(db, nil))

	w := doRequest(r, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, version.Name, resp["service"])
	assert.Equal(t, "ok", resp["database"])
}

func TestHealthHandler_DatabaseDown(t *testing.T) {
	db := openTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	r := gin.New()
	r.GET("/api/v1/health", HealthHandler(db, nil))

	w := doRequest(r, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

type downMailer struct{}

func (downMailer) Send(context.Context, services.Message) error {
	return errors.New("connection refused")
}

func TestHealthHandler_ReportsMailBreaker(t *testing.T) {
	db := openTestDB(t)
	mailer := services.NewBreakerMailer(downMailer{}, time.Minute, 2)
	r := gin.New()
	r.GET("/api/v1/health", HealthHandler(db, mailer))

	var resp map[string]string
	w := doRequest(r, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "closed", resp["mail"])
	assert.Equal(t, "ok", resp["status"])

	for i := 0; i < 2; i++ {
		require.Error(t, mailer.Send(context.Background(), services.Message{To: "ops@example.com"}))
	}

	w = doRequest(r, http.MethodGet, "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code, "an open mail breaker does not fail the health check")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "open", resp["mail"])
	assert.Equal(t, "degraded", resp["status"])
}
