package services

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkvibe/threatwatch/internal/models"
)

var tokenPattern = regexp.MustCompile(`^cvt_[0-9a-f]{12}_[0-9a-f]{16}$`)

func ptr[T any](v T) *T { return &v }

func TestGenerateSnippetToken(t *testing.T) {
	token, err := GenerateSnippetToken("0b5e2c1a-9f3d-4e7b-8a6c-112233445566")
	require.NoError(t, err)
	assert.Regexp(t, tokenPattern, token)
	assert.Equal(t, "cvt_0b5e2c1a9f3d_", token[:17])

	other, err := GenerateSnippetToken("0b5e2c1a-9f3d-4e7b-8a6c-112233445566")
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestThreatSettings_UpsertCreatesThenUpdates(t *testing.T) {
	db := openTestDB(t)
	svc := NewThreatSettingsService(db)
	p := seedProject(t, db, "shop")
	ctx := context.Background()

	created, err := svc.Upsert(ctx, p.ID, SettingsUpdate{Enabled: ptr(true), AlertEmail: ptr("ops@example.com")})
	require.NoError(t, err)
	assert.True(t, created.Enabled)
	assert.Equal(t, models.FrequencyDaily, created.AlertFrequency)
	assert.Regexp(t, tokenPattern, created.SnippetToken)

	updated, err := svc.Upsert(ctx, p.ID, SettingsUpdate{AlertFrequency: ptr("hourly")})
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyHourly, updated.AlertFrequency)
	assert.Equal(t, created.SnippetToken, updated.SnippetToken, "token must survive updates")
	assert.Equal(t, "ops@example.com", updated.AlertEmail)

	found, err := svc.Lookup(ctx, created.SnippetToken)
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ProjectID)
}

func TestThreatSettings_UpsertValidation(t *testing.T) {
	db := openTestDB(t)
	svc := NewThreatSettingsService(db)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, "p1", SettingsUpdate{AlertFrequency: ptr("weekly")})
	assert.ErrorIs(t, err, ErrInvalidFrequency)

	_, err = svc.Upsert(ctx, "p1", SettingsUpdate{AlertEmail: ptr("not an email")})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = svc.Get(ctx, "p1")
	assert.ErrorIs(t, err, ErrSettingsNotFound)
}

func TestThreatSettings_RotateToken(t *testing.T) {
	db := openTestDB(t)
	svc := NewThreatSettingsService(db)
	p := seedProject(t, db, "shop")
	ctx := context.Background()

	_, err := svc.RotateToken(ctx, p.ID)
	assert.ErrorIs(t, err, ErrSettingsNotFound)

	orig := seedSettings(t, db, p.ID, models.FrequencyDaily, "")
	rotated, err := svc.RotateToken(ctx, p.ID)
	require.NoError(t, err)
	assert.NotEqual(t, orig.SnippetToken, rotated.SnippetToken)

	_, err = svc.Lookup(ctx, orig.SnippetToken)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestThreatSettings_EnabledProjectIDs(t *testing.T) {
	db := openTestDB(t)
	svc := NewThreatSettingsService(db)
	a := seedProject(t, db, "a")
	b := seedProject(t, db, "b")
	seedSettings(t, db, a.ID, models.FrequencyDaily, "")
	seedSettings(t, db, b.ID, models.FrequencyDaily, "")
	require.NoError(t, db.Model(&models.ThreatSettings{}).Where("project_id = ?", b.ID).Update("enabled", false).Error)

	ids, err := svc.EnabledProjectIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids)
}
