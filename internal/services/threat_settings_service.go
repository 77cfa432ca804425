package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/models"
)

var (
	ErrSettingsNotFound = errors.New("threat settings not found")
	ErrInvalidFrequency = errors.New("alert frequency must be immediate, hourly or daily")
	ErrInvalidEmail     = errors.New("invalid alert email")
)

// ThreatSettingsService owns threat_settings rows and their snippet tokens.
type ThreatSettingsService struct {
	DB *gorm.DB
}

func NewThreatSettingsService(db *gorm.DB) *ThreatSettingsService {
	return &ThreatSettingsService{DB: db}
}

// GenerateSnippetToken mints cvt_<first 12 hex of the project id>_<16 random hex>.
func GenerateSnippetToken(projectID string) (string, error) {
	short := strings.ReplaceAll(projectID, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return models.SnippetTokenPrefix + short + "_" + hex.EncodeToString(buf), nil
}

// Lookup resolves a snippet token to its settings row. Unknown tokens yield
// ErrUnknownToken.
func (s *ThreatSettingsService) Lookup(ctx context.Context, token string) (*models.ThreatSettings, error) {
	var settings models.ThreatSettings
	err := s.DB.WithContext(ctx).Where("snippet_token = ?", token).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownToken
	}
	if err != nil {
		return nil, fmt.Errorf("lookup snippet token: %w", err)
	}
	return &settings, nil
}

func (s *ThreatSettingsService) Get(ctx context.Context, projectID string) (*models.ThreatSettings, error) {
	var settings models.ThreatSettings
	err := s.DB.WithContext(ctx).Where("project_id = ?", projectID).First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSettingsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load threat settings: %w", err)
	}
	return &settings, nil
}

// SettingsUpdate carries a partial update; nil fields are left unchanged.
type SettingsUpdate struct {
	Enabled        *bool   `json:"enabled"`
	AlertFrequency *string `json:"alert_frequency"`
	AlertEmail     *string `json:"alert_email"`
}

// Upsert applies upd to the project's settings, creating the row (and its
// snippet token) on first use.
func (s *ThreatSettingsService) Upsert(ctx context.Context, projectID string, upd SettingsUpdate) (*models.ThreatSettings, error) {
	if upd.AlertFrequency != nil && !models.AlertFrequency(*upd.AlertFrequency).Valid() {
		return nil, ErrInvalidFrequency
	}
	if upd.AlertEmail != nil && *upd.AlertEmail != "" {
		if _, err := mail.ParseAddress(*upd.AlertEmail); err != nil {
			return nil, ErrInvalidEmail
		}
	}

	var out *models.ThreatSettings
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var settings models.ThreatSettings
		created := false
		err := tx.Where("project_id = ?", projectID).First(&settings).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
			token, err := GenerateSnippetToken(projectID)
			if err != nil {
				return err
			}
			settings = models.ThreatSettings{
				ProjectID:      projectID,
				AlertFrequency: models.FrequencyDaily,
				SnippetToken:   token,
			}
		case err != nil:
			return fmt.Errorf("load threat settings: %w", err)
		}

		if upd.Enabled != nil {
			settings.Enabled = *upd.Enabled
		}
		if upd.AlertFrequency != nil {
			settings.AlertFrequency = models.AlertFrequency(*upd.AlertFrequency)
		}
		if upd.AlertEmail != nil {
			settings.AlertEmail = strings.TrimSpace(*upd.AlertEmail)
		}

		if created {
			err = tx.Create(&settings).Error
		} else {
			err = tx.Save(&settings).Error
		}
		if err != nil {
			return fmt.Errorf("save threat settings: %w", err)
		}
		out = &settings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RotateToken replaces the snippet token. The old token stops working at once.
func (s *ThreatSettingsService) RotateToken(ctx context.Context, projectID string) (*models.ThreatSettings, error) {
	token, err := GenerateSnippetToken(projectID)
	if err != nil {
		return nil, err
	}
	res := s.DB.WithContext(ctx).Model(&models.ThreatSettings{}).
		Where("project_id = ?", projectID).
		Update("snippet_token", token)
	if res.Error != nil {
		return nil, fmt.Errorf("rotate snippet token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrSettingsNotFound
	}
	return s.Get(ctx, projectID)
}

// EnabledProjectIDs lists projects with threat detection switched on.
func (s *ThreatSettingsService) EnabledProjectIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.DB.WithContext(ctx).Model(&models.ThreatSettings{}).
		Where("enabled = ?", true).
		Order("project_id").
		Pluck("project_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list enabled projects: %w", err)
	}
	return ids, nil
}
