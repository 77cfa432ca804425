package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/checkvibe/threatwatch/internal/config"
	"github.com/checkvibe/threatwatch/internal/database"
	"github.com/checkvibe/threatwatch/internal/logger"
	"github.com/checkvibe/threatwatch/internal/models"
	"github.com/checkvibe/threatwatch/internal/services"
)

const demoProjectID = "00000000-0000-4000-8000-000000000001"

func main() {
	logger.Init(false, os.Stdout)
	log := logger.Log()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	target := cfg.Database.Path
	if cfg.Database.Driver == "postgres" {
		target = cfg.Database.DSN
	}
	db, err := database.Open(cfg.Database.Driver, target)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	fmt.Println("✓ Database migrated successfully")

	ctx := context.Background()

	project := models.Project{ID: demoProjectID, Name: "Demo Storefront", URL: "https://demo.example.com"}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&project).Error; err != nil {
		log.Fatalf("Failed to seed project: %v", err)
	}
	fmt.Printf("✓ Project: %s\n", project.Name)

	enabled := true
	frequency := string(models.FrequencyHourly)
	email := "security@demo.example.com"
	settings, err := services.NewThreatSettingsService(db).Upsert(ctx, demoProjectID, services.SettingsUpdate{
		Enabled:        &enabled,
		AlertFrequency: &frequency,
		AlertEmail:     &email,
	})
	if err != nil {
		log.Fatalf("Failed to seed threat settings: %v", err)
	}
	fmt.Printf("✓ Snippet token: %s\n", settings.SnippetToken)

	if err := seedRules(db, email); err != nil {
		log.Fatalf("Failed to seed alert rules: %v", err)
	}
	fmt.Println("✓ Alert rules seeded")

	if err := seedEvents(db); err != nil {
		log.Fatalf("Failed to seed threat events: %v", err)
	}
	fmt.Println("✓ Sample threat events seeded")
}

func seedRules(db *gorm.DB, email string) error {
	var count int64
	if err := db.Model(&models.AlertRule{}).Where("project_id = ?", demoProjectID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	drop := 10.0
	below := 50.0
	rules := []models.AlertRule{
		{ProjectID: demoProjectID, Type: models.RuleScoreDrop, Threshold: &drop, Enabled: true, NotifyEmail: email},
		{ProjectID: demoProjectID, Type: models.RuleNewCritical, Enabled: true, NotifyEmail: email},
		{ProjectID: demoProjectID, Type: models.RuleScoreBelow, Threshold: &below, Enabled: true, NotifyEmail: email},
	}
	return db.Create(&rules).Error
}

func seedEvents(db *gorm.DB) error {
	now := time.Now().UTC()
	samples := []struct {
		typ  models.EventType
		sev  models.Severity
		ip   string
		path string
	}{
		{models.EventXSS, models.SeverityHigh, "203.0.113.7", "/search"},
		{models.EventSQLi, models.SeverityCritical, "198.51.100.23", "/login"},
		{models.EventBot, models.SeverityLow, "203.0.113.7", "/products"},
		{models.EventPathTraversal, models.SeverityHigh, "192.0.2.44", "/static"},
		{models.EventBruteForce, models.SeverityMedium, "198.51.100.23", "/login"},
	}
	events := make([]models.ThreatEvent, 0, len(samples))
	for i, s := range samples {
		events = append(events, models.ThreatEvent{
			ProjectID:   demoProjectID,
			EventType:   s.typ,
			Severity:    s.sev,
			SourceIP:    s.ip,
			RequestPath: s.path,
			CreatedAt:   now.Add(-time.Duration(i*17) * time.Minute),
		})
	}
	return db.Create(&events).Error
}
