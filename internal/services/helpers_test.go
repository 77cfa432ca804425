package services

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/database"
	"github.com/checkvibe/threatwatch/internal/models"
)

// openTestDB returns a migrated sqlite database in a temp dir. A single
// connection keeps concurrent writers from tripping over sqlite locks.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// recordingMailer keeps every message it is asked to send.
type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

type fakeResolver map[string][]string

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, s := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(s)})
	}
	return out, nil
}

func seedProject(t *testing.T, db *gorm.DB, name string) models.Project {
	t.Helper()
	p := models.Project{Name: name, URL: "https://" + name + ".example.com"}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func seedSettings(t *testing.T, db *gorm.DB, projectID string, freq models.AlertFrequency, email string) models.ThreatSettings {
	t.Helper()
	token, err := GenerateSnippetToken(projectID)
	require.NoError(t, err)
	s := models.ThreatSettings{
		ProjectID:      projectID,
		Enabled:        true,
		AlertFrequency: freq,
		AlertEmail:     email,
		SnippetToken:   token,
	}
	require.NoError(t, db.Create(&s).Error)
	return s
}

func seedEvents(t *testing.T, db *gorm.DB, projectID string, at time.Time, events ...models.ThreatEvent) {
	t.Helper()
	for i := range events {
		events[i].ProjectID = projectID
		if events[i].CreatedAt.IsZero() {
			events[i].CreatedAt = at.UTC()
		}
	}
	require.NoError(t, db.Create(&events).Error)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
