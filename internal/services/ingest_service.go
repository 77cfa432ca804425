package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avct/uasurfer"
	"gorm.io/gorm"

	"github.com/checkvibe/threatwatch/internal/logger"
	"github.com/checkvibe/threatwatch/internal/metrics"
	"github.com/checkvibe/threatwatch/internal/models"
	"github.com/checkvibe/threatwatch/internal/ratelimit"
	"github.com/checkvibe/threatwatch/internal/util"
)

const (
	MaxEventsPerBatch  = 50
	MaxPayloadLength   = 500
	MaxPathLength      = 2048
	MaxUserAgentLength = 512
	IngestRateLimitKey = "threat-ingest:"
	// MaxTokenLength matches the snippet_token column; anything longer cannot
	// be a real token and must not reach the limiter as a fresh key.
	MaxTokenLength = 64
	insertBatchSize    = MaxEventsPerBatch
)

var (
	ErrInvalidToken   = errors.New("missing or malformed token")
	ErrNoEvents       = errors.New("events array required")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrUnknownToken   = errors.New("invalid token")
	ErrIngestDisabled = errors.New("threat detection disabled")
	ErrStoreEvents    = errors.New("failed to store events")
)

// IngestRequest is one snippet batch plus what the server observed about the
// caller. Per-event IP, user agent and timestamp fields are never read.
type IngestRequest struct {
	Token     string
	Events    []json.RawMessage
	SourceIP  string
	UserAgent string
}

type IngestResult struct {
	Accepted  int
	RateLimit ratelimit.Result
}

// incomingEvent is decoded leniently: scalar fields of any JSON type are
// stringified, anything else is dropped.
type incomingEvent struct {
	Type     any `json:"type"`
	Severity any `json:"severity"`
	Path     any `json:"path"`
	Payload  any `json:"payload"`
	Metadata any `json:"metadata"`
}

type IngestService struct {
	DB       *gorm.DB
	Settings *ThreatSettingsService
	Limit    ratelimit.Guard
	now      func() time.Time
}

func NewIngestService(db *gorm.DB, settings *ThreatSettingsService, limit ratelimit.Guard) *IngestService {
	return &IngestService{DB: db, Settings: settings, Limit: limit, now: time.Now}
}

// Ingest runs the gate sequence for one batch: token shape, batch size, rate
// limit, token lookup, normalisation and a single bulk insert.
func (s *IngestService) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	var res IngestResult

	if req.Token == "" || len(req.Token) > MaxTokenLength || !strings.HasPrefix(req.Token, models.SnippetTokenPrefix) {
		metrics.IncIngestRejected("bad_token")
		return res, ErrInvalidToken
	}
	if len(req.Events) == 0 {
		metrics.IncIngestRejected("no_events")
		return res, ErrNoEvents
	}
	batch := req.Events
	if len(batch) > MaxEventsPerBatch {
		batch = batch[:MaxEventsPerBatch]
	}

	rl, err := s.Limit.Allow(ctx, IngestRateLimitKey+req.Token, int64(len(batch)))
	res.RateLimit = rl
	if err != nil || !rl.Allowed {
		metrics.IncIngestRejected("rate_limited")
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return res, ErrRateLimited
	}

	settings, err := s.Settings.Lookup(ctx, req.Token)
	if err != nil {
		if errors.Is(err, ErrUnknownToken) {
			metrics.IncIngestRejected("unknown_token")
		}
		return res, err
	}
	if !settings.Enabled {
		metrics.IncIngestRejected("disabled")
		return res, ErrIngestDisabled
	}

	rows := s.normalize(settings.ProjectID, batch, req.SourceIP, req.UserAgent)

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, insertBatchSize).Error
	})
	if err != nil {
		metrics.IncIngestRejected("store_failed")
		logger.ForProject("ingest", settings.ProjectID).WithError(err).Error("threat events insert failed")
		return res, fmt.Errorf("%w: %v", ErrStoreEvents, err)
	}

	metrics.AddIngested(len(rows))
	res.Accepted = len(rows)
	return res, nil
}

type clientInfo struct {
	browser string
	os      string
	device  string
	isBot   bool
}

func parseClient(userAgent string) clientInfo {
	if userAgent == "" {
		return clientInfo{}
	}
	ua := uasurfer.Parse(userAgent)
	return clientInfo{
		browser: ua.Browser.Name.StringTrimPrefix(),
		os:      ua.OS.Name.StringTrimPrefix(),
		device:  ua.DeviceType.StringTrimPrefix(),
		isBot:   ua.IsBot(),
	}
}

func (s *IngestService) normalize(projectID string, batch []json.RawMessage, sourceIP, userAgent string) []models.ThreatEvent {
	ua := util.Truncate(userAgent, MaxUserAgentLength)
	client := parseClient(ua)
	now := s.now().UTC()

	rows := make([]models.ThreatEvent, 0, len(batch))
	for _, raw := range batch {
		var in incomingEvent
		// Non-object entries still count as an event of type other.
		_ = json.Unmarshal(raw, &in)

		metadata, ok := in.Metadata.(map[string]any)
		if !ok {
			metadata = map[string]any{}
		}

		rows = append(rows, models.ThreatEvent{
			ProjectID:      projectID,
			EventType:      models.ParseEventType(stringify(in.Type)),
			Severity:       models.ParseSeverity(stringify(in.Severity)),
			SourceIP:       sourceIP,
			UserAgent:      ua,
			RequestPath:    util.Truncate(stringify(in.Path), MaxPathLength),
			PayloadSnippet: util.Truncate(stringify(in.Payload), MaxPayloadLength),
			Metadata:       metadata,
			ClientBrowser:  client.browser,
			ClientOS:       client.os,
			ClientDevice:   client.device,
			IsBot:          client.isBot,
			CreatedAt:      now,
		})
	}
	return rows
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
