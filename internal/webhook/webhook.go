// Package webhook notifies external systems when a document upload
// finishes. Payloads carry counts and metadata only, never document text
// or detected values.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vurakit/lexveil/pkg/pii"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventDocumentCompleted EventType = "document.completed"
	EventDocumentFailed    EventType = "document.failed"
)

// Event is a webhook event payload
type Event struct {
	ID        string       `json:"id"`
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Data      DocumentData `json:"data"`
}

// DocumentData summarizes one processed upload. Filenames are left out
// because they often carry party names.
type DocumentData struct {
	HistoryID     string               `json:"history_id,omitempty"`
	FileType      string               `json:"file_type"`
	FileSize      int64                `json:"file_size"`
	TotalPatterns int                  `json:"total_patterns"`
	PatternCounts map[pii.Category]int `json:"pattern_counts,omitempty"`
	DurationMS    int64                `json:"duration_ms"`
	Error         string               `json:"error,omitempty"`
}

// Destination defines where to send webhook events
type Destination struct {
	Name    string            `mapstructure:"name" json:"name"`
	URL     string            `mapstructure:"url" json:"url"`
	Secret  string            `mapstructure:"secret" json:"-"`      // HMAC signing secret
	Events  []EventType       `mapstructure:"events" json:"events"` // empty = all events
	Headers map[string]string `mapstructure:"headers" json:"-"`
}

// Config holds webhook dispatcher configuration
type Config struct {
	Destinations []Destination
	RetryCount   int
	Timeout      time.Duration
	BufferSize   int
	RetryDelay   time.Duration // base delay, multiplied by the attempt number
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RetryCount: 3,
		Timeout:    10 * time.Second,
		BufferSize: 1000,
		RetryDelay: time.Second,
	}
}

// Dispatcher delivers events from a buffered queue on a single worker.
type Dispatcher struct {
	config    Config
	client    *http.Client
	logger    *slog.Logger
	events    chan Event
	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

// NewDispatcher creates a webhook dispatcher and starts its worker.
func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		events: make(chan Event, cfg.BufferSize),
		closed: make(chan struct{}),
	}

	d.wg.Add(1)
	go d.worker()
	return d
}

// Emit queues an event. It never blocks; when the buffer is full or the
// dispatcher is closed the event is dropped.
func (d *Dispatcher) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = "evt_" + uuid.NewString()
	}

	select {
	case <-d.closed:
		return
	default:
	}
	select {
	case d.events <- event:
	default:
		d.logger.Warn("webhook buffer full, dropping event", "type", event.Type, "id", event.ID)
	}
}

// Close stops the dispatcher after delivering queued events.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.events:
			d.dispatch(event)
		case <-d.closed:
			for {
				select {
				case event := <-d.events:
					d.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) dispatch(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("webhook marshal failed", "error", err)
		return
	}
	for _, dest := range d.config.Destinations {
		if matchesEvent(dest.Events, event.Type) {
			d.send(dest, event, payload)
		}
	}
}

func matchesEvent(filter []EventType, eventType EventType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == eventType {
			return true
		}
	}
	return false
}

func (d *Dispatcher) send(dest Destination, event Event, payload []byte) {
	for attempt := 0; attempt <= d.config.RetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * d.config.RetryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, dest.URL, bytes.NewReader(payload))
		if err != nil {
			d.logger.Error("webhook request error", "dest", dest.Name, "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Lexveil-Webhook/1.0")
		req.Header.Set("X-Lexveil-Event", string(event.Type))
		req.Header.Set("X-Lexveil-Delivery", event.ID)
		if dest.Secret != "" {
			req.Header.Set("X-Lexveil-Signature", "sha256="+signPayload(payload, dest.Secret))
		}
		for k, v := range dest.Headers {
			req.Header.Set(k, v)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.Warn("webhook delivery failed", "dest", dest.Name, "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			d.logger.Debug("webhook delivered", "dest", dest.Name, "event", event.Type, "id", event.ID)
			return
		}
		d.logger.Warn("webhook non-2xx response", "dest", dest.Name, "status", resp.StatusCode, "attempt", attempt+1)
	}
	d.logger.Error("webhook gave up", "dest", dest.Name, "event", event.Type, "id", event.ID)
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an X-Lexveil-Signature header value against the
// raw request body. Receivers use it to authenticate deliveries.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := "sha256=" + signPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
