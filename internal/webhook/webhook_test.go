package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vurakit/lexveil/pkg/pii"
)

type delivery struct {
	header http.Header
	body   []byte
}

// receiver records every request and answers with status.
func receiver(t *testing.T, status int) (*httptest.Server, chan delivery) {
	t.Helper()
	got := make(chan delivery, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func newTestDispatcher(dests ...Destination) *Dispatcher {
	cfg := DefaultConfig()
	cfg.Destinations = dests
	cfg.RetryCount = 0
	cfg.RetryDelay = time.Millisecond
	return NewDispatcher(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func completed() Event {
	return Event{
		Type: EventDocumentCompleted,
		Data: DocumentData{
			HistoryID:     "h-1",
			FileType:      "pdf",
			FileSize:      2048,
			TotalPatterns: 3,
			PatternCounts: map[pii.Category]int{pii.CatTaxID: 2, pii.CatPersonName: 1},
			DurationMS:    12,
		},
	}
}

func TestDispatcher_EmitAndDeliver(t *testing.T) {
	srv, got := receiver(t, http.StatusOK)

	d := newTestDispatcher(Destination{Name: "test", URL: srv.URL})
	d.Emit(completed())
	d.Close()

	select {
	case dl := <-got:
		if dl.header.Get("Content-Type") != "application/json" {
			t.Error("expected application/json content type")
		}
		if dl.header.Get("X-Lexveil-Event") != string(EventDocumentCompleted) {
			t.Errorf("event header = %q", dl.header.Get("X-Lexveil-Event"))
		}
		if !strings.HasPrefix(dl.header.Get("X-Lexveil-Delivery"), "evt_") {
			t.Errorf("delivery header = %q", dl.header.Get("X-Lexveil-Delivery"))
		}

		var event Event
		if err := json.Unmarshal(dl.body, &event); err != nil {
			t.Fatal(err)
		}
		if event.Type != EventDocumentCompleted || event.Timestamp.IsZero() {
			t.Errorf("unexpected event: %+v", event)
		}
		if event.Data.PatternCounts[pii.CatTaxID] != 2 || event.Data.HistoryID != "h-1" {
			t.Errorf("unexpected data: %+v", event.Data)
		}
	default:
		t.Fatal("expected one delivery")
	}
}

func TestDispatcher_EventFilter(t *testing.T) {
	srv, got := receiver(t, http.StatusOK)

	d := newTestDispatcher(Destination{
		Name:   "failures",
		URL:    srv.URL,
		Events: []EventType{EventDocumentFailed},
	})
	d.Emit(completed())
	d.Emit(Event{Type: EventDocumentFailed, Data: DocumentData{Error: "unsupported file type"}})
	d.Close()

	if len(got) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got))
	}
	if dl := <-got; dl.header.Get("X-Lexveil-Event") != string(EventDocumentFailed) {
		t.Errorf("wrong event delivered: %s", dl.header.Get("X-Lexveil-Event"))
	}
}

func TestDispatcher_SignatureAndHeaders(t *testing.T) {
	srv, got := receiver(t, http.StatusOK)

	d := newTestDispatcher(Destination{
		Name:    "signed",
		URL:     srv.URL,
		Secret:  "my-secret",
		Headers: map[string]string{"Authorization": "Bearer custom-token"},
	})
	d.Emit(completed())
	d.Close()

	dl := <-got
	if !VerifySignature(dl.body, dl.header.Get("X-Lexveil-Signature"), "my-secret") {
		t.Errorf("signature %q does not verify", dl.header.Get("X-Lexveil-Signature"))
	}
	if dl.header.Get("Authorization") != "Bearer custom-token" {
		t.Errorf("custom header = %q", dl.header.Get("Authorization"))
	}
}

func TestDispatcher_Retry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Destinations = []Destination{{Name: "flaky", URL: srv.URL}}
	cfg.RetryCount = 3
	cfg.RetryDelay = time.Millisecond
	d := NewDispatcher(cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	d.Emit(completed())
	d.Close()

	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDispatcher_EmitAfterClose(t *testing.T) {
	srv, got := receiver(t, http.StatusOK)

	d := newTestDispatcher(Destination{Name: "test", URL: srv.URL})
	d.Close()
	d.Close()
	d.Emit(completed())

	if len(got) != 0 {
		t.Error("events emitted after Close should be dropped")
	}
}

func TestDispatcher_NoTextInPayload(t *testing.T) {
	payload, err := json.Marshal(completed())
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"filename", "text", "original"} {
		if strings.Contains(string(payload), `"`+field) {
			t.Errorf("payload should not carry %q: %s", field, payload)
		}
	}
}

func TestMatchesEvent(t *testing.T) {
	tests := []struct {
		filter   []EventType
		event    EventType
		expected bool
	}{
		{nil, EventDocumentCompleted, true},
		{[]EventType{}, EventDocumentCompleted, true},
		{[]EventType{EventDocumentCompleted}, EventDocumentCompleted, true},
		{[]EventType{EventDocumentFailed}, EventDocumentCompleted, false},
		{[]EventType{EventDocumentCompleted, EventDocumentFailed}, EventDocumentFailed, true},
	}

	for _, tt := range tests {
		if got := matchesEvent(tt.filter, tt.event); got != tt.expected {
			t.Errorf("matchesEvent(%v, %s) = %v, want %v", tt.filter, tt.event, got, tt.expected)
		}
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"type":"document.completed"}`)
	secret := "test-secret"
	sig := "sha256=" + signPayload(payload, secret)

	if !VerifySignature(payload, sig, secret) {
		t.Error("valid signature should verify")
	}
	if VerifySignature(payload, "sha256=invalid", secret) {
		t.Error("invalid signature should not verify")
	}
	if VerifySignature(payload, sig, "wrong-secret") {
		t.Error("wrong secret should not verify")
	}
}
