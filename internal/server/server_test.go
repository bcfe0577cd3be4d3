package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vurakit/lexveil/internal/auth"
	"github.com/vurakit/lexveil/internal/extract"
	"github.com/vurakit/lexveil/internal/history"
	"github.com/vurakit/lexveil/internal/processor"
	"github.com/vurakit/lexveil/internal/webhook"
	"github.com/vurakit/lexveil/pkg/pii"
)

const contract = "Contratante: Maria Silva, CPF: 111.444.777-35, telefone (11) 98888-7777, email maria@teste.com"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func setupTestServer(t *testing.T, opts ...Option) (http.Handler, *history.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := history.NewWithClient(client)

	p := processor.New(nil, processor.WithLogger(quietLogger()))
	base := []Option{WithHistory(store), WithLogger(quietLogger())}
	srv := New(p, extract.New(extract.WithPDFToText("")), append(base, opts...)...)
	return srv.Handler(), store
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, h http.Handler, filename string, data []byte, options string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	if options != "" {
		mw.WriteField("options", options)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHealth(t *testing.T) {
	h, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != "ok" || body["history"] != "ok" {
		t.Errorf("unexpected health: %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestDetect(t *testing.T) {
	h, _ := setupTestServer(t)

	rec := postJSON(t, h, "/v1/detect", `{"text":"`+contract+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp DetectResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Found || resp.Total != 4 {
		t.Errorf("expected 4 patterns, got %d", resp.Total)
	}
	for _, cat := range []pii.Category{pii.CatTaxID, pii.CatPersonName, pii.CatPhone, pii.CatEmail} {
		if resp.ByType[cat] != 1 {
			t.Errorf("%s count = %d", cat, resp.ByType[cat])
		}
	}
}

func TestDetect_BadRequest(t *testing.T) {
	h, _ := setupTestServer(t)

	rec := postJSON(t, h, "/v1/detect", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if decodeError(t, rec).Error != "bad_request" {
		t.Error("expected bad_request code")
	}
}

func TestAnonymize(t *testing.T) {
	h, _ := setupTestServer(t)

	rec := postJSON(t, h, "/v1/anonymize", `{"text":"`+contract+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var res processor.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	want := "Contratante: PESSOA_001, CPF: ***.444.***-35, telefone (11) *****-7777, email m***a@teste.com"
	if res.AnonymizedText != want {
		t.Errorf("got  %q\nwant %q", res.AnonymizedText, want)
	}
	if res.ID == "" {
		t.Error("expected a processing id")
	}
}

func TestAnonymize_Options(t *testing.T) {
	h, _ := setupTestServer(t)

	body := `{"text":"CPF: 111.444.777-35","options":{"tax_id":"full"}}`
	rec := postJSON(t, h, "/v1/anonymize", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res processor.Result
	json.NewDecoder(rec.Body).Decode(&res)
	if res.AnonymizedText != "CPF: ***.***.***-**" {
		t.Errorf("got %q", res.AnonymizedText)
	}
}

func TestAnonymize_Defaults(t *testing.T) {
	h, _ := setupTestServer(t, WithDefaults(func() processor.Options {
		o := processor.DefaultOptions()
		o.PersonName = "initials"
		return o
	}))

	rec := postJSON(t, h, "/v1/anonymize", `{"text":"Contratante: Maria Silva"}`)
	var res processor.Result
	json.NewDecoder(rec.Body).Decode(&res)
	if res.AnonymizedText != "Contratante: M.S." {
		t.Errorf("configured defaults not applied: %q", res.AnonymizedText)
	}
}

func TestAnonymize_InvalidOptions(t *testing.T) {
	h, _ := setupTestServer(t)

	rec := postJSON(t, h, "/v1/anonymize", `{"text":"x","options":{"tax_id":7}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestDocument_TXT(t *testing.T) {
	h, store := setupTestServer(t)

	rec := upload(t, h, "contrato.txt", []byte(contract), `{"person_name":"generic"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp DocumentResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.FileType != extract.TypeTXT || resp.HistoryID == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !strings.HasPrefix(resp.Result.AnonymizedText, "Contratante: Fulano de Tal,") {
		t.Errorf("options field not applied: %q", resp.Result.AnonymizedText)
	}

	got, err := store.Get(t.Context(), resp.HistoryID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != history.StatusCompleted || got.TotalPatterns != 4 || got.Filename != "contrato.txt" {
		t.Errorf("unexpected history record: %+v", got)
	}
}

func TestDocument_Errors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
		opts     []Option
		status   int
		code     string
	}{
		{"unsupported", "img.png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), nil, http.StatusUnsupportedMediaType, "unsupported_file"},
		{"pdf without tool", "a.pdf", []byte("%PDF-1.4\n"), nil, http.StatusServiceUnavailable, "extractor_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, store := setupTestServer(t, tt.opts...)
			rec := upload(t, h, tt.filename, tt.data, "")
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if decodeError(t, rec).Error != tt.code {
				t.Errorf("expected code %s", tt.code)
			}

			records, _ := store.List(t.Context(), 10)
			if len(records) != 1 || records[0].Status != history.StatusFailed {
				t.Errorf("expected one failed history record, got %+v", records)
			}
		})
	}
}

func TestDocument_TooLarge(t *testing.T) {
	mr := miniredis.RunT(t)
	store := history.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	srv := New(processor.New(nil, processor.WithLogger(quietLogger())),
		extract.New(extract.WithMaxSize(16)), WithHistory(store), WithLogger(quietLogger()))

	rec := upload(t, srv.Handler(), "a.txt", []byte(contract), "")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestDocument_MissingFile(t *testing.T) {
	h, _ := setupTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("options", "{}")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	h, _ := setupTestServer(t)

	first := upload(t, h, "a.txt", []byte(contract), "")
	var doc DocumentResponse
	json.NewDecoder(first.Body).Decode(&doc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history?limit=5", nil))
	var list HistoryResponse
	json.NewDecoder(rec.Body).Decode(&list)
	if rec.Code != http.StatusOK || len(list.Records) != 1 {
		t.Fatalf("list: %d %+v", rec.Code, list)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history/"+doc.HistoryID, nil))
	if rec.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "Maria") {
		t.Error("history must not expose document content")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/history/"+doc.HistoryID, nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history/"+doc.HistoryID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", rec.Code)
	}
}

func TestHistoryDisabled(t *testing.T) {
	srv := New(processor.New(nil, processor.WithLogger(quietLogger())), nil, WithLogger(quietLogger()))
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/history", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	up := upload(t, h, "a.txt", []byte(contract), "")
	var doc DocumentResponse
	json.NewDecoder(up.Body).Decode(&doc)
	if up.Code != http.StatusOK || doc.HistoryID != "" {
		t.Errorf("uploads should work without history: %d %+v", up.Code, doc)
	}
}

func TestTechniques(t *testing.T) {
	h, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/techniques", nil))
	var out map[pii.Category]TechniqueInfo
	json.NewDecoder(rec.Body).Decode(&out)

	if out[pii.CatPersonName].Default != "pseudonym" || len(out[pii.CatPersonName].Allowed) == 0 {
		t.Errorf("unexpected person_name info: %+v", out[pii.CatPersonName])
	}
}

func TestRouting(t *testing.T) {
	h, _ := setupTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/anonymize", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Error != "not_found" {
		t.Errorf("expected JSON 404, got %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	keys := auth.NewManager(client)
	keys.SetLogger(quietLogger())

	viewer, _, _ := keys.GenerateKey(t.Context(), auth.RoleViewer, "viewer")
	operator, _, _ := keys.GenerateKey(t.Context(), auth.RoleOperator, "operator")

	srv := New(processor.New(nil, processor.WithLogger(quietLogger())), nil,
		WithAuth(keys), WithLogger(quietLogger()))
	h := srv.Handler()

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"no key", "/v1/detect", "", http.StatusUnauthorized},
		{"viewer detects", "/v1/detect", viewer, http.StatusOK},
		{"viewer cannot anonymize", "/v1/anonymize", viewer, http.StatusForbidden},
		{"operator anonymizes", "/v1/anonymize", operator, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(`{"text":"`+contract+`"}`))
			if tt.key != "" {
				req.Header.Set("Authorization", "Bearer "+tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health should not need a key, got %d", rec.Code)
	}
}

func TestDocument_Webhooks(t *testing.T) {
	events := make(chan webhook.Event, 4)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e webhook.Event
		json.NewDecoder(r.Body).Decode(&e)
		events <- e
		w.WriteHeader(http.StatusNoContent)
	}))
	defer receiver.Close()

	cfg := webhook.DefaultConfig()
	cfg.RetryCount = 0
	cfg.Destinations = []webhook.Destination{{Name: "test", URL: receiver.URL}}
	d := webhook.NewDispatcher(cfg, quietLogger())

	h, _ := setupTestServer(t, WithWebhooks(d))
	if rec := upload(t, h, "contrato.txt", []byte(contract), ""); rec.Code != http.StatusOK {
		t.Fatalf("upload: %d", rec.Code)
	}
	if rec := upload(t, h, "img.png", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), ""); rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("upload: %d", rec.Code)
	}
	d.Close()

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	done, failed := <-events, <-events
	if done.Type != webhook.EventDocumentCompleted || done.Data.TotalPatterns != 4 || done.Data.HistoryID == "" {
		t.Errorf("unexpected completion event: %+v", done)
	}
	if failed.Type != webhook.EventDocumentFailed || failed.Data.Error == "" {
		t.Errorf("unexpected failure event: %+v", failed)
	}
}
