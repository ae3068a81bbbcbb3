package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xuri/excelize/v2"

	"github.com/starford/assistenze/internal/auth"
	"github.com/starford/assistenze/internal/export"
	"github.com/starford/assistenze/internal/models"
	"github.com/starford/assistenze/internal/recordservice"
	"github.com/starford/assistenze/internal/sse"
	"github.com/starford/assistenze/internal/storage"
	"github.com/starford/assistenze/internal/testutil"
	"github.com/starford/assistenze/internal/timewindow"
)

const adminEmail = "admin@example.com"

type recordedEvents struct {
	mu     sync.Mutex
	events []string
}

func (e *recordedEvents) PublishRecordEvent(kind, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, kind+":"+id)
}

type testEnv struct {
	router  http.Handler
	records *storage.Memory[models.Record]
	authSvc *auth.Service
	events  *recordedEvents
	tmpDir  string
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	records := testutil.Records(t)
	authSvc, _ := testutil.Auth(t, adminEmail)
	env := &testEnv{
		records: records,
		authSvc: authSvc,
		events:  &recordedEvents{},
		tmpDir:  t.TempDir(),
	}
	opts = append([]Option{
		WithEvents(env.events),
		WithExport(ExportConfig{TmpDir: env.tmpDir}),
	}, opts...)
	h := NewHandler(recordservice.NewService(records), authSvc, opts...)

	r := chi.NewRouter()
	r.Mount("/api", NewRouter(h, nil))
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) token(t *testing.T, email string) string {
	t.Helper()
	if _, err := e.authSvc.Register(context.Background(), email, "password"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	tok, _, err := e.authSvc.Login(context.Background(), email, "password")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return tok
}

func bearer(tok string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tok}
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body errResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.Error
}

func (e *testEnv) submit(t *testing.T, rec map[string]string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/submit", rec, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("submit status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp messageResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Message != MsgSaved || resp.ID == "" {
		t.Fatalf("submit response = %+v", resp)
	}
	return resp.ID
}

func (e *testEnv) list(t *testing.T, query string) []models.Record {
	t.Helper()
	w := e.do(t, http.MethodGet, "/api/records"+query, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var out []models.Record
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return out
}

func TestListEmpty(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/records", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}

func TestSubmitAndList(t *testing.T) {
	env := newTestEnv(t)
	id := env.submit(t, map[string]string{
		"startTime": "09:00", "endTime": "10:30", "technician": "AC", "clientName": "Acme",
	})

	records := env.list(t, "")
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].ID != id || *records[0].Duration != 90 || records[0].ClientName != "Acme" {
		t.Errorf("record = %+v", records[0])
	}
	if len(env.events.events) != 1 || env.events.events[0] != sse.KindCreated+":"+id {
		t.Errorf("events = %v", env.events.events)
	}
}

func TestSubmitInvalidWindow(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		body map[string]string
		msg  string
	}{
		{map[string]string{"startTime": "09:00", "endTime": "08:00"}, timewindow.MsgEndBefore},
		{map[string]string{"startTime": "09:00", "endTime": "09:00"}, timewindow.MsgEndBefore},
		{map[string]string{"startTime": "09:00"}, timewindow.MsgMissing},
		{map[string]string{"startTime": "9am", "endTime": "10:00"}, timewindow.MsgInvalidTime},
	}
	for _, tt := range tests {
		w := env.do(t, http.MethodPost, "/api/submit", tt.body, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%v: status = %d, want 400", tt.body, w.Code)
			continue
		}
		if got := errorMessage(t, w); got != tt.msg {
			t.Errorf("%v: error = %q, want %q", tt.body, got, tt.msg)
		}
	}
	if n := len(env.list(t, "")); n != 0 {
		t.Errorf("rejected submissions stored %d records", n)
	}
}

func TestSubmitInvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/submit", "{", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSubmitBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)
	big := `{"startTime":"09:00","endTime":"10:00","description":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	w := env.do(t, http.MethodPost, "/api/submit", big, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSubmitStorageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.records.SetError(os.ErrPermission)
	w := env.do(t, http.MethodPost, "/api/submit", map[string]string{"startTime": "09:00", "endTime": "10:00"}, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := errorMessage(t, w); got != recordservice.MsgSaveFailed {
		t.Errorf("error = %q", got)
	}
}

func TestListFilters(t *testing.T) {
	env := newTestEnv(t)
	env.submit(t, map[string]string{"startTime": "09:00", "endTime": "10:00", "technician": "AC", "clientName": "Acme"})
	env.submit(t, map[string]string{"startTime": "09:00", "endTime": "10:00", "technician": "BR", "clientName": "Globex"})

	if n := len(env.list(t, "?technician=AC")); n != 1 {
		t.Errorf("technician filter = %d, want 1", n)
	}
	if n := len(env.list(t, "?q=globex")); n != 1 {
		t.Errorf("text filter = %d, want 1", n)
	}
}

func TestGetRecordETag(t *testing.T) {
	env := newTestEnv(t)
	id := env.submit(t, map[string]string{"startTime": "09:00", "endTime": "10:00"})

	w := env.do(t, http.MethodGet, "/api/records/"+id, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("ETag") == "" {
		t.Error("missing ETag")
	}

	w = env.do(t, http.MethodGet, "/api/records/nope", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing record status = %d, want 404", w.Code)
	}
}

func TestUpdateRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	id := env.submit(t, map[string]string{"startTime": "09:00", "endTime": "10:00"})

	w := env.do(t, http.MethodPut, "/api/records/"+id, map[string]string{"topic": "x"}, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if got := errorMessage(t, w); got != auth.MsgTokenMissing {
		t.Errorf("error = %q", got)
	}

	w = env.do(t, http.MethodPut, "/api/records/"+id, map[string]string{"topic": "x"}, bearer("garbage"))
	if w.Code != http.StatusForbidden || errorMessage(t, w) != auth.MsgTokenInvalid {
		t.Errorf("invalid token: status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestUpdateUnprotected(t *testing.T) {
	env := newTestEnv(t, WithProtectedUpdates(false))
	id := env.submit(t, map[string]string{"startTime": "09:00", "endTime": "10:00"})

	w := env.do(t, http.MethodPut, "/api/records/"+id, map[string]string{"topic": "x"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestUpdateRecord(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "tech@example.com")
	id := env.submit(t, map[string]string{"startTime": "09:00", "endTime": "10:00", "clientName": "Acme"})

	w := env.do(t, http.MethodPut, "/api/records/"+id,
		map[string]any{"endTime": "11:00", "_id": "hijack", "duration": 1, "modified": true}, bearer(tok))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp messageResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Message != MsgUpdated {
		t.Errorf("message = %q", resp.Message)
	}

	got := env.list(t, "")[0]
	if got.ID != id || *got.Duration != 120 || got.ClientName != "Acme" {
		t.Errorf("record = %+v", got)
	}
	if last := env.events.events[len(env.events.events)-1]; last != sse.KindUpdated+":"+id {
		t.Errorf("last event = %q", last)
	}
}

func TestUpdateErrors(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "tech@example.com")

	w := env.do(t, http.MethodPut, "/api/records/x", map[string]string{"topic": "t"}, bearer(tok))
	if w.Code != http.StatusNotFound || errorMessage(t, w) != recordservice.MsgNoRecords {
		t.Errorf("absent collection: %d %s", w.Code, w.Body.String())
	}

	id := env.submit(t, map[string]string{"startTime": "09:00", "endTime": "10:00"})
	w = env.do(t, http.MethodPut, "/api/records/x", map[string]string{"topic": "t"}, bearer(tok))
	if w.Code != http.StatusNotFound || errorMessage(t, w) != recordservice.MsgRecordNotFound {
		t.Errorf("unknown id: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPut, "/api/records/"+id, map[string]string{"startTime": "12:00"}, bearer(tok))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid window: status = %d, want 400", w.Code)
	}
}

func TestUpdateIfMatch(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "tech@example.com")
	id := env.submit(t, map[string]string{"startTime": "09:00", "endTime": "10:00"})

	etag := env.do(t, http.MethodGet, "/api/records/"+id, nil, nil).Header().Get("ETag")

	h := bearer(tok)
	h["If-Match"] = etag
	if w := env.do(t, http.MethodPut, "/api/records/"+id, map[string]string{"topic": "a"}, h); w.Code != http.StatusOK {
		t.Fatalf("first update status = %d", w.Code)
	}
	// Same, now stale, ETag.
	if w := env.do(t, http.MethodPut, "/api/records/"+id, map[string]string{"topic": "b"}, h); w.Code != http.StatusConflict {
		t.Errorf("stale update status = %d, want 409", w.Code)
	}
}

func TestExportForbidden(t *testing.T) {
	env := newTestEnv(t)
	tech := env.token(t, "tech@example.com")

	tests := []struct {
		name   string
		header map[string]string
		msg    string
	}{
		{"missing", nil, auth.MsgTokenMissing},
		{"invalid", bearer("x.y.z"), auth.MsgTokenInvalid},
		{"not admin", bearer(tech), auth.MsgAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/export", nil, tt.header)
			if w.Code != http.StatusForbidden {
				t.Fatalf("status = %d, want 403", w.Code)
			}
			if got := errorMessage(t, w); got != tt.msg {
				t.Errorf("error = %q, want %q", got, tt.msg)
			}
		})
	}
}

func TestExportNothing(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, adminEmail)
	w := env.do(t, http.MethodGet, "/api/export", nil, bearer(admin))
	if w.Code != http.StatusNotFound || errorMessage(t, w) != MsgNothingToExp {
		t.Errorf("status = %d body = %s", w.Code, w.Body.String())
	}
}

func TestExportSpreadsheet(t *testing.T) {
	env := newTestEnv(t)
	admin := env.token(t, adminEmail)
	env.submit(t, map[string]string{"startTime": "09:00", "endTime": "10:00", "clientName": "Acme"})
	env.submit(t, map[string]string{"startTime": "11:00", "endTime": "11:45", "clientName": "Globex"})

	w := env.do(t, http.MethodGet, "/api/export", nil, bearer(admin))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != export.ContentType {
		t.Errorf("content type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, export.DefaultFilename) {
		t.Errorf("content disposition = %q", cd)
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(export.DefaultSheet)
	if len(rows) != 3 {
		t.Errorf("rows = %d, want header + 2", len(rows))
	}

	entries, _ := os.ReadDir(env.tmpDir)
	if len(entries) != 0 {
		t.Errorf("transient export file left behind: %v", entries)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)
	creds := map[string]string{"email": "new@example.com", "password": "segreta"}

	w := env.do(t, http.MethodPost, "/api/register", creds, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/api/register", creds, nil)
	if w.Code != http.StatusConflict || errorMessage(t, w) != auth.MsgUserExists {
		t.Errorf("duplicate: %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/login", creds, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d", w.Code)
	}
	var resp LoginResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Token == "" || resp.Role != models.RoleTechnician {
		t.Errorf("login response = %+v", resp)
	}
	if d := time.Until(resp.ExpiresAt); d < time.Hour || d > 2*time.Hour+time.Minute {
		t.Errorf("expiresAt in %v, want about 2h", d)
	}
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/register", map[string]string{"email": "a@example.com"}, nil)
	if w.Code != http.StatusBadRequest || errorMessage(t, w) != auth.MsgCredentialsRequired {
		t.Errorf("missing password: %d %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/api/register", map[string]string{"email": "nope", "password": "x"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad email: status = %d", w.Code)
	}
}

func TestLoginFailuresIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.token(t, "user@example.com")

	wrong := env.do(t, http.MethodPost, "/api/login", map[string]string{"email": "user@example.com", "password": "bad"}, nil)
	unknown := env.do(t, http.MethodPost, "/api/login", map[string]string{"email": "ghost@example.com", "password": "password"}, nil)
	if wrong.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d / %d, want 401", wrong.Code, unknown.Code)
	}
	if wrong.Body.String() != unknown.Body.String() {
		t.Errorf("bodies differ: %s vs %s", wrong.Body.String(), unknown.Body.String())
	}

	bad := env.do(t, http.MethodPost, "/api/login", "not json", nil)
	if bad.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d, want 400", bad.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header, want string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"abc", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", tt.header)
		if got := bearerToken(req); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestSSEEventsMounted(t *testing.T) {
	broker := sse.NewBroker(time.Second)
	defer broker.Close()
	h := NewHandler(recordservice.NewService(testutil.Records(t)), nil)
	r := chi.NewRouter()
	r.Mount("/api", NewRouter(h, broker))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		r.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}
