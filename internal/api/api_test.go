package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/petervdpas/goopcall/internal/avatar"
	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/storage"
)

type stubCalls struct {
	mu        sync.Mutex
	status    *call.Status
	err       error
	listened  []string
	volume    float64
	events    chan call.Event
	started   []string
	toggledOn bool
}

func newStubCalls() *stubCalls {
	return &stubCalls{events: make(chan call.Event, 8)}
}

func (s *stubCalls) StartCall(_ context.Context, id string, t call.CallType) (*call.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.started = append(s.started, id)
	s.status = &call.Status{Partner: call.Profile{ID: id}, Type: t, State: call.StateCalling, IsCaller: true}
	return nil, nil
}

func (s *stubCalls) Answer(context.Context) (*call.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return nil, call.ErrNoSession
	}
	s.status.State = call.StateConnected
	return nil, nil
}

func (s *stubCalls) Reject() error { return s.end() }
func (s *stubCalls) Hangup() error { return s.end() }

func (s *stubCalls) end() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return call.ErrNoSession
	}
	s.status = nil
	return nil
}

func (s *stubCalls) toggle(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	s.toggledOn = !s.toggledOn
	return s.toggledOn, nil
}

func (s *stubCalls) ToggleMic(ctx context.Context) (bool, error)         { return s.toggle(ctx) }
func (s *stubCalls) ToggleVideo(ctx context.Context) (bool, error)       { return s.toggle(ctx) }
func (s *stubCalls) ToggleDeafen(ctx context.Context) (bool, error)      { return s.toggle(ctx) }
func (s *stubCalls) ToggleScreenShare(ctx context.Context) (bool, error) { return s.toggle(ctx) }

func (s *stubCalls) SetRemoteVolume(v float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = min(max(v, 0), 1)
	return s.volume, nil
}

func (s *stubCalls) Status() (call.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return call.Status{}, false
	}
	return *s.status, true
}

func (s *stubCalls) Subscribe() (<-chan call.Event, func()) { return s.events, func() {} }

func (s *stubCalls) Listen(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listened = append(s.listened, id)
	return nil
}

type fixture struct {
	srv   *Server
	calls *stubCalls
	db    *storage.DB
	logs  *LogBuffer
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "call.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	blobs, err := avatar.NewBlobs(filepath.Join(dir, "blobs"), "")
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{calls: newStubCalls(), db: db, logs: NewLogBuffer(10)}
	f.srv = New(Options{
		SelfID:         "alice",
		AllowedOrigins: []string{"http://localhost:5173"},
		JWTSecret:      secret,
		Calls:          f.calls,
		Store:          db,
		Blobs:          blobs,
		Logs:           f.logs,
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.([]byte); ok {
			buf.Write(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"self_id":"alice"`) {
		t.Fatalf("expected self id in body, got %s", w.Body.String())
	}
}

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	f := newFixture(t, "secret")
	w := f.do(t, http.MethodGet, "/api/openapi.json", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 without a token, got %d", w.Code)
	}
	var doc struct {
		Swagger string                                `json:"swagger"`
		Info    struct{ Title string }                `json:"info"`
		Paths   map[string]map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("expected a JSON document, got %v", err)
	}
	if doc.Swagger != "2.0" || doc.Info.Title != "goopcall control API" {
		t.Fatalf("unexpected document header: %s %q", doc.Swagger, doc.Info.Title)
	}
	for _, r := range f.srv.engine.Routes() {
		path := r.Path
		for _, part := range strings.Split(path, "/") {
			if strings.HasPrefix(part, ":") {
				path = strings.Replace(path, part, "{"+part[1:]+"}", 1)
			}
		}
		if _, ok := doc.Paths[path][strings.ToLower(r.Method)]; !ok {
			t.Fatalf("expected %s %s documented", r.Method, path)
		}
	}
}

func TestCallLifecycle(t *testing.T) {
	f := newFixture(t, "")

	if w := f.do(t, http.MethodGet, "/api/call", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when idle, got %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/call/start", map[string]string{"partner_id": "bob", "type": "video"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var st call.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Partner.ID != "bob" || st.Type != call.CallVideo || st.State != call.StateCalling {
		t.Fatalf("unexpected status %+v", st)
	}

	if w := f.do(t, http.MethodPost, "/api/call/mic", nil); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"on":true`) {
		t.Fatalf("expected mic on, got %d %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/api/call/volume", map[string]float64{"volume": 3}); !strings.Contains(w.Body.String(), `"volume":1`) {
		t.Fatalf("expected clamped volume, got %s", w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/api/call/hangup", nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/call/hangup", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after hangup, got %d", w.Code)
	}
}

func TestStartValidation(t *testing.T) {
	f := newFixture(t, "")
	if w := f.do(t, http.MethodPost, "/api/call/start", map[string]string{"type": "audio"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without partner, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/call/volume", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without volume, got %d", w.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{call.ErrCallActive, http.StatusConflict},
		{call.ErrBusy, http.StatusConflict},
		{call.ErrNotConnected, http.StatusConflict},
		{call.ErrNoSession, http.StatusNotFound},
		{&media.Error{Source: media.SourceMicrophone, Err: media.ErrPermissionDenied}, http.StatusUnprocessableEntity},
		{call.ErrSignaling, http.StatusBadGateway},
		{storage.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			f := newFixture(t, "")
			f.calls.err = tc.err
			w := f.do(t, http.MethodPost, "/api/call/start", map[string]string{"partner_id": "bob"})
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestContacts(t *testing.T) {
	f := newFixture(t, "")

	w := f.do(t, http.MethodPost, "/api/contacts", map[string]string{"id": "bob", "name": "Bob"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(f.calls.listened) != 1 || f.calls.listened[0] != "bob" {
		t.Fatalf("expected listen on bob, got %v", f.calls.listened)
	}
	if w := f.do(t, http.MethodPost, "/api/contacts", map[string]string{"id": "alice"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self, got %d", w.Code)
	}

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	w = f.do(t, http.MethodPost, "/api/contacts/bob/avatar", png)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var up struct {
		AvatarURL string `json:"avatar_url"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &up); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(up.AvatarURL, "/blobs/") || !strings.HasSuffix(up.AvatarURL, ".png") {
		t.Fatalf("unexpected avatar url %q", up.AvatarURL)
	}
	if w := f.do(t, http.MethodGet, up.AvatarURL, nil); w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), png) {
		t.Fatalf("expected blob served back, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/contacts/carol/avatar", png); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown contact, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/contacts/bob/avatar", []byte("plain text")); w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", w.Code)
	}

	var contacts []storage.Contact
	w = f.do(t, http.MethodGet, "/api/contacts", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &contacts); err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].Name != "Bob" || contacts[0].AvatarURL != up.AvatarURL {
		t.Fatalf("unexpected contacts %+v", contacts)
	}
}

func TestCallHistory(t *testing.T) {
	f := newFixture(t, "")
	w := f.do(t, http.MethodGet, "/api/calls/history", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %d %s", w.Code, w.Body.String())
	}

	now := time.Now()
	for i, id := range []string{"c1", "c2"} {
		if err := f.db.AppendCall(storage.CallEntry{
			ID: id, PartnerID: "bob", Direction: storage.DirectionOutgoing, Type: "audio",
			Outcome: "completed", StartedAt: now.Add(time.Duration(i) * time.Minute), EndedAt: now.Add(time.Duration(i)*time.Minute + time.Second),
		}); err != nil {
			t.Fatal(err)
		}
	}
	var entries []storage.CallEntry
	w = f.do(t, http.MethodGet, "/api/calls/history?limit=1", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ID != "c2" {
		t.Fatalf("expected newest entry only, got %+v", entries)
	}
	if w := f.do(t, http.MethodGet, "/api/calls/history?limit=x", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestJWTAuth(t *testing.T) {
	const secret = "test-secret"
	f := newFixture(t, secret)

	if w := f.do(t, http.MethodGet, "/api/health", nil); w.Code != http.StatusOK {
		t.Fatalf("expected health open, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/contacts", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/contacts", nil, "Authorization", "Token abc"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad scheme, got %d", w.Code)
	}

	bad, err := IssueToken("other-secret", "ui", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if w := f.do(t, http.MethodGet, "/api/contacts", nil, "Authorization", "Bearer "+bad); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign token, got %d", w.Code)
	}
	expired, err := IssueToken(secret, "ui", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if w := f.do(t, http.MethodGet, "/api/contacts", nil, "Authorization", "Bearer "+expired); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", w.Code)
	}

	good, err := IssueToken(secret, "ui", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if w := f.do(t, http.MethodGet, "/api/contacts", nil, "Authorization", "Bearer "+good); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/contacts?access_token="+good, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	f := newFixture(t, "")
	req := httptest.NewRequest(http.MethodOptions, "/api/call/start", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow-origin for foreign origin, got %q", got)
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, "")
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events?logs=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	f.calls.events <- call.Event{Type: call.EventIncoming, Partner: call.Profile{ID: "bob"}, CallType: call.CallAudio}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Kind != "call" || msg.Event == nil || msg.Event.Type != call.EventIncoming || msg.Event.Partner.ID != "bob" {
		t.Fatalf("unexpected message %+v", msg)
	}

	// The call event was written from the stream loop, so the log
	// subscription is already in place.
	f.logs.Write([]byte("CALL: hello\n"))
	var line StreamMessage
	if err := conn.ReadJSON(&line); err != nil {
		t.Fatal(err)
	}
	if line.Kind != "log" || line.Log == nil || line.Log.Msg != "CALL: hello" {
		t.Fatalf("unexpected log message %+v", line)
	}
}

func TestEventStreamRejectsForeignOrigin(t *testing.T) {
	f := newFixture(t, "")
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestLogBuffer(t *testing.T) {
	b := NewLogBuffer(3)
	b.Write([]byte("one\ntwo\nthr"))
	b.Write([]byte("ee\nfour\n"))

	got := b.Snapshot()
	want := []string{"two", "three", "four"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].Msg != w {
			t.Fatalf("entry %d: expected %q, got %q", i, w, got[i].Msg)
		}
	}
	if tail := b.Tail(1); len(tail) != 1 || tail[0].Msg != "four" {
		t.Fatalf("expected tail four, got %+v", tail)
	}
}
