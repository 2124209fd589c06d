package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

var testSecret = []byte("test-secret")

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "api.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := reminder.NewService(st, reminder.ServiceOptions{Clock: fixedClock{now}})
	srv, err := New(Config{JWTSecret: testSecret, MaxBody: 20, Now: func() time.Time { return now }}, svc, logx.Nop())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	tok, err := NewToken(testSecret, "tests")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return srv, tok
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func (c fixedClock) NewTimer(d time.Duration) reminder.Timer {
	return reminder.SystemClock{}.NewTimer(d)
}

func do(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthzAndAuth(t *testing.T) {
	t.Parallel()
	srv, tok := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz = %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}

	wrong, _ := NewToken([]byte("other"), "x")
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString(testSecret)
	for name, token := range map[string]string{"none": "", "wrong key": wrong, "expired": expired, "garbage": "abc"} {
		if rec := do(t, srv, http.MethodGet, "/v1/reminders/1", token, ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d", name, rec.Code)
		}
	}
	if rec := do(t, srv, http.MethodGet, "/v1/reminders/1", tok, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("authorised missing reminder: status = %d", rec.Code)
	}
}

func TestReminderCRUD(t *testing.T) {
	t.Parallel()
	srv, tok := newTestServer(t)

	bad := []struct {
		body string
		code int
	}{
		{`{"chat_id":-1,"in":"1h"}`, http.StatusBadRequest},
		{`{"owner_id":1,"chat_id":-1}`, http.StatusBadRequest},
		{`{"owner_id":1,"chat_id":-1,"in":"1h","due_at":"2024-05-02T00:00:00Z"}`, http.StatusBadRequest},
		{`{"owner_id":1,"chat_id":-1,"due_at":"tomorrow"}`, http.StatusBadRequest},
		{`{"owner_id":1,"chat_id":-1,"due_at":"2024-04-30T00:00:00Z"}`, http.StatusUnprocessableEntity},
		{`{"owner_id":1,"chat_id":-1,"in":"1h","body":"this body is far too long"}`, http.StatusUnprocessableEntity},
		{`{"owner_id":1,"chat_id":-1,"in":"100000h"}`, http.StatusUnprocessableEntity},
		{`{"owner_id":1,"chat_id":-1,"due_at":"2100-01-01T00:00:00Z"}`, http.StatusUnprocessableEntity},
		{`{"owner_id":`, http.StatusBadRequest},
	}
	for _, tc := range bad {
		if rec := do(t, srv, http.MethodPost, "/v1/reminders", tok, tc.body); rec.Code != tc.code {
			t.Fatalf("POST %s: status = %d, want %d (%s)", tc.body, rec.Code, tc.code, rec.Body)
		}
	}

	rec := do(t, srv, http.MethodPost, "/v1/reminders", tok, `{"owner_id":7,"owner_name":"Dee","chat_id":-100,"in":"90m","body":"standup"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body)
	}
	var created reminder.Reminder
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := time.Date(2024, 5, 1, 11, 30, 0, 0, time.UTC)
	if created.ID == 0 || !created.DueAt.Equal(want) || created.Body != "standup" {
		t.Fatalf("created = %+v", created)
	}

	rec = do(t, srv, http.MethodPost, "/v1/reminders", tok, `{"owner_id":7,"chat_id":-100,"due_at":"2024-05-03T08:00:00+02:00"}`)
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"body":"something"`) {
		t.Fatalf("create with due_at = %d %s", rec.Code, rec.Body)
	}

	path := "/v1/reminders/" + jsonID(created.ID)
	if rec := do(t, srv, http.MethodGet, path, tok, ""); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "standup") {
		t.Fatalf("get = %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, srv, http.MethodGet, "/v1/reminders/abc", tok, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("get bad id = %d", rec.Code)
	}

	rec = do(t, srv, http.MethodGet, "/v1/chats/-100/members/7/reminders", tok, "")
	var list listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list.Reminders) != 2 || list.Reminders[0].ID != created.ID {
		t.Fatalf("list = %d %s (%v)", rec.Code, rec.Body, err)
	}
	rec = do(t, srv, http.MethodGet, "/v1/chats/-100/members/8/reminders", tok, "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"reminders":[]}` {
		t.Fatalf("empty list = %d %s", rec.Code, rec.Body)
	}

	if rec := do(t, srv, http.MethodDelete, path, tok, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("delete without owner = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodDelete, path+"?owner_id=8", tok, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("delete by other owner = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodDelete, path+"?owner_id=7", tok, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodDelete, path+"?owner_id=7", tok, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d", rec.Code)
	}
}

func TestRunShutsDown(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)
	srv.cfg.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Addr() == nil {
		t.Fatal("server did not start")
	}
	resp, err := http.Get("http://" + srv.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
