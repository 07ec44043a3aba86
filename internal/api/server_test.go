package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentHive/internal/errors"
)

type stubHive struct {
	reply  string
	err    error
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
}

func (s *stubHive) Chat(_ context.Context, input string) (string, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	if n > s.peak.Load() {
		s.peak.Store(n)
	}
	time.Sleep(s.delay)
	if s.err != nil {
		return "", s.err
	}
	return s.reply + input, nil
}

func (s *stubHive) Structure() string { return "asst_1 - CEO\n" }

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint(t *testing.T) {
	server := NewServer(":0", &stubHive{reply: "echo: "})

	rec := do(t, server.Handler(), http.MethodPost, "/api/v1/chat", `{"message":"hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Reply != "echo: hello" {
		t.Fatalf("unexpected reply %q", resp.Reply)
	}

	rec = do(t, server.Handler(), http.MethodPost, "/api/v1/chat", `{"message":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", rec.Code)
	}
	rec = do(t, server.Handler(), http.MethodPost, "/api/v1/chat", `{bad`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestChatEndpointMapsErrors(t *testing.T) {
	cases := map[error]int{
		xerrors.New(xerrors.CodeTimeout, "still running"):              http.StatusGatewayTimeout,
		xerrors.New(xerrors.CodeUnknownTool, "Tool nope not found"):    http.StatusInternalServerError,
		xerrors.Wrap(xerrors.CodeBackendFailure, errors.New("500"), "x"): http.StatusBadGateway,
	}
	for cause, want := range cases {
		server := NewServer(":0", &stubHive{err: cause})
		rec := do(t, server.Handler(), http.MethodPost, "/api/v1/chat", `{"message":"hi"}`)
		if rec.Code != want {
			t.Fatalf("%v: expected %d, got %d", cause, want, rec.Code)
		}
		var resp ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Code != string(xerrors.CodeOf(cause)) || resp.Error != xerrors.MessageOf(cause) {
			t.Fatalf("unexpected error body %+v", resp)
		}
	}
}

func TestChatTurnsAreSerialized(t *testing.T) {
	hive := &stubHive{delay: 10 * time.Millisecond}
	server := NewServer(":0", hive)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			do(t, server.Handler(), http.MethodPost, "/api/v1/chat", `{"message":"hi"}`)
		}()
	}
	wg.Wait()
	if hive.peak.Load() != 1 {
		t.Fatalf("chat turns overlapped: peak %d", hive.peak.Load())
	}
}

func TestTeamAndHealth(t *testing.T) {
	server := NewServer(":0", &stubHive{})

	rec := do(t, server.Handler(), http.MethodGet, "/api/v1/team", "")
	var team TeamResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &team); err != nil || team.Structure != "asst_1 - CEO\n" {
		t.Fatalf("unexpected team response %s %v", rec.Body.String(), err)
	}
	if rec := do(t, server.Handler(), http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("unexpected health status %d", rec.Code)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	server := NewServer(":0", &stubHive{})

	do(t, server.Handler(), http.MethodGet, "/api/v1/team", "")
	rec := do(t, server.Handler(), http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status %d", rec.Code)
	}
	want := `agenthive_http_requests_total{handler="/api/v1/team",method="GET",code="200"}`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("team request not counted:\n%s", rec.Body.String())
	}
}

func TestStartStopsWithContext(t *testing.T) {
	server := NewServer("127.0.0.1:0", &stubHive{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
