package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/outdial/internal/agent"
	"github.com/ent0n29/outdial/internal/call"
	"github.com/ent0n29/outdial/internal/calllog"
	"github.com/ent0n29/outdial/internal/config"
	"github.com/ent0n29/outdial/internal/dialer"
	"github.com/ent0n29/outdial/internal/segment"
	"github.com/ent0n29/outdial/internal/session"
	"github.com/ent0n29/outdial/internal/speech"
	"github.com/ent0n29/outdial/internal/telephony"
	"github.com/ent0n29/outdial/internal/transcript"
)

type fixture struct {
	vendor *telephony.MockVendor
	svc    *dialer.Service
	ts     *httptest.Server
}

// newFixture serves the full stack over httptest: mock vendor, fast segmenter
// windows, real dialer wired as the stream attacher.
func newFixture(t *testing.T, planner agent.Planner, stt speech.Transcriber) *fixture {
	t.Helper()
	cfg := config.Config{
		PublicBaseURL: "https://outdial.example.test",
	}
	vendor := telephony.NewMockVendor()
	vendor.SetAnswerDelay(10 * time.Millisecond)
	sessions := session.NewManager(time.Minute)
	transcripts := transcript.NewInMemoryStore()
	calls := calllog.NewInMemoryStore()
	orch := call.NewOrchestrator(call.Config{
		PublicBaseURL:      cfg.PublicBaseURL,
		StreamWaitTimeout:  2 * time.Second,
		StreamPollInterval: 10 * time.Millisecond,
		Segmenter: segment.Config{
			EnergyThreshold:   40,
			SilenceWindow:     60 * time.Millisecond,
			PollInterval:      10 * time.Millisecond,
			MaxWait:           250 * time.Millisecond,
			MinUtteranceBytes: 1600,
		},
	}, vendor, sessions, planner, stt, speech.NewMockSynthesizer(), transcripts, calls, nil)
	svc := dialer.New(dialer.Config{}, orch, vendor, sessions, calls, nil)
	vendor.SetAttacher(svc)
	t.Cleanup(func() { _ = svc.Close() })

	srv := New(cfg, vendor, svc, calls, transcripts, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &fixture{vendor: vendor, svc: svc, ts: ts}
}

func defaultPlanner(t *testing.T) agent.Planner {
	t.Helper()
	p, err := agent.NewScriptPlanner([]agent.Action{{
		Type:       agent.ActionSpeak,
		SpeechText: "Hi, calling to confirm tomorrow's appointment.",
	}})
	if err != nil {
		t.Fatalf("NewScriptPlanner() error = %v", err)
	}
	return p
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	res, err := http.Post(f.ts.URL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	return res
}

func (f *fixture) getJSON(t *testing.T, path string, wantStatus int) map[string]any {
	t.Helper()
	res, err := http.Get(f.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s error = %v", path, err)
	}
	if res.StatusCode != wantStatus {
		t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, wantStatus)
	}
	return decodeBody(t, res)
}

func decodeBody(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (f *fixture) startCall(t *testing.T) string {
	t.Helper()
	res := f.postJSON(t, "/api/calls", map[string]string{
		"to":        "+14155550123",
		"label":     "clinic front desk",
		"objective": "confirm tomorrow's appointment",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, body %v", res.StatusCode, decodeBody(t, res))
	}
	payload := decodeBody(t, res)
	callID, _ := payload["call_id"].(string)
	if callID == "" {
		t.Fatalf("missing call_id in response: %v", payload)
	}
	return callID
}

// waitCallStatus polls GET /api/calls/{id} until the record shows the status.
func (f *fixture) waitCallStatus(t *testing.T, callID, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		payload := f.getJSON(t, "/api/calls/"+callID, http.StatusOK)
		rec, _ := payload["call"].(map[string]any)
		if rec["status"] == want {
			return payload
		}
		if time.Now().After(deadline) {
			t.Fatalf("call %s status = %v, want %s", callID, rec["status"], want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (f *fixture) dialFeed(t *testing.T, callID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/calls/" + callID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFeed(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return out
}

func TestStartCallRunsToCompletionOverAPI(t *testing.T) {
	f := newFixture(t, defaultPlanner(t), speech.NewMockTranscriber("Hello?", "Yes, see you tomorrow."))

	callID := f.startCall(t)
	payload := f.waitCallStatus(t, callID, "completed")

	if active, _ := payload["active"].(bool); active {
		t.Fatalf("active = true for a completed call")
	}
	rec := payload["call"].(map[string]any)
	if turns, _ := rec["turns"].(float64); turns != 2 {
		t.Fatalf("turns = %v, want 2", rec["turns"])
	}

	transcriptPayload := f.getJSON(t, "/api/calls/"+callID+"/transcript", http.StatusOK)
	turns, _ := transcriptPayload["turns"].([]any)
	if len(turns) != 4 {
		t.Fatalf("transcript has %d turns, want 4", len(turns))
	}

	eventsPayload := f.getJSON(t, "/api/calls/"+callID+"/events", http.StatusOK)
	events, _ := eventsPayload["events"].([]any)
	if len(events) == 0 {
		t.Fatalf("no events recorded")
	}
	first, _ := events[0].(map[string]any)
	if first["type"] != "call_queued" {
		t.Fatalf("events[0].type = %v, want call_queued", first["type"])
	}

	listPayload := f.getJSON(t, "/api/calls?limit=5", http.StatusOK)
	calls, _ := listPayload["calls"].([]any)
	if len(calls) != 1 {
		t.Fatalf("list has %d calls, want 1", len(calls))
	}
}

func TestStartCallRejectsBadRequests(t *testing.T) {
	f := newFixture(t, defaultPlanner(t), speech.NewMockTranscriber())

	cases := []struct {
		name       string
		body       map[string]string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing objective",
			body:       map[string]string{"to": "+14155550123"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "not a number",
			body:       map[string]string{"to": "front desk", "objective": "say hi"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_request",
		},
		{
			name:       "premium rate blocked",
			body:       map[string]string{"to": "+19005550123", "objective": "say hi"},
			wantStatus: http.StatusForbidden,
			wantCode:   "dial_blocked",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.postJSON(t, "/api/calls", tc.body)
			if res.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tc.wantStatus)
			}
			payload := decodeBody(t, res)
			if payload["code"] != tc.wantCode {
				t.Fatalf("code = %v, want %s", payload["code"], tc.wantCode)
			}
		})
	}

	res, err := http.Post(f.ts.URL+"/api/calls", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", res.StatusCode)
	}
}

func TestGetCallNotFound(t *testing.T) {
	f := newFixture(t, defaultPlanner(t), speech.NewMockTranscriber())

	payload := f.getJSON(t, "/api/calls/no-such-call", http.StatusNotFound)
	if payload["code"] != "call_not_found" {
		t.Fatalf("code = %v, want call_not_found", payload["code"])
	}
}

func TestCancelCallOverAPI(t *testing.T) {
	f := newFixture(t, defaultPlanner(t), speech.NewMockTranscriber())
	f.vendor.SetAnswerDelay(2 * time.Second)

	callID := f.startCall(t)

	body, _ := json.Marshal(map[string]string{"reason": "operator stopped the campaign"})
	req, err := http.NewRequest(http.MethodDelete, f.ts.URL+"/api/calls/"+callID, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build DELETE: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	payload := decodeBody(t, res)
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("cancel status = %d, body %v", res.StatusCode, payload)
	}
	if payload["status"] != "cancelling" {
		t.Fatalf("cancel body = %v", payload)
	}

	final := f.waitCallStatus(t, callID, "failed")
	rec := final["call"].(map[string]any)
	if rec["failure_code"] != "cancelled" {
		t.Fatalf("failure_code = %v, want cancelled", rec["failure_code"])
	}
}

func TestHealthAndProviders(t *testing.T) {
	f := newFixture(t, defaultPlanner(t), speech.NewMockTranscriber())

	health := f.getJSON(t, "/healthz", http.StatusOK)
	if health["status"] != "ok" || health["vendor"] != "mock" {
		t.Fatalf("healthz = %v", health)
	}
	if count, _ := health["active_calls"].(float64); count != 0 {
		t.Fatalf("active_calls = %v, want 0", health["active_calls"])
	}

	providers := f.getJSON(t, "/api/providers", http.StatusOK)
	if providers["vendor"] != "mock" {
		t.Fatalf("vendor = %v, want mock", providers["vendor"])
	}
	if providers["stream_url"] != "wss://outdial.example.test/stream/mock" {
		t.Fatalf("stream_url = %v", providers["stream_url"])
	}
	format, _ := providers["media_format"].(map[string]any)
	if format["encoding"] != "audio/x-l16" {
		t.Fatalf("media_format = %v", providers["media_format"])
	}
}

func TestPerfLatencyRoundTrip(t *testing.T) {
	f := newFixture(t, defaultPlanner(t), speech.NewMockTranscriber())

	snapshot := f.getJSON(t, "/api/perf/latency", http.StatusOK)
	if _, ok := snapshot["stages"]; !ok {
		t.Fatalf("latency snapshot missing stages: %v", snapshot)
	}

	req, err := http.NewRequest(http.MethodDelete, f.ts.URL+"/api/perf/latency", nil)
	if err != nil {
		t.Fatalf("build DELETE: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	payload := decodeBody(t, res)
	if res.StatusCode != http.StatusOK || payload["status"] != "reset" {
		t.Fatalf("reset = %d %v", res.StatusCode, payload)
	}
}

func TestCallFeedStreamsCallToCompletion(t *testing.T) {
	f := newFixture(t, defaultPlanner(t), speech.NewMockTranscriber("Hello?", "Yes, that works."))
	// Give the feed time to connect before the callee answers.
	f.vendor.SetAnswerDelay(300 * time.Millisecond)

	callID := f.startCall(t)
	conn := f.dialFeed(t, callID)

	first := readFeed(t, conn)
	if first["type"] != "call_status" {
		t.Fatalf("first message type = %v, want call_status snapshot", first["type"])
	}

	var sawTurn bool
	var ended map[string]any
	for ended == nil {
		msg := readFeed(t, conn)
		switch msg["type"] {
		case "call_turn":
			sawTurn = true
		case "call_ended":
			ended = msg
		}
	}
	if ended["status"] != "completed" {
		t.Fatalf("call_ended status = %v, want completed", ended["status"])
	}
	if turns, _ := ended["turns"].(float64); turns != 2 {
		t.Fatalf("call_ended turns = %v, want 2", ended["turns"])
	}
	if !sawTurn {
		t.Fatalf("feed never delivered a call_turn message")
	}
}

func TestCallFeedEndCallCommand(t *testing.T) {
	f := newFixture(t, defaultPlanner(t), speech.NewMockTranscriber())
	f.vendor.SetAnswerDelay(2 * time.Second)

	callID := f.startCall(t)
	conn := f.dialFeed(t, callID)

	if err := conn.WriteJSON(map[string]string{"type": "end_call", "reason": "stop now"}); err != nil {
		t.Fatalf("send end_call: %v", err)
	}

	var ended map[string]any
	for ended == nil {
		msg := readFeed(t, conn)
		if msg["type"] == "call_ended" {
			ended = msg
		}
	}
	if ended["status"] != "failed" || ended["failure_code"] != "cancelled" {
		t.Fatalf("call_ended = %v, want failed/cancelled", ended)
	}
}

func TestCallFeedUnknownCallRejected(t *testing.T) {
	f := newFixture(t, defaultPlanner(t), speech.NewMockTranscriber())

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/calls/no-such-call"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial succeeded for unknown call")
	}
	if res == nil || res.StatusCode != http.StatusNotFound {
		t.Fatalf("handshake response = %+v, want 404", res)
	}
}

func TestCallFeedRejectsCrossOrigin(t *testing.T) {
	f := newFixture(t, defaultPlanner(t), speech.NewMockTranscriber())
	f.vendor.SetAnswerDelay(2 * time.Second)
	callID := f.startCall(t)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws/calls/" + callID
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatalf("cross-origin dial succeeded")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake response = %+v, want 403", res)
	}
}
