package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/nearby/internal/backend"
	"github.com/matheus3301/nearby/internal/backend/memory"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Backend) {
	t.Helper()
	be := memory.New()
	srv := httptest.NewServer(NewServer(be, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	return srv, be
}

func do(t *testing.T, method, u, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, u, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHTTPStatusCodes(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"create", http.MethodPost, "/v1/messages", `{"senderId":"a","receiverId":"b","content":"hi"}`, http.StatusCreated},
		{"invalid message", http.MethodPost, "/v1/messages", `{"senderId":"a"}`, http.StatusUnprocessableEntity},
		{"bad json", http.MethodPost, "/v1/messages", `{`, http.StatusUnprocessableEntity},
		{"unknown table", http.MethodPost, "/v1/payments", `{}`, http.StatusNotFound},
		{"update missing", http.MethodPatch, "/v1/profiles/nope", `{"bio":"x"}`, http.StatusNotFound},
		{"delete missing", http.MethodDelete, "/v1/profiles/nope", ``, http.StatusNoContent},
		{"health", http.MethodGet, "/healthz", ``, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, srv.URL+tt.path, tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
			}
		})
	}
}

func TestErrorBodyCarriesCode(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := do(t, http.MethodPost, srv.URL+"/v1/messages", `{"content":"hi"}`)

	var body backend.ErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Code != backend.CodeValidation {
		t.Errorf("code = %s, want VALIDATION", body.Code)
	}
}

func TestQueryParameter(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, http.MethodPost, srv.URL+"/v1/profiles", `{"id":"p1","isOnline":true}`)
	do(t, http.MethodPost, srv.URL+"/v1/profiles", `{"id":"p2","isOnline":false}`)

	q, _ := json.Marshal(backend.Where(backend.Eq("isOnline", true)))
	resp := do(t, http.MethodGet, srv.URL+"/v1/profiles?q="+url.QueryEscape(string(q)), "")
	var out backend.QueryBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Docs) != 1 {
		t.Errorf("docs = %d, want 1", len(out.Docs))
	}
}

func TestRealtimeSubscription(t *testing.T) {
	srv, be := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/realtime", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	if err := conn.WriteJSON(backend.ClientFrame{Op: backend.OpSubscribe, Sub: "s1", Table: backend.Profiles}); err != nil {
		t.Fatal(err)
	}
	var f backend.ServerFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	if f.Sub != "s1" || len(f.Docs) != 0 {
		t.Fatalf("initial frame = %+v, want empty snapshot", f)
	}

	do(t, http.MethodPost, srv.URL+"/v1/profiles", `{"id":"p1","isOnline":true}`)
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	if len(f.Docs) != 1 {
		t.Fatalf("push = %+v, want one document", f)
	}

	if err := conn.WriteJSON(backend.ClientFrame{Op: backend.OpUnsubscribe, Sub: "s1"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for be.Subscriptions() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if be.Subscriptions() != 0 {
		t.Errorf("subscriptions = %d after unsubscribe, want 0", be.Subscriptions())
	}
}

func TestRealtimeDisconnectReleasesSubscriptions(t *testing.T) {
	srv, be := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/realtime", nil)
	if err != nil {
		t.Fatal(err)
	}
	_ = conn.WriteJSON(backend.ClientFrame{Op: backend.OpSubscribeDoc, Sub: "d1", Table: backend.Profiles, ID: "p1"})
	var f backend.ServerFrame
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	if !f.Single || f.Exists {
		t.Errorf("doc frame = %+v, want missing document", f)
	}
	_ = conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for be.Subscriptions() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if be.Subscriptions() != 0 {
		t.Errorf("subscriptions = %d after disconnect, want 0", be.Subscriptions())
	}
}
