package chatwoot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:        baseURL,
		Token:          "cw-token",
		AccountID:      "7",
		InboxName:      "WhatsApp",
		DataDir:        t.TempDir(),
		WebhookBaseURL: "https://bridge.example",
		WebhookName:    "wootrico",
		ReopenResolved: true,
		InitialStatus:  StatusOpen,
		MediaThrottle:  time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	c.retryDelay = 0
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"complete", Config{BaseURL: "https://cw", Token: "t", AccountID: "1", InboxName: "n"}, false},
		{"missing base url", Config{Token: "t", AccountID: "1", InboxName: "n"}, true},
		{"missing token", Config{BaseURL: "https://cw", AccountID: "1", InboxName: "n"}, true},
		{"missing account", Config{BaseURL: "https://cw", Token: "t", InboxName: "n"}, true},
		{"missing inbox name", Config{BaseURL: "https://cw", Token: "t", AccountID: "1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	c, err := New(Config{BaseURL: "https://cw/", Token: "t", AccountID: "1", InboxName: "n", InitialStatus: "bogus"})
	if err != nil {
		t.Fatal(err)
	}
	if c.cfg.BaseURL != "https://cw" {
		t.Errorf("base url not trimmed: %q", c.cfg.BaseURL)
	}
	if c.cfg.InitialStatus != StatusOpen {
		t.Errorf("initial status = %q, want open", c.cfg.InitialStatus)
	}
	if c.cfg.MediaThrottle != DefaultMediaThrottle {
		t.Errorf("throttle = %v", c.cfg.MediaThrottle)
	}
	if c.cfg.DataDir != "/app/data" {
		t.Errorf("data dir = %q", c.cfg.DataDir)
	}
}

func TestEnsureInboxResolvesByName(t *testing.T) {
	var listCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/7/inboxes" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("api_access_token"); got != "cw-token" {
			t.Errorf("token header = %q", got)
		}
		atomic.AddInt32(&listCalls, 1)
		w.Write([]byte(`{"payload":[{"id":4,"name":"Suporte"},{"id":12,"name":"whatsapp"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	id, err := c.EnsureInbox(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != 12 {
		t.Errorf("id = %d, want 12", id)
	}

	if again, _ := c.EnsureInbox(context.Background()); again != 12 {
		t.Errorf("second call = %d", again)
	}
	if n := atomic.LoadInt32(&listCalls); n != 1 {
		t.Errorf("list calls = %d, want 1", n)
	}

	data, err := os.ReadFile(c.sidecarPath())
	if err != nil {
		t.Fatalf("sidecar not written: %v", err)
	}
	var st sidecarState
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if st.InboxID != 12 || st.InboxName != "whatsapp" {
		t.Errorf("sidecar = %+v", st)
	}
}

func TestEnsureInboxCreatesWhenAbsent(t *testing.T) {
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.Write([]byte(`{"payload":[]}`))
		case r.Method == http.MethodPost:
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Fatal(err)
			}
			w.Write([]byte(`{"id":31,"name":"WhatsApp"}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	id, err := c.EnsureInbox(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != 31 {
		t.Errorf("id = %d, want 31", id)
	}
	if created["name"] != "WhatsApp" {
		t.Errorf("create body = %v", created)
	}
	if created["allow_messages_after_resolved"] != true {
		t.Errorf("allow_messages_after_resolved = %v", created["allow_messages_after_resolved"])
	}
	channel, ok := created["channel"].(map[string]any)
	if !ok {
		t.Fatalf("channel missing: %v", created)
	}
	if channel["type"] != "api" {
		t.Errorf("channel type = %v", channel["type"])
	}
	if channel["webhook_url"] != "https://bridge.example/wootrico/callback" {
		t.Errorf("webhook_url = %v", channel["webhook_url"])
	}
}

func TestEnsureInboxAdoptsSidecar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/7/inboxes/9" {
			t.Errorf("unexpected request %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"id":9,"name":"whatsapp"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	seedSidecar(t, c, 9, "whatsapp")

	id, err := c.EnsureInbox(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != 9 {
		t.Errorf("id = %d, want 9", id)
	}
}

func TestEnsureInboxRejectsRenamedSidecar(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/accounts/7/inboxes/9":
			w.Write([]byte(`{"id":9,"name":"Antigo"}`))
		case "/api/v1/accounts/7/inboxes":
			w.Write([]byte(`{"payload":[{"id":12,"name":"WhatsApp"}]}`))
		default:
			t.Errorf("unexpected request %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	seedSidecar(t, c, 9, "WhatsApp")

	id, err := c.EnsureInbox(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id != 12 {
		t.Errorf("id = %d, want 12", id)
	}
}

func seedSidecar(t *testing.T, c *Client, id int, name string) {
	t.Helper()
	data, err := json.Marshal(sidecarState{InboxID: id, InboxName: name, SavedAt: time.Now().UTC().Format(time.RFC3339)})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(c.sidecarPath(), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"WhatsApp", "whatsapp"},
		{"Atendimento SP", "atendimento-sp"},
		{"  a  b  ", "a-b"},
		{"Caixa (Principal)!", "caixa-principal"},
	}
	for _, tt := range tests {
		if got := slug(tt.in); got != tt.want {
			t.Errorf("slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
