package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wootrico/wabridge/internal/chatwoot"
	"github.com/wootrico/wabridge/internal/integration"
	"github.com/wootrico/wabridge/internal/mapping"
	"github.com/wootrico/wabridge/internal/provider"
	"github.com/wootrico/wabridge/internal/ticket"
)

// fakeHelpdesk serves the slice of the Chatwoot REST surface the bridge
// touches, with in-memory contacts and conversations.
type fakeHelpdesk struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	contacts []chatwoot.Contact
	convs    []fakeConversation
	messages []helpdeskMessage
	deletes  []string
	nextID   int

	messageStatus int // non-zero forces message posts to fail
}

type fakeConversation struct {
	ID        int
	ContactID int
	Status    string
}

type helpdeskMessage struct {
	ID             int
	ConversationID int
	Content        string
	MessageType    string
	InReplyTo      int
	FileName       string
	Multipart      bool
}

func newFakeHelpdesk(t *testing.T) *fakeHelpdesk {
	t.Helper()
	f := &fakeHelpdesk{t: t, nextID: 100}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeHelpdesk) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/accounts/1")
	switch {
	case r.Method == http.MethodGet && path == "/inboxes":
		io.WriteString(w, `{"payload":[{"id":7,"name":"WhatsApp"}]}`)
	case r.Method == http.MethodGet && path == "/contacts/search":
		json.NewEncoder(w).Encode(map[string]any{"payload": f.contacts})
	case r.Method == http.MethodPost && path == "/contacts":
		f.createContact(w, r)
	case r.Method == http.MethodGet && path == "/conversations":
		f.listConversations(w, r)
	case r.Method == http.MethodPost && path == "/conversations":
		f.createConversation(w, r)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/toggle_status"):
		f.toggleStatus(w, path)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/messages"):
		f.createMessage(w, r, path)
	case r.Method == http.MethodDelete && strings.Contains(path, "/messages/"):
		f.deletes = append(f.deletes, strings.TrimPrefix(path, "/conversations/"))
		io.WriteString(w, `{}`)
	default:
		f.t.Errorf("unexpected helpdesk request %s %s", r.Method, r.URL.Path)
		http.NotFound(w, r)
	}
}

func (f *fakeHelpdesk) createContact(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		Identifier  string `json:"identifier"`
		PhoneNumber string `json:"phone_number"`
	}
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			f.t.Errorf("contact body: %v", err)
		}
	} else {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			f.t.Errorf("contact multipart: %v", err)
		}
		in.Name = r.FormValue("name")
		in.Identifier = r.FormValue("identifier")
		in.PhoneNumber = r.FormValue("phone_number")
	}

	f.nextID++
	contact := chatwoot.Contact{
		ID:          f.nextID,
		Name:        in.Name,
		Identifier:  in.Identifier,
		PhoneNumber: in.PhoneNumber,
	}
	f.contacts = append(f.contacts, contact)
	json.NewEncoder(w).Encode(map[string]any{"payload": map[string]any{"contact": contact}})
}

func (f *fakeHelpdesk) listConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("page") != "1" {
		io.WriteString(w, `{"payload":[]}`)
		return
	}
	status := q.Get("status")

	var out []map[string]any
	for _, c := range f.convs {
		if c.Status != status {
			continue
		}
		out = append(out, map[string]any{
			"id":       c.ID,
			"inbox_id": 7,
			"status":   c.Status,
			"meta":     map[string]any{"sender": map[string]any{"id": c.ContactID}},
		})
	}
	json.NewEncoder(w).Encode(map[string]any{"payload": out})
}

func (f *fakeHelpdesk) createConversation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ContactID int    `json:"contact_id"`
		Status    string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		f.t.Errorf("conversation body: %v", err)
	}
	f.nextID++
	f.convs = append(f.convs, fakeConversation{ID: f.nextID, ContactID: in.ContactID, Status: in.Status})
	fmt.Fprintf(w, `{"id":%d,"inbox_id":7,"status":%q}`, f.nextID, in.Status)
}

func (f *fakeHelpdesk) toggleStatus(w http.ResponseWriter, path string) {
	id, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(path, "/conversations/"), "/toggle_status"))
	for i := range f.convs {
		if f.convs[i].ID == id {
			f.convs[i].Status = chatwoot.StatusOpen
		}
	}
	io.WriteString(w, `{}`)
}

func (f *fakeHelpdesk) createMessage(w http.ResponseWriter, r *http.Request, path string) {
	if f.messageStatus != 0 {
		http.Error(w, "injected failure", f.messageStatus)
		return
	}
	convID, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(path, "/conversations/"), "/messages"))
	msg := helpdeskMessage{ConversationID: convID}

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		var in struct {
			Content           string `json:"content"`
			MessageType       string `json:"message_type"`
			ContentAttributes struct {
				InReplyTo int `json:"in_reply_to"`
			} `json:"content_attributes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			f.t.Errorf("message body: %v", err)
		}
		msg.Content = in.Content
		msg.MessageType = in.MessageType
		msg.InReplyTo = in.ContentAttributes.InReplyTo
	} else {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			f.t.Errorf("message multipart: %v", err)
		}
		msg.Multipart = true
		msg.Content = r.FormValue("content")
		msg.MessageType = r.FormValue("message_type")
		if v := r.FormValue("content_attributes[in_reply_to]"); v != "" {
			msg.InReplyTo, _ = strconv.Atoi(v)
		}
		if file, hdr, err := r.FormFile("attachments[]"); err == nil {
			file.Close()
			msg.FileName = hdr.Filename
		}
	}

	f.nextID++
	msg.ID = f.nextID
	f.messages = append(f.messages, msg)
	fmt.Fprintf(w, `{"id":%d}`, msg.ID)
}

func (f *fakeHelpdesk) seedContact(c chatwoot.Contact) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contacts = append(f.contacts, c)
}

func (f *fakeHelpdesk) lastMessage(t *testing.T) helpdeskMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		t.Fatal("no message posted to helpdesk")
	}
	return f.messages[len(f.messages)-1]
}

func (f *fakeHelpdesk) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

// fakeProvider records every request and answers with a fresh message
// id, regardless of dialect.
type fakeProvider struct {
	srv *httptest.Server

	mu         sync.Mutex
	calls      []providerCall
	failStatus int
}

type providerCall struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	f := &fakeProvider{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := providerCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			json.Unmarshal(raw, &call.Body)
		}

		f.mu.Lock()
		f.calls = append(f.calls, call)
		n := len(f.calls)
		fail := f.failStatus
		f.mu.Unlock()

		if fail != 0 {
			http.Error(w, "injected failure", fail)
			return
		}
		fmt.Fprintf(w, `{"id":"PROV%d"}`, n)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeProvider) lastCall(t *testing.T) providerCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("no request reached the provider")
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// newTestBridge wires a single UAZAPI tenant against both fakes.
func newTestBridge(t *testing.T, mutate func(*integration.Integration)) (*Processor, *fakeHelpdesk, *fakeProvider) {
	t.Helper()
	hd := newFakeHelpdesk(t)
	pv := newFakeProvider(t)

	cw, err := chatwoot.New(chatwoot.Config{
		BaseURL:        hd.srv.URL,
		Token:          "cw-token",
		AccountID:      "1",
		InboxName:      "WhatsApp",
		DataDir:        t.TempDir(),
		WebhookBaseURL: "https://bridge.example",
		WebhookName:    "wootrico",
		ReopenResolved: true,
		InitialStatus:  chatwoot.StatusOpen,
		MediaThrottle:  time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	prov, err := provider.New(provider.Config{
		Dialect: provider.DialectUazapi,
		BaseURL: pv.srv.URL,
		Token:   "utok",
		Number:  "5511888887777",
	})
	if err != nil {
		t.Fatal(err)
	}

	itg := &integration.Integration{
		ID:                 "default",
		DefaultCountry:     "BR",
		ReopenResolved:     true,
		ConversationStatus: chatwoot.StatusOpen,
		Chatwoot:           cw,
		Provider:           prov,
	}
	if mutate != nil {
		mutate(itg)
	}

	return New(integration.NewRegistry(itg), ticket.NewLedger(), mapping.NewCache()), hd, pv
}
