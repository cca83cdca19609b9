package chatwoot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFindContactByPhone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/7/contacts/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "+5511999998888" {
			t.Errorf("q = %q", got)
		}
		w.Write([]byte(`{"payload":[
			{"id":1,"name":"Outro","identifier":"+5511999998888","phone_number":"+5511000000000"},
			{"id":2,"name":"Maria","identifier":"x","phone_number":"+5511999998888"}
		]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	contact, err := c.FindOrCreateContact(context.Background(), ContactSeed{
		Name:       "Maria",
		Identifier: "+5511999998888",
		Phone:      "+5511999998888",
	})
	if err != nil {
		t.Fatal(err)
	}
	if contact.ID != 2 {
		t.Errorf("matched id = %d, want 2 (phone_number match)", contact.ID)
	}
}

func TestFindContactGroupMatchesIdentifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"payload":[
			{"id":5,"name":"Grupo","identifier":"120363407124580783-group","phone_number":""}
		]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	contact, err := c.FindOrCreateContact(context.Background(), ContactSeed{
		Name:       "Grupo",
		Identifier: "120363407124580783-group",
		Phone:      "120363407124580783-group",
	})
	if err != nil {
		t.Fatal(err)
	}
	if contact.ID != 5 {
		t.Errorf("matched id = %d, want 5", contact.ID)
	}
}

func TestCreateContactWithPhone(t *testing.T) {
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contacts/search"):
			w.Write([]byte(`{"payload":[]}`))
		case strings.HasSuffix(r.URL.Path, "/contacts") && r.Method == http.MethodPost:
			if err := json.NewDecoder(r.Body).Decode(&created); err != nil {
				t.Fatal(err)
			}
			w.Write([]byte(`{"payload":{"contact":{"id":101,"name":"João","identifier":"+5511999998888","phone_number":"+5511999998888"}}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	contact, err := c.FindOrCreateContact(context.Background(), ContactSeed{
		Name:       "João",
		Identifier: "+5511999998888",
		Phone:      "+5511999998888",
	})
	if err != nil {
		t.Fatal(err)
	}
	if contact.ID != 101 {
		t.Errorf("id = %d, want 101", contact.ID)
	}
	if created["name"] != "João" || created["identifier"] != "+5511999998888" {
		t.Errorf("create body = %v", created)
	}
	if created["phone_number"] != "+5511999998888" {
		t.Errorf("phone_number = %v", created["phone_number"])
	}
}

func TestCreateGroupContactHasNoPhone(t *testing.T) {
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contacts/search"):
			w.Write([]byte(`{"payload":[]}`))
		default:
			json.NewDecoder(r.Body).Decode(&created)
			w.Write([]byte(`{"payload":{"contact":{"id":102}}}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	_, err := c.FindOrCreateContact(context.Background(), ContactSeed{
		Name:       "Projeto X",
		Identifier: "120363407124580783@g.us",
		Phone:      "120363407124580783@g.us",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := created["phone_number"]; ok {
		t.Errorf("group contact must not carry phone_number: %v", created)
	}
	if created["identifier"] != "120363407124580783@g.us" {
		t.Errorf("identifier = %v", created["identifier"])
	}
}

func TestCreateContactWithAvatar(t *testing.T) {
	avatarBytes := []byte{0xff, 0xd8, 0xff, 0xe0, 0x01}
	avatarSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(avatarBytes)
	}))
	defer avatarSrv.Close()

	var gotContentType string
	var gotName, gotIdentifier string
	var gotAvatar []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contacts/search"):
			w.Write([]byte(`{"payload":[]}`))
		default:
			gotContentType = r.Header.Get("Content-Type")
			if err := r.ParseMultipartForm(8 << 20); err != nil {
				t.Fatalf("not multipart: %v", err)
			}
			gotName = r.FormValue("name")
			gotIdentifier = r.FormValue("identifier")
			file, _, err := r.FormFile("avatar")
			if err != nil {
				t.Fatalf("avatar part missing: %v", err)
			}
			defer file.Close()
			buf := make([]byte, 16)
			n, _ := file.Read(buf)
			gotAvatar = buf[:n]
			w.Write([]byte(`{"payload":{"contact":{"id":103}}}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	contact, err := c.FindOrCreateContact(context.Background(), ContactSeed{
		Name:       "Ana",
		Identifier: "+5521988887777",
		Phone:      "+5521988887777",
		AvatarURL:  avatarSrv.URL + "/pic.jpg",
	})
	if err != nil {
		t.Fatal(err)
	}
	if contact.ID != 103 {
		t.Errorf("id = %d", contact.ID)
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Errorf("content type = %q", gotContentType)
	}
	if gotName != "Ana" || gotIdentifier != "+5521988887777" {
		t.Errorf("fields name=%q identifier=%q", gotName, gotIdentifier)
	}
	if string(gotAvatar) != string(avatarBytes) {
		t.Errorf("avatar bytes = %x, want %x", gotAvatar, avatarBytes)
	}
}

func TestAvatarFailureFallsBackToPlainCreate(t *testing.T) {
	avatarSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer avatarSrv.Close()

	var createdJSON bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/contacts/search"):
			w.Write([]byte(`{"payload":[]}`))
		default:
			if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
				createdJSON = true
			}
			w.Write([]byte(`{"payload":{"contact":{"id":104}}}`))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	contact, err := c.FindOrCreateContact(context.Background(), ContactSeed{
		Name:       "Sem Foto",
		Identifier: "+5531977776666",
		AvatarURL:  avatarSrv.URL + "/gone.jpg",
	})
	if err != nil {
		t.Fatal(err)
	}
	if contact.ID != 104 {
		t.Errorf("id = %d", contact.ID)
	}
	if !createdJSON {
		t.Error("expected plain json create after avatar failure")
	}
}

func TestFindOrCreateContactRequiresIdentifier(t *testing.T) {
	c := newTestClient(t, "http://unused", nil)
	if _, err := c.FindOrCreateContact(context.Background(), ContactSeed{Name: "x"}); err != ErrMissingIdentifier {
		t.Errorf("err = %v, want ErrMissingIdentifier", err)
	}
}

func TestDecodeContactShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"payload.contact", `{"payload":{"contact":{"id":1}}}`, 1},
		{"payload flat", `{"payload":{"id":2,"name":"x"}}`, 2},
		{"root", `{"id":3,"name":"x"}`, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contact, err := decodeContact([]byte(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			if contact.ID != tt.want {
				t.Errorf("id = %d, want %d", contact.ID, tt.want)
			}
		})
	}

	if _, err := decodeContact([]byte(`{"ok":true}`)); err != ErrNoContactID {
		t.Errorf("err = %v, want ErrNoContactID", err)
	}
}
