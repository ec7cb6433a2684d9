package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/driftmail/client-go/internal/apierrors"
)

func TestCreateInbox(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/inboxes" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req CreateInboxRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.ClientPk != "pk-b64" {
			t.Errorf("ClientPk = %q, want %q", req.ClientPk, "pk-b64")
		}
		if req.Label != "signup-test" {
			t.Errorf("Label = %q, want %q", req.Label, "signup-test")
		}
		fmt.Fprint(w, `{"inboxId":"ib-1","emailAddress":"x1@driftmail.io","createdAt":"2026-08-25T10:00:00Z"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	resp, err := client.CreateInbox(context.Background(), &CreateInboxRequest{
		ClientPk: "pk-b64",
		Label:    "signup-test",
	})
	if err != nil {
		t.Fatalf("CreateInbox() error = %v", err)
	}
	if resp.InboxID != "ib-1" {
		t.Errorf("InboxID = %q, want %q", resp.InboxID, "ib-1")
	}
	if resp.EmailAddress != "x1@driftmail.io" {
		t.Errorf("EmailAddress = %q", resp.EmailAddress)
	}
}

func TestGetInbox_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.GetInbox(context.Background(), "missing")
	if !errors.Is(err, apierrors.ErrInboxNotFound) {
		t.Errorf("GetInbox() error = %v, want ErrInboxNotFound", err)
	}
}

func TestGetEmail_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.GetEmail(context.Background(), "ib-1", "missing")
	if !errors.Is(err, apierrors.ErrEmailNotFound) {
		t.Errorf("GetEmail() error = %v, want ErrEmailNotFound", err)
	}
	if errors.Is(err, apierrors.ErrInboxNotFound) {
		t.Error("an email 404 must not read as an inbox 404")
	}
}

func TestGetEmailPage_QueryParams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/inboxes/ib-1/emails" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("cursor") != "c2" {
			t.Errorf("cursor = %q, want c2", q.Get("cursor"))
		}
		if q.Get("limit") != "50" {
			t.Errorf("limit = %q, want 50", q.Get("limit"))
		}
		fmt.Fprint(w, `{"emails":[],"nextCursor":""}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	page, err := client.GetEmailPage(context.Background(), "ib-1", "c2", 50)
	if err != nil {
		t.Fatalf("GetEmailPage() error = %v", err)
	}
	if page.NextCursor != "" {
		t.Errorf("NextCursor = %q, want empty", page.NextCursor)
	}
}

func TestGetEmailPage_FirstPageOmitsCursor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("query = %q, want empty for the first page", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"emails":[]}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	if _, err := client.GetEmailPage(context.Background(), "ib-1", "", 0); err != nil {
		t.Fatalf("GetEmailPage() error = %v", err)
	}
}

func TestDeleteInbox(t *testing.T) {
	var deleted bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == "/api/inboxes/ib-1" {
			deleted = true
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	if err := client.DeleteInbox(context.Background(), "ib-1"); err != nil {
		t.Fatalf("DeleteInbox() error = %v", err)
	}
	if !deleted {
		t.Error("server did not see the DELETE")
	}
}

func TestOpenEventStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		if got := r.URL.Query().Get("inboxes"); got != "ib-1,ib-2" {
			t.Errorf("inboxes = %q, want %q", got, "ib-1,ib-2")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: email\ndata: {\"inboxId\":\"ib-1\",\"eventId\":\"ev-1\"}\n\n")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	resp, err := client.OpenEventStream(context.Background(), []string{"ib-1", "ib-2"})
	if err != nil {
		t.Fatalf("OpenEventStream() error = %v", err)
	}
	defer resp.Body.Close()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if line != "event: email\n" {
		t.Errorf("first line = %q", line)
	}
}

func TestOpenEventStream_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.OpenEventStream(context.Background(), []string{"ib-1"})
	if !errors.Is(err, apierrors.ErrUnauthorized) {
		t.Errorf("OpenEventStream() error = %v, want ErrUnauthorized", err)
	}
}
