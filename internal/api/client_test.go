package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftmail/client-go/internal/apierrors"
)

func newTestClient(t *testing.T, baseURL string, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:        baseURL,
		AuthToken:      "test-token",
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(Config{AuthToken: "tok"})
	if err == nil {
		t.Error("expected error for empty base URL")
	}
}

func TestNewClient_RequiresAuthToken(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "https://example.com"})
	if err == nil {
		t.Error("expected error for empty auth token")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient(Config{BaseURL: "https://example.com", AuthToken: "tok"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if client.userAgent != DefaultUserAgent {
		t.Errorf("userAgent = %q, want %q", client.userAgent, DefaultUserAgent)
	}
	if client.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", client.timeout, DefaultTimeout)
	}
	if client.retry.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", client.retry.MaxRetries, DefaultMaxRetries)
	}
	if client.streamClient == nil {
		t.Error("streamClient is nil")
	}
	if client.streamClient.Timeout != 0 {
		t.Errorf("streamClient.Timeout = %v, want 0", client.streamClient.Timeout)
	}
}

func TestExecute_SetsHeaders(t *testing.T) {
	var gotAuth, gotUA, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	if _, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, Path: "/x"}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer test-token")
	}
	if gotUA != DefaultUserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, DefaultUserAgent)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want %q", gotAccept, "application/json")
	}
}

func TestExecute_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`"ok"`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	resp, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, Path: "/x"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("server saw %d calls, want 4 (1 initial + 3 retries)", got)
	}
}

func TestExecute_RetryBudgetExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *Config) { cfg.MaxRetries = 2 })
	_, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, Path: "/x"})
	if !errors.Is(err, apierrors.ErrServerTransient) {
		t.Errorf("Execute() error = %v, want ErrServerTransient", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want 3", got)
	}
}

func TestExecute_NoRetryOnPermanentStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, Path: "/x"})
	if !errors.Is(err, apierrors.ErrServerPermanent) {
		t.Errorf("Execute() error = %v, want ErrServerPermanent", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1", got)
	}
}

func TestExecute_NoRetryForSentNonIdempotentRequest(t *testing.T) {
	// The server responded, so the POST was observably received. It must
	// not be retried even though 503 is a transient status.
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.Execute(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "/x",
		Body:   []byte(`{"a":1}`),
	})
	if !errors.Is(err, apierrors.ErrServerTransient) {
		t.Errorf("Execute() error = %v, want ErrServerTransient", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry after request was sent)", got)
	}
}

func TestExecute_RetriesNonIdempotentWhenNeverSent(t *testing.T) {
	// Connection refused: the request never reached the wire, so even a
	// POST may be retried.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse all connections

	client := newTestClient(t, server.URL, func(cfg *Config) { cfg.MaxRetries = 2 })

	_, err := client.Execute(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "/x",
		Body:   []byte(`{"a":1}`),
	})
	if !errors.Is(err, apierrors.ErrNetwork) {
		t.Errorf("Execute() error = %v, want ErrNetwork", err)
	}
}

func TestExecute_NonReplayableBody(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.Execute(context.Background(), &Request{
		Method:     http.MethodPut, // idempotent, so a retry is wanted
		Path:       "/x",
		BodyStream: strings.NewReader(`{"a":1}`),
	})
	if !errors.Is(err, apierrors.ErrNonReplayableBody) {
		t.Errorf("Execute() error = %v, want ErrNonReplayableBody", err)
	}
	// The error keeps the failure that provoked the retry as its cause.
	if !errors.Is(err, apierrors.ErrServerTransient) {
		t.Errorf("Execute() error = %v, want the 503 cause preserved", err)
	}
	if msg := err.Error(); strings.Count(msg, "request body is not replayable") != 1 {
		t.Errorf("Execute() error message %q repeats itself", msg)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d calls, want 1", got)
	}
}

func TestExecute_GetBodyReplaysPerAttempt(t *testing.T) {
	var calls atomic.Int32
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.Execute(context.Background(), &Request{
		Method:  http.MethodPut,
		Path:    "/x",
		GetBody: func() (io.Reader, error) { return strings.NewReader(`{"a":1}`), nil },
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(bodies) != 2 || bodies[0] != `{"a":1}` || bodies[1] != `{"a":1}` {
		t.Errorf("bodies = %q, want the same body on both attempts", bodies)
	}
}

func TestExecute_CancelDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *Config) {
		cfg.RetryBaseDelay = 10 * time.Second
		cfg.RetryMaxDelay = 10 * time.Second
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.Execute(ctx, &Request{Method: http.MethodGet, Path: "/x"})
	if !errors.Is(err, apierrors.ErrCancelled) {
		t.Errorf("Execute() error = %v, want ErrCancelled", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Execute() blocked %v after cancellation", elapsed)
	}
}

func TestExecute_CancelledNotTimeout(t *testing.T) {
	// Caller cancellation during a slow request must classify as
	// Cancelled even if the transport also reports a deadline error.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Execute(ctx, &Request{Method: http.MethodGet, Path: "/x"})
	if !errors.Is(err, apierrors.ErrCancelled) {
		t.Errorf("Execute() error = %v, want ErrCancelled", err)
	}
	if errors.Is(err, apierrors.ErrTimeout) {
		t.Error("caller cancellation must not classify as ErrTimeout")
	}
}

func TestExecute_PerAttemptTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(cfg *Config) {
		cfg.Timeout = 20 * time.Millisecond
		cfg.MaxRetries = 1
	})

	_, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, Path: "/x"})
	if !errors.Is(err, apierrors.ErrTimeout) {
		t.Errorf("Execute() error = %v, want ErrTimeout", err)
	}
}

func TestExecute_ParsesStructuredErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":"inbox limit reached","requestId":"req-42"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, Path: "/x"})

	var sErr *apierrors.StatusError
	if !errors.As(err, &sErr) {
		t.Fatalf("Execute() error = %T, want *StatusError", err)
	}
	if sErr.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %d, want 409", sErr.StatusCode)
	}
	if sErr.Message != "inbox limit reached" {
		t.Errorf("Message = %q, want %q", sErr.Message, "inbox limit reached")
	}
	if sErr.RequestID != "req-42" {
		t.Errorf("RequestID = %q, want %q", sErr.RequestID, "req-42")
	}
}

func TestExecute_RetryAfterHint(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	resp, err := client.Execute(context.Background(), &Request{Method: http.MethodGet, Path: "/x"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d calls, want 2", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("empty header = %v, want 0", got)
	}
	if got := parseRetryAfter("7"); got != 7*time.Second {
		t.Errorf("seconds form = %v, want 7s", got)
	}
	date := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(date); got <= 0 || got > 11*time.Second {
		t.Errorf("date form = %v, want roughly 10s", got)
	}
	if got := parseRetryAfter("garbage"); got != 0 {
		t.Errorf("garbage header = %v, want 0", got)
	}
}

func TestDo_DecodesJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"inboxId":"ib-1","emailAddress":"a@d.io"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	var out CreateInboxResponse
	if err := client.Do(context.Background(), http.MethodGet, "/x", nil, &out); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if out.InboxID != "ib-1" || out.EmailAddress != "a@d.io" {
		t.Errorf("decoded = %+v", out)
	}
}

func TestDo_DecodeFailureIsErrDecode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	var out CreateInboxResponse
	err := client.Do(context.Background(), http.MethodGet, "/x", nil, &out)
	if !errors.Is(err, apierrors.ErrDecode) {
		t.Errorf("Do() error = %v, want ErrDecode", err)
	}
}

func TestIdempotent(t *testing.T) {
	for _, m := range []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions} {
		if !idempotent(m) {
			t.Errorf("idempotent(%s) = false, want true", m)
		}
	}
	for _, m := range []string{http.MethodPost, http.MethodPatch} {
		if idempotent(m) {
			t.Errorf("idempotent(%s) = true, want false", m)
		}
	}
}
