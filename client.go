package driftmail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/driftmail/client-go/internal/api"
	"github.com/driftmail/client-go/internal/crypto"
	"github.com/driftmail/client-go/internal/registry"
	"github.com/driftmail/client-go/internal/stream"
)

// InboxSummary describes a server-side inbox as returned by ListInboxes.
type InboxSummary = api.InboxSummary

// Client is the Driftmail client. It owns the registry of monitored
// inboxes, the event-stream engine, and the subscription hub; all state
// lives in the instance, there are no package-level singletons.
type Client struct {
	apiClient *api.Client
	registry  *registry.Registry
	engine    *stream.Engine
	hub       *subscriptionHub
	decrypter Decrypter
	log       *slog.Logger

	subQueueSize   int
	overflowPolicy OverflowPolicy

	mu      sync.RWMutex
	inboxes map[string]*Inbox // keyed by inbox ID
	closed  bool
}

// New creates a client authenticated by the given bearer token.
func New(authToken string, opts ...Option) (*Client, error) {
	if authToken == "" {
		return nil, ErrMissingAuthToken
	}

	cfg := defaultClientConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	apiClient, err := api.NewClient(api.Config{
		BaseURL:        cfg.baseURL,
		AuthToken:      authToken,
		UserAgent:      cfg.userAgent,
		HTTPClient:     cfg.httpClient,
		Timeout:        cfg.httpTimeout,
		MaxRetries:     cfg.maxRetries,
		RetryBaseDelay: cfg.retryBaseDelay,
		RetryMaxDelay:  cfg.retryMaxDelay,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		apiClient:      apiClient,
		registry:       registry.New(),
		hub:            newSubscriptionHub(cfg.deliveryWorkers),
		decrypter:      cfg.decrypter,
		log:            logger,
		subQueueSize:   cfg.subscriptionQueueSize,
		overflowPolicy: cfg.overflowPolicy,
		inboxes:        make(map[string]*Inbox),
	}

	c.engine = stream.New(stream.Config{
		APIClient:      apiClient,
		Registry:       c.registry,
		Forward:        c.handleEvent,
		OnTerminal:     c.handleTerminal,
		Logger:         logger,
		BackoffInitial: cfg.streamBackoffInitial,
		BackoffMax:     cfg.streamBackoffMax,
	})
	c.engine.Start(context.Background())

	return c, nil
}

// checkClosed returns ErrClosed if the client has been closed.
func (c *Client) checkClosed() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// track stores a new inbox and adds it to the registry, which signals
// the stream engine to re-parameterize.
func (c *Client) track(inbox *Inbox) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, exists := c.inboxes[inbox.id]; exists {
		c.mu.Unlock()
		return fmt.Errorf("inbox %s: already registered", inbox.id)
	}
	c.inboxes[inbox.id] = inbox
	c.mu.Unlock()

	c.registry.Add(registry.Entry{
		ID:          inbox.id,
		KeyMaterial: inbox.keyMaterial,
		CreatedAt:   inbox.createdAt,
	})
	return nil
}

// RegisterInbox provisions a new inbox on the server and starts
// monitoring it. Key material is generated locally; only the public
// part is sent to the server. The event stream converges on the new
// inbox set within one reconnect cycle.
func (c *Client) RegisterInbox(ctx context.Context, opts ...InboxOption) (*Inbox, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	cfg := &inboxConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	public, private, err := c.decrypter.NewKey()
	if err != nil {
		return nil, fmt.Errorf("generate inbox key: %w", err)
	}

	resp, err := c.apiClient.CreateInbox(ctx, &api.CreateInboxRequest{
		ClientPk: crypto.ToBase64URL(public),
		Label:    cfg.label,
	})
	if err != nil {
		return nil, fmt.Errorf("register inbox: %w", err)
	}

	inbox := &Inbox{
		id:           resp.InboxID,
		emailAddress: resp.EmailAddress,
		createdAt:    resp.CreatedAt,
		keyMaterial:  private,
		client:       c,
	}
	if err := c.track(inbox); err != nil {
		return nil, err
	}
	return inbox, nil
}

// AttachInbox resumes monitoring a previously exported inbox. The inbox
// is verified against the server before monitoring starts.
func (c *Client) AttachInbox(ctx context.Context, data *ExportedInbox) (*Inbox, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("exported inbox data cannot be nil")
	}

	keyMaterial, err := crypto.FromBase64URL(data.KeyMaterial)
	if err != nil {
		return nil, fmt.Errorf("decode key material: %w", err)
	}

	summary, err := c.apiClient.GetInbox(ctx, data.InboxID)
	if err != nil {
		return nil, fmt.Errorf("verify inbox: %w", err)
	}

	inbox := &Inbox{
		id:           summary.InboxID,
		emailAddress: summary.EmailAddress,
		createdAt:    summary.CreatedAt,
		keyMaterial:  keyMaterial,
		client:       c,
	}
	if err := c.track(inbox); err != nil {
		return nil, err
	}
	return inbox, nil
}

// UnregisterInbox stops monitoring an inbox and deletes it from the
// server. Events for the inbox still in flight from a superseded
// connection are dropped, never delivered.
func (c *Client) UnregisterInbox(ctx context.Context, inboxID string) error {
	if err := c.checkClosed(); err != nil {
		return err
	}

	c.mu.Lock()
	_, tracked := c.inboxes[inboxID]
	delete(c.inboxes, inboxID)
	c.mu.Unlock()

	changed := c.registry.Remove(inboxID)
	if !tracked && !changed {
		return ErrNotRegistered
	}

	if err := c.apiClient.DeleteInbox(ctx, inboxID); err != nil {
		return fmt.Errorf("unregister inbox: %w", err)
	}
	return nil
}

// ListInboxes returns all inboxes owned by the auth token on the
// server, including inboxes this client is not monitoring.
func (c *Client) ListInboxes(ctx context.Context) ([]InboxSummary, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}
	return c.apiClient.ListInboxes(ctx)
}

// Inboxes returns the inboxes this client is currently monitoring.
func (c *Client) Inboxes() []*Inbox {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]*Inbox, 0, len(c.inboxes))
	for _, inbox := range c.inboxes {
		result = append(result, inbox)
	}
	return result
}

// GetInbox returns a monitored inbox by ID.
func (c *Client) GetInbox(inboxID string) (*Inbox, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inbox, ok := c.inboxes[inboxID]
	return inbox, ok
}

// FetchEmails returns all emails currently in an inbox, following
// server pagination under the caller's context and de-duplicating by
// event ID across pages. The inbox must be registered.
func (c *Client) FetchEmails(ctx context.Context, inboxID string) ([]*Email, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	entry, ok := c.registry.Snapshot().Get(inboxID)
	if !ok {
		return nil, fmt.Errorf("fetch emails for inbox %s: %w", inboxID, ErrNotRegistered)
	}

	seen := make(map[string]struct{})
	var emails []*Email
	cursor := ""
	for {
		page, err := c.apiClient.GetEmailPage(ctx, inboxID, cursor, 0)
		if err != nil {
			return nil, fmt.Errorf("fetch emails: %w", err)
		}

		for _, raw := range page.Emails {
			if _, dup := seen[raw.ID]; dup {
				continue
			}
			seen[raw.ID] = struct{}{}

			email, err := c.decryptListedEmail(entry.KeyMaterial, &raw)
			if err != nil {
				return nil, fmt.Errorf("fetch emails: %w", err)
			}
			emails = append(emails, email)
		}

		if page.NextCursor == "" {
			return emails, nil
		}
		cursor = page.NextCursor
	}
}

// FetchEmailBody fetches and decrypts the full body of one email.
func (c *Client) FetchEmailBody(ctx context.Context, ref EmailRef) (*EmailBody, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	entry, ok := c.registry.Snapshot().Get(ref.InboxID)
	if !ok {
		return nil, fmt.Errorf("fetch email body: %w", ErrNotRegistered)
	}

	raw, err := c.apiClient.GetEmail(ctx, ref.InboxID, ref.EmailID)
	if err != nil {
		return nil, fmt.Errorf("fetch email body: %w", err)
	}

	ciphertext, err := crypto.FromBase64URL(raw.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("fetch email body: %w", &DecryptError{InboxID: ref.InboxID, EventID: ref.EmailID, Err: err})
	}
	plaintext, err := c.decrypter.Decrypt(entry.KeyMaterial, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("fetch email body: %w", &DecryptError{InboxID: ref.InboxID, EventID: ref.EmailID, Err: err})
	}
	return parseBodyDocument(plaintext, ref.EmailID)
}

// Subscribe registers for events matching the filter. The returned
// handle's Cancel is idempotent; after it returns, no further events
// are delivered.
func (c *Client) Subscribe(filter Filter, opts ...SubscribeOption) (*Subscription, error) {
	if err := c.checkClosed(); err != nil {
		return nil, err
	}

	cfg := &subscribeConfig{
		queueSize:     c.subQueueSize,
		policy:        c.overflowPolicy,
		blockDeadline: defaultBlockDeadline,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.queueSize <= 0 {
		cfg.queueSize = defaultQueueSize
	}

	return c.hub.subscribe(filter, cfg.queueSize, cfg.policy, cfg.blockDeadline)
}

// decryptListedEmail decrypts one list entry into an Email.
func (c *Client) decryptListedEmail(keyMaterial []byte, raw *api.EncryptedEmail) (*Email, error) {
	ciphertext, err := crypto.FromBase64URL(raw.Ciphertext)
	if err != nil {
		return nil, &DecryptError{InboxID: raw.InboxID, EventID: raw.ID, Err: err}
	}
	plaintext, err := c.decrypter.Decrypt(keyMaterial, ciphertext)
	if err != nil {
		return nil, &DecryptError{InboxID: raw.InboxID, EventID: raw.ID, Err: err}
	}
	return parseEmailDocument(plaintext, raw.InboxID, raw.ID, raw.ReceivedAt)
}

// handleEvent receives parsed events from the stream engine. Frames
// from a superseded connection epoch are dropped, as are events for
// inboxes no longer in the registry.
func (c *Client) handleEvent(ev *api.EncryptedEvent, epoch uint64) {
	if epoch < c.engine.Epoch() {
		c.log.Debug("dropping stale-epoch event", "event", ev.EventID, "epoch", epoch)
		return
	}

	entry, ok := c.registry.Snapshot().Get(ev.InboxID)
	if !ok {
		c.log.Debug("dropping event for unregistered inbox", "inbox", ev.InboxID)
		return
	}

	event := &Event{
		InboxID:    ev.InboxID,
		EventID:    ev.EventID,
		ReceivedAt: ev.ReceivedAt,
	}

	ciphertext, err := crypto.FromBase64URL(ev.Ciphertext)
	if err == nil {
		var plaintext []byte
		plaintext, err = c.decrypter.Decrypt(entry.KeyMaterial, ciphertext)
		if err == nil {
			event.Email, err = parseEmailDocument(plaintext, ev.InboxID, ev.EventID, ev.ReceivedAt)
		}
	}
	if err != nil {
		// One bad event does not poison the stream: the failure goes
		// only to subscriptions watching this inbox.
		event.Err = &DecryptError{InboxID: ev.InboxID, EventID: ev.EventID, Err: err}
		c.log.Warn("event decryption failed", "inbox", ev.InboxID, "event", ev.EventID, "error", err)
	}

	c.hub.publish(event)
}

// handleTerminal is invoked once when the stream engine gives up
// permanently. Every outstanding subscription is notified and cancelled.
func (c *Client) handleTerminal(err error) {
	c.hub.terminate(fmt.Errorf("%w: %w", ErrStreamTerminated, err))
}

// Close shuts down the client: the stream engine stops, all
// subscriptions are cancelled, and in-flight operations are abandoned.
// Subsequent operations fail with ErrClosed. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.inboxes = make(map[string]*Inbox)
	c.mu.Unlock()

	c.engine.Stop()
	c.hub.shutdown()
	return nil
}
