package api

import "time"

// CreateInboxRequest represents the POST /api/inboxes request.
type CreateInboxRequest struct {
	// ClientPk is the client's public key material, base64url encoded.
	// The server encrypts every event for this inbox against it.
	ClientPk string `json:"clientPk"`
	// Label is an optional caller-supplied tag for the inbox.
	Label string `json:"label,omitempty"`
}

// CreateInboxResponse represents the POST /api/inboxes response.
type CreateInboxResponse struct {
	InboxID      string    `json:"inboxId"`
	EmailAddress string    `json:"emailAddress"`
	CreatedAt    time.Time `json:"createdAt"`
}

// InboxSummary represents one entry of the GET /api/inboxes response.
type InboxSummary struct {
	InboxID      string    `json:"inboxId"`
	EmailAddress string    `json:"emailAddress"`
	Label        string    `json:"label,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	EmailCount   int       `json:"emailCount"`
}

// EncryptedEmail represents one encrypted email record. The list
// endpoint returns metadata-level ciphertext; the body endpoint returns
// the full ciphertext in the same envelope.
type EncryptedEmail struct {
	ID         string    `json:"id"`
	InboxID    string    `json:"inboxId"`
	ReceivedAt time.Time `json:"receivedAt"`
	// Ciphertext is the encrypted payload envelope, base64url JSON.
	Ciphertext string `json:"ciphertext"`
}

// EmailPage represents one page of GET /api/inboxes/{id}/emails.
type EmailPage struct {
	Emails     []EncryptedEmail `json:"emails"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// EncryptedEvent represents one server-sent event payload from the
// event stream: a new email notification carrying the encrypted
// metadata for the inbox it belongs to.
type EncryptedEvent struct {
	InboxID    string    `json:"inboxId"`
	EventID    string    `json:"eventId"`
	Ciphertext string    `json:"ciphertext"`
	ReceivedAt time.Time `json:"receivedAt"`
}
