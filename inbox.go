package driftmail

import (
	"time"

	"github.com/driftmail/client-go/internal/crypto"
)

// Inbox represents a monitored disposable email inbox. The key material
// never leaves the process except through an explicit Export.
type Inbox struct {
	id           string
	emailAddress string
	createdAt    time.Time
	keyMaterial  []byte
	client       *Client
}

// ID returns the server-assigned inbox identifier.
func (i *Inbox) ID() string {
	return i.id
}

// EmailAddress returns the inbox's email address.
func (i *Inbox) EmailAddress() string {
	return i.emailAddress
}

// CreatedAt returns the inbox creation timestamp.
func (i *Inbox) CreatedAt() time.Time {
	return i.createdAt
}

// ExportedInbox is the serializable form of an inbox, including its
// secret key material. Handle with the same care as a credential.
type ExportedInbox struct {
	InboxID      string    `json:"inboxId"`
	EmailAddress string    `json:"emailAddress"`
	CreatedAt    time.Time `json:"createdAt"`
	// KeyMaterial is the inbox's secret key, base64url encoded.
	KeyMaterial string `json:"keyMaterial"`
}

// Export returns the inbox in a form that can be stored and later
// re-attached with AttachInbox, surviving a process restart.
func (i *Inbox) Export() *ExportedInbox {
	return &ExportedInbox{
		InboxID:      i.id,
		EmailAddress: i.emailAddress,
		CreatedAt:    i.createdAt,
		KeyMaterial:  crypto.ToBase64URL(i.keyMaterial),
	}
}
