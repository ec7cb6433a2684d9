package driftmail

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/driftmail/client-go/internal/apierrors"
)

// Email is the decrypted, user-facing form of an event or list entry.
// List and stream payloads carry metadata only; Text and HTML are
// populated by FetchEmailBody.
type Email struct {
	ID         string
	InboxID    string
	From       string
	To         []string
	Subject    string
	ReceivedAt time.Time
	// Attachments summarizes the email's attachments without content.
	Attachments []Attachment
	Text        string
	HTML        string
}

// Attachment summarizes one email attachment.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// EmailRef identifies an email for body fetches.
type EmailRef struct {
	InboxID string
	EmailID string
}

// EmailBody is the decrypted full body of an email.
type EmailBody struct {
	Text string
	HTML string
}

// emailDocument is the plaintext JSON produced by the decryption
// capability for metadata payloads.
type emailDocument struct {
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	Attachments []Attachment `json:"attachments"`
}

// bodyDocument is the plaintext JSON produced for full-body payloads.
type bodyDocument struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

// parseEmailDocument builds an Email from a decrypted metadata payload.
func parseEmailDocument(plaintext []byte, inboxID, eventID string, receivedAt time.Time) (*Email, error) {
	var doc emailDocument
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, &apierrors.DecodeError{Op: fmt.Sprintf("parse email document %s", eventID), Err: err}
	}
	return &Email{
		ID:          eventID,
		InboxID:     inboxID,
		From:        doc.From,
		To:          doc.To,
		Subject:     doc.Subject,
		ReceivedAt:  receivedAt,
		Attachments: doc.Attachments,
	}, nil
}

// parseBodyDocument builds an EmailBody from a decrypted body payload.
func parseBodyDocument(plaintext []byte, emailID string) (*EmailBody, error) {
	var doc bodyDocument
	if err := json.Unmarshal(plaintext, &doc); err != nil {
		return nil, &apierrors.DecodeError{Op: fmt.Sprintf("parse body document %s", emailID), Err: err}
	}
	return &EmailBody{Text: doc.Text, HTML: doc.HTML}, nil
}
