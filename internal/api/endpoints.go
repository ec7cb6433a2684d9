package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/driftmail/client-go/internal/apierrors"
)

// CreateInbox provisions a new inbox keyed to the given client public key.
func (c *Client) CreateInbox(ctx context.Context, req *CreateInboxRequest) (*CreateInboxResponse, error) {
	var result CreateInboxResponse
	if err := c.Do(ctx, http.MethodPost, "/api/inboxes", req, &result); err != nil {
		return nil, fmt.Errorf("create inbox: %w", err)
	}
	return &result, nil
}

// ListInboxes returns all inboxes owned by the auth token.
func (c *Client) ListInboxes(ctx context.Context) ([]InboxSummary, error) {
	var result []InboxSummary
	if err := c.Do(ctx, http.MethodGet, "/api/inboxes", nil, &result); err != nil {
		return nil, fmt.Errorf("list inboxes: %w", err)
	}
	return result, nil
}

// GetInbox fetches metadata for a single inbox.
func (c *Client) GetInbox(ctx context.Context, inboxID string) (*InboxSummary, error) {
	path := fmt.Sprintf("/api/inboxes/%s", url.PathEscape(inboxID))
	var result InboxSummary
	if err := c.Do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("fetch inbox %s: %w", inboxID, apierrors.WithResourceType(err, apierrors.ResourceInbox))
	}
	return &result, nil
}

// DeleteInbox removes an inbox and all of its emails.
func (c *Client) DeleteInbox(ctx context.Context, inboxID string) error {
	path := fmt.Sprintf("/api/inboxes/%s", url.PathEscape(inboxID))
	if err := c.Do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete inbox %s: %w", inboxID, apierrors.WithResourceType(err, apierrors.ResourceInbox))
	}
	return nil
}

// GetEmailPage fetches one page of an inbox's email list. An empty
// cursor requests the first page; limit <= 0 uses the server default.
func (c *Client) GetEmailPage(ctx context.Context, inboxID, cursor string, limit int) (*EmailPage, error) {
	path := fmt.Sprintf("/api/inboxes/%s/emails", url.PathEscape(inboxID))
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var result EmailPage
	if err := c.Do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("list emails for inbox %s: %w", inboxID, apierrors.WithResourceType(err, apierrors.ResourceInbox))
	}
	return &result, nil
}

// GetEmail fetches a single email's full encrypted body.
func (c *Client) GetEmail(ctx context.Context, inboxID, emailID string) (*EncryptedEmail, error) {
	path := fmt.Sprintf("/api/inboxes/%s/emails/%s",
		url.PathEscape(inboxID), url.PathEscape(emailID))
	var result EncryptedEmail
	if err := c.Do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("fetch email %s: %w", emailID, apierrors.WithResourceType(err, apierrors.ResourceEmail))
	}
	return &result, nil
}

// OpenEventStream opens the server-sent event stream for the given
// inbox IDs. The response body stays open until the caller's context is
// cancelled or the server closes it; no client-side timeout applies.
// Non-2xx responses are classified and returned as errors.
func (c *Client) OpenEventStream(ctx context.Context, inboxIDs []string) (*http.Response, error) {
	path := fmt.Sprintf("/api/events?inboxes=%s", url.QueryEscape(strings.Join(inboxIDs, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.authToken)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, &apierrors.NetworkError{
			Err:  err,
			URL:  c.baseURL + path,
			Kind: classifyNetErr(ctx, err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		sErr := parseErrorResponse(resp)
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: %w", sErr)
	}

	return resp, nil
}
