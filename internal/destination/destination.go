// Package destination wraps the Gmail API surface this system needs:
// raw message import, thread lookup by RFC822 Message-ID, and label
// resolution/creation, plus HTTP status classification for the retry
// worker.
package destination

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// UserID is the Gmail API "me" convenience alias used throughout.
const UserID = "me"

// Client is a single Gmail API session built from a token source. Callers
// rebuild a Client whenever the backing credential rotates.
type Client struct {
	service *gmail.Service
}

// NewClient builds a Gmail service using ts to authorize every request,
// the same oauth2.NewClient/option.WithHTTPClient wiring used throughout
// the pack's Gmail-backed tools.
func NewClient(ctx context.Context, ts oauth2.TokenSource) (*Client, error) {
	httpClient := oauth2.NewClient(ctx, ts)
	svc, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("build gmail service: %w", err)
	}
	return &Client{service: svc}, nil
}

// ImportRawMessage imports raw (already headers-injected) bytes into the
// mailbox under labelIDs, optionally attaching it to an existing thread.
// Returns the new message and thread ids.
func (c *Client) ImportRawMessage(ctx context.Context, raw []byte, labelIDs []string, threadID string) (messageID, gmailThreadID string, err error) {
	msg := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(raw),
		LabelIds: labelIDs,
	}
	if threadID != "" {
		msg.ThreadId = threadID
	}
	call := c.service.Users.Messages.Import(UserID, msg).InternalDateSource("dateHeader")
	result, err := call.Context(ctx).Do()
	if err != nil {
		return "", "", err
	}
	return result.Id, result.ThreadId, nil
}

// FindThreadByMessageID looks up the Gmail thread containing a message
// with the given RFC822 Message-ID, returning "" if none is found. A 403
// from the search (insufficient scope on a shared mailbox, etc.) is
// treated as "no thread found" rather than propagated, matching the
// original's behavior.
func (c *Client) FindThreadByMessageID(ctx context.Context, msgID string) (string, error) {
	if msgID == "" {
		return "", nil
	}
	query := fmt.Sprintf("rfc822msgid:%s", msgID)
	listResp, err := c.service.Users.Messages.List(UserID).Q(query).MaxResults(1).Context(ctx).Do()
	if err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == http.StatusForbidden {
			return "", nil
		}
		return "", err
	}
	if len(listResp.Messages) == 0 {
		return "", nil
	}
	msg, err := c.service.Users.Messages.Get(UserID, listResp.Messages[0].Id).Format("metadata").Context(ctx).Do()
	if err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == http.StatusForbidden {
			return "", nil
		}
		return "", err
	}
	return msg.ThreadId, nil
}

// EnsureLabel returns the id of a user label, creating it if absent.
func (c *Client) EnsureLabel(ctx context.Context, name string) (string, error) {
	labels, err := c.service.Users.Labels.List(UserID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("list labels: %w", err)
	}
	for _, l := range labels.Labels {
		if l.Name == name {
			return l.Id, nil
		}
	}
	created, err := c.service.Users.Labels.Create(UserID, &gmail.Label{
		Name:                  name,
		LabelListVisibility:   "labelShow",
		MessageListVisibility: "show",
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create label %s: %w", name, err)
	}
	return created.Id, nil
}

// SystemLabelIDs resolves the ids of Gmail system labels (INBOX, UNREAD),
// returning an error naming any that could not be found.
func (c *Client) SystemLabelIDs(ctx context.Context, names []string) (map[string]string, error) {
	labels, err := c.service.Users.Labels.List(UserID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	byName := make(map[string]string, len(labels.Labels))
	for _, l := range labels.Labels {
		byName[l.Name] = l.Id
	}
	out := make(map[string]string, len(names))
	var missing []string
	for _, n := range names {
		id, ok := byName[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		out[n] = id
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing Gmail system labels: %v", missing)
	}
	return out, nil
}

// Classification is the outcome of inspecting a delivery error: whether it
// is worth retrying, and whether it looks like an OAuth credential problem
// that should raise an operator alert.
type Classification struct {
	Retryable  bool
	OAuthAlert bool
}

// Classify applies the delivery error taxonomy: 429 and 5xx are
// retryable; 401/403 are retryable and raise an OAuth alert; any other
// 4xx is permanent; anything that isn't a googleapi.Error (transport
// failure, timeout) is treated as retryable.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	gerr, ok := err.(*googleapi.Error)
	if !ok {
		return Classification{Retryable: true}
	}
	switch gerr.Code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return Classification{Retryable: true}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Classification{Retryable: true, OAuthAlert: true}
	default:
		if gerr.Code >= 400 && gerr.Code < 500 {
			return Classification{Retryable: false}
		}
		return Classification{Retryable: true}
	}
}
