package alert

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const pushoverEndpoint = "https://api.pushover.net/1/messages.json"

// PushoverNotifier posts to the Pushover messages API.
type PushoverNotifier struct {
	APIToken string
	UserKey  string
	client   *http.Client
}

// NewPushoverNotifier builds a notifier with a bounded request timeout.
func NewPushoverNotifier(apiToken, userKey string) *PushoverNotifier {
	return &PushoverNotifier{
		APIToken: apiToken,
		UserKey:  userKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type pushoverResponse struct {
	Status int `json:"status"`
}

// Send posts title/message to Pushover, returning an error if the HTTP
// call fails or the API reports a non-success status.
func (n *PushoverNotifier) Send(title, message string) error {
	form := url.Values{
		"token":   {n.APIToken},
		"user":    {n.UserKey},
		"title":   {title},
		"message": {message},
	}

	resp, err := n.client.PostForm(pushoverEndpoint, form)
	if err != nil {
		return fmt.Errorf("pushover request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("pushover response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("pushover http %d: %s", resp.StatusCode, body)
	}

	var parsed pushoverResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("pushover response decode: %w", err)
		}
	}
	if parsed.Status != 1 {
		return fmt.Errorf("pushover error: %s", body)
	}
	return nil
}
