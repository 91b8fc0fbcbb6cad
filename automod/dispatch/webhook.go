package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/chatmod/chatmod/automod/event"
	"github.com/chatmod/chatmod/util"
)

// Delivers verdicts to a chat platform adapter over HTTP. The adapter is responsible for the actual platform API calls (delete message, post warning, etc).
type WebhookHandler struct {
	Client   *http.Client
	URL      string
	APIToken string
}

type WebhookBody struct {
	Message *event.Message `json:"message"`
	Verdict *event.Verdict `json:"verdict"`
}

func NewWebhookHandler(url, token string) *WebhookHandler {
	return &WebhookHandler{
		Client:   util.ActionHTTPClient(),
		URL:      url,
		APIToken: token,
	}
}

func (h *WebhookHandler) Handle(ctx context.Context, msg *event.Message, v *event.Verdict) error {
	body, err := json.Marshal(WebhookBody{Message: msg, Verdict: v})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIToken)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("action webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("action webhook failed statusCode=%d", resp.StatusCode)
	}
	return nil
}
