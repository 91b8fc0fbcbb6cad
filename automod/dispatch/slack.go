package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/chatmod/chatmod/automod/event"

	"golang.org/x/time/rate"
)

// Interface for a type that can send moderator notifications about verdicts.
type Notifier interface {
	SendVerdict(ctx context.Context, msg *event.Message, v *event.Verdict, dispatchErr error) error
}

type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
	// optional; notifications over the limit are dropped (and counted), not queued
	Limiter *rate.Limiter
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) SendVerdict(ctx context.Context, msg *event.Message, v *event.Verdict, dispatchErr error) error {
	if n.Limiter != nil && !n.Limiter.Allow() {
		notifyDroppedCount.Inc()
		return nil
	}
	return n.sendSlackMsg(ctx, slackBody(msg, v, dispatchErr))
}

// Sends a simple slack message to a channel via "incoming webhook".
//
// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	if resp.StatusCode != 200 || buf.String() != "ok" {
		return fmt.Errorf("failed slack webhook POST request. status=%d", resp.StatusCode)
	}
	return nil
}

func slackBody(msg *event.Message, v *event.Verdict, dispatchErr error) string {
	var sb strings.Builder
	if dispatchErr != nil {
		sb.WriteString("🚨 Chatmod Action Delivery Failed 🚨\n")
	} else {
		sb.WriteString("⚠️ Chatmod Action ⚠️\n")
	}
	fmt.Fprintf(&sb, "Action: `%s` (rule `%s`)\n", v.Action, v.Rule)
	fmt.Fprintf(&sb, "Sender `%s` in channel `%s` / message `%s`\n", msg.SenderID, msg.ChannelID, msg.ID)
	for _, sig := range v.Signals {
		if !sig.Valid {
			fmt.Fprintf(&sb, "Signal `%s`: unavailable (%s)\n", sig.Kind, sig.Err)
			continue
		}
		fmt.Fprintf(&sb, "Signal `%s`: %.2f", sig.Kind, sig.Score)
		if len(sig.Matched) > 0 {
			fmt.Fprintf(&sb, " matched `%s`", strings.Join(sig.Matched, ", "))
		}
		if sig.Label != "" {
			fmt.Fprintf(&sb, " label `%s`", sig.Label)
		}
		sb.WriteString("\n")
	}
	if len(v.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: `%s`\n", strings.Join(v.Tags, ", "))
	}
	if v.SenderViolations > 0 {
		fmt.Fprintf(&sb, "Sender violations: %d\n", v.SenderViolations)
	}
	fmt.Fprintf(&sb, "> %s\n", msg.Snippet(200))
	if dispatchErr != nil {
		fmt.Fprintf(&sb, "Error: `%s`\n", dispatchErr.Error())
	}
	return sb.String()
}
