package event

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rivo/uniseg"
)

var ErrMalformedMessage = errors.New("malformed message")

// A single chat message, as delivered by the inbound message source (a bot platform adapter, the HTTP ingest API, etc).
//
// Messages are immutable once created. The pipeline only holds on to a message until a Verdict has been produced and dispatched.
type Message struct {
	// Platform-specific message identifier. Used to de-duplicate audit records downstream, so it must be unique per channel at least.
	ID string `json:"id"`
	// Identifier of the account which sent the message. Rate limiting and violation tracking is keyed on this.
	SenderID string `json:"sender_id"`
	// Identifier of the chat, group, or room the message was posted to.
	ChannelID string `json:"channel_id"`
	// Free-form message text, as received.
	Text string `json:"text"`
	// When the message arrived at the moderation service. Filled in at ingestion if zero.
	ReceivedAt time.Time `json:"received_at"`
}

// Checks that all required fields are present. Errors wrap ErrMalformedMessage.
//
// Whitespace-only text is allowed (it scores zero everywhere), but entirely empty text is not: non-text messages (stickers, media) should not be sent to the pipeline at all.
func (m *Message) Validate() error {
	var missing []string
	if m.ID == "" {
		missing = append(missing, "id")
	}
	if m.SenderID == "" {
		missing = append(missing, "sender_id")
	}
	if m.ChannelID == "" {
		missing = append(missing, "channel_id")
	}
	if m.Text == "" {
		missing = append(missing, "text")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedMessage, strings.Join(missing, ", "))
	}
	return nil
}

// Returns a copy of the message text shortened to at most n grapheme clusters, for logs and notifications. Never splits an emoji or accented character.
func (m *Message) Snippet(n int) string {
	gr := uniseg.NewGraphemes(m.Text)
	count := 0
	for gr.Next() {
		if count == n {
			start, _ := gr.Positions()
			return m.Text[:start] + "..."
		}
		count++
	}
	return m.Text
}
