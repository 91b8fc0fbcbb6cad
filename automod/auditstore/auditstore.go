// Append-only log of moderation verdicts.
//
// Writers may deliver the same record more than once (at-least-once); durable implementations deduplicate on message ID.
package auditstore

import (
	"context"
	"errors"
	"time"

	"github.com/chatmod/chatmod/automod/event"
)

type Record struct {
	MessageID string         `json:"message_id"`
	SenderID  string         `json:"sender_id"`
	ChannelID string         `json:"channel_id"`
	Verdict   *event.Verdict `json:"verdict"`
	// Non-empty if the action handler failed. The verdict itself stands either way.
	DispatchError string    `json:"dispatch_error,omitempty"`
	RecordedAt    time.Time `json:"recorded_at"`
}

func NewRecord(msg *event.Message, v *event.Verdict, dispatchErr error) *Record {
	rec := &Record{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ChannelID:  msg.ChannelID,
		Verdict:    v,
		RecordedAt: time.Now().UTC(),
	}
	if dispatchErr != nil {
		rec.DispatchError = dispatchErr.Error()
	}
	return rec
}

type AuditSink interface {
	Append(ctx context.Context, rec *Record) error
}

// Sinks which can also be queried (for the admin API).
type AuditReader interface {
	Get(ctx context.Context, messageID string) (*Record, error)
	// Most recent records for a sender, newest first.
	RecentBySender(ctx context.Context, senderID string, limit int) ([]*Record, error)
}

// Appends to every sink in order. All sinks are attempted even if an earlier one fails; a retry re-appends to all of them, which downstream dedupe tolerates.
type MultiAuditSink []AuditSink

func (m MultiAuditSink) Append(ctx context.Context, rec *Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
