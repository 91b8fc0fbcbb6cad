package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"github.com/chatmod/chatmod/automod/event"
)

// Executes the side effect of a verdict (eg, deleting a chat message, or DMing a warning to the sender) against the chat platform.
//
// Handlers are invoked at most once per verdict by the Dispatcher; failures are reported but not retried.
type ActionHandler interface {
	Handle(ctx context.Context, msg *event.Message, v *event.Verdict) error
}

type HandlerFunc func(ctx context.Context, msg *event.Message, v *event.Verdict) error

func (f HandlerFunc) Handle(ctx context.Context, msg *event.Message, v *event.Verdict) error {
	return f(ctx, msg, v)
}

// Only logs the verdict. Useful as the "allow" handler, and for dry-run deployments.
type LogHandler struct {
	Logger *slog.Logger
	Level  slog.Level
}

func (h *LogHandler) Handle(ctx context.Context, msg *event.Message, v *event.Verdict) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(ctx, h.Level, "moderation action", "action", v.Action, "rule", v.Rule, "msg_id", msg.ID, "sender", msg.SenderID, "channel", msg.ChannelID)
	return nil
}

// Runs every handler in order, even if earlier ones fail, and joins the errors.
type MultiHandler []ActionHandler

func (m MultiHandler) Handle(ctx context.Context, msg *event.Message, v *event.Verdict) error {
	var errs []error
	for _, h := range m {
		if err := h.Handle(ctx, msg, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
