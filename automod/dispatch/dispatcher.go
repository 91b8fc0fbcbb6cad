package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatmod/chatmod/automod/auditstore"
	"github.com/chatmod/chatmod/automod/countstore"
	"github.com/chatmod/chatmod/automod/event"
	"github.com/chatmod/chatmod/automod/flagstore"

	"github.com/cenkalti/backoff/v5"
)

// An action handler failed to deliver a verdict's side effect. The verdict itself is not changed.
type DispatchFailure struct {
	Action event.Action
	Err    error
}

func (f *DispatchFailure) Error() string {
	return fmt.Sprintf("dispatching %s action: %v", f.Action, f.Err)
}

func (f *DispatchFailure) Unwrap() error {
	return f.Err
}

type AuditRetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultAuditRetry = AuditRetryConfig{
	MaxTries:        5,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     2 * time.Second,
}

// Executes verdicts: one action handler call, then an audit record, then sender bookkeeping and notifications.
//
// Audit, Handlers and Logger are required; the other fields are optional.
type Dispatcher struct {
	Logger   *slog.Logger
	Handlers map[event.Action]ActionHandler
	Audit    auditstore.AuditSink
	// per-sender "verdict/<action>" counters
	Counters countstore.CountStore
	// per-sender moderation flags
	Flags    flagstore.FlagStore
	Notifier Notifier
	// which actions (in addition to any dispatch failure) trigger a notification
	NotifyActions []event.Action
	AuditRetry    AuditRetryConfig
}

// Counter name for per-sender verdict counts.
func VerdictCounterName(action event.Action) string {
	return "verdict/" + string(action)
}

// Distinct-counter name for the channels in which a sender received a non-allow verdict.
const ViolationChannelsName = "violation-channels"

// Sender flag recorded for each action, if any.
var actionFlags = map[event.Action]string{
	event.ActionWarn:   "warned",
	event.ActionDelete: "deleted",
}

// Executes a verdict.
//
// The matching action handler (if one is registered) is called exactly once. An audit record is then always written, whether or not the handler failed, with retries. Returned errors are informational: a *DispatchFailure for handler failure, and/or the final audit write error. Neither is retried by the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *event.Message, v *event.Verdict) error {
	// side effects and bookkeeping must complete even if the inbound request goes away
	ctx = context.WithoutCancel(ctx)
	logger := d.Logger.With("msg_id", msg.ID, "sender", msg.SenderID, "action", v.Action)

	var dispatchErr error
	if err := d.invokeHandler(ctx, msg, v); err != nil {
		dispatchErr = &DispatchFailure{Action: v.Action, Err: err}
		actionCount.WithLabelValues(string(v.Action), "error").Inc()
		logger.Warn("action delivery failed", "err", err)
	} else {
		actionCount.WithLabelValues(string(v.Action), "ok").Inc()
	}

	auditErr := d.appendAudit(ctx, auditstore.NewRecord(msg, v, dispatchErr))
	if auditErr != nil {
		auditAppendCount.WithLabelValues("error").Inc()
		logger.Error("audit append failed", "err", auditErr)
		auditErr = fmt.Errorf("audit append: %w", auditErr)
	} else {
		auditAppendCount.WithLabelValues("ok").Inc()
	}

	if err := d.persistSenderStats(ctx, msg, v); err != nil {
		logger.Error("failed to persist sender stats", "err", err)
	}

	if d.Notifier != nil && (dispatchErr != nil || d.shouldNotify(v.Action)) {
		if err := d.Notifier.SendVerdict(ctx, msg, v, dispatchErr); err != nil {
			notifyErrorCount.Inc()
			logger.Error("sending moderator notification", "err", err)
		}
	}

	return errors.Join(dispatchErr, auditErr)
}

func (d *Dispatcher) invokeHandler(ctx context.Context, msg *event.Message, v *event.Verdict) (err error) {
	h, ok := d.Handlers[v.Action]
	if !ok || h == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, msg, v)
}

// At-least-once append, with exponential backoff between attempts.
func (d *Dispatcher) appendAudit(ctx context.Context, rec *auditstore.Record) error {
	cfg := d.AuditRetry
	if cfg.MaxTries == 0 {
		cfg = DefaultAuditRetry
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			auditRetryCount.Inc()
		}
		return struct{}{}, d.Audit.Append(ctx, rec)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(cfg.MaxTries))
	return err
}

func (d *Dispatcher) persistSenderStats(ctx context.Context, msg *event.Message, v *event.Verdict) error {
	if d.Counters != nil {
		if err := d.Counters.Increment(ctx, VerdictCounterName(v.Action), msg.SenderID); err != nil {
			return err
		}
		if v.Action != event.ActionAllow {
			if err := d.Counters.IncrementDistinct(ctx, ViolationChannelsName, msg.SenderID, msg.ChannelID); err != nil {
				return err
			}
		}
	}
	if flag, ok := actionFlags[v.Action]; ok && d.Flags != nil {
		if err := d.Flags.Add(ctx, msg.SenderID, []string{flag}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) shouldNotify(action event.Action) bool {
	for _, a := range d.NotifyActions {
		if a == action {
			return true
		}
	}
	return false
}
