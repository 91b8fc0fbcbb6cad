package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatmod/chatmod/automod/admission"
	"github.com/chatmod/chatmod/automod/dispatch"
	"github.com/chatmod/chatmod/automod/event"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("chatmod")

var errPipelineCanceled = errors.New("pipeline canceled")

// Runtime for the moderation pipeline: admission, signal gathering, decision, and dispatch.
//
// Engine itself holds no per-message state, and is safe for concurrent use. All mutable shared state (breaker, rate state, rule set) lives in the injected components.
type Engine struct {
	Logger *slog.Logger
	Config Config
	// synchronous, fast (pattern matching)
	Pattern SignalSource
	// asynchronous, slow (toxicity model). May be nil, in which case every verdict is degraded.
	Toxicity   SignalSource
	Admission  *admission.Controller
	Dispatcher *dispatch.Dispatcher

	now func() time.Time
}

func NewEngine(cfg Config, pat, tox SignalSource, adm *admission.Controller, disp *dispatch.Dispatcher, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if pat == nil || adm == nil || disp == nil {
		return nil, fmt.Errorf("engine requires a pattern source, admission controller, and dispatcher")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Logger:     logger,
		Config:     cfg,
		Pattern:    pat,
		Toxicity:   tox,
		Admission:  adm,
		Dispatcher: disp,
		now:        time.Now,
	}, nil
}

// Processes a single message, returning its verdict.
//
// Errors are only returned for messages which never entered the pipeline: malformed messages (wrapping event.ErrMalformedMessage), and messages whose context ended while waiting for admission. Once admitted (or throttled), a message always gets exactly one verdict, which has been dispatched by the time Ingest returns.
func (e *Engine) Ingest(ctx context.Context, msg *event.Message) (*event.Verdict, error) {
	if err := msg.Validate(); err != nil {
		rejectedCount.WithLabelValues("malformed").Inc()
		return nil, err
	}
	m := *msg
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = e.now()
	}

	ctx, span := tracer.Start(ctx, "Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("msg_id", m.ID),
		attribute.String("sender", m.SenderID),
		attribute.String("channel", m.ChannelID),
	)

	start := time.Now()
	defer func() {
		ingestDuration.Observe(time.Since(start).Seconds())
	}()

	logger := e.Logger.With("msg_id", m.ID, "sender", m.SenderID, "channel", m.ChannelID)

	adm, err := e.Admission.Admit(ctx, m.SenderID)
	if errors.Is(err, admission.ErrThrottled) {
		v := e.throttledVerdict(&m)
		e.finish(ctx, logger, &m, v)
		span.SetAttributes(attribute.String("action", string(v.Action)))
		return v, nil
	}
	if err != nil {
		rejectedCount.WithLabelValues("admission").Inc()
		return nil, err
	}
	defer adm.Release()

	v := e.decide(ctx, logger, &m, adm)
	e.finish(ctx, logger, &m, v)
	span.SetAttributes(
		attribute.String("action", string(v.Action)),
		attribute.String("rule", v.Rule),
		attribute.Bool("degraded", v.Degraded()),
	)
	return v, nil
}

// Gathers signals and applies policy. Never fails: a panic anywhere in here becomes a degraded "flag" verdict.
func (e *Engine) decide(ctx context.Context, logger *slog.Logger, msg *event.Message, adm *admission.Admission) (v *event.Verdict) {
	// similar to an HTTP server, we want to recover any panics from rule execution
	defer func() {
		if r := recover(); r != nil {
			engineExceptionCount.WithLabelValues("engine").Inc()
			logger.Error("automod event execution exception", "err", r)
			v = &event.Verdict{
				MessageID:        msg.ID,
				Action:           event.ActionFlag,
				Rule:             "engine-exception",
				Tags:             []string{event.TagDegraded},
				SenderViolations: adm.Violations,
				DecidedAt:        e.now(),
			}
		}
	}()

	in := e.gatherSignals(ctx, logger, msg)
	in.RateExceeded = adm.RateExceeded
	d := Evaluate(&e.Config.Policy, &in)

	v = &event.Verdict{
		MessageID:        msg.ID,
		Action:           d.Action,
		Rule:             d.Rule,
		Signals:          []event.Signal{in.Pattern, in.Toxicity},
		Tags:             d.Tags,
		SenderViolations: adm.Violations,
		DecidedAt:        e.now(),
	}
	if v.IsViolation() {
		v.SenderViolations = e.Admission.RecordViolation(msg.SenderID)
	}
	return v
}

// Runs both signal sources concurrently, and waits until both are done or the max-wait-for-model deadline passes (whichever is first).
//
// A toxicity result which arrives after the deadline is discarded; the scorer call itself is not interrupted.
func (e *Engine) gatherSignals(ctx context.Context, logger *slog.Logger, msg *event.Message) PolicyInput {
	deadline := time.NewTimer(e.Config.MaxWaitForModel)
	defer deadline.Stop()

	var toxc chan event.Signal
	if e.Toxicity != nil {
		// buffered, so a late result doesn't leak the goroutine
		toxc = make(chan event.Signal, 1)
		go func() {
			toxc <- safeSignal(ctx, e.Toxicity, msg)
		}()
	}

	in := PolicyInput{
		Pattern: safeSignal(ctx, e.Pattern, msg),
	}

	if toxc == nil {
		in.Toxicity = event.InvalidSignal(event.KindToxicity, errors.New("no toxicity source configured"))
		return in
	}
	select {
	case sig := <-toxc:
		in.Toxicity = sig
	case <-deadline.C:
		modelWaitTimeouts.Inc()
		logger.Debug("toxicity signal missed deadline", "max_wait", e.Config.MaxWaitForModel)
		in.Toxicity = event.InvalidSignal(event.KindToxicity, fmt.Errorf("no model response within %s", e.Config.MaxWaitForModel))
	case <-ctx.Done():
		in.Toxicity = event.InvalidSignal(event.KindToxicity, errPipelineCanceled)
	}
	return in
}

func (e *Engine) throttledVerdict(msg *event.Message) *event.Verdict {
	return &event.Verdict{
		MessageID: msg.ID,
		Action:    event.ActionFlag,
		Rule:      "throttled",
		Signals:   []event.Signal{},
		Tags:      []string{event.TagThrottled, event.TagDegraded},
		DecidedAt: e.now(),
	}
}

// Logs, counts, and dispatches a verdict.
func (e *Engine) finish(ctx context.Context, logger *slog.Logger, msg *event.Message, v *event.Verdict) {
	verdictCount.WithLabelValues(string(v.Action), v.Rule).Inc()
	if v.Degraded() {
		degradedCount.Inc()
	}
	canonicalLogLine(logger, v)

	if err := e.Dispatcher.Dispatch(ctx, msg, v); err != nil {
		dispatchErrorCount.Inc()
		var failure *dispatch.DispatchFailure
		if errors.As(err, &failure) {
			logger.Warn("verdict dispatched with delivery failure", "err", err)
		} else {
			logger.Error("verdict dispatch error", "err", err)
		}
	}
}

// One structured log line per verdict, with everything needed to explain it.
func canonicalLogLine(logger *slog.Logger, v *event.Verdict) {
	attrs := []any{
		"action", v.Action,
		"rule", v.Rule,
		"degraded", v.Degraded(),
		"rate_exceeded", v.HasTag(event.TagRateExceeded),
		"violations", v.SenderViolations,
	}
	if sig, ok := v.Signal(event.KindPattern); ok {
		attrs = append(attrs, "pattern", sig.Score, "matched", sig.Matched)
	}
	if sig, ok := v.Signal(event.KindToxicity); ok {
		if sig.Valid {
			attrs = append(attrs, "toxicity", sig.Score, "label", sig.Label)
		} else {
			attrs = append(attrs, "toxicity_err", sig.Err)
		}
	}
	if v.HasTag(event.TagThrottled) {
		attrs = append(attrs, "throttled", true)
	}
	logger.Info("automod verdict", attrs...)
}
