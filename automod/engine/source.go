package engine

import (
	"context"
	"fmt"

	"github.com/chatmod/chatmod/automod/event"
	"github.com/chatmod/chatmod/automod/pattern"
)

// Anything which produces one Signal of a fixed kind per message. Implementations never return errors: failures are reported as invalid signals.
type SignalSource interface {
	Kind() event.SignalKind
	Signal(ctx context.Context, msg *event.Message) event.Signal
}

// Adapts the pattern Matcher to the SignalSource contract.
type PatternSource struct {
	Matcher *pattern.Matcher
}

func (s *PatternSource) Kind() event.SignalKind {
	return event.KindPattern
}

func (s *PatternSource) Signal(ctx context.Context, msg *event.Message) event.Signal {
	return s.Matcher.Match(msg.Text)
}

// Calls a source, converting a panic in to an invalid signal.
func safeSignal(ctx context.Context, src SignalSource, msg *event.Message) (sig event.Signal) {
	defer func() {
		if r := recover(); r != nil {
			engineExceptionCount.WithLabelValues(string(src.Kind())).Inc()
			sig = event.InvalidSignal(src.Kind(), fmt.Errorf("signal source panic: %v", r))
		}
	}()
	sig = src.Signal(ctx, msg)
	sig.Kind = src.Kind()
	return sig
}
