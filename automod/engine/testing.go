package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chatmod/chatmod/automod/admission"
	"github.com/chatmod/chatmod/automod/auditstore"
	"github.com/chatmod/chatmod/automod/countstore"
	"github.com/chatmod/chatmod/automod/dispatch"
	"github.com/chatmod/chatmod/automod/event"
	"github.com/chatmod/chatmod/automod/flagstore"
	"github.com/chatmod/chatmod/automod/pattern"
	"github.com/chatmod/chatmod/automod/scorer"
)

// Action handler which records every invocation, for tests.
type RecordingHandler struct {
	mu    sync.Mutex
	Calls []*event.Verdict
	Err   error
}

func (h *RecordingHandler) Handle(ctx context.Context, msg *event.Message, v *event.Verdict) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, v)
	return h.Err
}

func (h *RecordingHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Calls)
}

type TestFixture struct {
	Engine   *Engine
	Matcher  *pattern.Matcher
	Scorer   *scorer.Client
	Audit    *auditstore.MemAuditSink
	Counters *countstore.MemCountStore
	Flags    *flagstore.MemFlagStore
	Handlers map[event.Action]*RecordingHandler
}

// Test rules: a "free money now" substring rule at 0.95, and a mild keyword rule at 0.6.
func testRules() []pattern.Rule {
	return []pattern.Rule{
		{ID: "free-money", Kind: pattern.KindSubstring, Pattern: "free money now", Severity: 0.95},
		{ID: "mild-spam", Kind: pattern.KindKeywords, Keywords: []string{"subscribe to my channel"}, Severity: 0.6},
	}
}

// Fully wired engine with in-memory stores, the given oracle, and recording action handlers.
func EngineTestFixture(cfg Config, oracle scorer.Oracle) (*TestFixture, error) {
	rs, err := pattern.Compile("test", testRules())
	if err != nil {
		return nil, err
	}
	matcher := pattern.NewMatcher(rs)

	logger := slog.Default()
	client, err := scorer.NewClient(oracle, scorer.ClientConfig{
		Name:    "test",
		Timeout: cfg.ScoreTimeout,
		Breaker: cfg.Breaker,
	}, nil, logger)
	if err != nil {
		return nil, err
	}

	adm, err := admission.NewController(cfg.Admission, nil, logger)
	if err != nil {
		return nil, err
	}

	f := &TestFixture{
		Matcher:  matcher,
		Scorer:   client,
		Audit:    auditstore.NewMemAuditSink(),
		Counters: countstore.NewMemCountStore(),
		Flags:    flagstore.NewMemFlagStore(),
		Handlers: make(map[event.Action]*RecordingHandler),
	}
	handlers := make(map[event.Action]dispatch.ActionHandler)
	for _, a := range event.Actions {
		h := &RecordingHandler{}
		f.Handlers[a] = h
		handlers[a] = h
	}
	disp := &dispatch.Dispatcher{
		Logger:     logger,
		Handlers:   handlers,
		Audit:      f.Audit,
		Counters:   f.Counters,
		Flags:      f.Flags,
		AuditRetry: dispatch.AuditRetryConfig{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond},
	}

	eng, err := NewEngine(cfg, &PatternSource{Matcher: matcher}, client, adm, disp, logger)
	if err != nil {
		return nil, err
	}
	f.Engine = eng
	return f, nil
}
