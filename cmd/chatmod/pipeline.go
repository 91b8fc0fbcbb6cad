package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatmod/chatmod/automod/admission"
	"github.com/chatmod/chatmod/automod/auditstore"
	"github.com/chatmod/chatmod/automod/cachestore"
	"github.com/chatmod/chatmod/automod/countstore"
	"github.com/chatmod/chatmod/automod/dispatch"
	"github.com/chatmod/chatmod/automod/engine"
	"github.com/chatmod/chatmod/automod/event"
	"github.com/chatmod/chatmod/automod/flagstore"
	"github.com/chatmod/chatmod/automod/pattern"
	"github.com/chatmod/chatmod/automod/scorer"
	"github.com/chatmod/chatmod/automod/setstore"
	"github.com/chatmod/chatmod/util"
	"github.com/chatmod/chatmod/util/cliutil"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"gorm.io/plugin/opentelemetry/tracing"
)

type PipelineOptions struct {
	Config            engine.Config
	RulesFile         string
	ModelURL          string
	ModelToken        string
	ModelNeutralLabel string
	DatabaseURL       string
	MaxDBConnections  int
	TraceDatabase     bool
	RedisURL          string
	AuditStream       bool
	ScoreCacheTTL     time.Duration
	SetsFile          string
	ActionWebhookURL  string
	ActionWebhookTok  string
	SlackWebhookURL   string
}

// All the wired-up components of a running moderation service.
type Pipeline struct {
	Logger    *slog.Logger
	Engine    *engine.Engine
	Matcher   *pattern.Matcher
	Admission *admission.Controller
	Counters  countstore.CountStore
	Flags     flagstore.FlagStore
	// nil if no queryable audit store is configured
	AuditReader auditstore.AuditReader

	rulesFile string
}

func NewPipeline(ctx context.Context, opts PipelineOptions, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("system", "chatmod")

	rs, err := pattern.LoadRuleSet(opts.RulesFile)
	if err != nil {
		return nil, &engine.ConfigError{Field: "rules-file", Err: err}
	}
	matcher := pattern.NewMatcher(rs)
	logger.Info("loaded pattern rules", "version", rs.Version, "count", rs.Len())

	var rdb *redis.Client
	if opts.RedisURL != "" {
		rdb, err = cliutil.SetupRedis(ctx, opts.RedisURL)
		if err != nil {
			return nil, err
		}
	}

	var cache cachestore.CacheStore
	var counters countstore.CountStore
	var flags flagstore.FlagStore
	if rdb != nil {
		counters = countstore.NewRedisCountStore(rdb)
		flags = flagstore.NewRedisFlagStore(rdb)
		if opts.ScoreCacheTTL > 0 {
			cache = cachestore.NewRedisCacheStore(rdb, opts.ScoreCacheTTL, 10_000)
		}
	} else {
		counters = countstore.NewMemCountStore()
		flags = flagstore.NewMemFlagStore()
		if opts.ScoreCacheTTL > 0 {
			cache = cachestore.NewMemCacheStore(10_000, opts.ScoreCacheTTL)
		}
	}

	sets := setstore.NewMemSetStore()
	if opts.SetsFile != "" {
		if err := sets.LoadFromFileJSON(opts.SetsFile); err != nil {
			return nil, &engine.ConfigError{Field: "sets-file", Err: err}
		}
	}

	adm, err := admission.NewController(opts.Config.Admission, sets, logger)
	if err != nil {
		return nil, err
	}

	// toxicity source stays a nil interface (not a typed nil) when no model is configured
	var tox engine.SignalSource
	if opts.ModelURL != "" {
		oracle := scorer.NewHTTPOracle(opts.ModelURL, opts.ModelToken)
		if opts.ModelNeutralLabel != "" {
			oracle.NeutralLabel = opts.ModelNeutralLabel
		}
		client, err := scorer.NewClient(oracle, scorer.ClientConfig{
			Name:    "toxicity",
			Timeout: opts.Config.ScoreTimeout,
			Breaker: opts.Config.Breaker,
		}, cache, logger)
		if err != nil {
			return nil, err
		}
		tox = client
	} else {
		logger.Warn("no toxicity model configured; all verdicts will be degraded")
	}

	var sinks auditstore.MultiAuditSink
	var reader auditstore.AuditReader
	if opts.DatabaseURL != "" {
		db, err := cliutil.SetupDatabase(opts.DatabaseURL, opts.MaxDBConnections, logger)
		if err != nil {
			return nil, err
		}
		if opts.TraceDatabase {
			if err := db.Use(tracing.NewPlugin()); err != nil {
				return nil, err
			}
		}
		gs, err := auditstore.NewGormAuditSink(db)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, gs)
		reader = gs
	}
	if opts.AuditStream {
		if rdb == nil {
			return nil, &engine.ConfigError{Field: "audit-stream", Err: fmt.Errorf("requires a redis URL")}
		}
		sinks = append(sinks, auditstore.NewRedisAuditSink(rdb, "", 0))
	}
	if len(sinks) == 0 {
		mem := auditstore.NewMemAuditSink()
		sinks = append(sinks, mem)
		reader = mem
	}
	var audit auditstore.AuditSink = sinks
	if len(sinks) == 1 {
		audit = sinks[0]
	}

	handlers := map[event.Action]dispatch.ActionHandler{
		event.ActionAllow: &dispatch.LogHandler{Logger: logger, Level: slog.LevelDebug},
		event.ActionFlag:  &dispatch.LogHandler{Logger: logger, Level: slog.LevelInfo},
	}
	var enforce dispatch.ActionHandler = &dispatch.LogHandler{Logger: logger, Level: slog.LevelInfo}
	if opts.ActionWebhookURL != "" {
		enforce = dispatch.MultiHandler{enforce, dispatch.NewWebhookHandler(opts.ActionWebhookURL, opts.ActionWebhookTok)}
	}
	handlers[event.ActionWarn] = enforce
	handlers[event.ActionDelete] = enforce

	disp := &dispatch.Dispatcher{
		Logger:     logger,
		Handlers:   handlers,
		Audit:      audit,
		Counters:   counters,
		Flags:      flags,
		AuditRetry: dispatch.DefaultAuditRetry,
	}
	if opts.SlackWebhookURL != "" {
		disp.Notifier = &dispatch.SlackNotifier{
			SlackWebhookURL: opts.SlackWebhookURL,
			Client:          util.RobustHTTPClient(),
			Limiter:         rate.NewLimiter(rate.Limit(1), 10),
		}
		disp.NotifyActions = []event.Action{event.ActionDelete}
	}

	eng, err := engine.NewEngine(opts.Config, &engine.PatternSource{Matcher: matcher}, tox, adm, disp, logger)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		Logger:      logger,
		Engine:      eng,
		Matcher:     matcher,
		Admission:   adm,
		Counters:    counters,
		Flags:       flags,
		AuditReader: reader,
		rulesFile:   opts.RulesFile,
	}, nil
}

// Re-reads the rules file and atomically swaps in the new rule set. On error the current rules stay in place.
func (p *Pipeline) ReloadRules() (*pattern.RuleSet, error) {
	rs, err := pattern.LoadRuleSet(p.rulesFile)
	if err != nil {
		return nil, err
	}
	old := p.Matcher.Swap(rs)
	p.Logger.Info("reloaded pattern rules", "version", rs.Version, "count", rs.Len(), "previous", old.Version)
	return rs, nil
}
