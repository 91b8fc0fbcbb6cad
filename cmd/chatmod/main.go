package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chatmod/chatmod/automod/admission"
	"github.com/chatmod/chatmod/automod/engine"
	"github.com/chatmod/chatmod/automod/pattern"
	"github.com/chatmod/chatmod/automod/scorer"
	"github.com/chatmod/chatmod/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "chatmod",
		Usage:   "chat moderation daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "rules-file",
			Usage:   "path to pattern rules (YAML or JSON); built-in spam rules if empty",
			EnvVars: []string{"CHATMOD_RULES_FILE"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"CHATMOD_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format (text or json)",
			EnvVars: []string{"CHATMOD_LOG_FMT"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		checkCmd,
		rulesCmd,
	}

	return app.Run(args)
}

func configureLogging(cctx *cli.Context) (*slog.Logger, error) {
	return cliutil.SetupSlog(cliutil.LogOptions{
		LogLevel:  cctx.String("log-level"),
		LogFormat: cctx.String("log-format"),
	})
}

var pipelineFlags = []cli.Flag{
	&cli.Float64Flag{
		Name:    "delete-threshold-pattern",
		Usage:   "pattern score at or above which messages are deleted",
		Value:   0.9,
		EnvVars: []string{"CHATMOD_DELETE_THRESHOLD_PATTERN"},
	},
	&cli.Float64Flag{
		Name:    "warn-threshold-pattern",
		Usage:   "pattern score at or above which senders are warned",
		Value:   0.5,
		EnvVars: []string{"CHATMOD_WARN_THRESHOLD_PATTERN"},
	},
	&cli.Float64Flag{
		Name:    "delete-threshold-toxicity",
		Usage:   "toxicity probability at or above which messages are deleted",
		Value:   0.85,
		EnvVars: []string{"CHATMOD_DELETE_THRESHOLD_TOXICITY", "TOXICITY_THRESHOLD"},
	},
	&cli.Float64Flag{
		Name:    "warn-threshold-toxicity",
		Usage:   "toxicity probability at or above which senders are warned",
		Value:   0.6,
		EnvVars: []string{"CHATMOD_WARN_THRESHOLD_TOXICITY"},
	},
	&cli.DurationFlag{
		Name:    "max-wait-for-model",
		Usage:   "how long to wait for the toxicity model before deciding without it",
		Value:   800 * time.Millisecond,
		EnvVars: []string{"CHATMOD_MAX_WAIT_FOR_MODEL"},
	},
	&cli.DurationFlag{
		Name:    "score-timeout",
		Usage:   "per-call timeout for toxicity model requests",
		Value:   2 * time.Second,
		EnvVars: []string{"CHATMOD_SCORE_TIMEOUT"},
	},
	&cli.IntFlag{
		Name:    "breaker-threshold",
		Usage:   "consecutive model failures which open the circuit breaker",
		Value:   5,
		EnvVars: []string{"CHATMOD_BREAKER_THRESHOLD"},
	},
	&cli.DurationFlag{
		Name:    "breaker-window",
		Usage:   "window in which consecutive model failures are counted",
		Value:   30 * time.Second,
		EnvVars: []string{"CHATMOD_BREAKER_WINDOW"},
	},
	&cli.DurationFlag{
		Name:    "breaker-cooldown",
		Usage:   "how long the circuit breaker stays open before a trial call",
		Value:   30 * time.Second,
		EnvVars: []string{"CHATMOD_BREAKER_COOLDOWN"},
	},
	&cli.Int64Flag{
		Name:    "rate-limit",
		Usage:   "max messages per sender within the rate window",
		Value:   10,
		EnvVars: []string{"CHATMOD_RATE_LIMIT"},
	},
	&cli.DurationFlag{
		Name:    "rate-window",
		Usage:   "sliding window for per-sender message rates",
		Value:   60 * time.Second,
		EnvVars: []string{"CHATMOD_RATE_WINDOW"},
	},
	&cli.DurationFlag{
		Name:    "rate-retention",
		Usage:   "idle time after which per-sender state is forgotten",
		Value:   15 * time.Minute,
		EnvVars: []string{"CHATMOD_RATE_RETENTION"},
	},
	&cli.Int64Flag{
		Name:    "max-in-flight",
		Usage:   "max messages being scored concurrently",
		Value:   64,
		EnvVars: []string{"CHATMOD_MAX_IN_FLIGHT"},
	},
	&cli.IntFlag{
		Name:    "queue-size",
		Usage:   "max messages waiting for an in-flight slot",
		Value:   256,
		EnvVars: []string{"CHATMOD_QUEUE_SIZE"},
	},
	&cli.StringFlag{
		Name:    "queue-policy",
		Usage:   "what to do when the admission queue is full: drop-oldest, reject-newest, or reject (no queue)",
		Value:   string(admission.QueueDropOldest),
		EnvVars: []string{"CHATMOD_QUEUE_POLICY"},
	},
}

func configFromFlags(cctx *cli.Context) (engine.Config, error) {
	policy, err := admission.ParseQueuePolicy(cctx.String("queue-policy"))
	if err != nil {
		return engine.Config{}, &engine.ConfigError{Field: "queue-policy", Err: err}
	}
	cfg := engine.Config{
		Policy: engine.PolicyConfig{
			Pattern: engine.Thresholds{
				Delete: cctx.Float64("delete-threshold-pattern"),
				Warn:   cctx.Float64("warn-threshold-pattern"),
			},
			Toxicity: engine.Thresholds{
				Delete: cctx.Float64("delete-threshold-toxicity"),
				Warn:   cctx.Float64("warn-threshold-toxicity"),
			},
		},
		MaxWaitForModel: cctx.Duration("max-wait-for-model"),
		ScoreTimeout:    cctx.Duration("score-timeout"),
		Breaker: scorer.BreakerConfig{
			Threshold: cctx.Int("breaker-threshold"),
			Window:    cctx.Duration("breaker-window"),
			Cooldown:  cctx.Duration("breaker-cooldown"),
		},
		Admission: admission.Config{
			MaxInFlight:   cctx.Int64("max-in-flight"),
			QueueSize:     cctx.Int("queue-size"),
			QueuePolicy:   policy,
			RateLimit:     cctx.Int64("rate-limit"),
			RateWindow:    cctx.Duration("rate-window"),
			RateRetention: cctx.Duration("rate-retention"),
		},
	}
	return cfg, cfg.Validate()
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the moderation service",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3990",
			EnvVars: []string{"CHATMOD_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3991",
			EnvVars: []string{"CHATMOD_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "model-url",
			Usage:   "toxicity model inference endpoint; without one every verdict is degraded",
			EnvVars: []string{"CHATMOD_MODEL_URL"},
		},
		&cli.StringFlag{
			Name:    "model-token",
			Usage:   "bearer token for the model endpoint",
			EnvVars: []string{"CHATMOD_MODEL_TOKEN", "HF_API_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "model-neutral-label",
			Usage:   "class label the model uses for non-toxic text",
			Value:   "non-toxic",
			EnvVars: []string{"CHATMOD_MODEL_NEUTRAL_LABEL"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "audit log database (sqlite or postgres); empty for in-memory only",
			Value:   "sqlite://data/chatmod/audit.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"CHATMOD_MAX_DB_CONNECTIONS"},
			Value:   20,
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis for shared caches, counters, and flags; in-process memory if empty",
			EnvVars: []string{"CHATMOD_REDIS_URL", "REDIS_URL"},
		},
		&cli.BoolFlag{
			Name:    "audit-stream",
			Usage:   "also append audit records to a redis stream (requires --redis-url)",
			EnvVars: []string{"CHATMOD_AUDIT_STREAM"},
		},
		&cli.DurationFlag{
			Name:    "score-cache-ttl",
			Usage:   "how long toxicity results are cached per text; zero disables",
			Value:   time.Hour,
			EnvVars: []string{"CHATMOD_SCORE_CACHE_TTL"},
		},
		&cli.StringFlag{
			Name:    "sets-file",
			Usage:   "JSON file of named sets (eg, trusted-senders)",
			EnvVars: []string{"CHATMOD_SETS_FILE"},
		},
		&cli.StringFlag{
			Name:    "action-webhook-url",
			Usage:   "chat platform adapter endpoint which executes warn and delete actions; log only if empty",
			EnvVars: []string{"CHATMOD_ACTION_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "action-webhook-token",
			EnvVars: []string{"CHATMOD_ACTION_WEBHOOK_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook for moderator notifications",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token for admin endpoints; admin endpoints are disabled if empty",
			EnvVars: []string{"CHATMOD_ADMIN_TOKEN"},
		},
	}, pipelineFlags...),
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger, err := configureLogging(cctx)
		if err != nil {
			return err
		}

		shutdownOTEL, err := configOTEL(ctx, "chatmod")
		if err != nil {
			return err
		}
		defer shutdownOTEL()

		cfg, err := configFromFlags(cctx)
		if err != nil {
			return err
		}

		pl, err := NewPipeline(ctx, PipelineOptions{
			Config:            cfg,
			RulesFile:         cctx.String("rules-file"),
			ModelURL:          cctx.String("model-url"),
			ModelToken:        cctx.String("model-token"),
			ModelNeutralLabel: cctx.String("model-neutral-label"),
			DatabaseURL:       cctx.String("database-url"),
			MaxDBConnections:  cctx.Int("max-db-connections"),
			TraceDatabase:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
			RedisURL:          cctx.String("redis-url"),
			AuditStream:       cctx.Bool("audit-stream"),
			ScoreCacheTTL:     cctx.Duration("score-cache-ttl"),
			SetsFile:          cctx.String("sets-file"),
			ActionWebhookURL:  cctx.String("action-webhook-url"),
			ActionWebhookTok:  cctx.String("action-webhook-token"),
			SlackWebhookURL:   cctx.String("slack-webhook-url"),
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to construct pipeline: %v", err)
		}

		srv := NewServer(pl, ServerConfig{
			Logger:     logger,
			Bind:       cctx.String("bind"),
			AdminToken: cctx.String("admin-token"),
		})

		janitorCtx, stopJanitor := context.WithCancel(ctx)
		defer stopJanitor()
		go pl.Admission.RunJanitor(janitorCtx)

		// prometheus HTTP endpoint: /metrics
		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		return srv.RunAPI()
	},
}

var checkCmd = &cli.Command{
	Name:      "check",
	Usage:     "run the pattern matcher over text arguments, offline",
	ArgsUsage: "<text>...",
	Action: func(cctx *cli.Context) error {
		if cctx.Args().Len() == 0 {
			return fmt.Errorf("need at least one text argument")
		}
		rs, err := pattern.LoadRuleSet(cctx.String("rules-file"))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		for _, text := range cctx.Args().Slice() {
			sig := rs.Match(text)
			if err := enc.Encode(map[string]any{"text": text, "signal": sig}); err != nil {
				return err
			}
		}
		return nil
	},
}

var rulesCmd = &cli.Command{
	Name:  "rules",
	Usage: "validate a pattern rules file",
	Action: func(cctx *cli.Context) error {
		rs, err := pattern.LoadRuleSet(cctx.String("rules-file"))
		if err != nil {
			return &engine.ConfigError{Field: "rules-file", Err: err}
		}
		fmt.Printf("ok: version=%s rules=%d\n", rs.Version, rs.Len())
		return nil
	},
}
