package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/chatmod/chatmod/automod/admission"
	"github.com/chatmod/chatmod/automod/scorer"
)

// Invalid configuration, detected at startup. Never returned for individual messages.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration (%s): %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Score thresholds for a single signal kind. Scores at or above Delete are deleted; scores in [Warn, Delete) are warned.
type Thresholds struct {
	Delete float64
	Warn   float64
}

func (t Thresholds) validate() error {
	if t.Delete <= 0 || t.Delete > 1 {
		return fmt.Errorf("delete threshold must be in (0,1] (got %v)", t.Delete)
	}
	if t.Warn <= 0 || t.Warn > t.Delete {
		return fmt.Errorf("warn threshold must be in (0,delete] (got %v, delete %v)", t.Warn, t.Delete)
	}
	return nil
}

type PolicyConfig struct {
	Pattern  Thresholds
	Toxicity Thresholds
}

type Config struct {
	Policy PolicyConfig
	// How long to wait for the toxicity signal before deciding without it.
	MaxWaitForModel time.Duration
	// Per-call oracle timeout, enforced by the scorer client.
	ScoreTimeout time.Duration
	Breaker      scorer.BreakerConfig
	Admission    admission.Config
}

// Config with the defaults used by the daemon.
func DefaultConfig() Config {
	return Config{
		Policy: PolicyConfig{
			Pattern:  Thresholds{Delete: 0.9, Warn: 0.5},
			Toxicity: Thresholds{Delete: 0.85, Warn: 0.6},
		},
		MaxWaitForModel: 800 * time.Millisecond,
		ScoreTimeout:    2 * time.Second,
		Breaker: scorer.BreakerConfig{
			Threshold: 5,
			Window:    30 * time.Second,
			Cooldown:  30 * time.Second,
		},
		Admission: admission.Config{
			MaxInFlight:   64,
			QueueSize:     256,
			QueuePolicy:   admission.QueueDropOldest,
			RateLimit:     10,
			RateWindow:    60 * time.Second,
			RateRetention: 15 * time.Minute,
		},
	}
}

// Returns a *ConfigError for the first invalid setting.
func (c Config) Validate() error {
	if err := c.Policy.Pattern.validate(); err != nil {
		return &ConfigError{Field: "pattern thresholds", Err: err}
	}
	if err := c.Policy.Toxicity.validate(); err != nil {
		return &ConfigError{Field: "toxicity thresholds", Err: err}
	}
	if c.MaxWaitForModel <= 0 {
		return &ConfigError{Field: "max-wait-for-model", Err: errors.New("must be positive")}
	}
	if c.ScoreTimeout <= 0 {
		return &ConfigError{Field: "score-timeout", Err: errors.New("must be positive")}
	}
	if err := c.Breaker.Validate(); err != nil {
		return &ConfigError{Field: "breaker", Err: err}
	}
	if err := c.Admission.Validate(); err != nil {
		return &ConfigError{Field: "admission", Err: err}
	}
	return nil
}
