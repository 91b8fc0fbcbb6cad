package scorer

import (
	"context"
	"errors"
)

var (
	// The oracle did not answer within the per-call timeout.
	ErrScoringTimeout = errors.New("scoring timeout")
	// The circuit breaker is open (or a half-open trial is already in flight), so no call was attempted.
	ErrScoringUnavailable = errors.New("scoring unavailable")
)

// Output of a toxicity classification model.
type Result struct {
	Label string `json:"label"`
	// Probability that the text is toxic, in [0,1].
	Probability float64 `json:"probability"`
}

// The external model-serving runtime, treated as an opaque scoring function.
//
// Implementations should respect context cancellation, but the Client does not depend on it: calls which overrun their deadline are abandoned and their result discarded.
type Oracle interface {
	Score(ctx context.Context, text string) (*Result, error)
}

// Adapter to use an ordinary function as an Oracle.
type OracleFunc func(ctx context.Context, text string) (*Result, error)

func (f OracleFunc) Score(ctx context.Context, text string) (*Result, error) {
	return f(ctx, text)
}
