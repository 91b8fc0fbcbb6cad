package event

type SignalKind string

const (
	KindPattern  SignalKind = "pattern"
	KindToxicity SignalKind = "toxicity"
)

// A normalized observation about a single Message, from a single detection source.
//
// Score is always in the range [0,1]. An invalid signal (Valid=false) means the source did not produce an answer in time, or was unavailable; its Score must not be used for decisions.
type Signal struct {
	Kind  SignalKind `json:"kind"`
	Score float64    `json:"score"`
	Valid bool       `json:"valid"`

	// Pattern signals: identifiers of all rules which matched, in rule-set order.
	Matched []string `json:"matched,omitempty"`
	// Toxicity signals: label returned by the classification model.
	Label string `json:"label,omitempty"`
	// Why the signal is invalid, if it is (eg, "scoring timeout", "scoring unavailable").
	Err string `json:"err,omitempty"`
	// Toxicity signals: true if the result came from the score cache instead of a fresh oracle call.
	Cached bool `json:"cached,omitempty"`
}

// Returns an invalid signal of the given kind, recording the reason.
func InvalidSignal(kind SignalKind, err error) Signal {
	s := Signal{Kind: kind}
	if err != nil {
		s.Err = err.Error()
	}
	return s
}

// Clamps a raw score in to the [0,1] range.
func ClampScore(v float64) float64 {
	if v != v || v < 0 {
		// NaN or negative
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
