// Real-time moderation pipeline for chat messages.
//
// This package (`github.com/chatmod/chatmod/automod`) turns each inbound chat message in to a single, explainable moderation verdict: allow, flag, warn, or delete. Two signal sources are combined: a fast deterministic pattern matcher (spam links, phone numbers, keyword lists), and a slower toxicity classification model reached over HTTP. The model call is bounded by a deadline and guarded by a circuit breaker, so a slow or failing model server degrades verdicts (tagged "degraded") rather than stalling the pipeline. Admission control caps concurrent work and tracks per-sender message rates.
//
// The sub-packages hold the components; this package re-exports the most commonly used types. See `cmd/chatmod` for a daemon built on this package.
package automod
