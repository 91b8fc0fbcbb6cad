package util

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type LeveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l LeveledSlog) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l LeveledSlog) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Info(msg, keysAndValues...)
}

// re-writes HTTP client DEBUG to INFO level (this is where retry is logged)
func (l LeveledSlog) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Info(msg, keysAndValues...)
}

func instrumentedTransport() http.RoundTripper {
	return otelhttp.NewTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	})
}

// Generates an HTTP client with decent general-purpose defaults around
// timeouts and retries. The returned client has the stdlib http.Client
// interface, but has Hashicorp retryablehttp logic internally.
//
// This client will retry on connection errors, 5xx status (except 501), and
// 429 Backoff requests (respecting 'Retry-After' header). It will log
// intermediate failures with WARN level. This does not start from
// http.DefaultClient.
//
// Used for moderator notifications.
func RobustHTTPClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = instrumentedTransport()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{slog.Default().With("component", "http")})
	client := retryClient.StandardClient()
	client.Timeout = 20 * time.Second
	return client
}

// HTTP client for model inference calls. Retries once, quickly; the caller's
// context deadline is expected to bound the total call time, so there is no
// client-level timeout here.
func ModelHTTPClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = instrumentedTransport()
	retryClient.RetryMax = 1
	retryClient.RetryWaitMin = 50 * time.Millisecond
	retryClient.RetryWaitMax = 250 * time.Millisecond
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{slog.Default().With("component", "model-http")})
	return retryClient.StandardClient()
}

// HTTP client for action webhooks. Never retries: a failed action is reported
// back to the dispatcher, and repeating a delete or warning is up to the
// platform adapter. The short timeout bounds how long a verdict holds its
// in-flight slot.
func ActionHTTPClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = instrumentedTransport()
	retryClient.RetryMax = 0
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{slog.Default().With("component", "action-http")})
	client := retryClient.StandardClient()
	client.Timeout = 5 * time.Second
	return client
}
