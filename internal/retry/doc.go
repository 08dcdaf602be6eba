// Package retry runs fallible remote calls with bounded retries and
// exponential backoff plus jitter.
//
// A call is attempted once and then retried up to Config.MaxRetries times,
// so an operation that keeps failing is invoked at most 1+MaxRetries times.
// Only retryable failures (rate limiting, server errors, timeouts, transport
// errors) are retried; anything else is returned after the first attempt.
package retry
