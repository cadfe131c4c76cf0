// Package retry provides bounded retry and polling helpers for calls against
// unreliable remote systems.
//
// [WithExponentialBackoff] retries an operation with a configurable attempt
// count and growing delay (use [WithFixedDelay] for a constant interval).
// [Poll] repeatedly evaluates a condition until it reports done, fails, or a
// ceiling elapses. Both honour context cancellation between attempts.
package retry
