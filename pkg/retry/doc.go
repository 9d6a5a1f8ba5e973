// Package retry decides whether and when a failed hub operation is retried.
//
// # Rules
//
// The decision depends only on the failure's status.Category, the attempt
// number and the time elapsed since the first failure of the episode:
//
//   - UNAUTHORIZED, NOT_FOUND, BAD_REQUEST: never retried
//   - THROTTLED: retried after the service's retry-after hint, or after the
//     base interval when no hint was given
//   - SERVER_ERROR, TRANSIENT_NETWORK, UNKNOWN: exponential backoff with jitter
//
// Every retryable category stops once the retry expiration has elapsed.
//
// # Backoff
//
//	wait = min(max, base * 2^(attempt-1)) + jitter
//
// where jitter is drawn uniformly from [0, base*Jitter). With base 1s and max
// 30s the un-jittered sequence is 1s, 2s, 4s, 8s, 16s, 30s, 30s...
//
// The jitter source is seeded from Config.Seed, so a fixed seed produces the
// same sequence on every run.
//
// # History
//
// History is a value: Record returns a new History and never mutates the
// receiver. Machines keep one History per disconnection episode and drop it
// on reconnection.
package retry
