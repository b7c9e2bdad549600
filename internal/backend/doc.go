// Package backend is the client for the inference REST backend: job status,
// per-artifact binary payloads, and result archives.
//
// Every request carries the bearer credential supplied by an auth.TokenSource.
// Failures are reported as ErrNotFound (404), ErrTransientFetch (network and
// 5xx), or ErrRejected (any other non-2xx).
package backend
