// Package castellan provides an embeddable multi-factor authentication engine:
// password verification with account lockout, email/SMS one-time codes,
// authenticator-app (TOTP) enrollment and verification, backup-code recovery,
// and the pending-login state machine that ties them together.
//
// The engine is storage-agnostic on the identity side: callers implement
// [UserStore] against their own user database and [CodeSender] against their
// email/SMS transport. Challenge state, pending-login state, and throttling
// counters live in Redis so that a multi-step login can be resumed by any
// process. Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// castellan is the public surface. It exposes [Engine], [Builder], [Config],
// typed sentinel errors, and value types (LoginResult, VerifyResult,
// MetricsSnapshot). Challenge storage, pending-login encoding, and
// fixed-window throttles live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Persist or log plaintext passwords, one-time codes, or TOTP secrets
//     beyond the single return value that hands a code to the caller's sender.
//   - Expose Redis clients, record encodings, or Lua scripts in its public API.
//   - Render transport concerns (HTTP, cookies, HTML); the surrounding
//     application owns delivery and session transport.
package castellan
