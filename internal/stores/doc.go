// Package stores implements the Redis persistence for challenge and
// pending-login state: versioned binary record codecs, Lua-scripted
// consume-or-increment for one-time codes, and WATCH-based updates for
// pending-login progress.
//
// All state carries an expiry timestamp inside the record; Redis TTLs are
// storage hygiene, not the authority on freshness.
package stores
