// Package stores persists build run history in SQLite: one row per run,
// one row per terminal stack result, and an append-only event log. The
// schema is managed by embedded golang-migrate migrations; the store runs
// in WAL mode with foreign keys enforced.
package stores
