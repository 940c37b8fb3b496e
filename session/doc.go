// Package session holds the UI-facing per-session view state and its
// bounded cache. The cache consults the stream orchestrator before
// evicting so an entry backing a live stream or the active session is
// never dropped.
package session
