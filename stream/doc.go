// Package stream is the concurrent multi-session streaming core: the
// Orchestrator keeps at most one in-flight Handle per session under a
// bounded global concurrency limit, drives the background production
// task, and lets UI consumers attach replay-then-live Subscriptions.
package stream
