// Package persistence is the transcript collaborator consumed by the
// stream orchestrator. The user message is recorded synchronously before
// streaming starts; the assistant response (or failed partial) is saved
// once at stream termination.
//
// Three backends ship: an in-memory store for tests and development, a
// GORM store (sqlite, postgres, mysql), and a Redis store. The factory
// selects one by config.
package persistence
