// Package types contains the shared data model of the streaming core:
// chat transcript messages, roles, and the structured error type used
// across the orchestrator, cache, and persistence layers.
package types
