// Package pool provides the bounded worker pool that runs stream
// production tasks, so many sessions share a fixed set of goroutines
// instead of one OS-level worker per session.
package pool
