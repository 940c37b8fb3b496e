// Package events carries stream lifecycle notifications from the
// orchestrator to interested observers (UI shell, logging, metrics).
// Delivery is asynchronous and lossy under pressure: a full bus drops
// events rather than blocking the production path.
package events
