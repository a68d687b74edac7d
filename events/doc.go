// Package events relays ledger events from the store outbox to external sinks:
// the structured log and Redis streams.
package events
