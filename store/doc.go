// Package store implements interfaces.LedgerStore in memory and on PostgreSQL.
//
// Every mutation of ledger state happens inside Update, which either commits
// all writes made by its callback or none of them. Events appended in the same
// callback land in an outbox that the events package relays to sinks.
package store
