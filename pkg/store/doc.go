// Package store persists all durable CampusGrid state in a single-file
// SQLite database: users and their credit ledger, worker registrations,
// jobs, and the priority dispatch queue. Composite operations (submit,
// dispatch, complete, requeue) run as single transactions so the credit
// invariants hold under concurrent access.
package store
