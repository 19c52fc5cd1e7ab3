// Package types defines the shared data model for CampusGrid: users with
// credit balances, registered workers and their hardware specs, compute jobs
// with resource demands, the scheduling queue, and the append-only credit and
// activity ledgers.
//
// All durable entities live in pkg/store; the manager additionally keeps an
// in-memory view of connected workers that shadows the durable rows while a
// connection is live.
package types
