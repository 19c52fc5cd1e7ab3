// Package events is the in-memory pub/sub bus for grid occurrences: worker
// lifecycle changes, job state transitions and credit grants. Delivery is
// best effort over buffered channels; the audit trail in the store is the
// durable record, this bus only feeds live consumers like the activity
// logger and dashboards.
package events
