/*
Package manager implements the CampusGrid coordinator: the TCP server
workers dial, the session protocol loop, the live worker registry, and the
scheduling glue between the wire and the store.

# Architecture

	        workers (TCP, length-prefixed JSON frames)
	            │
	  ┌─────────▼──────────┐
	  │       Server        │  one goroutine per connection
	  │  register → serve   │  read deadline = session timeout
	  └─────────┬──────────┘
	            │
	  ┌─────────▼──────────┐     ┌──────────────┐
	  │       Manager       │────▶│ events.Broker │
	  │  dispatch, results, │     └──────────────┘
	  │  disconnect, admin  │     ┌──────────────┐
	  └───┬────────────┬───┘────▶│   metrics     │
	      │            │          └──────────────┘
	┌─────▼─────┐ ┌───▼────────┐
	│ Registry  │ │ store.Store │
	│ (live)    │ │ (durable)   │
	└───────────┘ └────────────┘

The registry is authoritative for liveness: a worker is online or busy only
while its session is in the table. The store is authoritative for
everything else. The health monitor evicts sessions whose heartbeats go
stale, which requeues any job the dead worker was running.

# Session Lifecycle

A connection must open with a register frame; the manager resolves the
owner token, persists the worker, and replies with its assigned ID. The
session then serves heartbeat, request_job and job_result frames until the
worker sends disconnect, the socket closes, the read deadline passes, or a
malformed frame arrives. Every exit path runs the same teardown.
*/
package manager
