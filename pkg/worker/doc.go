// Package worker implements the grid's client side: a node that donates
// compute. It probes its hardware once, registers with the manager over the
// framed-JSON protocol, heartbeats every 30 seconds, and loops requesting
// jobs, running them in the sandbox, and reporting results with any
// collected artifacts.
package worker
