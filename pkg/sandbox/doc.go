// Package sandbox executes untrusted job code on a worker. Docker mode runs
// jobs in a network-disabled container with memory, CPU and pid limits;
// restricted mode falls back to a wrapped subprocess when no Docker daemon
// is reachable. Both modes share the OUTPUT_DIR artifact contract: files a
// job writes there are collected, size-capped and base64-encoded into the
// execution result.
package sandbox
