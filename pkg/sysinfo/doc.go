// Package sysinfo probes the host hardware a worker contributes: CPU core
// count and model, installed RAM, NVIDIA GPU presence, and Docker daemon
// availability. Probing runs once at worker startup; the result is sent with
// registration and never re-sent.
package sysinfo
