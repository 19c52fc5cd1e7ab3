// Package log wraps zerolog with a process-global logger and a
// WithComponent helper for the component field every CampusGrid subsystem
// tags its lines with. Call Init once at startup; console output by
// default, JSON for machine consumption.
package log
