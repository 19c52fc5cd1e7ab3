// Package config loads CampusGrid configuration from an optional YAML file
// layered over built-in defaults, with environment variables taking final
// precedence. Manager and worker settings live in one file so a single host
// can run both roles from one config.
package config
