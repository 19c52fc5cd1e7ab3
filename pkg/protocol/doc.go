// Package protocol implements the manager/worker wire format: a 10-byte
// zero-padded ASCII decimal length followed by that many bytes of UTF-8 JSON.
// Messages flow in both directions over one TCP stream. A zero-length frame
// is a keepalive and decodes as the no_job sentinel.
package protocol
