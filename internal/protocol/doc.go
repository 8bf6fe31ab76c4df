// Package protocol implements the binary packet format of the UDP audio
// source: a fixed header followed by either a control payload that starts
// or stops a stream, or a sequence-numbered PCM16 audio payload.
package protocol
