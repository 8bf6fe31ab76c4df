// Package capture feeds audio into the pipeline ring from a microphone, an
// audio file or a UDP packet stream.
package capture
