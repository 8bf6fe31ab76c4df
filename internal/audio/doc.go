// Package audio holds the capture-side audio plumbing: the bounded ring that
// hands audio from the capture stage to the recognition stage, RMS loudness
// gating and normalisation, and PCM16/WAV conversion for recognizer uploads.
package audio
