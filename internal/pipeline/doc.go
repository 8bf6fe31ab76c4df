// Package pipeline wires audio capture, recognition and translation into
// three concurrent stages that publish the transcription and translation
// captions.
package pipeline
