// Package recognize drives speech recognition sessions.
//
// A Recognizer opens Streams. The Driver runs one Stream at a time, feeds
// it windows built from the audio ring and folds every result into the
// transcription caption. Sessions are restarted on a time budget or after
// any transport error without resetting the caption.
//
// Two Recognizers are provided: YandexRecognizer streams PCM to SpeechKit
// v3 over gRPC, and HTTPRecognizer posts each window as a WAV file to an
// OpenAI-compatible transcription endpoint.
package recognize
