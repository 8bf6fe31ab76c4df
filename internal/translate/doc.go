// Package translate runs the translation stage: it follows the published
// transcription, translates it whenever it changes and folds the results
// into the translation caption, dropping results that arrive too late.
package translate
