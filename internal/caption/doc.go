// Package caption reconciles revisable recognizer and translator output
// into captions that only grow or finalize, and publishes them to readers.
//
// A Stabilizer is owned by exactly one stage. What it produces is stored in
// a Cell, which any number of renderers may read without blocking the
// writer.
package caption
