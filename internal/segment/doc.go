// Package segment turns drained ring audio into overlapping analysis windows.
//
// Every window carries a confident region: the interior span whose
// transcript is kept. Audio at the leading edge was already transcribed by
// the previous window and audio at the trailing edge will be seen again by
// the next one, so tokens that fall outside the region are dropped.
package segment
