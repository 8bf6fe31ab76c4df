package capture

import (
	"context"
	"time"
)

// ChunkDuration is the amount of audio pushed per chunk.
const ChunkDuration = 100 * time.Millisecond

// Sink receives mono float32 chunks at the pipeline sample rate.
// *audio.Ring satisfies it.
type Sink interface {
	Push(samples []float32)
}

// Source produces audio until ctx is cancelled, its input ends or it
// fails. A source that runs out of input returns nil.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

func chunkSamples(sampleRate int) int {
	n := int(time.Duration(sampleRate) * ChunkDuration / time.Second)
	if n < 1 {
		n = 1
	}
	return n
}
