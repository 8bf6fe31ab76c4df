package capture

import (
	"fmt"
	"sort"
)

// DefaultMaxGap is how many missing packets are waited for before they are
// declared lost.
const DefaultMaxGap = 20

// Reorderer restores sequence order of one packet stream. Packets that are
// more than maxGap ahead of the next expected sequence make the missing
// ones count as lost. It is not safe for concurrent use.
type Reorderer struct {
	maxGap uint32

	started     bool
	lastSeq     uint32
	expectedSeq uint32
	pending     map[uint32][]byte

	totalPackets uint64
	lostCount    uint64
}

// ReorderStats represents reordering statistics for monitoring
type ReorderStats struct {
	TotalPackets uint64  `json:"total_packets"`
	LostPackets  uint64  `json:"lost_packets"`
	LossRate     float64 `json:"loss_rate"`
	PendingSeqs  int     `json:"pending_sequences"`
	LastSequence uint32  `json:"last_sequence"`
}

// NewReorderer creates a reorderer.
func NewReorderer(maxGap int) *Reorderer {
	if maxGap <= 0 {
		maxGap = DefaultMaxGap
	}
	return &Reorderer{
		maxGap:  uint32(maxGap),
		pending: make(map[uint32][]byte),
	}
}

// Add accepts one payload and returns the payloads that are now in order,
// plus how many packets were declared lost.
func (r *Reorderer) Add(sequence uint32, data []byte) ([][]byte, int, error) {
	r.totalPackets++

	// the first packet defines the starting sequence
	if !r.started {
		r.started = true
		r.expectedSeq = sequence
		r.lastSeq = sequence - 1
	}

	switch {
	case sequence == r.expectedSeq:
		out := [][]byte{data}
		r.lastSeq = sequence
		r.expectedSeq = sequence + 1
		return append(out, r.release()...), 0, nil

	case sequence > r.expectedSeq:
		if _, dup := r.pending[sequence]; dup {
			return nil, 0, fmt.Errorf("ignoring duplicate packet: seq=%d", sequence)
		}
		r.pending[sequence] = data

		if sequence-r.expectedSeq <= r.maxGap {
			return nil, 0, nil
		}
		out, lost := r.skipTo(sequence - r.maxGap)
		return append(out, r.release()...), lost, nil

	default:
		return nil, 0, fmt.Errorf("ignoring old/duplicate packet: seq=%d, lastSeq=%d", sequence, r.lastSeq)
	}
}

// skipTo moves the expected sequence up to seq, delivering buffered
// packets on the way and counting the missing ones as lost.
func (r *Reorderer) skipTo(seq uint32) ([][]byte, int) {
	var out [][]byte
	lost := 0
	for ; r.expectedSeq < seq; r.expectedSeq++ {
		if data, ok := r.pending[r.expectedSeq]; ok {
			out = append(out, data)
			delete(r.pending, r.expectedSeq)
			r.lastSeq = r.expectedSeq
			continue
		}
		lost++
	}
	r.lostCount += uint64(lost)
	return out, lost
}

// release returns consecutive buffered packets starting at expectedSeq.
func (r *Reorderer) release() [][]byte {
	var out [][]byte
	for {
		data, ok := r.pending[r.expectedSeq]
		if !ok {
			return out
		}
		out = append(out, data)
		delete(r.pending, r.expectedSeq)
		r.lastSeq = r.expectedSeq
		r.expectedSeq++
	}
}

// Flush returns every buffered payload in sequence order, skipping gaps,
// and resets the reorderer for a new stream.
func (r *Reorderer) Flush() ([][]byte, int) {
	seqs := make([]uint32, 0, len(r.pending))
	for seq := range r.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	out := make([][]byte, 0, len(seqs))
	lost := 0
	next := r.expectedSeq
	for _, seq := range seqs {
		lost += int(seq - next)
		out = append(out, r.pending[seq])
		next = seq + 1
	}
	r.lostCount += uint64(lost)

	r.started = false
	r.pending = make(map[uint32][]byte)
	return out, lost
}

// GetStats returns current reordering statistics
func (r *Reorderer) GetStats() ReorderStats {
	lossRate := float64(0)
	if r.totalPackets > 0 {
		lossRate = float64(r.lostCount) / float64(r.totalPackets) * 100
	}
	return ReorderStats{
		TotalPackets: r.totalPackets,
		LostPackets:  r.lostCount,
		LossRate:     lossRate,
		PendingSeqs:  len(r.pending),
		LastSequence: r.lastSeq,
	}
}
