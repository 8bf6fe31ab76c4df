package audio

import "math"

const (
	// SilenceFloorDB is the level reported for exact digital silence.
	SilenceFloorDB = -120.0

	// DefaultTargetRMS is the mean power Normalize scales windows to.
	DefaultTargetRMS = 0.1

	levelEpsilon     = 1e-6
	normalizeEpsilon = 1e-9
)

// RMS returns the root-mean-square of samples (0 for an empty slice).
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// LevelDB converts the RMS of samples to decibels. Exact silence maps to
// SilenceFloorDB instead of -Inf.
func LevelDB(samples []float32) float64 {
	return rmsToDB(RMS(samples))
}

// PeakLevelDB is the loudest RMS level over half-overlapping sub-windows of
// the given length, so a single loud word inside a quiet buffer is not
// averaged away. Buffers no longer than window are measured as a whole.
func PeakLevelDB(samples []float32, window int) float64 {
	if window <= 0 || len(samples) <= window {
		return LevelDB(samples)
	}

	hop := window / 2
	if hop == 0 {
		hop = 1
	}

	var peak float64
	for start := 0; start < len(samples); start += hop {
		end := start + window
		if end > len(samples) {
			end = len(samples)
			start = end - window
		}
		if rms := RMS(samples[start:end]); rms > peak {
			peak = rms
		}
		if end == len(samples) {
			break
		}
	}
	return rmsToDB(peak)
}

// Normalize returns a copy of samples scaled so their RMS equals targetRMS.
func Normalize(samples []float32, targetRMS float64) []float32 {
	out := make([]float32, len(samples))
	if len(samples) == 0 {
		return out
	}
	gain := targetRMS / (RMS(samples) + normalizeEpsilon)
	for i, s := range samples {
		out[i] = float32(float64(s) * gain)
	}
	return out
}

func rmsToDB(rms float64) float64 {
	if rms == 0 {
		return SilenceFloorDB
	}
	db := 20 * math.Log10(rms+levelEpsilon)
	if db < SilenceFloorDB {
		return SilenceFloorDB
	}
	return db
}
