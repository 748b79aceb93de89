package testutil

import (
	"time"
)

// RandomString generates a random string of specified length
func RandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	seed := time.Now().UnixNano()
	for i := range b {
		seed = seed*1103515245 + 12345 // Simple LCG
		idx := int(seed % int64(len(charset)))
		if idx < 0 {
			idx = -idx
		}
		b[i] = charset[idx]
	}
	return string(b)
}

// RandomSessionID generates a session identifier for tests.
func RandomSessionID() string {
	return "sess_test_" + RandomString(12)
}

// SteadyFrames returns n frame-time samples of the same duration. Useful for
// filling a quality window deterministically.
func SteadyFrames(ms float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = ms
	}
	return out
}

// SpikyFrames returns n samples of base ms with every spikeEvery-th sample
// replaced by spike ms. Models a steady renderer with periodic GC or upload
// hitches.
func SpikyFrames(base, spike float64, spikeEvery, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if spikeEvery > 0 && (i+1)%spikeEvery == 0 {
			out[i] = spike
		} else {
			out[i] = base
		}
	}
	return out
}
