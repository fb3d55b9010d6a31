package pcm

import "math"

// DecibelFloor is reported for silence and degenerate input.
const DecibelFloor = -120.0

// Decibel computes the RMS loudness of a mono chunk relative to int16 full
// scale. The result is clamped to [-120, 0].
func Decibel(samples []int16) float64 {
	if len(samples) == 0 {
		return DecibelFloor
	}

	var sumSquares float64
	for _, s := range samples {
		v := float64(s)
		sumSquares += v * v
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	if rms <= 0 {
		return DecibelFloor
	}

	db := 20.0 * math.Log10(rms/32767.0)
	if db > 0 {
		return 0
	}
	if db < DecibelFloor {
		return DecibelFloor
	}
	return db
}
