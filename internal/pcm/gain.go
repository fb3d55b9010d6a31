package pcm

// ApplyVolume scales interleaved samples in place by volume in [0, 1].
// An exact 1.0 is a no-op so the hot path skips the float work.
func ApplyVolume(samples []int16, volume float64) {
	if volume >= 1.0 {
		return
	}
	for i, s := range samples {
		samples[i] = int16(float64(s) * volume)
	}
}

// DownmixWithGain reduces interleaved samples to mono and applies the gain
// boost. Stereo channels are averaged before gain; clamping always happens
// after gain so a boost can never silently wrap.
func DownmixWithGain(samples []int16, channels int, gain float64) []int16 {
	if channels == 1 {
		out := make([]int16, len(samples))
		for i, s := range samples {
			out[i] = clampInt16(float64(s) * gain)
		}
		return out
	}

	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		left := float64(samples[i*channels])
		right := float64(samples[i*channels+1])
		out[i] = clampInt16((left + right) / 2.0 * gain)
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767.0 {
		return 32767
	}
	if v < -32768.0 {
		return -32768
	}
	return int16(v)
}
