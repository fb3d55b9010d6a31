package config

import "testing"

func TestClampDefaults(t *testing.T) {
	c := DefaultCapture()
	before := c
	c.Clamp()
	if c != before {
		t.Fatalf("defaults should survive clamping unchanged: %+v vs %+v", before, c)
	}
}

func TestClampOutOfRange(t *testing.T) {
	c := Capture{
		SampleRate:      4000,
		Channels:        8,
		BitDepth:        24,
		GainBoost:       50.0,
		InputVolume:     -1.0,
		ChunkDurationMs: 1,
	}
	c.Clamp()

	if c.SampleRate != 8000 {
		t.Fatalf("expected sample rate floor 8000, got %d", c.SampleRate)
	}
	if c.Channels != 2 {
		t.Fatalf("expected channels capped at 2, got %d", c.Channels)
	}
	if c.BitDepth != 16 {
		t.Fatalf("expected bit depth forced to 16, got %d", c.BitDepth)
	}
	if c.GainBoost != 10.0 {
		t.Fatalf("expected gain capped at 10.0, got %v", c.GainBoost)
	}
	if c.InputVolume != 0.0 {
		t.Fatalf("expected volume floored at 0.0, got %v", c.InputVolume)
	}
	if c.ChunkDurationMs != 10 {
		t.Fatalf("expected chunk duration floor 10ms, got %d", c.ChunkDurationMs)
	}
}

func TestClampLowerBounds(t *testing.T) {
	c := Capture{Channels: 0, GainBoost: 0.01, InputVolume: 2.0}
	c.Clamp()

	if c.Channels != 1 {
		t.Fatalf("expected channels floored at 1, got %d", c.Channels)
	}
	if c.GainBoost != 0.1 {
		t.Fatalf("expected gain floored at 0.1, got %v", c.GainBoost)
	}
	if c.InputVolume != 1.0 {
		t.Fatalf("expected volume capped at 1.0, got %v", c.InputVolume)
	}
}
