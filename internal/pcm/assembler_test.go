package pcm

import (
	"bytes"
	"testing"
)

func collect(chunks *[][]byte) func([]byte) {
	return func(chunk []byte) {
		c := make([]byte, len(chunk))
		copy(c, chunk)
		*chunks = append(*chunks, c)
	}
}

func TestAssemblerExactBoundary(t *testing.T) {
	a := NewAssembler(8)
	var chunks [][]byte

	a.Append([]byte{0, 1, 2, 3, 4, 5, 6, 7}, collect(&chunks))

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if a.Pending() != 0 {
		t.Fatalf("expected no carry, got %d bytes", a.Pending())
	}
}

func TestAssemblerCarryForward(t *testing.T) {
	a := NewAssembler(4)
	var chunks [][]byte

	a.Append([]byte{1, 2, 3, 4, 5, 6}, collect(&chunks))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if a.Pending() != 2 {
		t.Fatalf("expected 2 carried bytes, got %d", a.Pending())
	}

	a.Append([]byte{7, 8}, collect(&chunks))
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !bytes.Equal(chunks[1], []byte{5, 6, 7, 8}) {
		t.Fatalf("carried bytes lost: %v", chunks[1])
	}
}

func TestAssemblerLargeBlockEmitsMultipleChunks(t *testing.T) {
	a := NewAssembler(4)
	var chunks [][]byte

	block := make([]byte, 13)
	for i := range block {
		block[i] = byte(i)
	}
	a.Append(block, collect(&chunks))

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks from one delivery, got %d", len(chunks))
	}
	if a.Pending() != 1 {
		t.Fatalf("expected 1 carried byte, got %d", a.Pending())
	}
}

// Any byte stream whose total length is a multiple of the capacity must be
// reproduced exactly by concatenating the emitted chunks.
func TestAssemblerNoDataLoss(t *testing.T) {
	const capacity = 16
	a := NewAssembler(capacity)
	var chunks [][]byte

	var source []byte
	next := byte(0)
	// Irregular delivery sizes summing to a chunk multiple.
	for _, size := range []int{3, 17, 1, 16, 30, 29, 32} {
		block := make([]byte, size)
		for i := range block {
			block[i] = next
			next++
		}
		source = append(source, block...)
		a.Append(block, collect(&chunks))
	}

	if len(source)%capacity != 0 {
		t.Fatalf("test setup: source length %d not a chunk multiple", len(source))
	}
	if len(chunks) != len(source)/capacity {
		t.Fatalf("expected %d chunks, got %d", len(source)/capacity, len(chunks))
	}

	var rebuilt []byte
	for _, c := range chunks {
		rebuilt = append(rebuilt, c...)
	}
	if !bytes.Equal(rebuilt, source) {
		t.Fatal("concatenated chunks do not reproduce the source stream")
	}
}

func TestAssemblerReset(t *testing.T) {
	a := NewAssembler(8)
	var chunks [][]byte

	a.Append([]byte{1, 2, 3}, collect(&chunks))
	a.Reset()
	if a.Pending() != 0 {
		t.Fatalf("expected empty carry after reset, got %d", a.Pending())
	}

	a.Append(make([]byte, 8), collect(&chunks))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk after reset, got %d", len(chunks))
	}
	if !bytes.Equal(chunks[0], make([]byte, 8)) {
		t.Fatal("stale bytes leaked into the chunk after reset")
	}
}
