package pcm

// Assembler accumulates variable-sized raw frame blocks into fixed-size
// chunks. Bytes that arrive past a chunk boundary are carried into the next
// chunk, never dropped, so back-to-back hardware deliveries larger than one
// chunk stay gapless.
type Assembler struct {
	buf []byte
	pos int
}

// NewAssembler creates an assembler emitting chunks of exactly capacity
// bytes.
func NewAssembler(capacity int) *Assembler {
	return &Assembler{buf: make([]byte, capacity)}
}

// Capacity returns the chunk size in bytes.
func (a *Assembler) Capacity() int { return len(a.buf) }

// Pending returns how many carried-over bytes are waiting for the next
// chunk.
func (a *Assembler) Pending() int { return a.pos }

// Append copies block into the accumulator, invoking emit once per filled
// chunk. The slice passed to emit is reused; emit must consume it before
// returning. emit may call Reset to discard the carry (the unsupported
// format path).
func (a *Assembler) Append(block []byte, emit func(chunk []byte)) {
	for len(block) > 0 {
		n := copy(a.buf[a.pos:], block)
		a.pos += n
		block = block[n:]
		if a.pos == len(a.buf) {
			// The cut lands exactly on the capacity boundary, so the
			// next chunk starts fresh.
			a.pos = 0
			emit(a.buf)
		}
	}
}

// Reset discards any carried bytes.
func (a *Assembler) Reset() { a.pos = 0 }
