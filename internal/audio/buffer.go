package audio

// Buffer is a tail-growing sample buffer drained from the head. It is not
// safe for concurrent use; the processing loop owns it.
type Buffer struct {
	data []float32
}

// Append adds samples to the tail.
func (b *Buffer) Append(samples []float32) {
	b.data = append(b.data, samples...)
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Take removes and returns the first n samples. It returns false and leaves
// the buffer untouched when fewer than n samples are available.
func (b *Buffer) Take(n int) ([]float32, bool) {
	if n <= 0 || len(b.data) < n {
		return nil, false
	}
	out := make([]float32, n)
	copy(out, b.data[:n])
	b.data = b.compact(n)
	return out, true
}

// DrainAll removes and returns every buffered sample, possibly none.
func (b *Buffer) DrainAll() []float32 {
	out := b.data
	b.data = nil
	return out
}

// Reset discards buffered samples.
func (b *Buffer) Reset() {
	b.data = nil
}

// compact drops the first n samples, reallocating once the dead head would
// dominate the backing array.
func (b *Buffer) compact(n int) []float32 {
	rest := b.data[n:]
	if len(rest) == 0 {
		return b.data[:0]
	}
	if n >= len(rest) {
		fresh := make([]float32, len(rest), len(rest)*2)
		copy(fresh, rest)
		return fresh
	}
	return rest
}
