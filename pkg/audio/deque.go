package audio

// SampleDeque is an amortized growable FIFO of float32 samples. It backs the
// frame batcher's sample ring: chunks are appended at the tail and consumed
// from the head in fixed strides. Discarding from the head does not copy;
// storage is compacted only when the dead prefix dominates the backing array,
// so sustained streaming stays O(n) instead of reallocating per chunk.
//
// SampleDeque is not safe for concurrent use; the pipeline mutates it from a
// single consumer goroutine only.
type SampleDeque struct {
	buf  []float32
	head int
}

// Append copies samples onto the tail of the deque.
func (d *SampleDeque) Append(samples []float32) {
	d.compact()
	d.buf = append(d.buf, samples...)
}

// Len returns the number of samples currently queued.
func (d *SampleDeque) Len() int {
	return len(d.buf) - d.head
}

// Peek returns a view of the first n queued samples without consuming them.
// The returned slice aliases internal storage and is only valid until the
// next Append or Discard. Peek panics if fewer than n samples are queued.
func (d *SampleDeque) Peek(n int) []float32 {
	if d.Len() < n {
		panic("audio: SampleDeque.Peek beyond queued length")
	}
	return d.buf[d.head : d.head+n]
}

// CopyFirst returns a copy of the first n queued samples without consuming
// them. Safe to retain after subsequent mutations.
func (d *SampleDeque) CopyFirst(n int) []float32 {
	out := make([]float32, n)
	copy(out, d.Peek(n))
	return out
}

// Discard drops the first n queued samples. Discarding more than Len drops
// everything.
func (d *SampleDeque) Discard(n int) {
	if n >= d.Len() {
		d.buf = d.buf[:0]
		d.head = 0
		return
	}
	d.head += n
}

// Reset empties the deque, retaining capacity.
func (d *SampleDeque) Reset() {
	d.buf = d.buf[:0]
	d.head = 0
}

// compact slides live samples to the front once the dead prefix exceeds both a
// fixed floor and half the backing array, keeping amortized append cost constant.
func (d *SampleDeque) compact() {
	const minDead = 4096
	if d.head < minDead || d.head*2 < len(d.buf) {
		return
	}
	n := copy(d.buf, d.buf[d.head:])
	d.buf = d.buf[:n]
	d.head = 0
}
