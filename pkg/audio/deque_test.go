package audio

import "testing"

func TestSampleDeque_AppendPeekDiscard(t *testing.T) {
	var d SampleDeque

	d.Append([]float32{1, 2, 3})
	d.Append([]float32{4, 5})
	if d.Len() != 5 {
		t.Fatalf("Len = %d, want 5", d.Len())
	}

	got := d.CopyFirst(3)
	want := []float32{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("CopyFirst(3)[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	d.Discard(2)
	if d.Len() != 3 {
		t.Fatalf("Len after Discard(2) = %d, want 3", d.Len())
	}
	if d.Peek(1)[0] != 3 {
		t.Fatalf("head after Discard(2) = %v, want 3", d.Peek(1)[0])
	}
}

func TestSampleDeque_DiscardBeyondLen(t *testing.T) {
	var d SampleDeque
	d.Append([]float32{1, 2})
	d.Discard(10)
	if d.Len() != 0 {
		t.Fatalf("Len = %d, want 0", d.Len())
	}
	d.Append([]float32{7})
	if d.Peek(1)[0] != 7 {
		t.Fatalf("head = %v, want 7", d.Peek(1)[0])
	}
}

func TestSampleDeque_PeekPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Peek beyond length should panic")
		}
	}()
	var d SampleDeque
	d.Append([]float32{1})
	d.Peek(2)
}

func TestSampleDeque_CompactPreservesOrder(t *testing.T) {
	var d SampleDeque
	chunk := make([]float32, 1024)
	for i := range chunk {
		chunk[i] = float32(i)
	}

	// Sustained append/partial-discard cycles keep the deque non-empty so the
	// dead prefix grows and compaction fires at least once.
	next := float32(0)
	expect := float32(0)
	for cycle := 0; cycle < 64; cycle++ {
		for i := range chunk {
			chunk[i] = next
			next++
		}
		d.Append(chunk)
		for _, v := range d.CopyFirst(512) {
			if v != expect {
				t.Fatalf("sample out of order after compaction: got %v, want %v", v, expect)
			}
			expect++
		}
		d.Discard(512)
	}
	if d.Len() != 64*512 {
		t.Fatalf("Len = %d, want %d", d.Len(), 64*512)
	}
}
