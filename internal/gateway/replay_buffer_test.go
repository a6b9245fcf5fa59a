package gateway

import (
	"strconv"
	"testing"
)

func TestReplayBuffer_Range(t *testing.T) {
	rb := NewReplayBuffer(100)

	for i := int64(1); i <= 10; i++ {
		rb.Push(i, []byte(`{"seq":`+strconv.FormatInt(i, 10)+`}`))
	}

	got := rb.Range(3, 7)
	if len(got) != 5 {
		t.Fatalf("Range(3,7): expected 5, got %d", len(got))
	}
	for i, e := range got {
		expected := int64(i) + 3
		if e.Seq != expected {
			t.Errorf("entry[%d].Seq = %d, want %d", i, e.Seq, expected)
		}
	}
}

func TestReplayBuffer_Wraparound(t *testing.T) {
	rb := NewReplayBuffer(5) // tiny buffer

		for i := int64(1); i <= 8; i++ {
		rb.Push(i, []byte(`{"seq":`+strconv.FormatInt(i, 10)+`}`))
	}

	if rb.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", rb.Len())
	}

		got := rb.Range(1, 10)
	if len(got) != 5 {
		t.Fatalf("Range(1,10): expected 5, got %d", len(got))
	}
	if got[0].Seq != 4 {
		t.Errorf("oldest entry seq = %d, want 4", got[0].Seq)
	}
	if got[4].Seq != 8 {
		t.Errorf("newest entry seq = %d, want 8", got[4].Seq)
	}
}

func TestReplayBuffer_Empty(t *testing.T) {
	rb := NewReplayBuffer(10)
	got := rb.Range(1, 100)
	if len(got) != 0 {
		t.Fatalf("empty buffer Range should return 0, got %d", len(got))
	}
}

func TestReplayBuffer_Bounds(t *testing.T) {
	rb := NewReplayBuffer(3)
	if _, _, ok := rb.Bounds(); ok {
		t.Fatal("empty buffer reported bounds")
	}
	for i := int64(10); i <= 14; i++ {
		rb.Push(i, nil)
	}
	oldest, newest, ok := rb.Bounds()
	if !ok || oldest != 12 || newest != 14 {
		t.Errorf("Bounds() = (%d, %d, %v), want (12, 14, true)", oldest, newest, ok)
	}
}

func TestReplayBuffer_PushCopiesData(t *testing.T) {
	rb := NewReplayBuffer(2)
	data := []byte("abc")
	rb.Push(1, data)
	data[0] = 'x'

	got := rb.Range(1, 1)
	if len(got) != 1 || string(got[0].Data) != "abc" {
		t.Errorf("buffer aliased caller slice: %q", got[0].Data)
	}
}
