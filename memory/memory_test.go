package memory

import "testing"

const testSize = 64 * 1024

func TestSizeReportsCapacity(t *testing.T) {
	m := New(testSize)
	if m.Size() != testSize {
		t.Fatalf("Size() = %#x, want %#x", m.Size(), uint64(testSize))
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	m := New(testSize)
	want := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}

	if err := m.Write(0x1000, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := m.Read(0x1000, len(want))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestReadPastEndErrors(t *testing.T) {
	m := New(testSize)
	if _, err := m.Read(m.Size()-4, 8); err == nil {
		t.Fatal("expected an out-of-range error")
	}
}

func TestWritePastEndErrors(t *testing.T) {
	m := New(testSize)
	if err := m.Write(m.Size()-2, []byte{1, 2, 3, 4}); err == nil {
		t.Fatal("expected an out-of-range error")
	}
}

func TestReadDoesNotAliasUnderlyingStore(t *testing.T) {
	m := New(testSize)
	m.Write(0x2000, []byte{0xAA})

	got, _ := m.Read(0x2000, 1)
	got[0] = 0xFF

	after, _ := m.Read(0x2000, 1)
	if after[0] != 0xAA {
		t.Fatalf("Read result aliased backing store: got %#x after mutating caller's copy", after[0])
	}
}
