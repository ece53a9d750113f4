package page

import (
	"bytes"
	"errors"
	"testing"

	"pagestore/storage/storageerr"
)

func TestReadWriteIntRoundTrip(t *testing.T) {
	const want uint64 = 0xDEADBEEFCAFE
	p := New()
	if err := p.WriteInt(16, want); err != nil {
		t.Fatalf("WriteInt: %v", err)
	}
	got, err := p.ReadInt(16)
	if err != nil {
		t.Fatalf("ReadInt: %v", err)
	}
	if got != want {
		t.Fatalf("ReadInt = %x, want %x", got, want)
	}
}

func TestIntOutOfBoundsFails(t *testing.T) {
	p := New()
	if err := p.WriteInt(Size-4, 1); !errors.Is(err, storageerr.ErrUnexpected) {
		t.Fatalf("WriteInt past end = %v, want ErrUnexpected", err)
	}
	if _, err := p.ReadInt(Size-4); !errors.Is(err, storageerr.ErrUnexpected) {
		t.Fatalf("ReadInt past end = %v, want ErrUnexpected", err)
	}
}

func TestWriteBytesTruncatesToSize(t *testing.T) {
	p := New()
	if err := p.WriteBytes(0, []byte("hello world"), 5); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	got, err := p.ReadBytes(0, 5)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("ReadBytes = %q, want %q", got, "hello")
	}
}

func TestInsertBytesShiftsRegionRight(t *testing.T) {
	p := New()
	if err := p.WriteBytes(0, []byte("ACDE"), 4); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	// Insert "B" between "A" and "CDE": shift [1,4] right by 1, then write.
	if err := p.InsertBytes([]byte("B"), 1, 4); err != nil {
		t.Fatalf("InsertBytes: %v", err)
	}
	got, err := p.ReadBytes(0, 5)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != "ABCDE" {
		t.Fatalf("ReadBytes = %q, want %q", got, "ABCDE")
	}
}

func TestInsertBytesOutOfBoundsFails(t *testing.T) {
	p := New()
	if err := p.InsertBytes([]byte("0123456789"), Size-5, Size-1); !errors.Is(err, storageerr.ErrUnexpected) {
		t.Fatalf("InsertBytes past end = %v, want ErrUnexpected", err)
	}
}

func TestRawRoundTripsThroughFromBytes(t *testing.T) {
	p := New()
	if err := p.WriteBytes(10, []byte("pagestore"), 9); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	raw := p.Raw()

	p2 := FromBytes(raw)
	got, err := p2.ReadBytes(10, 9)
	if err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if string(got) != "pagestore" {
		t.Fatalf("ReadBytes = %q, want %q", got, "pagestore")
	}
	if !bytes.Equal(p2.Raw(), raw) {
		t.Fatalf("Raw after FromBytes does not match original")
	}
}

func TestFromBytesPanicsOnWrongSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("FromBytes with wrong-size slice did not panic")
		}
	}()
	FromBytes(make([]byte, Size-1))
}
