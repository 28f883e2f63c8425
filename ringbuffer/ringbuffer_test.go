package ringbuffer

import "testing"

func TestWriteReadRoundtrip(t *testing.T) {
	r := New(8)
	if _, err := r.Write([]byte("abcd")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := r.Used(); got != 4 {
		t.Fatalf("used = %d, want 4", got)
	}
	if got := string(r.Bytes()); got != "abcd" {
		t.Fatalf("bytes = %q", got)
	}
	r.Advance(2)
	if got := string(r.Bytes()); got != "cd" {
		t.Fatalf("bytes after advance = %q", got)
	}
}

func TestWriteWraps(t *testing.T) {
	r := New(4)
	mustWrite(t, r, "ab")
	r.Advance(2)
	mustWrite(t, r, "cdef") // wraps around the end of the backing array
	if got := string(r.Bytes()); got != "cdef" {
		t.Fatalf("bytes = %q", got)
	}
}

func TestWriteFullReturnsErrFull(t *testing.T) {
	r := New(4)
	mustWrite(t, r, "abcd")
	if _, err := r.Write([]byte("e")); err != ErrFull {
		t.Fatalf("err = %v, want ErrFull", err)
	}
}

func TestReadUntilCharIOV(t *testing.T) {
	r := New(16)
	mustWrite(t, r, "OK\r\nmore")
	first, second, ok := r.ReadUntilCharIOV('\n')
	if !ok {
		t.Fatal("expected match")
	}
	got := append(append([]byte{}, first...), second...)
	if string(got) != "OK\r\n" {
		t.Fatalf("got %q", got)
	}
	r.Advance(len(got))
	if string(r.Bytes()) != "more" {
		t.Fatalf("remainder = %q", r.Bytes())
	}
}

func TestReadUntilCharIOVWraps(t *testing.T) {
	r := New(8)
	mustWrite(t, r, "xxxx")
	r.Advance(4)
	mustWrite(t, r, "ab\r\ncd") // tail wraps mid-write
	first, second, ok := r.ReadUntilCharIOV('\n')
	if !ok {
		t.Fatal("expected match")
	}
	got := append(append([]byte{}, first...), second...)
	if string(got) != "ab\r\n" {
		t.Fatalf("got %q", got)
	}
}

func TestReadUntilMemIOV(t *testing.T) {
	r := New(32)
	mustWrite(t, r, "junk> more")
	first, second, ok := r.ReadUntilMemIOV([]byte("> "))
	if !ok {
		t.Fatal("expected match")
	}
	got := append(append([]byte{}, first...), second...)
	if string(got) != "junk> " {
		t.Fatalf("got %q", got)
	}
}

func TestReadUntilMemIOVNoMatch(t *testing.T) {
	r := New(16)
	mustWrite(t, r, "nomatchhere")
	if _, _, ok := r.ReadUntilMemIOV([]byte("XY")); ok {
		t.Fatal("expected no match")
	}
}

func TestIsPrintable(t *testing.T) {
	r := New(16)
	mustWrite(t, r, "OK\r\n")
	if !r.IsPrintable(r.Used()) {
		t.Fatal("expected printable")
	}
	r.Reset()
	mustWrite(t, r, []byte{0x00, 0x01, 0x02})
	if r.IsPrintable(3) {
		t.Fatal("expected non-printable")
	}
}

func TestMemCmp(t *testing.T) {
	r := New(16)
	mustWrite(t, r, "AT+CMGS")
	if !r.MemCmp([]byte("AT+")) {
		t.Fatal("expected prefix match")
	}
	if r.MemCmp([]byte("XX")) {
		t.Fatal("expected no match")
	}
}

func mustWrite(t *testing.T, r *Ringbuffer, data any) {
	t.Helper()
	var p []byte
	switch v := data.(type) {
	case string:
		p = []byte(v)
	case []byte:
		p = v
	}
	if _, err := r.Write(p); err != nil {
		t.Fatalf("write(%v): %v", data, err)
	}
}
