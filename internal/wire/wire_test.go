package wire

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	w := NewWriter()
	w.Magic(0xFEFEFEFE)
	w.Uint32(5000)
	w.String("hello")
	w.Uint64(123456789)
	w.String("")
	w.NullPair()

	r := NewReader(w.Bytes())

	if err := r.Magic(0xFEFEFEFE); err != nil {
		t.Fatalf("Magic: %v", err)
	}

	version, err := r.Uint32()
	if err != nil || version != 5000 {
		t.Fatalf("Uint32 = %d, %v, want 5000, nil", version, err)
	}

	s, err := r.String()
	if err != nil || s != "hello" {
		t.Fatalf("String = %q, %v, want hello, nil", s, err)
	}

	n, err := r.Uint64()
	if err != nil || n != 123456789 {
		t.Fatalf("Uint64 = %d, %v, want 123456789, nil", n, err)
	}

	empty, err := r.String()
	if err != nil || empty != "" {
		t.Fatalf("String = %q, %v, want empty string, nil", empty, err)
	}

	_, isNull, err := r.NullableString()
	if err != nil || !isNull {
		t.Fatalf("NullableString = %v, %v, want isNull=true", isNull, err)
	}

	_, isNull, err = r.NullableString()
	if err != nil || !isNull {
		t.Fatalf("NullableString (second) = %v, %v, want isNull=true", isNull, err)
	}
}

func TestReaderMagicMismatch(t *testing.T) {
	w := NewWriter()
	w.Magic(0x11111111)

	r := NewReader(w.Bytes())

	err := r.Magic(0x22222222)
	if !errors.Is(err, ErrUnexpectedMagic) {
		t.Fatalf("Magic error = %v, want ErrUnexpectedMagic", err)
	}
}

func TestReaderShortBuffer(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02})

	if _, err := r.Uint32(); err == nil {
		t.Fatal("Uint32 on short buffer: want error, got nil")
	}
}

func TestPeekUint32DoesNotAdvance(t *testing.T) {
	w := NewWriter()
	w.Uint32(42)
	w.Uint32(43)

	r := NewReader(w.Bytes())

	peeked, err := r.PeekUint32()
	if err != nil || peeked != 42 {
		t.Fatalf("PeekUint32 = %d, %v, want 42, nil", peeked, err)
	}

	first, err := r.Uint32()
	if err != nil || first != 42 {
		t.Fatalf("Uint32 after peek = %d, %v, want 42, nil", first, err)
	}

	second, err := r.Uint32()
	if err != nil || second != 43 {
		t.Fatalf("Uint32 = %d, %v, want 43, nil", second, err)
	}
}

func TestTagListTerminator(t *testing.T) {
	w := NewWriter()
	w.String("time")
	w.String("2026-07-31T00:00:00.000Z")
	w.String("foo")
	w.String("bar")
	w.NullPair()

	r := NewReader(w.Bytes())

	var got [][2]string

	for {
		name, isNull, err := r.NullableString()
		if err != nil {
			t.Fatalf("NullableString: %v", err)
		}

		if isNull {
			_, isNull2, err := r.NullableString()
			if err != nil || !isNull2 {
				t.Fatalf("expected terminating null pair, got isNull2=%v err=%v", isNull2, err)
			}

			break
		}

		value, err := r.String()
		if err != nil {
			t.Fatalf("String: %v", err)
		}

		got = append(got, [2]string{name, value})
	}

	want := [][2]string{
		{"time", "2026-07-31T00:00:00.000Z"},
		{"foo", "bar"},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tag pairs mismatch (-want +got):\n%s", diff)
	}
}
