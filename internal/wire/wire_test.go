package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func mustDecodeEntry(t *testing.T, b []byte) (uint64, []byte) {
	t.Helper()
	gen, p, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	return gen, p
}

func TestEntryRTEmptyAndNonEmpty(t *testing.T) {
	cases := []struct {
		gen     uint64
		payload []byte
	}{
		{0, nil},
		{42, []byte("hello")},
		{math.MaxUint64, []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		enc := EncodeEntry(tc.gen, tc.payload)
		gen, p := mustDecodeEntry(t, enc)
		if gen != tc.gen {
			t.Fatalf("gen mismatch: got %d want %d", gen, tc.gen)
		}
		if !bytes.Equal(p, tc.payload) {
			t.Fatalf("payload mismatch: got %x want %x", p, tc.payload)
		}
	}
}

func TestEntryRejectsTrailingBytes(t *testing.T) {
	enc := EncodeEntry(7, []byte("x"))
	enc = append(enc, 0xDE, 0xAD)
	if _, _, err := DecodeEntry(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestEntryCorruptHeadersAndLengths(t *testing.T) {
	enc := EncodeEntry(1, []byte("abc"))

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, _, err := DecodeEntry(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, _, err := DecodeEntry(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	// vlen is at offset 14..17 (4 magic +1 ver +1 kind +8 gen)
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[14:18], uint32(len("abc")+1))
	if _, _, err := DecodeEntry(tooLong); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	trunc := enc[:len(enc)-1]
	if _, _, err := DecodeEntry(trunc); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}

	if _, _, err := DecodeEntry(enc[:headerLen-1]); err == nil {
		t.Fatalf("expected error on short header")
	}
}

// A catalog frame must never decode as an entry and vice versa.
func TestKindMismatchRejected(t *testing.T) {
	cat := EncodeCatalog(3, []byte("catalog"))
	if _, _, err := DecodeEntry(cat); err == nil {
		t.Fatalf("catalog frame decoded as entry")
	}
	ent := EncodeEntry(3, []byte("entry"))
	if _, _, err := DecodeCatalog(ent); err == nil {
		t.Fatalf("entry frame decoded as catalog")
	}
	rev, p, err := DecodeCatalog(cat)
	if err != nil || rev != 3 || string(p) != "catalog" {
		t.Fatalf("DecodeCatalog: rev=%d p=%q err=%v", rev, p, err)
	}
}

func TestEntryZeroCopyPayload(t *testing.T) {
	enc := EncodeEntry(1, []byte("Z"))
	_, p := mustDecodeEntry(t, enc)
	p[0] = 'Q'
	_, p2 := mustDecodeEntry(t, enc)
	if p2[0] != 'Q' {
		t.Fatalf("expected zero-copy slice into enc buffer")
	}
}
