package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version byte = 1

	KindEntry   byte = 1
	KindCatalog byte = 2

	headerLen = 4 + 1 + 1 + 8 + 4
)

var (
	ErrCorrupt = errors.New("offcache: corrupt frame")
	magic4     = [...]byte{'O', 'F', 'F', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Frame: magic(4) | ver(1) | kind(1) | gen(u64 be) | vlen(u32 be) | payload(vlen)
//
// gen is the owning store's generation for entries and a monotonically
// increasing revision for the catalog.
func Encode(kind byte, gen uint64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(headerLen + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kind)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode validates the frame and returns its generation and payload.
// The payload aliases b.
func Decode(kind byte, b []byte) (gen uint64, payload []byte, err error) {
	if len(b) < headerLen || !hasMagic(b) || b[4] != version || b[5] != kind {
		return 0, nil, ErrCorrupt
	}

	off := 6
	gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// strict: the payload must consume the rest of the buffer exactly
	if vlen < 0 || vlen != len(b)-off {
		return 0, nil, ErrCorrupt
	}

	return gen, b[off : off+vlen], nil
}

func EncodeEntry(gen uint64, payload []byte) []byte { return Encode(KindEntry, gen, payload) }

func DecodeEntry(b []byte) (uint64, []byte, error) { return Decode(KindEntry, b) }

func EncodeCatalog(rev uint64, payload []byte) []byte { return Encode(KindCatalog, rev, payload) }

func DecodeCatalog(b []byte) (uint64, []byte, error) { return Decode(KindCatalog, b) }
