package codec

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/unkn0wn-root/offcache/snapshot"
)

func sampleSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		URL:        "https://app.example/assets/styles.css",
		Status:     200,
		StatusText: "OK",
		Header: http.Header{
			"Content-Type": {"text/css"},
			"Vary":         {"Accept-Encoding", "Origin"},
		},
		Body:     []byte{0x00, 0xff, 'b', 'o', 'd', 'y'},
		Type:     snapshot.TypeBasic,
		StoredAt: time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC),
	}
}

// Every snapshot codec must hand back an equivalent snapshot, including
// binary bodies and multi-valued headers.
func TestSnapshotCodecsPreserveSnapshot(t *testing.T) {
	codecs := map[string]Codec[snapshot.Snapshot]{
		"cbor":     MustCBOR[snapshot.Snapshot](false),
		"cbor-det": MustCBOR[snapshot.Snapshot](true),
		"msgpack":  Msgpack[snapshot.Snapshot]{},
		"json":     JSON[snapshot.Snapshot]{},
		"proto":    SnapshotProto{},
	}
	in := sampleSnapshot()
	for name, c := range codecs {
		b, err := c.Encode(in)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		out, err := c.Decode(b)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if !out.Equal(in) {
			t.Fatalf("%s: snapshot changed:\n got %+v\nwant %+v", name, out, in)
		}
		if !out.StoredAt.Equal(in.StoredAt) {
			t.Fatalf("%s: StoredAt %v want %v", name, out.StoredAt, in.StoredAt)
		}
	}
}

func TestSnapshotProtoSkipsUnknownFields(t *testing.T) {
	b, err := SnapshotProto{}.Encode(sampleSnapshot())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future")
	b = protowire.AppendTag(b, 100, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	out, err := SnapshotProto{}.Decode(b)
	if err != nil {
		t.Fatalf("decode with unknown fields: %v", err)
	}
	if !out.Equal(sampleSnapshot()) {
		t.Fatalf("unexpected snapshot %+v", out)
	}
}

func TestSnapshotProtoRejectsTruncated(t *testing.T) {
	b, _ := SnapshotProto{}.Encode(sampleSnapshot())
	if _, err := (SnapshotProto{}).Decode(b[:len(b)-3]); err == nil {
		t.Fatalf("expected error on truncated input")
	}
}

func TestLimitCodec(t *testing.T) {
	lc := LimitCodec[[]byte]{Inner: Bytes{}, MaxEncode: 4, MaxDecode: 3}

	if _, err := lc.Encode([]byte("12345")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Encode over limit: err=%v", err)
	}
	if b, err := lc.Encode([]byte("1234")); err != nil || string(b) != "1234" {
		t.Fatalf("Encode at limit: b=%q err=%v", b, err)
	}
	if _, err := lc.Decode([]byte("1234")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Decode over limit: err=%v", err)
	}

	unlimited := LimitCodec[string]{Inner: String{}}
	if s, err := unlimited.Decode([]byte("anything goes")); err != nil || s != "anything goes" {
		t.Fatalf("unlimited Decode: s=%q err=%v", s, err)
	}
}
