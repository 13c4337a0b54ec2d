package codec

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/unkn0wn-root/offcache/snapshot"
)

// SnapshotProto encodes snapshots in protobuf wire format, compatible with:
//
//	message Snapshot {
//	  string url = 1;
//	  uint32 status = 2;
//	  string status_text = 3;
//	  repeated Header header = 4; // message Header { string name = 1; repeated string value = 2; }
//	  bytes body = 5;
//	  string type = 6;
//	  sint64 stored_at_unix_nano = 7;
//	}
//
// Use it when other services read the shared (Redis) store. Unknown fields are
// skipped on decode. The zero value is ready to use.
type SnapshotProto struct{}

var _ Codec[snapshot.Snapshot] = SnapshotProto{}

const (
	fURL        protowire.Number = 1
	fStatus     protowire.Number = 2
	fStatusText protowire.Number = 3
	fHeader     protowire.Number = 4
	fBody       protowire.Number = 5
	fType       protowire.Number = 6
	fStoredAt   protowire.Number = 7

	fHeaderName  protowire.Number = 1
	fHeaderValue protowire.Number = 2
)

func (SnapshotProto) Encode(s snapshot.Snapshot) ([]byte, error) {
	b := make([]byte, 0, 64+len(s.Body))
	if s.URL != "" {
		b = protowire.AppendTag(b, fURL, protowire.BytesType)
		b = protowire.AppendString(b, s.URL)
	}
	if s.Status != 0 {
		b = protowire.AppendTag(b, fStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.Status))
	}
	if s.StatusText != "" {
		b = protowire.AppendTag(b, fStatusText, protowire.BytesType)
		b = protowire.AppendString(b, s.StatusText)
	}

	names := make([]string, 0, len(s.Header))
	for k := range s.Header {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		var h []byte
		h = protowire.AppendTag(h, fHeaderName, protowire.BytesType)
		h = protowire.AppendString(h, name)
		for _, v := range s.Header[name] {
			h = protowire.AppendTag(h, fHeaderValue, protowire.BytesType)
			h = protowire.AppendString(h, v)
		}
		b = protowire.AppendTag(b, fHeader, protowire.BytesType)
		b = protowire.AppendBytes(b, h)
	}

	if len(s.Body) > 0 {
		b = protowire.AppendTag(b, fBody, protowire.BytesType)
		b = protowire.AppendBytes(b, s.Body)
	}
	if s.Type != "" {
		b = protowire.AppendTag(b, fType, protowire.BytesType)
		b = protowire.AppendString(b, string(s.Type))
	}
	if !s.StoredAt.IsZero() {
		b = protowire.AppendTag(b, fStoredAt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(s.StoredAt.UnixNano()))
	}
	return b, nil
}

func (SnapshotProto) Decode(b []byte) (snapshot.Snapshot, error) {
	var s snapshot.Snapshot
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return snapshot.Snapshot{}, protoErr("tag", n)
		}
		b = b[n:]

		switch {
		case num == fURL && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return snapshot.Snapshot{}, protoErr("url", n)
			}
			s.URL, b = v, b[n:]
		case num == fStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return snapshot.Snapshot{}, protoErr("status", n)
			}
			s.Status, b = int(v), b[n:]
		case num == fStatusText && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return snapshot.Snapshot{}, protoErr("status_text", n)
			}
			s.StatusText, b = v, b[n:]
		case num == fHeader && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return snapshot.Snapshot{}, protoErr("header", n)
			}
			name, values, err := decodeHeader(v)
			if err != nil {
				return snapshot.Snapshot{}, err
			}
			if s.Header == nil {
				s.Header = make(http.Header)
			}
			s.Header[name] = append(s.Header[name], values...)
			b = b[n:]
		case num == fBody && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return snapshot.Snapshot{}, protoErr("body", n)
			}
			s.Body, b = append([]byte(nil), v...), b[n:]
		case num == fType && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return snapshot.Snapshot{}, protoErr("type", n)
			}
			s.Type, b = snapshot.Type(v), b[n:]
		case num == fStoredAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return snapshot.Snapshot{}, protoErr("stored_at", n)
			}
			s.StoredAt, b = time.Unix(0, protowire.DecodeZigZag(v)).UTC(), b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return snapshot.Snapshot{}, protoErr("unknown field", n)
			}
			b = b[n:]
		}
	}
	return s, nil
}

func decodeHeader(b []byte) (string, []string, error) {
	var (
		name   string
		values []string
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, protoErr("header tag", n)
		}
		b = b[n:]
		if typ != protowire.BytesType || (num != fHeaderName && num != fHeaderValue) {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", nil, protoErr("header field", n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return "", nil, protoErr("header value", n)
		}
		b = b[n:]
		if num == fHeaderName {
			name = v
		} else {
			values = append(values, v)
		}
	}
	if name == "" {
		return "", nil, fmt.Errorf("codec: snapshot header without name")
	}
	return name, values, nil
}

func protoErr(field string, n int) error {
	return fmt.Errorf("codec: decode %s: %w", field, protowire.ParseError(n))
}
