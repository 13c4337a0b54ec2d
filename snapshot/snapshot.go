// Package snapshot holds the immutable capture of a network response that the
// offline cache stores and replays.
package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Type mirrors the response tainting a browser applies to fetches.
type Type string

const (
	TypeBasic  Type = "basic"  // same origin as the app
	TypeCORS   Type = "cors"   // cross origin, CORS-enabled
	TypeOpaque Type = "opaque" // cross origin, not readable by the page
)

// Snapshot is a captured response. Values are copied on Capture and on every
// Response call, so a stored Snapshot is never aliased by a caller.
type Snapshot struct {
	URL        string      `json:"url" cbor:"1,keyasint" msgpack:"url"`
	Status     int         `json:"status" cbor:"2,keyasint" msgpack:"status"`
	StatusText string      `json:"status_text,omitempty" cbor:"3,keyasint,omitempty" msgpack:"status_text,omitempty"`
	Header     http.Header `json:"header,omitempty" cbor:"4,keyasint,omitempty" msgpack:"header,omitempty"`
	Body       []byte      `json:"body,omitempty" cbor:"5,keyasint,omitempty" msgpack:"body,omitempty"`
	Type       Type        `json:"type" cbor:"6,keyasint" msgpack:"type"`
	StoredAt   time.Time   `json:"stored_at" cbor:"7,keyasint" msgpack:"stored_at"`
}

// Capture drains resp.Body into a Snapshot and swaps in a fresh body reader,
// so the caller can keep using resp as if it was never read.
func Capture(resp *http.Response, typ Type, now time.Time) (Snapshot, error) {
	if resp == nil {
		return Snapshot{}, fmt.Errorf("snapshot: nil response")
	}
	var body []byte
	if resp.Body != nil {
		b, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			return Snapshot{}, fmt.Errorf("snapshot: read body: %w", err)
		}
		body = b
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	var u string
	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL.String()
	}
	return Snapshot{
		URL:        u,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header.Clone(),
		Body:       bytes.Clone(body),
		Type:       typ,
		StoredAt:   now.UTC(),
	}, nil
}

func statusText(resp *http.Response) string {
	// resp.Status is "200 OK"; keep only the reason phrase
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if len(resp.Status) > len(prefix) && resp.Status[:len(prefix)] == prefix {
		return resp.Status[len(prefix):]
	}
	return http.StatusText(resp.StatusCode)
}

// Cacheable reports whether the snapshot may be written by the proxy at runtime:
// status 200 and same-origin.
func (s Snapshot) Cacheable() bool {
	return s.Status == http.StatusOK && s.Type == TypeBasic
}

// OK reports a 2xx status.
func (s Snapshot) OK() bool { return s.Status >= 200 && s.Status < 300 }

func (s Snapshot) Size() int { return len(s.Body) }

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	c := s
	c.Header = s.Header.Clone()
	c.Body = bytes.Clone(s.Body)
	return c
}

// Response builds a new *http.Response replaying the snapshot for req.
func (s Snapshot) Response(req *http.Request) *http.Response {
	body := bytes.Clone(s.Body)
	text := s.StatusText
	if text == "" {
		text = http.StatusText(s.Status)
	}
	h := s.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	return &http.Response{
		Status:        strconv.Itoa(s.Status) + " " + text,
		StatusCode:    s.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// Equal compares everything except StoredAt.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.URL != o.URL || s.Status != o.Status || s.Type != o.Type || !bytes.Equal(s.Body, o.Body) {
		return false
	}
	if len(s.Header) != len(o.Header) {
		return false
	}
	for k, vs := range s.Header {
		ovs, ok := o.Header[k]
		if !ok || len(ovs) != len(vs) {
			return false
		}
		for i := range vs {
			if vs[i] != ovs[i] {
				return false
			}
		}
	}
	return true
}
