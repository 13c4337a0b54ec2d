package snapshot

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newResponse(t *testing.T, status int, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "https://app.example/assets/app.js", nil)
	return &http.Response{
		Status:     http.StatusText(status),
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"text/javascript"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func TestCaptureLeavesResponseReadable(t *testing.T) {
	resp := newResponse(t, http.StatusOK, "console.log(1)")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	s, err := Capture(resp, TypeBasic, now)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if string(s.Body) != "console.log(1)" || s.Status != 200 || s.URL != "https://app.example/assets/app.js" {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
	if !s.StoredAt.Equal(now) {
		t.Fatalf("StoredAt = %v, want %v", s.StoredAt, now)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil || string(b) != "console.log(1)" {
		t.Fatalf("caller body after capture: %q err=%v", b, err)
	}
}

// Mutating the response the caller got must not leak into the snapshot.
func TestSnapshotIsNotAliased(t *testing.T) {
	resp := newResponse(t, http.StatusOK, "abc")
	s, err := Capture(resp, TypeBasic, time.Now())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	resp.Header.Set("Content-Type", "changed")

	r1 := s.Response(nil)
	r1.Header.Set("X-Mut", "1")
	b, _ := io.ReadAll(r1.Body)
	b[0] = 'Z'

	r2 := s.Response(nil)
	if r2.Header.Get("X-Mut") != "" || r2.Header.Get("Content-Type") != "text/javascript" {
		t.Fatalf("header aliased: %v", r2.Header)
	}
	b2, _ := io.ReadAll(r2.Body)
	if string(b2) != "abc" {
		t.Fatalf("body aliased: %q", b2)
	}
}

func TestCacheable(t *testing.T) {
	cases := []struct {
		status int
		typ    Type
		want   bool
	}{
		{200, TypeBasic, true},
		{200, TypeCORS, false},
		{200, TypeOpaque, false},
		{204, TypeBasic, false},
		{404, TypeBasic, false},
	}
	for _, tc := range cases {
		s := Snapshot{Status: tc.status, Type: tc.typ}
		if got := s.Cacheable(); got != tc.want {
			t.Fatalf("Cacheable(%d,%s) = %v, want %v", tc.status, tc.typ, got, tc.want)
		}
	}
}

func TestResponseStatusLine(t *testing.T) {
	s := Snapshot{Status: 200, Body: []byte("x")}
	r := s.Response(nil)
	if r.Status != "200 OK" || r.ContentLength != 1 {
		t.Fatalf("status=%q len=%d", r.Status, r.ContentLength)
	}
}
