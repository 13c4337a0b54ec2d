package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/offcache"
)

func TestLogrusLoggerFieldsAndWith(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := LogrusLogger{E: logrus.NewEntry(base)}.With(offcache.Fields{"version": "speakeasy-v2"})

	l.Debug("serving from cache", offcache.Fields{"url": "/index.html"})

	e := hook.LastEntry()
	if e == nil || e.Message != "serving from cache" || e.Level != logrus.DebugLevel {
		t.Fatalf("entry=%+v", e)
	}
	if e.Data["version"] != "speakeasy-v2" || e.Data["url"] != "/index.html" {
		t.Fatalf("data=%v", e.Data)
	}
}
