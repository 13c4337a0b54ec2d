// Package charm adapts a charmbracelet/log logger to offcache.Logger.
package charm

import (
	"sort"

	"github.com/charmbracelet/log"

	"github.com/unkn0wn-root/offcache"
)

var _ offcache.Logger = Logger{}

type Logger struct{ L *log.Logger }

func (c Logger) Debug(msg string, f offcache.Fields) { c.L.Debug(msg, keyvals(f)...) }
func (c Logger) Info(msg string, f offcache.Fields)  { c.L.Info(msg, keyvals(f)...) }
func (c Logger) Warn(msg string, f offcache.Fields)  { c.L.Warn(msg, keyvals(f)...) }
func (c Logger) Error(msg string, f offcache.Fields) { c.L.Error(msg, keyvals(f)...) }

func (c Logger) With(f offcache.Fields) offcache.Logger {
	return Logger{L: c.L.With(keyvals(f)...)}
}

// keyvals flattens f in key order so text output is stable.
func keyvals(f offcache.Fields) []any {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, 2*len(f))
	for _, k := range keys {
		out = append(out, k, f[k])
	}
	return out
}
