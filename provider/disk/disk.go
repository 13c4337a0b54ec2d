// Package disk is a persistent file-per-key provider with optional zstd
// compression. It gives the offline cache the same survival across restarts
// the browser's cache storage has.
package disk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	pr "github.com/unkn0wn-root/offcache/provider"
)

const (
	flagCompressed byte = 1 << 0

	// magic(4) | flags(1) | expires unix nano (i64 be, 0 = never)
	headerLen = 4 + 1 + 8

	// payloads at or below this are stored raw
	compressThreshold = 1024
)

var magic4 = [...]byte{'O', 'F', 'F', 'D'}

// ErrCorruptFile is returned for files that are not in the provider's format.
var ErrCorruptFile = errors.New("disk provider: corrupt file")

type Config struct {
	Dir string
	// CompressionLevel is a zstd level (1-22). 0 disables compression.
	CompressionLevel int
}

type Provider struct {
	dir string
	enc *zstd.Encoder
	dec *zstd.Decoder
	now func() time.Time
}

var _ pr.Provider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.Dir == "" {
		return nil, errors.New("disk provider: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("disk provider: create dir: %w", err)
	}
	p := &Provider{dir: cfg.Dir, now: time.Now}

	if cfg.CompressionLevel > 0 {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("disk provider: zstd encoder: %w", err)
		}
		p.enc = enc
	}
	// always able to read compressed files, even if compression was turned off
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("disk provider: zstd decoder: %w", err)
	}
	p.dec = dec
	return p, nil
}

func (p *Provider) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(p.dir, name[:2], name)
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	path := p.path(key)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(data) < headerLen || !bytes.Equal(data[:4], magic4[:]) {
		// not ours; drop it so the next write starts clean
		_ = os.Remove(path)
		return nil, false, nil
	}

	flags := data[4]
	exp := int64(binary.BigEndian.Uint64(data[5:headerLen]))
	if exp != 0 && p.now().UnixNano() > exp {
		_ = os.Remove(path)
		return nil, false, nil
	}

	payload := data[headerLen:]
	if flags&flagCompressed != 0 {
		out, err := p.dec.DecodeAll(payload, nil)
		if err != nil {
			_ = os.Remove(path)
			return nil, false, fmt.Errorf("%w: %v", ErrCorruptFile, err)
		}
		return out, true, nil
	}
	return payload, true, nil
}

// Set writes through a temp file and rename, so readers never observe a
// partially written entry.
func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var (
		flags   byte
		payload = value
	)
	if p.enc != nil && len(value) > compressThreshold {
		if c := p.enc.EncodeAll(value, nil); len(c) < len(value) {
			payload = c
			flags |= flagCompressed
		}
	}

	var exp int64
	if ttl > 0 {
		exp = p.now().Add(ttl).UnixNano()
	}

	buf := make([]byte, headerLen, headerLen+len(payload))
	copy(buf, magic4[:])
	buf[4] = flags
	binary.BigEndian.PutUint64(buf[5:headerLen], uint64(exp))
	buf = append(buf, payload...)

	path := p.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return false, err
	}
	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return false, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return false, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	err := os.Remove(p.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (p *Provider) Close(_ context.Context) error {
	p.dec.Close()
	if p.enc != nil {
		return p.enc.Close()
	}
	return nil
}

// Usage walks the directory and reports file count and bytes on disk.
func (p *Provider) Usage() (files int, size int64, err error) {
	err = filepath.WalkDir(p.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		size += info.Size()
		return nil
	})
	return files, size, err
}
