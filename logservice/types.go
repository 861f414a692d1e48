// Package logservice is the client side (and a spool directory backed server side) of the
// platform log service: a tag filtered, time ordered stream of diagnostic entries.
package logservice

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

const (
	// ServiceVersion is the protocol version spoken by DirServer
	ServiceVersion = 2
	// MinServiceVersion is the oldest service the collector can drain
	MinServiceVersion = 1
)

// ErrUnsupportedVersion is returned when the remote service is older than MinServiceVersion
var ErrUnsupportedVersion = errors.New("unsupported log service version")

// Entry is a single log entry handed out by the service. The receiver owns it and must Close it.
type Entry interface {
	Tag() string
	TimeMillis() int64
	// Size is the size of the stored payload, zero for entries whose payload was lost
	Size() (int64, error)
	// Open returns the decompressed payload
	Open() (io.ReadCloser, error)
	Close() error
}

type VersionRequest struct{}

type VersionResponse struct {
	Version int32 `cbor:"version"`
}

type SetTagFilterRequest struct {
	Tags []string `cbor:"tags"`
}

type SetTagFilterResponse struct{}

type GetNextEntryRequest struct {
	AfterMillis int64 `cbor:"after_ms"`
}

type GetNextEntryResponse struct {
	Entry *WireEntry `cbor:"entry,omitempty"`
}

// WireEntry is an entry as sent over the channel. Exactly one of Path and Data is used; an
// entry with neither carries no payload.
type WireEntry struct {
	Tag        string `cbor:"tag"`
	TimeMillis int64  `cbor:"time_ms"`
	Path       string `cbor:"path,omitempty"`
	Data       []byte `cbor:"data,omitempty"`
	Compressed bool   `cbor:"gz,omitempty"`
}

// NewEntry wraps a received wire entry
func NewEntry(w *WireEntry) Entry {
	return &entry{wire: *w}
}

type entry struct {
	wire WireEntry

	mu      sync.Mutex
	readers []io.Closer
	closed  bool
}

func (e *entry) Tag() string {
	return e.wire.Tag
}

func (e *entry) TimeMillis() int64 {
	return e.wire.TimeMillis
}

func (e *entry) Size() (int64, error) {
	switch {
	case e.wire.Path != "":
		fi, err := os.Stat(e.wire.Path)
		if err != nil {
			return 0, errors.Wrapf(err, "Cannot stat entry file %s", e.wire.Path)
		}
		return fi.Size(), nil
	default:
		return int64(len(e.wire.Data)), nil
	}
}

// FileTimeMillis is the modification time of the file backing a path entry
func (e *entry) FileTimeMillis() (int64, bool) {
	if e.wire.Path == "" {
		return 0, false
	}
	fi, err := os.Stat(e.wire.Path)
	if err != nil {
		return 0, false
	}
	return fi.ModTime().UnixNano() / int64(time.Millisecond), true
}

func (e *entry) Open() (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("entry is closed")
	}

	var raw io.ReadCloser
	if e.wire.Path != "" {
		f, err := os.Open(e.wire.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "Cannot open entry file %s", e.wire.Path)
		}
		raw = f
	} else {
		raw = ioutil.NopCloser(bytes.NewReader(e.wire.Data))
	}

	if !e.wire.Compressed && !strings.HasSuffix(e.wire.Path, ".gz") {
		e.readers = append(e.readers, raw)
		return raw, nil
	}
	zr, err := gzip.NewReader(raw)
	if err != nil {
		_ = raw.Close()
		return nil, errors.Wrap(err, "Cannot decompress entry")
	}
	rc := &gzipReadCloser{Reader: zr, underlying: raw}
	e.readers = append(e.readers, rc)
	return rc, nil
}

// Close releases every reader handed out by Open
func (e *entry) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var result error
	for _, r := range e.readers {
		if err := r.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			result = err
		}
	}
	e.readers = nil
	return result
}

type gzipReadCloser struct {
	*gzip.Reader
	underlying io.Closer
	once       sync.Once
}

func (g *gzipReadCloser) Close() error {
	var err error
	g.once.Do(func() {
		_ = g.Reader.Close()
		err = g.underlying.Close()
	})
	return err
}
