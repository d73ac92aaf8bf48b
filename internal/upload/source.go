package upload

import (
	"bytes"
	"io"
	"sync"

	"github.com/gabriel-vasile/mimetype"
)

const defaultContentType = "application/octet-stream"

// Source is an uploaded file body that supports independent positioned
// reads. Workers read disjoint ranges concurrently through ReadAt, so no
// read cursor is ever shared between goroutines.
type Source interface {
	io.ReaderAt
	Size() int64
}

type sizedSource struct {
	io.ReaderAt
	size int64
}

func (s sizedSource) Size() int64 {
	return s.size
}

// NewSource wraps a positioned reader of known size, such as an *os.File or
// a multipart.File from an HTTP form.
func NewSource(r io.ReaderAt, size int64) Source {
	return sizedSource{ReaderAt: r, size: size}
}

// NewBytesSource returns a Source over an in-memory body.
func NewBytesSource(b []byte) Source {
	return bytes.NewReader(b)
}

// detectContentType sniffs the MIME type from the head of the source.
func detectContentType(src Source) string {
	mtype, err := mimetype.DetectReader(io.NewSectionReader(src, 0, src.Size()))
	if err != nil || mtype == nil {
		return defaultContentType
	}
	return mtype.String()
}

// readRecorder remembers the first non-EOF read error so a failed PutObject
// can be attributed to the source rather than the store. It stays seekable
// so the SDK can rewind the body for signing and retries.
type readRecorder struct {
	r *io.SectionReader

	mu  sync.Mutex
	err error
}

func (rr *readRecorder) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if err != nil && err != io.EOF {
		rr.mu.Lock()
		if rr.err == nil {
			rr.err = err
		}
		rr.mu.Unlock()
	}
	return n, err
}

func (rr *readRecorder) Seek(offset int64, whence int) (int64, error) {
	return rr.r.Seek(offset, whence)
}

func (rr *readRecorder) readErr() error {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return rr.err
}
