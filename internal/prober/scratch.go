package prober

import (
	"crypto/rand"
	"io"
)

// ScratchBuffer is one random payload shared by every concurrent upload.
// Its contents carry no meaning; only the number of bytes sent matters.
type ScratchBuffer struct {
	buf []byte
}

func NewScratchBuffer(size int) *ScratchBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	buf := make([]byte, size)
	_, _ = rand.Read(buf)
	return &ScratchBuffer{buf: buf}
}

func (s *ScratchBuffer) Len() int { return len(s.buf) }

// Reader yields n bytes, cycling over the buffer as often as needed.
func (s *ScratchBuffer) Reader(n int64) io.Reader {
	return &payloadReader{buf: s.buf, remaining: n}
}

type payloadReader struct {
	buf       []byte
	offset    int
	remaining int64
}

func (r *payloadReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n := copy(p, r.buf[r.offset:])
	r.offset = (r.offset + n) % len(r.buf)
	r.remaining -= int64(n)
	return n, nil
}
