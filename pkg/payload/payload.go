// Package payload produces the highly compressible filler that archive
// members are built from, streamed so that size never dictates memory.
package payload

import (
	"bytes"
	"context"
	"io"
)

// Fill is the byte every payload is made of. A single repeated value
// deflates to roughly a thousandth of its size.
const Fill byte = 'X'

const chunkSize = 1 << 20

var chunk = bytes.Repeat([]byte{Fill}, chunkSize)

// Reader returns a reader that yields exactly n fill bytes and then io.EOF.
// Nothing larger than a fixed 1 MiB chunk is ever held in memory, so n may
// be tens of gigabytes.
func Reader(n uint64) io.Reader {
	return &fillReader{ctx: context.Background(), remaining: n}
}

// ReaderContext is Reader that stops with ctx.Err() once ctx is done. The
// context is checked once per chunk.
func ReaderContext(ctx context.Context, n uint64) io.Reader {
	return &fillReader{ctx: ctx, remaining: n}
}

// Bytes materialises n fill bytes. Use Reader for anything large.
func Bytes(n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	return bytes.Repeat([]byte{Fill}, n)
}

type fillReader struct {
	ctx       context.Context
	remaining uint64
}

func (r *fillReader) Read(p []byte) (int, error) {
	if r.remaining == 0 {
		return 0, io.EOF
	}
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if uint64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n := 0
	for n < len(p) {
		n += copy(p[n:], chunk)
	}
	r.remaining -= uint64(n)
	return n, nil
}

// WriteTo streams the remaining bytes to w in chunk-sized writes, which lets
// io.Copy skip its intermediate buffer.
func (r *fillReader) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for r.remaining > 0 {
		if err := r.ctx.Err(); err != nil {
			return written, err
		}
		size := uint64(chunkSize)
		if r.remaining < size {
			size = r.remaining
		}
		n, err := w.Write(chunk[:size])
		written += int64(n)
		r.remaining -= uint64(n)
		if err != nil {
			return written, err
		}
		if uint64(n) < size {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}
