// Package compression provides the compression services used for texture
// payloads and the UE3 chunked container that wraps them.
//
// Backends follow the engine's service contract: Compress signals failure
// with an empty result and Decompress with a false status. The chunked
// helpers translate those signals into errors.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/klauspost/compress/zlib"
	"github.com/rasky/go-lzo"
)

// Backend is an opaque block compressor.
type Backend interface {
	// Compress returns the compressed form of src, or an empty slice on failure.
	Compress(src []byte) []byte
	// Decompress inflates src into exactly expected bytes. ok is false on failure.
	Decompress(src []byte, expected int) (out []byte, ok bool)
}

var (
	// ErrCompress indicates a backend that failed to compress a block.
	ErrCompress = fmt.Errorf("compress: %w", errs.ErrFormat)

	// ErrDecompress indicates a block that could not be inflated.
	ErrDecompress = fmt.Errorf("decompress: %w", errs.ErrFormat)
)

// Zlib compresses with DEFLATE inside a zlib stream.
type Zlib struct {
	Level int
}

// NewZlib returns a zlib backend using the best compression level.
func NewZlib() Zlib {
	return Zlib{Level: zlib.BestCompression}
}

// Compress implements Backend.
func (z Zlib) Compress(src []byte) []byte {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, z.Level)
	if err != nil {
		return nil
	}
	if _, err := w.Write(src); err != nil {
		return nil
	}
	if err := w.Close(); err != nil {
		return nil
	}
	return buf.Bytes()
}

// Decompress implements Backend.
func (Zlib) Decompress(src []byte, expected int) ([]byte, bool) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, false
	}
	defer r.Close()

	out := make([]byte, expected)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, false
	}
	return out, true
}

// LZO reads LZO1X blocks. It is a migration path only: Compress always
// fails so LZO never becomes a write target.
type LZO struct{}

// Compress implements Backend and always returns the failure sentinel.
func (LZO) Compress([]byte) []byte {
	return nil
}

// Decompress implements Backend.
func (LZO) Decompress(src []byte, expected int) ([]byte, bool) {
	out, err := lzo.Decompress1X(bytes.NewReader(src), len(src), expected)
	if err != nil || len(out) != expected {
		return nil, false
	}
	return out, true
}
