package compression

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/goopsie/metexpatch/pkg/errs"
)

func testPayload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251 / 7)
	}
	return data
}

func TestZlibBackend(t *testing.T) {
	z := NewZlib()
	original := testPayload(4096)

	compressed := z.Compress(original)
	if len(compressed) == 0 {
		t.Fatal("compress returned the failure sentinel")
	}

	decoded, ok := z.Decompress(compressed, len(original))
	if !ok {
		t.Fatal("decompress failed")
	}
	if !bytes.Equal(decoded, original) {
		t.Error("data mismatch")
	}

	if _, ok := z.Decompress([]byte("not zlib"), 16); ok {
		t.Error("expected failure for corrupt input")
	}
}

func TestLZOIsReadOnly(t *testing.T) {
	if out := (LZO{}).Compress([]byte("anything")); len(out) != 0 {
		t.Errorf("expected empty sentinel, got %d bytes", len(out))
	}
	if _, err := CompressChunked(testPayload(10), LZO{}); !errors.Is(err, ErrCompress) {
		t.Errorf("expected ErrCompress, got %v", err)
	}
}

func TestChunkedRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"Empty", 0},
		{"Small", 100},
		{"ExactBlock", BlockSize},
		{"MultiBlock", BlockSize*2 + 12345},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := testPayload(tt.size)
			packed, err := CompressChunked(original, NewZlib())
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if len(packed) > ChunkedBound(tt.size) {
				t.Errorf("payload %d bytes exceeds bound %d", len(packed), ChunkedBound(tt.size))
			}

			var header ChunkHeader
			header.DecodeFrom(packed)
			if err := header.Validate(); err != nil {
				t.Fatalf("header: %v", err)
			}
			if int(header.UncompressedSize) != tt.size {
				t.Errorf("UncompressedSize: got %d, want %d", header.UncompressedSize, tt.size)
			}

			decoded, err := DecompressChunked(packed, tt.size, NewZlib())
			if err != nil {
				t.Fatalf("decompress: %v", err)
			}
			if !bytes.Equal(decoded, original) {
				t.Error("data mismatch")
			}
		})
	}
}

type sizeRecorder struct {
	Backend
	sizes []int
}

func (r *sizeRecorder) Decompress(src []byte, expected int) ([]byte, bool) {
	r.sizes = append(r.sizes, expected)
	return r.Backend.Decompress(src, expected)
}

func TestDecompressChunkedErrors(t *testing.T) {
	packed, err := CompressChunked(testPayload(512), NewZlib())
	if err != nil {
		t.Fatalf("compress: %v", err)
	}

	t.Run("WrongSize", func(t *testing.T) {
		if _, err := DecompressChunked(packed, 511, NewZlib()); !errors.Is(err, errs.ErrFormat) {
			t.Errorf("expected format error, got %v", err)
		}
	})

	t.Run("BadTag", func(t *testing.T) {
		bad := append([]byte(nil), packed...)
		bad[0] ^= 0xff
		if _, err := DecompressChunked(bad, 512, NewZlib()); !errors.Is(err, ErrDecompress) {
			t.Errorf("expected ErrDecompress, got %v", err)
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		if _, err := DecompressChunked(packed[:len(packed)-4], 512, NewZlib()); !errors.Is(err, ErrDecompress) {
			t.Errorf("expected ErrDecompress, got %v", err)
		}
	})

	t.Run("OversizedBlock", func(t *testing.T) {
		multi, err := CompressChunked(testPayload(BlockSize+100), NewZlib())
		if err != nil {
			t.Fatalf("compress: %v", err)
		}
		tests := []struct {
			name  string
			block int
			size  uint32
		}{
			{"LargerThanBlockSize", 0, BlockSize + 1},
			{"PastExpected", 1, 101},
			{"Huge", 0, 0xFFFFFFF0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				bad := append([]byte(nil), multi...)
				entry := chunkHeaderSize + blockEntrySize*tt.block
				binary.LittleEndian.PutUint32(bad[entry+4:], tt.size)

				rec := &sizeRecorder{Backend: NewZlib()}
				if _, err := DecompressChunked(bad, BlockSize+100, rec); !errors.Is(err, ErrDecompress) {
					t.Errorf("expected ErrDecompress, got %v", err)
				}
				for _, n := range rec.sizes {
					if n > BlockSize {
						t.Errorf("backend asked for %d bytes", n)
					}
				}
			})
		}
	})
}
