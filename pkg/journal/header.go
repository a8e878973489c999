package journal

import (
	"encoding/binary"
	"fmt"

	"github.com/goopsie/metexpatch/pkg/errs"
)

// Magic bytes opening every journal frame.
var Magic = [4]byte{0x4d, 0x54, 0x58, 0x4a} // "MTXJ"

// HeaderSize is the fixed binary size of a frame header.
const HeaderSize = 24 // 4 + 4 + 8 + 8 bytes

// ErrCorrupt indicates a frame that cannot be decoded.
var ErrCorrupt = fmt.Errorf("corrupt journal: %w", errs.ErrFormat)

// Header prefixes the zstd body of one frame.
type Header struct {
	Magic            [4]byte
	HeaderLength     uint32
	Length           uint64 // Uncompressed body size
	CompressedLength uint64 // Compressed body size
}

// NewHeader creates a frame header with the given sizes.
func NewHeader(uncompressedSize, compressedSize uint64) *Header {
	return &Header{
		Magic:            Magic,
		HeaderLength:     16,
		Length:           uncompressedSize,
		CompressedLength: compressedSize,
	}
}

// Validate checks the header for validity.
func (h *Header) Validate() error {
	if h.Magic != Magic {
		return fmt.Errorf("%w: invalid magic: expected %x, got %x", ErrCorrupt, Magic, h.Magic)
	}
	if h.HeaderLength != 16 {
		return fmt.Errorf("%w: invalid header length: expected 16, got %d", ErrCorrupt, h.HeaderLength)
	}
	if h.Length == 0 || h.CompressedLength == 0 {
		return fmt.Errorf("%w: empty frame", ErrCorrupt)
	}
	return nil
}

// EncodeTo writes the header to buf, which must hold HeaderSize bytes.
func (h *Header) EncodeTo(buf []byte) {
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.HeaderLength)
	binary.LittleEndian.PutUint64(buf[8:16], h.Length)
	binary.LittleEndian.PutUint64(buf[16:24], h.CompressedLength)
}

// DecodeFrom reads the header from buf without validating it.
func (h *Header) DecodeFrom(buf []byte) {
	copy(h.Magic[:], buf[0:4])
	h.HeaderLength = binary.LittleEndian.Uint32(buf[4:8])
	h.Length = binary.LittleEndian.Uint64(buf[8:16])
	h.CompressedLength = binary.LittleEndian.Uint64(buf[16:24])
}

// MarshalBinary encodes the header.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	return buf, nil
}

// UnmarshalBinary decodes and validates the header.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: header too short: need %d, got %d", ErrCorrupt, HeaderSize, len(data))
	}
	h.DecodeFrom(data)
	return h.Validate()
}
