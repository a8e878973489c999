package compression

import (
	"encoding/binary"
	"fmt"
)

// ChunkTag opens every chunked payload.
const ChunkTag = 0x9E2A83C1

// BlockSize is the uncompressed size of each block except the last.
const BlockSize = 0x20000

const (
	chunkHeaderSize = 16
	blockEntrySize  = 8
)

// ChunkHeader is the fixed prefix of a chunked payload.
type ChunkHeader struct {
	Tag              uint32
	BlockSize        uint32
	CompressedSize   uint32 // Sum of block compressed sizes
	UncompressedSize uint32
}

// EncodeTo writes the header into buf, which must hold 16 bytes.
func (h *ChunkHeader) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], h.Tag)
	binary.LittleEndian.PutUint32(buf[4:8], h.BlockSize)
	binary.LittleEndian.PutUint32(buf[8:12], h.CompressedSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.UncompressedSize)
}

// DecodeFrom reads the header from buf without validating it.
func (h *ChunkHeader) DecodeFrom(buf []byte) {
	h.Tag = binary.LittleEndian.Uint32(buf[0:4])
	h.BlockSize = binary.LittleEndian.Uint32(buf[4:8])
	h.CompressedSize = binary.LittleEndian.Uint32(buf[8:12])
	h.UncompressedSize = binary.LittleEndian.Uint32(buf[12:16])
}

// Validate checks the tag and block size.
func (h *ChunkHeader) Validate() error {
	if h.Tag != ChunkTag {
		return fmt.Errorf("%w: invalid chunk tag 0x%08x", ErrDecompress, h.Tag)
	}
	if h.BlockSize == 0 {
		return fmt.Errorf("%w: zero block size", ErrDecompress)
	}
	return nil
}

// CompressChunked splits src into blocks, compresses each with b and
// returns the complete chunked payload.
func CompressChunked(src []byte, b Backend) ([]byte, error) {
	blockCount := (len(src) + BlockSize - 1) / BlockSize
	blocks := make([][]byte, blockCount)
	total := 0
	for i := range blocks {
		start := i * BlockSize
		end := min(start+BlockSize, len(src))
		blocks[i] = b.Compress(src[start:end])
		if len(blocks[i]) == 0 {
			return nil, fmt.Errorf("%w: block %d of %d", ErrCompress, i, blockCount)
		}
		total += len(blocks[i])
	}

	out := make([]byte, chunkHeaderSize+blockEntrySize*blockCount, chunkHeaderSize+blockEntrySize*blockCount+total)
	header := ChunkHeader{
		Tag:              ChunkTag,
		BlockSize:        BlockSize,
		CompressedSize:   uint32(total),
		UncompressedSize: uint32(len(src)),
	}
	header.EncodeTo(out)

	for i, block := range blocks {
		entry := out[chunkHeaderSize+blockEntrySize*i:]
		start := i * BlockSize
		end := min(start+BlockSize, len(src))
		binary.LittleEndian.PutUint32(entry[0:4], uint32(len(block)))
		binary.LittleEndian.PutUint32(entry[4:8], uint32(end-start))
	}
	for _, block := range blocks {
		out = append(out, block...)
	}
	return out, nil
}

// DecompressChunked inflates a chunked payload into exactly expected bytes.
func DecompressChunked(src []byte, expected int, b Backend) ([]byte, error) {
	if len(src) < chunkHeaderSize {
		return nil, fmt.Errorf("%w: payload too short: %d bytes", ErrDecompress, len(src))
	}
	var header ChunkHeader
	header.DecodeFrom(src)
	if err := header.Validate(); err != nil {
		return nil, err
	}
	if int(header.UncompressedSize) != expected {
		return nil, fmt.Errorf("%w: payload holds %d bytes, want %d", ErrDecompress, header.UncompressedSize, expected)
	}

	blockCount := (expected + int(header.BlockSize) - 1) / int(header.BlockSize)
	pos := chunkHeaderSize + blockEntrySize*blockCount
	if len(src) < pos {
		return nil, fmt.Errorf("%w: truncated block table", ErrDecompress)
	}

	out := make([]byte, 0, expected)
	for i := 0; i < blockCount; i++ {
		entry := src[chunkHeaderSize+blockEntrySize*i:]
		compSize := int(binary.LittleEndian.Uint32(entry[0:4]))
		uncompSize := int(binary.LittleEndian.Uint32(entry[4:8]))
		if pos+compSize > len(src) {
			return nil, fmt.Errorf("%w: block %d overruns payload", ErrDecompress, i)
		}
		if uncompSize > int(header.BlockSize) || len(out)+uncompSize > expected {
			return nil, fmt.Errorf("%w: block %d claims %d bytes", ErrDecompress, i, uncompSize)
		}
		block, ok := b.Decompress(src[pos:pos+compSize], uncompSize)
		if !ok {
			return nil, fmt.Errorf("%w: block %d", ErrDecompress, i)
		}
		out = append(out, block...)
		pos += compSize
	}

	if len(out) != expected {
		return nil, fmt.Errorf("%w: inflated %d bytes, want %d", ErrDecompress, len(out), expected)
	}
	return out, nil
}

// ChunkedBound is an upper bound on CompressChunked output for n input
// bytes with the zlib backend.
func ChunkedBound(n int) int {
	blocks := max(1, (n+BlockSize-1)/BlockSize)
	return chunkHeaderSize + blockEntrySize*blocks + n + n/1000 + 64*blocks
}
