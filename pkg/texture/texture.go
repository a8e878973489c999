// Package texture models the serialized data of a Texture2D export: its
// property list and mip descriptor table, the storage type of every mip,
// and the planning rules used when a texture's pixels are replaced.
//
// Export data layout:
//
//	[4 bytes]  prefix (preserved)
//	[...]      property list
//	[12 bytes] ME1/ME2 only: preserved
//	[4 bytes]  ME1/ME2 only: absolute file position of the mip count
//	[4 bytes]  mip count
//	[...]      mip descriptors, inline payloads embedded
//	[...]      trailer (preserved)
//
// Each descriptor is flags, uncompressed size, compressed size and data
// offset, then the inline payload when the mip is stored in the package,
// then width and height. Inline data offsets are absolute file positions,
// so the encoded bytes depend on the export's final offset.
package texture

import (
	"encoding/binary"
	"fmt"

	"github.com/goopsie/metexpatch/pkg/codec"
	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/goopsie/metexpatch/pkg/game"
	"github.com/goopsie/metexpatch/pkg/props"
)

// Property names read and written by this package.
const (
	PropFormat         = "Format"
	PropSizeX          = "SizeX"
	PropSizeY          = "SizeY"
	PropMipTailBaseIdx = "MipTailBaseIdx"
	PropArchiveName    = "TextureFileCacheName"
	PropArchiveGUID    = "TFCFileGuid"
)

const (
	prefixSize  = 4
	legacySize  = 12
	maxMipCount = 32
)

var (
	// ErrMalformed indicates texture export data that cannot be parsed.
	ErrMalformed = fmt.Errorf("malformed texture: %w", errs.ErrFormat)

	// ErrStorage indicates a payload that does not match its storage type.
	ErrStorage = fmt.Errorf("mip storage: %w", errs.ErrFormat)

	// ErrNoArchive indicates an external mip read without an archive reader.
	ErrNoArchive = fmt.Errorf("external mip without archive: %w", errs.ErrIO)
)

// MipMap is one mip descriptor.
type MipMap struct {
	Width            int
	Height           int
	Storage          Storage
	UncompressedSize int
	CompressedSize   int

	// DataOffset is the archive offset of an external payload. Inline
	// offsets are recomputed on every encode.
	DataOffset uint32

	// Payload holds the stored bytes of an inline mip.
	Payload []byte
}

// Pixels returns the descriptor's pixel count.
func (m *MipMap) Pixels() int {
	return m.Width * m.Height
}

// Texture is the decoded data of one Texture2D export.
type Texture struct {
	Game  game.Game
	Props *props.Bag
	Mips  []*MipMap

	prefix  []byte
	legacy  []byte
	trailer []byte
}

// New creates a texture with zeroed preserved fields.
func New(g game.Game, bag *props.Bag, mips []*MipMap) *Texture {
	if bag == nil {
		bag = &props.Bag{}
	}
	t := &Texture{
		Game:   g,
		Props:  bag,
		Mips:   mips,
		prefix: make([]byte, prefixSize),
	}
	if g != game.ME3 {
		t.legacy = make([]byte, legacySize)
	}
	return t
}

// ExternalReader fetches size stored bytes at offset from the texture's
// archive.
type ExternalReader func(offset uint32, size int) ([]byte, error)

type cursor struct {
	data []byte
	pos  int
	err  error
}

func (c *cursor) bytes(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.pos+n > len(c.data) {
		c.err = fmt.Errorf("%w: %d bytes at 0x%x past end of %d", ErrMalformed, n, c.pos, len(c.data))
		return nil
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b
}

func (c *cursor) u32() uint32 {
	b := c.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *cursor) i32() int32 { return int32(c.u32()) }

// Parse decodes the export data of a texture.
func Parse(data []byte, names props.NameTable, g game.Game) (*Texture, error) {
	c := &cursor{data: data}
	t := &Texture{Game: g}
	t.prefix = append([]byte(nil), c.bytes(prefixSize)...)
	if c.err != nil {
		return nil, c.err
	}

	bag, n, err := props.Decode(data[c.pos:], names, g)
	if err != nil {
		return nil, err
	}
	t.Props = bag
	c.pos += n

	if g != game.ME3 {
		t.legacy = append([]byte(nil), c.bytes(legacySize)...)
		c.u32()
	}

	count := c.i32()
	if c.err != nil {
		return nil, c.err
	}
	if count < 0 || count > maxMipCount {
		return nil, fmt.Errorf("%w: mip count %d", ErrMalformed, count)
	}

	for i := int32(0); i < count; i++ {
		m := &MipMap{Storage: StorageFromFlags(c.u32())}
		m.UncompressedSize = int(c.i32())
		m.CompressedSize = int(c.i32())
		m.DataOffset = c.u32()
		if m.Storage.HasPayload() {
			m.Payload = append([]byte(nil), c.bytes(m.CompressedSize)...)
		}
		m.Width = int(c.i32())
		m.Height = int(c.i32())
		if c.err != nil {
			return nil, fmt.Errorf("mip %d: %w", i, c.err)
		}
		t.Mips = append(t.Mips, m)
	}

	t.trailer = append([]byte(nil), data[c.pos:]...)
	return t, nil
}

// Encode serializes the texture for an export whose data starts at
// exportOffset in the package file.
func (t *Texture) Encode(names props.NameTable, exportOffset uint32) ([]byte, error) {
	buf := append([]byte(nil), t.prefix...)
	buf = append(buf, t.Props.Encode(names, t.Game)...)

	if t.Game != game.ME3 {
		legacy := t.legacy
		if len(legacy) != legacySize {
			legacy = make([]byte, legacySize)
		}
		buf = append(buf, legacy...)
		buf = binary.LittleEndian.AppendUint32(buf, exportOffset+uint32(len(buf))+4)
	}

	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.Mips)))
	for i, m := range t.Mips {
		if m.Storage.HasPayload() && len(m.Payload) != m.CompressedSize {
			return nil, fmt.Errorf("%w: mip %d has %d payload bytes, descriptor says %d", ErrStorage, i, len(m.Payload), m.CompressedSize)
		}
		buf = binary.LittleEndian.AppendUint32(buf, m.Storage.Flags())
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.UncompressedSize))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.CompressedSize))
		if m.Storage.HasPayload() {
			buf = binary.LittleEndian.AppendUint32(buf, exportOffset+uint32(len(buf))+4)
			buf = append(buf, m.Payload...)
		} else {
			buf = binary.LittleEndian.AppendUint32(buf, m.DataOffset)
		}
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Width))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Height))
	}
	return append(buf, t.trailer...), nil
}

// EncodedSize returns the length Encode will produce. Names the property
// list needs are interned as a side effect.
func (t *Texture) EncodedSize(names props.NameTable) (int, error) {
	data, err := t.Encode(names, 0)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// PixelFormat returns the format named by the Format property.
func (t *Texture) PixelFormat() (codec.PixelFormat, error) {
	tag, ok := t.Props.NameValue(PropFormat)
	if !ok {
		return codec.FormatUnknown, fmt.Errorf("%w: no %s property", codec.ErrUnknownFormat, PropFormat)
	}
	return codec.ParseFormatTag(tag)
}

// PruneEmpty drops descriptors that carry only dimensions.
func (t *Texture) PruneEmpty() {
	kept := t.Mips[:0]
	for _, m := range t.Mips {
		if !m.Storage.Empty {
			kept = append(kept, m)
		}
	}
	t.Mips = kept
}

// Top returns the largest mip, or nil for a texture without mips.
func (t *Texture) Top() *MipMap {
	if len(t.Mips) == 0 {
		return nil
	}
	return t.Mips[0]
}

// Mip returns the descriptor with the given dimensions.
func (t *Texture) Mip(w, h int) (*MipMap, bool) {
	for _, m := range t.Mips {
		if m.Width == w && m.Height == h {
			return m, true
		}
	}
	return nil, false
}

// HasExternal reports whether any mip is stored in an archive.
func (t *Texture) HasExternal() bool {
	for _, m := range t.Mips {
		if m.Storage.IsExternal() {
			return true
		}
	}
	return false
}

// ArchiveName returns the TextureFileCacheName property.
func (t *Texture) ArchiveName() (string, bool) {
	return t.Props.NameValue(PropArchiveName)
}

// ArchiveGUID returns the TFCFileGuid property.
func (t *Texture) ArchiveGUID() ([16]byte, bool) {
	var guid [16]byte
	_, raw, ok := t.Props.Struct(PropArchiveGUID)
	if !ok || len(raw) != len(guid) {
		return guid, false
	}
	copy(guid[:], raw)
	return guid, true
}

// SetArchive binds the texture to an archive.
func (t *Texture) SetArchive(name string, guid [16]byte) error {
	if err := t.Props.SetName(PropArchiveName, name); err != nil {
		return err
	}
	return t.Props.SetStruct(PropArchiveGUID, "Guid", guid[:])
}

// MipData returns the raw bytes of m, reading external payloads through
// read.
func (t *Texture) MipData(m *MipMap, read ExternalReader) ([]byte, error) {
	var stored []byte
	switch {
	case m.Storage.Empty:
		return nil, fmt.Errorf("%w: empty mip %dx%d has no data", ErrStorage, m.Width, m.Height)
	case m.Storage.IsExternal():
		if read == nil {
			return nil, ErrNoArchive
		}
		var err error
		stored, err = read(m.DataOffset, m.CompressedSize)
		if err != nil {
			return nil, err
		}
	default:
		stored = m.Payload
	}
	return DecompressPayload(stored, m.Storage, m.UncompressedSize)
}

// ReplaceMips installs a new descriptor chain and updates the size
// properties to match its top mip.
func (t *Texture) ReplaceMips(mips []*MipMap) error {
	if len(mips) == 0 {
		return fmt.Errorf("%w: empty mip chain", ErrMalformed)
	}
	t.Mips = mips
	top := mips[0]
	if err := t.Props.SetInt(PropSizeX, int32(top.Width)); err != nil {
		return err
	}
	if err := t.Props.SetInt(PropSizeY, int32(top.Height)); err != nil {
		return err
	}
	if t.Props.Has(PropMipTailBaseIdx) {
		return t.Props.SetInt(PropMipTailBaseIdx, int32(len(mips)-1))
	}
	return nil
}
