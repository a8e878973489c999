package texture

import (
	"fmt"

	"github.com/goopsie/metexpatch/pkg/compression"
)

// Bulk data flags of a mip descriptor.
const (
	FlagExternal = 0x1
	FlagZlib     = 0x2
	FlagLZO      = 0x10
	FlagUnused   = 0x20
)

// Tier says where a mip payload lives.
type Tier int

const (
	Inline Tier = iota
	External
)

// Compression says how a mip payload is stored.
type Compression int

const (
	Uncompressed Compression = iota
	Zlib
	LZO
)

// Storage is the storage type of one mip descriptor.
type Storage struct {
	Tier        Tier
	Compression Compression
	Empty       bool
}

// Common storage types.
var (
	PccUnc  = Storage{Tier: Inline, Compression: Uncompressed}
	PccZlib = Storage{Tier: Inline, Compression: Zlib}
	PccLZO  = Storage{Tier: Inline, Compression: LZO}
	ExtUnc  = Storage{Tier: External, Compression: Uncompressed}
	ExtZlib = Storage{Tier: External, Compression: Zlib}
	ExtLZO  = Storage{Tier: External, Compression: LZO}
	Empty   = Storage{Tier: External, Empty: true}
)

// StorageFromFlags decodes descriptor flags.
func StorageFromFlags(flags uint32) Storage {
	s := Storage{Tier: Inline, Compression: Uncompressed}
	if flags&FlagExternal != 0 {
		s.Tier = External
	}
	switch {
	case flags&FlagZlib != 0:
		s.Compression = Zlib
	case flags&FlagLZO != 0:
		s.Compression = LZO
	}
	if flags&FlagUnused != 0 {
		s.Empty = true
	}
	return s
}

// Flags encodes s as descriptor flags.
func (s Storage) Flags() uint32 {
	var f uint32
	if s.Tier == External {
		f |= FlagExternal
	}
	switch s.Compression {
	case Zlib:
		f |= FlagZlib
	case LZO:
		f |= FlagLZO
	}
	if s.Empty {
		f |= FlagUnused
	}
	return f
}

// Normalize maps the LZO variants to Zlib within the same tier.
func (s Storage) Normalize() Storage {
	if s.Compression == LZO {
		s.Compression = Zlib
	}
	return s
}

// IsExternal reports whether the payload lives in an archive.
func (s Storage) IsExternal() bool {
	return s.Tier == External && !s.Empty
}

// HasPayload reports whether the descriptor carries payload bytes inline.
func (s Storage) HasPayload() bool {
	return s.Tier == Inline && !s.Empty
}

func (s Storage) String() string {
	if s.Empty {
		return "empty"
	}
	tier := "pcc"
	if s.Tier == External {
		tier = "ext"
	}
	switch s.Compression {
	case Zlib:
		return tier + "Zlib"
	case LZO:
		return tier + "LZO"
	default:
		return tier + "Unc"
	}
}

func backendFor(c Compression) (compression.Backend, error) {
	switch c {
	case Zlib:
		return compression.NewZlib(), nil
	case LZO:
		return compression.LZO{}, nil
	default:
		return nil, fmt.Errorf("%w: no backend for uncompressed storage", ErrStorage)
	}
}

// CompressPayload turns raw mip bytes into the stored form for s.
func CompressPayload(raw []byte, s Storage) ([]byte, error) {
	if s.Empty {
		return nil, fmt.Errorf("%w: cannot store data as empty", ErrStorage)
	}
	if s.Compression == Uncompressed {
		return raw, nil
	}
	b, err := backendFor(s.Compression)
	if err != nil {
		return nil, err
	}
	return compression.CompressChunked(raw, b)
}

// DecompressPayload turns stored mip bytes back into raw bytes.
func DecompressPayload(stored []byte, s Storage, uncompressedSize int) ([]byte, error) {
	if s.Compression == Uncompressed {
		if len(stored) != uncompressedSize {
			return nil, fmt.Errorf("%w: stored %d bytes, expected %d", ErrStorage, len(stored), uncompressedSize)
		}
		return stored, nil
	}
	b, err := backendFor(s.Compression)
	if err != nil {
		return nil, err
	}
	return compression.DecompressChunked(stored, uncompressedSize, b)
}
