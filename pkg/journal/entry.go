package journal

import (
	"encoding/binary"
	"fmt"
)

// Kind is the type of archive mutation an entry records.
type Kind uint8

const (
	// KindCreate records a new archive file.
	KindCreate Kind = iota + 1
	// KindAppend records bytes added at the end of an archive.
	KindAppend
	// KindOverwrite records bytes replaced inside an archive.
	KindOverwrite
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindAppend:
		return "append"
	case KindOverwrite:
		return "overwrite"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Entry is one recorded mutation.
type Entry struct {
	Kind Kind
	Path string

	// Offset is the overwrite position, or the file size before an append.
	Offset int64

	// Prior holds the overwritten bytes.
	Prior []byte
}

// MarshalBinary encodes the entry body.
func (e *Entry) MarshalBinary() ([]byte, error) {
	if len(e.Path) > 0xFFFF {
		return nil, fmt.Errorf("path too long: %d bytes", len(e.Path))
	}
	buf := make([]byte, 0, 1+2+len(e.Path)+8+4+len(e.Prior))
	buf = append(buf, byte(e.Kind))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(e.Path)))
	buf = append(buf, e.Path...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Offset))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Prior)))
	return append(buf, e.Prior...), nil
}

// UnmarshalBinary decodes an entry body.
func (e *Entry) UnmarshalBinary(data []byte) error {
	if len(data) < 3 {
		return fmt.Errorf("%w: entry too short: %d bytes", ErrCorrupt, len(data))
	}
	e.Kind = Kind(data[0])
	if e.Kind < KindCreate || e.Kind > KindOverwrite {
		return fmt.Errorf("%w: unknown entry kind %d", ErrCorrupt, data[0])
	}
	n := int(binary.LittleEndian.Uint16(data[1:3]))
	rest := data[3:]
	if len(rest) < n+12 {
		return fmt.Errorf("%w: entry truncated", ErrCorrupt)
	}
	e.Path = string(rest[:n])
	rest = rest[n:]
	e.Offset = int64(binary.LittleEndian.Uint64(rest[0:8]))
	m := int(binary.LittleEndian.Uint32(rest[8:12]))
	rest = rest[12:]
	if len(rest) != m {
		return fmt.Errorf("%w: entry holds %d prior bytes, header says %d", ErrCorrupt, len(rest), m)
	}
	e.Prior = nil
	if m > 0 {
		e.Prior = append([]byte(nil), rest...)
	}
	return nil
}
