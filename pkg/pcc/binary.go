package pcc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"
)

// tableReader decodes little-endian table fields and remembers the first error.
type tableReader struct {
	r   *bufio.Reader
	pos int64
	err error
}

func newTableReader(ra io.ReaderAt, offset, size int64) *tableReader {
	return &tableReader{
		r:   bufio.NewReader(io.NewSectionReader(ra, offset, size-offset)),
		pos: offset,
	}
}

func (t *tableReader) read(n int) []byte {
	if t.err != nil {
		return make([]byte, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.r, buf); err != nil {
		t.err = fmt.Errorf("read %d bytes at 0x%x: %w", n, t.pos, err)
	}
	t.pos += int64(n)
	return buf
}

func (t *tableReader) u16() uint16 { return binary.LittleEndian.Uint16(t.read(2)) }
func (t *tableReader) u32() uint32 { return binary.LittleEndian.Uint32(t.read(4)) }
func (t *tableReader) u64() uint64 { return binary.LittleEndian.Uint64(t.read(8)) }
func (t *tableReader) i32() int32  { return int32(t.u32()) }

func (t *tableReader) nameRef() NameRef {
	return NameRef{Index: t.i32(), Number: t.i32()}
}

// fstring reads a length-prefixed string. Positive lengths are ASCII,
// negative lengths count UTF-16 code units. Both include the terminator.
func (t *tableReader) fstring() string {
	n := t.i32()
	switch {
	case n == 0 || t.err != nil:
		return ""
	case n > 0:
		if n > maxStringLength {
			t.err = fmt.Errorf("string length %d at 0x%x: %w", n, t.pos, ErrMalformed)
			return ""
		}
		b := t.read(int(n))
		return string(trimNUL(b))
	default:
		if -n > maxStringLength {
			t.err = fmt.Errorf("string length %d at 0x%x: %w", n, t.pos, ErrMalformed)
			return ""
		}
		raw := t.read(int(-n) * 2)
		units := make([]uint16, -n)
		for i := range units {
			units[i] = binary.LittleEndian.Uint16(raw[2*i:])
		}
		for len(units) > 0 && units[len(units)-1] == 0 {
			units = units[:len(units)-1]
		}
		return string(utf16.Decode(units))
	}
}

func trimNUL(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}

const maxStringLength = 1 << 16

func appendNameRef(buf []byte, n NameRef) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(n.Index))
	return binary.LittleEndian.AppendUint32(buf, uint32(n.Number))
}

func appendFString(buf []byte, s string) []byte {
	ascii := true
	for _, r := range s {
		if r > 0x7f {
			ascii = false
			break
		}
	}
	if ascii {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)+1))
		buf = append(buf, s...)
		return append(buf, 0)
	}

	units := append(utf16.Encode([]rune(s)), 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(-int32(len(units))))
	for _, u := range units {
		buf = binary.LittleEndian.AppendUint16(buf, u)
	}
	return buf
}
