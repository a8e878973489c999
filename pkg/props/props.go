// Package props reads and writes the tagged property list that precedes the
// native data of every serialized object.
//
// Int, Bool, Name, Byte and Struct properties are decoded into typed fields.
// Every other property type keeps its value bytes untouched so that a
// decode followed by an encode reproduces the original list.
package props

import (
	"encoding/binary"
	"fmt"

	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/goopsie/metexpatch/pkg/game"
)

// Property type names.
const (
	TypeInt    = "IntProperty"
	TypeBool   = "BoolProperty"
	TypeName   = "NameProperty"
	TypeByte   = "ByteProperty"
	TypeStruct = "StructProperty"

	terminator = "None"
)

var (
	// ErrMalformed indicates a property list that cannot be parsed.
	ErrMalformed = fmt.Errorf("malformed property list: %w", errs.ErrFormat)

	// ErrType indicates a typed accessor used on a property of another type.
	ErrType = fmt.Errorf("property type mismatch: %w", errs.ErrFormat)
)

// NameTable resolves and interns names for property encoding.
type NameTable interface {
	Name(index int) (string, error)
	AddName(name string) int
}

// Kind classifies how a property value is held.
type Kind int

const (
	KindRaw Kind = iota
	KindInt
	KindBool
	KindName
	KindByte
	KindStruct
)

func kindOf(typeName string) Kind {
	switch typeName {
	case TypeInt:
		return KindInt
	case TypeBool:
		return KindBool
	case TypeName:
		return KindName
	case TypeByte:
		return KindByte
	case TypeStruct:
		return KindStruct
	default:
		return KindRaw
	}
}

// Property is one entry of a property list. Name-valued fields carry the
// instance number next to them.
type Property struct {
	Name       string
	NameNumber int32
	Type       string
	Kind       Kind
	ArrayIndex int32

	Int  int32
	Bool bool

	// Value is the name held by a Name property or an enum Byte property.
	Value       string
	ValueNumber int32

	// EnumType is written before Byte values in ME3 packages.
	EnumType       string
	EnumTypeNumber int32
	Byte           byte

	StructName string

	// Raw is the value of Struct and unrecognized properties, and of Byte
	// properties whose value is neither one byte nor a name.
	Raw []byte
}

// Bag is an ordered property list.
type Bag struct {
	Props []Property
}

type reader struct {
	data  []byte
	pos   int
	names NameTable
	err   error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: %d bytes at 0x%x past end of %d", ErrMalformed, n, r.pos, len(r.data))
		return make([]byte, max(n, 0))
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) i32() int32 {
	return int32(binary.LittleEndian.Uint32(r.bytes(4)))
}

func (r *reader) name() (string, int32) {
	idx, num := r.i32(), r.i32()
	if r.err != nil {
		return "", 0
	}
	s, err := r.names.Name(int(idx))
	if err != nil {
		r.err = fmt.Errorf("%w: name index %d at 0x%x: %v", ErrMalformed, idx, r.pos-8, err)
	}
	return s, num
}

// Decode parses a property list from data and returns the bag and the
// number of bytes consumed, terminator included.
func Decode(data []byte, names NameTable, g game.Game) (*Bag, int, error) {
	r := &reader{data: data, names: names}
	bag := &Bag{}

	for {
		var p Property
		p.Name, p.NameNumber = r.name()
		if r.err != nil {
			return nil, 0, r.err
		}
		if p.Name == terminator {
			return bag, r.pos, nil
		}

		p.Type, _ = r.name()
		size := r.i32()
		p.ArrayIndex = r.i32()
		if r.err != nil {
			return nil, 0, r.err
		}
		if size < 0 {
			return nil, 0, fmt.Errorf("%w: property %q has size %d", ErrMalformed, p.Name, size)
		}
		p.Kind = kindOf(p.Type)

		switch p.Kind {
		case KindBool:
			if g == game.ME3 {
				p.Bool = r.bytes(1)[0] != 0
			} else {
				p.Bool = r.i32() != 0
			}
		case KindByte:
			if g == game.ME3 {
				p.EnumType, p.EnumTypeNumber = r.name()
			}
			if size == 8 {
				p.Value, p.ValueNumber = r.name()
			} else {
				v := r.bytes(int(size))
				if len(v) > 0 {
					p.Byte = v[0]
				}
				if size != 1 {
					p.Raw = append([]byte(nil), v...)
				}
			}
		case KindStruct:
			p.StructName, _ = r.name()
			p.Raw = append([]byte(nil), r.bytes(int(size))...)
		case KindInt:
			if size != 4 {
				p.Kind = KindRaw
				p.Raw = append([]byte(nil), r.bytes(int(size))...)
			} else {
				p.Int = r.i32()
			}
		case KindName:
			if size != 8 {
				p.Kind = KindRaw
				p.Raw = append([]byte(nil), r.bytes(int(size))...)
			} else {
				p.Value, p.ValueNumber = r.name()
			}
		default:
			p.Raw = append([]byte(nil), r.bytes(int(size))...)
		}
		if r.err != nil {
			return nil, 0, fmt.Errorf("property %q: %w", p.Name, r.err)
		}
		bag.Props = append(bag.Props, p)
	}
}

func appendName(buf []byte, names NameTable, name string, number int32) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(names.AddName(name)))
	return binary.LittleEndian.AppendUint32(buf, uint32(number))
}

func appendHeader(buf []byte, names NameTable, p *Property, size int) []byte {
	buf = appendName(buf, names, p.Name, p.NameNumber)
	buf = appendName(buf, names, p.Type, 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(size))
	return binary.LittleEndian.AppendUint32(buf, uint32(p.ArrayIndex))
}

// Encode serializes the bag followed by the terminator, interning every
// name it writes.
func (b *Bag) Encode(names NameTable, g game.Game) []byte {
	var buf []byte
	for i := range b.Props {
		p := &b.Props[i]
		switch p.Kind {
		case KindInt:
			buf = appendHeader(buf, names, p, 4)
			buf = binary.LittleEndian.AppendUint32(buf, uint32(p.Int))
		case KindBool:
			buf = appendHeader(buf, names, p, 0)
			var v byte
			if p.Bool {
				v = 1
			}
			if g == game.ME3 {
				buf = append(buf, v)
			} else {
				buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
			}
		case KindName:
			buf = appendHeader(buf, names, p, 8)
			buf = appendName(buf, names, p.Value, p.ValueNumber)
		case KindByte:
			size := 1
			switch {
			case p.Value != "":
				size = 8
			case p.Raw != nil:
				size = len(p.Raw)
			}
			buf = appendHeader(buf, names, p, size)
			if g == game.ME3 {
				enum := p.EnumType
				if enum == "" {
					enum = terminator
				}
				buf = appendName(buf, names, enum, p.EnumTypeNumber)
			}
			switch {
			case p.Value != "":
				buf = appendName(buf, names, p.Value, p.ValueNumber)
			case p.Raw != nil:
				buf = append(buf, p.Raw...)
			default:
				buf = append(buf, p.Byte)
			}
		case KindStruct:
			buf = appendHeader(buf, names, p, len(p.Raw))
			buf = appendName(buf, names, p.StructName, 0)
			buf = append(buf, p.Raw...)
		default:
			buf = appendHeader(buf, names, p, len(p.Raw))
			buf = append(buf, p.Raw...)
		}
	}
	return appendName(buf, names, terminator, 0)
}

// Get returns the first property named name.
func (b *Bag) Get(name string) (*Property, bool) {
	for i := range b.Props {
		if b.Props[i].Name == name && b.Props[i].ArrayIndex == 0 {
			return &b.Props[i], true
		}
	}
	return nil, false
}

// Has reports whether a property named name exists.
func (b *Bag) Has(name string) bool {
	_, ok := b.Get(name)
	return ok
}

// Int returns the value of an Int property.
func (b *Bag) Int(name string) (int32, bool) {
	p, ok := b.Get(name)
	if !ok || p.Kind != KindInt {
		return 0, false
	}
	return p.Int, true
}

// NameValue returns the name held by a Name or enum Byte property.
func (b *Bag) NameValue(name string) (string, bool) {
	p, ok := b.Get(name)
	if !ok || (p.Kind != KindName && p.Kind != KindByte) || p.Value == "" {
		return "", false
	}
	if p.ValueNumber > 0 {
		return fmt.Sprintf("%s_%d", p.Value, p.ValueNumber-1), true
	}
	return p.Value, true
}

// Struct returns the struct name and value bytes of a Struct property.
func (b *Bag) Struct(name string) (string, []byte, bool) {
	p, ok := b.Get(name)
	if !ok || p.Kind != KindStruct {
		return "", nil, false
	}
	return p.StructName, p.Raw, true
}

func (b *Bag) set(p Property) error {
	if cur, ok := b.Get(p.Name); ok {
		if cur.Type != p.Type {
			return fmt.Errorf("%w: %q is %s, not %s", ErrType, p.Name, cur.Type, p.Type)
		}
		p.NameNumber = cur.NameNumber
		*cur = p
		return nil
	}
	b.Props = append(b.Props, p)
	return nil
}

// SetInt sets or appends an Int property.
func (b *Bag) SetInt(name string, v int32) error {
	return b.set(Property{Name: name, Type: TypeInt, Kind: KindInt, Int: v})
}

// SetName sets or appends a Name property.
func (b *Bag) SetName(name, value string) error {
	return b.set(Property{Name: name, Type: TypeName, Kind: KindName, Value: value})
}

// SetStruct sets or appends a Struct property.
func (b *Bag) SetStruct(name, structName string, value []byte) error {
	return b.set(Property{
		Name:       name,
		Type:       TypeStruct,
		Kind:       KindStruct,
		StructName: structName,
		Raw:        append([]byte(nil), value...),
	})
}

// Remove deletes every property named name and reports whether any existed.
func (b *Bag) Remove(name string) bool {
	kept := b.Props[:0]
	for _, p := range b.Props {
		if p.Name != name {
			kept = append(kept, p)
		}
	}
	removed := len(kept) != len(b.Props)
	b.Props = kept
	return removed
}
