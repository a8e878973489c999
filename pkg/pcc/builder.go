package pcc

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/goopsie/metexpatch/pkg/game"
)

// ExportDataFunc produces the data of one export once its file offset is
// known. It is called twice while building and must return the same length
// both times.
type ExportDataFunc func(offset uint32) ([]byte, error)

type builderExport struct {
	class int32
	name  NameRef
	flags uint64
	data  ExportDataFunc
}

// Builder lays out a new package file: summary, name table, import table,
// export table, then export data in table order.
type Builder struct {
	game      game.Game
	folder    string
	flags     uint32
	names     []string
	nameIndex map[string]int
	imports   []Import
	exports   []builderExport
}

// NewBuilder creates a builder for packages of game g.
func NewBuilder(g game.Game) *Builder {
	return &Builder{
		game:      g,
		folder:    "None",
		nameIndex: make(map[string]int),
	}
}

// SetFolderName sets the folder name stored in the summary.
func (b *Builder) SetFolderName(name string) {
	b.folder = name
}

// SetFlags sets the package flags stored in the summary.
func (b *Builder) SetFlags(flags uint32) {
	b.flags = flags
}

// AddName returns the index of name in the builder's name table.
func (b *Builder) AddName(name string) int {
	if i, ok := b.nameIndex[name]; ok {
		return i
	}
	b.nameIndex[name] = len(b.names)
	b.names = append(b.names, name)
	return len(b.names) - 1
}

// Name returns name table entry i.
func (b *Builder) Name(i int) (string, error) {
	if i < 0 || i >= len(b.names) {
		return "", fmt.Errorf("%w: name index %d of %d", ErrMalformed, i, len(b.names))
	}
	return b.names[i], nil
}

func (b *Builder) ref(name string) NameRef {
	return NameRef{Index: int32(b.AddName(name))}
}

// AddImport adds an import and returns its object reference (negative).
func (b *Builder) AddImport(packageName, className, objectName string) int32 {
	b.imports = append(b.imports, Import{
		PackageFile: b.ref(packageName),
		ClassName:   b.ref(className),
		ObjectName:  b.ref(objectName),
	})
	return -int32(len(b.imports))
}

// AddClassImport adds an engine class import, the usual class reference of
// an export.
func (b *Builder) AddClassImport(className string) int32 {
	return b.AddImport("Core", "Class", className)
}

// AddExport adds an export of the given class reference and returns its
// export index.
func (b *Builder) AddExport(class int32, objectName string, data ExportDataFunc) int {
	b.exports = append(b.exports, builderExport{
		class: class,
		name:  b.ref(objectName),
		flags: 0x000F0004,
		data:  data,
	})
	return len(b.exports) - 1
}

// Build runs both layout passes and returns the file bytes.
func (b *Builder) Build() ([]byte, error) {
	b.AddName("None")

	// First pass fixes the name table and the data sizes.
	sizes := make([]int, len(b.exports))
	for i, e := range b.exports {
		data, err := e.data(0)
		if err != nil {
			return nil, fmt.Errorf("export %d: %w", i, err)
		}
		sizes[i] = len(data)
	}

	version, licensee := b.game.PackageVersion()
	header := b.encodeSummary(version, licensee, 0, 0, 0, 0)
	names := b.encodeNames()
	imports := b.encodeImports()
	exportTableSize := len(b.exports) * exportEntrySize

	nameOffset := len(header)
	importOffset := nameOffset + len(names)
	exportOffset := importOffset + len(imports)
	dataOffset := exportOffset + exportTableSize

	offsets := make([]uint32, len(b.exports))
	cursor := dataOffset
	for i, n := range sizes {
		if cursor+n > math.MaxUint32 {
			return nil, fmt.Errorf("%w: export %d", ErrTooLarge, i)
		}
		offsets[i] = uint32(cursor)
		cursor += n
	}

	out := make([]byte, 0, cursor)
	out = append(out, b.encodeSummary(version, licensee, uint32(dataOffset), uint32(nameOffset), uint32(importOffset), uint32(exportOffset))...)
	out = append(out, names...)
	out = append(out, imports...)
	for i, e := range b.exports {
		out = b.appendExportEntry(out, e, uint32(sizes[i]), offsets[i])
	}
	for i, e := range b.exports {
		data, err := e.data(offsets[i])
		if err != nil {
			return nil, fmt.Errorf("export %d: %w", i, err)
		}
		if len(data) != sizes[i] {
			return nil, fmt.Errorf("%w: export %d changed size from %d to %d between passes", ErrMalformed, i, sizes[i], len(data))
		}
		out = append(out, data...)
	}
	return out, nil
}

// WriteFile builds the package and writes it to path.
func (b *Builder) WriteFile(path string) error {
	data, err := b.Build()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrSave, path, err)
	}
	return nil
}

const exportEntrySize = 68

func (b *Builder) encodeSummary(version, licensee uint16, headerSize, nameOffset, importOffset, exportOffset uint32) []byte {
	var buf []byte
	buf = binary.LittleEndian.AppendUint32(buf, Magic)
	buf = binary.LittleEndian.AppendUint16(buf, version)
	buf = binary.LittleEndian.AppendUint16(buf, licensee)
	buf = binary.LittleEndian.AppendUint32(buf, headerSize)
	buf = appendFString(buf, b.folder)
	buf = binary.LittleEndian.AppendUint32(buf, b.flags)
	if b.game == game.ME3 && b.flags&FlagCooked != 0 {
		buf = binary.LittleEndian.AppendUint32(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.names)))
	buf = binary.LittleEndian.AppendUint32(buf, nameOffset)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.exports)))
	buf = binary.LittleEndian.AppendUint32(buf, exportOffset)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.imports)))
	return binary.LittleEndian.AppendUint32(buf, importOffset)
}

func (b *Builder) encodeNames() []byte {
	var buf []byte
	for _, name := range b.names {
		buf = appendFString(buf, name)
		if b.game != game.ME3 {
			buf = binary.LittleEndian.AppendUint64(buf, 0)
		}
	}
	return buf
}

func (b *Builder) encodeImports() []byte {
	var buf []byte
	for _, imp := range b.imports {
		buf = appendNameRef(buf, imp.PackageFile)
		buf = appendNameRef(buf, imp.ClassName)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(imp.Outer))
		buf = appendNameRef(buf, imp.ObjectName)
	}
	return buf
}

func (b *Builder) appendExportEntry(buf []byte, e builderExport, size, offset uint32) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(e.class))
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = appendNameRef(buf, e.name)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = binary.LittleEndian.AppendUint64(buf, e.flags)
	buf = binary.LittleEndian.AppendUint32(buf, size)
	buf = binary.LittleEndian.AppendUint32(buf, offset)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, 0)
	buf = append(buf, make([]byte, 16)...)
	return binary.LittleEndian.AppendUint32(buf, 0)
}
