// Package pcc reads and writes Unreal Engine 3 package files as used by the
// Mass Effect trilogy (.pcc, .sfm, .u, .upk).
//
// A Package keeps its name, import and export tables in memory. Export data
// stays on disk until it is requested; replacement data is staged in memory
// by SetExportData and only written by Save, which rewrites the file through
// a temporary copy so every untouched byte is preserved.
package pcc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/goopsie/metexpatch/pkg/game"
	"github.com/hashicorp/go-hclog"
)

// Magic identifies a package file.
const Magic = 0x9E2A83C1

// Package flags read by this package.
const (
	FlagCooked     = 0x00000008
	FlagCompressed = 0x02000000
)

// exportDataFieldOffset is the position of DataSize within an export entry;
// DataOffset follows it.
const exportDataFieldOffset = 32

var (
	// ErrMalformed indicates a package whose tables cannot be parsed.
	ErrMalformed = fmt.Errorf("malformed package: %w", errs.ErrFormat)

	// ErrOpenFile indicates a package file that could not be opened.
	ErrOpenFile = fmt.Errorf("open package: %w", errs.ErrIO)

	// ErrSave indicates a package that could not be written back.
	ErrSave = fmt.Errorf("save package: %w", errs.ErrIO)

	// ErrExportIndex indicates an export index outside the export table.
	ErrExportIndex = errors.New("export index out of range")

	// ErrHeaderOnly indicates an operation that needs tables a header-only
	// open skipped.
	ErrHeaderOnly = errors.New("package opened header only")

	// ErrCompressed indicates a package stored as compressed chunks.
	ErrCompressed = fmt.Errorf("compressed package not supported: %w", errs.ErrFormat)

	// ErrTooLarge indicates data that would move past the 4 GiB offset limit.
	ErrTooLarge = fmt.Errorf("package exceeds 4 GiB: %w", errs.ErrFormat)
)

// NameRef addresses an entry of the name table with an instance number.
type NameRef struct {
	Index  int32
	Number int32
}

// Header holds the fields of the package summary this tool reads.
type Header struct {
	Version      uint16
	Licensee     uint16
	HeaderSize   uint32
	FolderName   string
	Flags        uint32
	NameCount    uint32
	NameOffset   uint32
	ExportCount  uint32
	ExportOffset uint32
	ImportCount  uint32
	ImportOffset uint32
}

// Import is one entry of the import table.
type Import struct {
	PackageFile NameRef
	ClassName   NameRef
	Outer       int32
	ObjectName  NameRef
}

// Export is one entry of the export table.
type Export struct {
	ClassIndex   int32
	SuperIndex   int32
	OuterIndex   int32
	ObjectName   NameRef
	Archetype    int32
	ObjectFlags  uint64
	DataSize     uint32
	DataOffset   uint32
	ExportFlags  uint32
	NetObjects   []uint32
	GUID         [16]byte
	PackageFlags uint32

	tablePos int64
	capacity uint32
	data     []byte
	dirty    bool
}

// Dirty reports whether the export carries staged data.
func (e *Export) Dirty() bool {
	return e.dirty
}

// Package is one opened package file.
type Package struct {
	path   string
	game   game.Game
	header Header

	names      []string
	nameFlags  []uint64
	nameIndex  map[string]int
	namesDirty bool

	imports []Import
	exports []*Export

	countsPos  int64
	endOffset  int64
	headerOnly bool
	logger     hclog.Logger
}

// Option configures Open.
type Option func(*Package)

// WithHeaderOnly parses the summary and name table but skips the import and
// export tables.
func WithHeaderOnly() Option {
	return func(p *Package) {
		p.headerOnly = true
	}
}

// WithLogger sets the logger used for save diagnostics.
func WithLogger(logger hclog.Logger) Option {
	return func(p *Package) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Open parses the package tables at path. The file handle is released
// before Open returns.
func Open(path string, opts ...Option) (*Package, error) {
	p := &Package{
		path:   path,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrOpenFile, path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrOpenFile, path, err)
	}

	if err := p.parse(f, info.Size()); err != nil {
		return nil, fmt.Errorf("%q: %w", path, err)
	}
	p.endOffset = info.Size()
	return p, nil
}

func (p *Package) parse(ra io.ReaderAt, size int64) error {
	t := newTableReader(ra, 0, size)
	if magic := t.u32(); t.err == nil && magic != Magic {
		return fmt.Errorf("%w: bad magic 0x%08x", ErrMalformed, magic)
	}

	h := &p.header
	h.Version = t.u16()
	h.Licensee = t.u16()
	h.HeaderSize = t.u32()
	h.FolderName = t.fstring()
	h.Flags = t.u32()
	if h.Version == game.VersionME3 && h.Flags&FlagCooked != 0 {
		t.u32()
	}
	p.countsPos = t.pos
	h.NameCount = t.u32()
	h.NameOffset = t.u32()
	h.ExportCount = t.u32()
	h.ExportOffset = t.u32()
	h.ImportCount = t.u32()
	h.ImportOffset = t.u32()
	if t.err != nil {
		return fmt.Errorf("%w: header: %v", ErrMalformed, t.err)
	}

	g, err := game.FromPackageVersion(h.Version)
	if err != nil {
		return err
	}
	p.game = g
	if h.Flags&FlagCompressed != 0 {
		return ErrCompressed
	}

	if err := p.parseNames(ra, size); err != nil {
		return err
	}
	if p.headerOnly {
		return nil
	}
	if err := p.parseImports(ra, size); err != nil {
		return err
	}
	return p.parseExports(ra, size)
}

func (p *Package) parseNames(ra io.ReaderAt, size int64) error {
	h := &p.header
	if int64(h.NameOffset) > size {
		return fmt.Errorf("%w: name table offset 0x%x past end of file", ErrMalformed, h.NameOffset)
	}

	t := newTableReader(ra, int64(h.NameOffset), size)
	p.names = make([]string, 0, min(h.NameCount, 1<<16))
	p.nameIndex = make(map[string]int, h.NameCount)
	for i := uint32(0); i < h.NameCount; i++ {
		name := t.fstring()
		if p.game != game.ME3 {
			p.nameFlags = append(p.nameFlags, t.u64())
		}
		if t.err != nil {
			return fmt.Errorf("%w: name %d: %v", ErrMalformed, i, t.err)
		}
		if _, exists := p.nameIndex[name]; !exists {
			p.nameIndex[name] = len(p.names)
		}
		p.names = append(p.names, name)
	}
	return nil
}

func (p *Package) parseImports(ra io.ReaderAt, size int64) error {
	h := &p.header
	if int64(h.ImportOffset) > size {
		return fmt.Errorf("%w: import table offset 0x%x past end of file", ErrMalformed, h.ImportOffset)
	}

	t := newTableReader(ra, int64(h.ImportOffset), size)
	p.imports = make([]Import, 0, min(h.ImportCount, 1<<16))
	for i := uint32(0); i < h.ImportCount; i++ {
		imp := Import{
			PackageFile: t.nameRef(),
			ClassName:   t.nameRef(),
			Outer:       t.i32(),
			ObjectName:  t.nameRef(),
		}
		if t.err != nil {
			return fmt.Errorf("%w: import %d: %v", ErrMalformed, i, t.err)
		}
		p.imports = append(p.imports, imp)
	}
	return nil
}

func (p *Package) parseExports(ra io.ReaderAt, size int64) error {
	h := &p.header
	if int64(h.ExportOffset) > size {
		return fmt.Errorf("%w: export table offset 0x%x past end of file", ErrMalformed, h.ExportOffset)
	}

	t := newTableReader(ra, int64(h.ExportOffset), size)
	p.exports = make([]*Export, 0, min(h.ExportCount, 1<<16))
	for i := uint32(0); i < h.ExportCount; i++ {
		e := &Export{tablePos: t.pos}
		e.ClassIndex = t.i32()
		e.SuperIndex = t.i32()
		e.OuterIndex = t.i32()
		e.ObjectName = t.nameRef()
		e.Archetype = t.i32()
		e.ObjectFlags = t.u64()
		e.DataSize = t.u32()
		e.DataOffset = t.u32()
		e.ExportFlags = t.u32()
		netCount := t.u32()
		if netCount > 1<<16 {
			return fmt.Errorf("%w: export %d: %d net objects", ErrMalformed, i, netCount)
		}
		for j := uint32(0); j < netCount; j++ {
			e.NetObjects = append(e.NetObjects, t.u32())
		}
		copy(e.GUID[:], t.read(16))
		e.PackageFlags = t.u32()
		if t.err != nil {
			return fmt.Errorf("%w: export %d: %v", ErrMalformed, i, t.err)
		}
		if int64(e.DataOffset)+int64(e.DataSize) > size {
			return fmt.Errorf("%w: export %d data past end of file", ErrMalformed, i)
		}
		e.capacity = e.DataSize
		p.exports = append(p.exports, e)
	}
	return nil
}

// Path returns the file the package was opened from.
func (p *Package) Path() string {
	return p.path
}

// Game returns the game variant derived from the package version.
func (p *Package) Game() game.Game {
	return p.game
}

// Header returns a copy of the package summary.
func (p *Package) Header() Header {
	return p.header
}

// ExportCount returns the number of exports.
func (p *Package) ExportCount() int {
	return len(p.exports)
}

// Export returns the table entry for export i.
func (p *Package) Export(i int) (*Export, error) {
	if p.headerOnly {
		return nil, ErrHeaderOnly
	}
	if i < 0 || i >= len(p.exports) {
		return nil, fmt.Errorf("%w: %d of %d", ErrExportIndex, i, len(p.exports))
	}
	return p.exports[i], nil
}

// Name returns name table entry i.
func (p *Package) Name(i int) (string, error) {
	if i < 0 || i >= len(p.names) {
		return "", fmt.Errorf("%w: name index %d of %d", ErrMalformed, i, len(p.names))
	}
	return p.names[i], nil
}

// FindName returns the index of name.
func (p *Package) FindName(name string) (int, bool) {
	i, ok := p.nameIndex[name]
	return i, ok
}

// AddName returns the index of name, appending it to the name table when
// missing.
func (p *Package) AddName(name string) int {
	if i, ok := p.nameIndex[name]; ok {
		return i
	}
	p.nameIndex[name] = len(p.names)
	p.names = append(p.names, name)
	if p.game != game.ME3 {
		p.nameFlags = append(p.nameFlags, 0)
	}
	p.namesDirty = true
	return len(p.names) - 1
}

func (p *Package) refString(n NameRef) string {
	s, err := p.Name(int(n.Index))
	if err != nil {
		return fmt.Sprintf("<name %d>", n.Index)
	}
	if n.Number > 0 {
		return fmt.Sprintf("%s_%d", s, n.Number-1)
	}
	return s
}

// ObjectName returns the instanced object name of export i.
func (p *Package) ObjectName(i int) (string, error) {
	e, err := p.Export(i)
	if err != nil {
		return "", err
	}
	return p.refString(e.ObjectName), nil
}

// ClassName resolves the class of export i through the import or export table.
func (p *Package) ClassName(i int) (string, error) {
	e, err := p.Export(i)
	if err != nil {
		return "", err
	}
	switch idx := e.ClassIndex; {
	case idx == 0:
		return "Class", nil
	case idx < 0:
		imp := int(-idx - 1)
		if imp >= len(p.imports) {
			return "", fmt.Errorf("%w: export %d class import %d", ErrMalformed, i, imp)
		}
		return p.refString(p.imports[imp].ObjectName), nil
	default:
		return p.ObjectName(int(idx - 1))
	}
}

// FindExports returns the indices of all exports of the given class.
func (p *Package) FindExports(className string) []int {
	var out []int
	for i := range p.exports {
		if c, err := p.ClassName(i); err == nil && c == className {
			out = append(out, i)
		}
	}
	return out
}

// ExportData returns the bytes of export i, staged or from disk.
func (p *Package) ExportData(i int) ([]byte, error) {
	e, err := p.Export(i)
	if err != nil {
		return nil, err
	}
	if e.dirty {
		out := make([]byte, len(e.data))
		copy(out, e.data)
		return out, nil
	}

	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrOpenFile, p.path, err)
	}
	defer func() { _ = f.Close() }()

	data := make([]byte, e.DataSize)
	if _, err := f.ReadAt(data, int64(e.DataOffset)); err != nil {
		return nil, fmt.Errorf("%w: export %d data: %v", ErrMalformed, i, err)
	}
	return data, nil
}

// PlanExportOffset returns the offset SetExportData would assign to export
// i for data of the given size, without changing anything.
func (p *Package) PlanExportOffset(i int, size int) (uint32, error) {
	e, err := p.Export(i)
	if err != nil {
		return 0, err
	}
	if size <= int(e.capacity) {
		return e.DataOffset, nil
	}
	if p.endOffset+int64(size) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: export %d of %d bytes", ErrTooLarge, i, size)
	}
	return uint32(p.endOffset), nil
}

// SetExportData stages data for export i. Data that fits in the export's
// current slot keeps its offset; larger data moves to the end of the file.
func (p *Package) SetExportData(i int, data []byte) error {
	offset, err := p.PlanExportOffset(i, len(data))
	if err != nil {
		return err
	}
	e := p.exports[i]
	if len(data) > int(e.capacity) {
		p.endOffset += int64(len(data))
		e.capacity = uint32(len(data))
	}
	e.DataOffset = offset
	e.DataSize = uint32(len(data))
	e.data = append([]byte(nil), data...)
	e.dirty = true
	return nil
}

// Dirty reports whether Save has anything to write.
func (p *Package) Dirty() bool {
	if p.namesDirty {
		return true
	}
	for _, e := range p.exports {
		if e.dirty {
			return true
		}
	}
	return false
}

// Snapshot is the staged state of a package captured by Package.Snapshot.
type Snapshot struct {
	exports    []exportState
	names      int
	namesDirty bool
	endOffset  int64
}

type exportState struct {
	offset   uint32
	size     uint32
	capacity uint32
	data     []byte
	dirty    bool
}

// Snapshot captures the staged export data and name table so a failed
// batch of edits can be undone with Restore.
func (p *Package) Snapshot() Snapshot {
	s := Snapshot{
		exports:    make([]exportState, len(p.exports)),
		names:      len(p.names),
		namesDirty: p.namesDirty,
		endOffset:  p.endOffset,
	}
	for i, e := range p.exports {
		s.exports[i] = exportState{
			offset:   e.DataOffset,
			size:     e.DataSize,
			capacity: e.capacity,
			data:     e.data,
			dirty:    e.dirty,
		}
	}
	return s
}

// Restore discards everything staged since s was taken. A snapshot taken
// before a Save must not be restored after it.
func (p *Package) Restore(s Snapshot) {
	for i, st := range s.exports {
		e := p.exports[i]
		e.DataOffset = st.offset
		e.DataSize = st.size
		e.capacity = st.capacity
		e.data = st.data
		e.dirty = st.dirty
	}
	for _, name := range p.names[s.names:] {
		delete(p.nameIndex, name)
	}
	p.names = p.names[:s.names]
	if len(p.nameFlags) > s.names {
		p.nameFlags = p.nameFlags[:s.names]
	}
	p.namesDirty = s.namesDirty
	p.endOffset = s.endOffset
}

// Save writes staged export data, relocated export entries and any added
// names back to disk through a temporary copy of the file.
func (p *Package) Save() error {
	if p.headerOnly {
		return ErrHeaderOnly
	}
	if !p.Dirty() {
		return nil
	}

	dir, base := filepath.Split(p.path)
	tmp, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrSave, p.path, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := p.copyOriginal(tmp); err != nil {
		return err
	}

	written := 0
	for i, e := range p.exports {
		if !e.dirty {
			continue
		}
		if _, err := tmp.WriteAt(e.data, int64(e.DataOffset)); err != nil {
			return fmt.Errorf("%w: export %d: %v", ErrSave, i, err)
		}
		var field [8]byte
		binary.LittleEndian.PutUint32(field[0:4], e.DataSize)
		binary.LittleEndian.PutUint32(field[4:8], e.DataOffset)
		if _, err := tmp.WriteAt(field[:], e.tablePos+exportDataFieldOffset); err != nil {
			return fmt.Errorf("%w: export %d entry: %v", ErrSave, i, err)
		}
		written++
	}

	end := p.endOffset
	if p.namesDirty {
		table := p.encodeNames()
		if end+int64(len(table)) > math.MaxUint32 {
			return fmt.Errorf("%w: name table", ErrTooLarge)
		}
		if _, err := tmp.WriteAt(table, end); err != nil {
			return fmt.Errorf("%w: name table: %v", ErrSave, err)
		}
		var field [8]byte
		binary.LittleEndian.PutUint32(field[0:4], uint32(len(p.names)))
		binary.LittleEndian.PutUint32(field[4:8], uint32(end))
		if _, err := tmp.WriteAt(field[:], p.countsPos); err != nil {
			return fmt.Errorf("%w: name counts: %v", ErrSave, err)
		}
		p.header.NameCount = uint32(len(p.names))
		p.header.NameOffset = uint32(end)
		end += int64(len(table))
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrSave, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", ErrSave, err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		return fmt.Errorf("%w: rename: %v", ErrSave, err)
	}
	committed = true

	for _, e := range p.exports {
		e.data = nil
		e.dirty = false
	}
	p.namesDirty = false
	p.endOffset = end

	p.logger.Debug("package saved", "path", p.path, "exports", written, "size", end)
	return nil
}

func (p *Package) copyOriginal(dst *os.File) error {
	src, err := os.Open(p.path)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrOpenFile, p.path, err)
	}
	defer func() { _ = src.Close() }()

	if info, err := src.Stat(); err == nil {
		_ = dst.Chmod(info.Mode().Perm())
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("%w: copy: %v", ErrSave, err)
	}
	return nil
}

func (p *Package) encodeNames() []byte {
	var buf []byte
	for i, name := range p.names {
		buf = appendFString(buf, name)
		if p.game != game.ME3 {
			buf = binary.LittleEndian.AppendUint64(buf, p.nameFlags[i])
		}
	}
	return buf
}
