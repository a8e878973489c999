// Package tfc manages texture file caches: external archives holding mip
// payloads shared by many packages.
//
// An archive starts with its 16-byte GUID; the rest is payload bytes at
// offsets owned by the textures that reference them. Archives never grow
// past Ceiling, and Margin bytes below it are kept free.
package tfc

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/goopsie/metexpatch/pkg/game"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/golang-lru/arc/v2"
)

const (
	// Ceiling is the largest size an archive may reach.
	Ceiling = 0x80000000

	// Margin is the headroom an archive must keep below Ceiling.
	Margin = 0x3000000

	// HeaderSize is the length of the GUID that opens every archive.
	HeaderSize = 16

	// Ext is the archive file extension.
	Ext = ".tfc"

	defaultCacheSize = 256
)

var (
	// ErrCapacity indicates that no catalog archive has room for a payload.
	ErrCapacity = fmt.Errorf("no free texture file cache: %w", errs.ErrCapacity)

	// ErrMissing indicates an archive that does not exist.
	ErrMissing = fmt.Errorf("texture file cache missing: %w", errs.ErrIO)

	// ErrAccess indicates an archive that could not be read or written.
	ErrAccess = fmt.Errorf("texture file cache access: %w", errs.ErrIO)

	// ErrRange indicates a read outside an archive.
	ErrRange = fmt.Errorf("texture file cache range: %w", errs.ErrFormat)
)

// Recorder is told about every archive mutation before it happens.
type Recorder interface {
	RecordCreate(path string) error
	RecordAppend(path string, priorSize int64) error
	RecordOverwrite(path string, offset int64, prior []byte) error
}

// Ref identifies the archive a texture is bound to.
type Ref struct {
	Name    string
	GUID    [16]byte
	Path    string
	Created bool
}

// Prior describes the payload a mip had before the edit.
type Prior struct {
	GUID           [16]byte
	Offset         uint32
	CompressedSize int
}

type readKey struct {
	path   string
	offset uint32
	size   int
}

// Store resolves, allocates and reads archives of one game installation.
type Store struct {
	game     game.Game
	mainDir  string
	recorder Recorder
	cache    *arc.ARCCache[readKey, []byte]
	size     int
	logger   hclog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRecorder journals every mutation through r.
func WithRecorder(r Recorder) Option {
	return func(s *Store) {
		s.recorder = r
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger hclog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCacheSize sets how many payload reads are cached.
func WithCacheSize(n int) Option {
	return func(s *Store) {
		s.size = n
	}
}

// New creates a store whose catalog archives live in mainDir.
func New(g game.Game, mainDir string, opts ...Option) (*Store, error) {
	s := &Store{
		game:    g,
		mainDir: mainDir,
		size:    defaultCacheSize,
		logger:  hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	s.cache, err = arc.NewARC[readKey, []byte](s.size)
	if err != nil {
		return nil, fmt.Errorf("create read cache: %w", err)
	}
	return s, nil
}

// ResolvePath returns the archive file a texture named name refers to from
// the package at packagePath. Packages inside a DLC directory use an
// archive next to them when one exists; ME2 DLC packages otherwise fall
// back to the main Textures archive.
func (s *Store) ResolvePath(name, packagePath string) string {
	path := filepath.Join(s.mainDir, name+Ext)
	if !game.IsDLCPath(packagePath) {
		return path
	}

	local := filepath.Join(filepath.Dir(packagePath), name+Ext)
	if _, err := os.Stat(local); err == nil {
		return local
	}
	if s.game == game.ME2 {
		return filepath.Join(s.mainDir, "Textures"+Ext)
	}
	return path
}

// Size returns the length of the archive at path.
func (s *Store) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %q", ErrMissing, path)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrAccess, path, err)
	}
	return info.Size(), nil
}

// Fits reports whether an archive of size bytes can take payloadLen more.
func Fits(size, payloadLen int64) bool {
	return size+Margin+payloadLen <= Ceiling
}

// Reserve picks the archive for payloadLen bytes. A hint with a path is
// kept when it has room. Otherwise the catalog is tried in order: a missing
// archive is created with its GUID header, an existing one is used when it
// has room.
func (s *Store) Reserve(hint Ref, payloadLen int64) (Ref, error) {
	if hint.Path != "" {
		size, err := s.Size(hint.Path)
		if err != nil {
			return Ref{}, err
		}
		if Fits(size, payloadLen) {
			return hint, nil
		}
		s.logger.Info("archive full, rotating", "archive", hint.Path, "size", size, "payload", payloadLen)
	}

	for _, e := range Catalog {
		path := filepath.Join(s.mainDir, e.Name+Ext)
		size, err := s.Size(path)
		switch {
		case errors.Is(err, ErrMissing):
			if err := s.create(path, e.GUID); err != nil {
				return Ref{}, err
			}
			s.logger.Info("archive created", "archive", path)
			return Ref{Name: e.Name, GUID: e.GUID, Path: path, Created: true}, nil
		case err != nil:
			return Ref{}, err
		case Fits(size, payloadLen):
			return Ref{Name: e.Name, GUID: e.GUID, Path: path}, nil
		}
	}
	return Ref{}, fmt.Errorf("%w: %d bytes", ErrCapacity, payloadLen)
}

func (s *Store) create(path string, guid [16]byte) error {
	if s.recorder != nil {
		if err := s.recorder.RecordCreate(path); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("%w: create %q: %v", ErrAccess, path, err)
	}
	if _, err := f.Write(guid[:]); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: write header %q: %v", ErrAccess, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %q: %v", ErrAccess, path, err)
	}
	return nil
}

// Place writes payload into the archive and returns its offset. The prior
// slot is overwritten when it came from the same archive and is large
// enough; otherwise the payload is appended.
func (s *Store) Place(ref Ref, payload []byte, prior *Prior) (uint32, error) {
	f, err := os.OpenFile(ref.Path, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %q", ErrMissing, ref.Path)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrAccess, ref.Path, err)
	}
	defer func() { _ = f.Close() }()
	s.cache.Purge()

	if prior != nil && prior.GUID == ref.GUID && len(payload) <= prior.CompressedSize {
		offset := int64(prior.Offset)
		if s.recorder != nil {
			old := make([]byte, len(payload))
			if _, err := f.ReadAt(old, offset); err != nil {
				return 0, fmt.Errorf("%w: read prior payload %q at %d: %v", ErrAccess, ref.Path, offset, err)
			}
			if err := s.recorder.RecordOverwrite(ref.Path, offset, old); err != nil {
				return 0, err
			}
		}
		if _, err := f.WriteAt(payload, offset); err != nil {
			return 0, fmt.Errorf("%w: overwrite %q at %d: %v", ErrAccess, ref.Path, offset, err)
		}
		s.logger.Debug("payload overwritten", "archive", ref.Path, "offset", offset, "size", len(payload))
		return prior.Offset, nil
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: seek %q: %v", ErrAccess, ref.Path, err)
	}
	if end+int64(len(payload)) > Ceiling {
		return 0, fmt.Errorf("%w: %q at %d bytes", ErrCapacity, ref.Path, end)
	}
	if s.recorder != nil {
		if err := s.recorder.RecordAppend(ref.Path, end); err != nil {
			return 0, err
		}
	}
	if _, err := f.Write(payload); err != nil {
		return 0, fmt.Errorf("%w: append %q: %v", ErrAccess, ref.Path, err)
	}
	s.logger.Debug("payload appended", "archive", ref.Path, "offset", end, "size", len(payload))
	return uint32(end), nil
}

// Read returns size stored bytes at offset of the archive at path.
func (s *Store) Read(path string, offset uint32, size int) ([]byte, error) {
	key := readKey{path: path, offset: offset, size: size}
	if data, ok := s.cache.Get(key); ok {
		return data, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrAccess, path, err)
	}
	defer func() { _ = f.Close() }()

	if offset < HeaderSize || size < 0 {
		return nil, fmt.Errorf("%w: %d bytes at %d in %q", ErrRange, size, offset, path)
	}
	data := make([]byte, size)
	if _, err := f.ReadAt(data, int64(offset)); err != nil {
		return nil, fmt.Errorf("%w: %d bytes at %d in %q: %v", ErrRange, size, offset, path, err)
	}
	s.cache.Add(key, data)
	return data, nil
}

// Reader returns a reader bound to one archive.
func (s *Store) Reader(path string) func(offset uint32, size int) ([]byte, error) {
	return func(offset uint32, size int) ([]byte, error) {
		return s.Read(path, offset, size)
	}
}

// GUID reads the identity header of the archive at path.
func (s *Store) GUID(path string) ([16]byte, error) {
	var guid [16]byte
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return guid, fmt.Errorf("%w: %q", ErrMissing, path)
	}
	if err != nil {
		return guid, fmt.Errorf("%w: %q: %v", ErrAccess, path, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.ReadFull(f, guid[:]); err != nil {
		return guid, fmt.Errorf("%w: header of %q: %v", ErrRange, path, err)
	}
	return guid, nil
}

// Purge drops every cached read. Call it after archives change behind the
// store's back, such as a journal rollback.
func (s *Store) Purge() {
	s.cache.Purge()
}
