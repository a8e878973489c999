// Package journal keeps a write-ahead record of texture file cache
// mutations so that a replace batch can be undone until its packages are
// saved.
//
// The journal file is a sequence of frames. Each frame is a 24-byte header
// followed by a zstd-compressed entry. An entry is written and synced
// before the archive mutation it describes; a frame cut short by a crash is
// ignored when the journal is read back.
package journal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/DataDog/zstd"
	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/hashicorp/go-hclog"
)

const (
	// DefaultCompressionLevel is the zstd level used for frame bodies.
	DefaultCompressionLevel = zstd.BestSpeed

	// DefaultName is the journal file name inside a game directory.
	DefaultName = "metexpatch.journal"
)

// ErrAccess indicates a journal or archive file that could not be used.
var ErrAccess = fmt.Errorf("journal access: %w", errs.ErrIO)

// Journal records archive mutations in one file.
type Journal struct {
	path   string
	level  int
	logger hclog.Logger
}

// Option configures a Journal.
type Option func(*Journal)

// WithCompressionLevel sets the zstd level for frame bodies.
func WithCompressionLevel(level int) Option {
	return func(j *Journal) {
		j.level = level
	}
}

// WithLogger sets the journal's logger.
func WithLogger(logger hclog.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// Open returns a journal backed by path. The file is created on the first
// recorded entry; an existing file keeps its entries.
func Open(path string, opts ...Option) *Journal {
	j := &Journal{
		path:   path,
		level:  DefaultCompressionLevel,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Record appends e and syncs the journal.
func (j *Journal) Record(e Entry) error {
	body, err := e.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: encode entry: %v", ErrAccess, err)
	}
	compressed, err := zstd.CompressLevel(nil, body, j.level)
	if err != nil {
		return fmt.Errorf("%w: compress entry: %v", ErrAccess, err)
	}

	frame := make([]byte, HeaderSize, HeaderSize+len(compressed))
	NewHeader(uint64(len(body)), uint64(len(compressed))).EncodeTo(frame)
	frame = append(frame, compressed...)

	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrAccess, j.path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(frame); err != nil {
		return fmt.Errorf("%w: write %q: %v", ErrAccess, j.path, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %q: %v", ErrAccess, j.path, err)
	}
	j.logger.Trace("journal entry", "kind", e.Kind, "archive", e.Path, "offset", e.Offset)
	return nil
}

// RecordCreate records that path is about to be created.
func (j *Journal) RecordCreate(path string) error {
	return j.Record(Entry{Kind: KindCreate, Path: path})
}

// RecordAppend records that path, currently priorSize bytes long, is about
// to grow.
func (j *Journal) RecordAppend(path string, priorSize int64) error {
	return j.Record(Entry{Kind: KindAppend, Path: path, Offset: priorSize})
}

// RecordOverwrite records the bytes at offset of path that are about to be
// replaced.
func (j *Journal) RecordOverwrite(path string, offset int64, prior []byte) error {
	return j.Record(Entry{Kind: KindOverwrite, Path: path, Offset: offset, Prior: prior})
}

// Entries reads every complete entry in recording order.
func (j *Journal) Entries() ([]Entry, error) {
	data, err := j.read()
	if err != nil {
		return nil, err
	}
	return j.decode(data)
}

func (j *Journal) read() ([]byte, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrAccess, j.path, err)
	}
	return data, nil
}

func (j *Journal) decode(data []byte) ([]Entry, error) {
	var entries []Entry
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		var buf [HeaderSize]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			j.logger.Warn("ignoring truncated journal frame", "path", j.path)
			break
		}
		var h Header
		if err := h.UnmarshalBinary(buf[:]); err != nil {
			return nil, err
		}
		if h.CompressedLength > uint64(r.Len()) {
			j.logger.Warn("ignoring truncated journal frame", "path", j.path)
			break
		}

		compressed := make([]byte, h.CompressedLength)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		body, err := zstd.Decompress(make([]byte, 0, h.Length), compressed)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress frame: %v", ErrCorrupt, err)
		}
		if uint64(len(body)) != h.Length {
			return nil, fmt.Errorf("%w: frame body %d bytes, header says %d", ErrCorrupt, len(body), h.Length)
		}

		var e Entry
		if err := e.UnmarshalBinary(body); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Mark is a position in the journal returned by Journal.Mark.
type Mark int64

// Mark returns the current end of the journal. Entries recorded after it
// can be undone with RollbackTo.
func (j *Journal) Mark() (Mark, error) {
	info, err := os.Stat(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrAccess, j.path, err)
	}
	return Mark(info.Size()), nil
}

// RollbackTo undoes the mutations recorded after m, newest first, and cuts
// the journal back to m. Entries before m stay pending.
func (j *Journal) RollbackTo(m Mark) error {
	if m == 0 {
		return j.Rollback()
	}
	data, err := j.read()
	if err != nil {
		return err
	}
	if int64(m) > int64(len(data)) {
		return fmt.Errorf("%w: mark %d past journal end %d", ErrCorrupt, m, len(data))
	}
	entries, err := j.decode(data[m:])
	if err != nil {
		return err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		if err := undo(entries[i]); err != nil {
			return fmt.Errorf("undo %s of %q: %w", entries[i].Kind, entries[i].Path, err)
		}
	}
	if err := os.Truncate(j.path, int64(m)); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrAccess, j.path, err)
	}
	if len(entries) > 0 {
		j.logger.Debug("journal rolled back to mark", "path", j.path, "mark", int64(m), "entries", len(entries))
	}
	return nil
}

// Pending reports whether the journal holds entries that were neither
// committed nor rolled back.
func (j *Journal) Pending() (bool, error) {
	entries, err := j.Entries()
	return len(entries) > 0, err
}

// Commit forgets every recorded entry.
func (j *Journal) Commit() error {
	if err := os.Remove(j.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %q: %v", ErrAccess, j.path, err)
	}
	return nil
}

// Rollback undoes every recorded mutation, newest first, then removes the
// journal. Overwritten bytes are restored, appended archives are truncated
// and created archives are removed.
func (j *Journal) Rollback() error {
	entries, err := j.Entries()
	if err != nil {
		return err
	}

	for i := len(entries) - 1; i >= 0; i-- {
		if err := undo(entries[i]); err != nil {
			return fmt.Errorf("undo %s of %q: %w", entries[i].Kind, entries[i].Path, err)
		}
	}
	if len(entries) > 0 {
		j.logger.Info("journal rolled back", "path", j.path, "entries", len(entries))
	}
	return j.Commit()
}

func undo(e Entry) error {
	switch e.Kind {
	case KindCreate:
		if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrAccess, err)
		}
	case KindAppend:
		info, err := os.Stat(e.Path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAccess, err)
		}
		if info.Size() > e.Offset {
			if err := os.Truncate(e.Path, e.Offset); err != nil {
				return fmt.Errorf("%w: %v", ErrAccess, err)
			}
		}
	case KindOverwrite:
		f, err := os.OpenFile(e.Path, os.O_WRONLY, 0)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAccess, err)
		}
		defer func() { _ = f.Close() }()
		if _, err := f.WriteAt(e.Prior, e.Offset); err != nil {
			return fmt.Errorf("%w: %v", ErrAccess, err)
		}
	}
	return nil
}
