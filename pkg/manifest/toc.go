// Package manifest reads and writes the PCConsoleTOC.bin table of contents
// that ME3 consults to validate its package and archive files, and keeps it
// in step with files edited on disk.
package manifest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/goopsie/metexpatch/pkg/errs"
)

// TOCMagic opens every table of contents.
const TOCMagic = 0x3AB70C13

// TOCName is the table of contents file name.
const TOCName = "PCConsoleTOC.bin"

const (
	tocHeaderSize   = 12
	bucketEntrySize = 8
	entryFixedSize  = 28 // size, flags, file size, sha1
)

var (
	// ErrMalformed indicates a table of contents that cannot be parsed.
	ErrMalformed = fmt.Errorf("malformed table of contents: %w", errs.ErrFormat)

	// ErrMissing indicates a table of contents file that does not exist.
	ErrMissing = fmt.Errorf("table of contents missing: %w", errs.ErrIO)

	// ErrAccess indicates a table of contents that could not be read or written.
	ErrAccess = fmt.Errorf("table of contents access: %w", errs.ErrIO)
)

// TOC is a parsed table of contents.
type TOC struct {
	Buckets []Bucket
}

// Bucket is one hash bucket of entries.
type Bucket struct {
	Entries []Entry
}

// Entry describes one game file.
type Entry struct {
	Flags uint16
	Size  uint32
	SHA1  [20]byte
	Name  string // Backslash separated, relative to the TOC's root
}

func (e *Entry) encodedSize() int {
	n := entryFixedSize + len(e.Name) + 1
	return (n + 3) &^ 3
}

// EntryCount returns the number of entries in all buckets.
func (t *TOC) EntryCount() int {
	n := 0
	for _, b := range t.Buckets {
		n += len(b.Entries)
	}
	return n
}

// UnmarshalBinary decodes a table of contents.
func (t *TOC) UnmarshalBinary(data []byte) error {
	if len(data) < tocHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != TOCMagic {
		return fmt.Errorf("%w: bad magic 0x%08x", ErrMalformed, magic)
	}
	count := int(binary.LittleEndian.Uint32(data[8:12]))
	if count > (len(data)-tocHeaderSize)/bucketEntrySize {
		return fmt.Errorf("%w: %d buckets in %d bytes", ErrMalformed, count, len(data))
	}

	t.Buckets = make([]Bucket, count)
	for i := range t.Buckets {
		field := tocHeaderSize + i*bucketEntrySize
		rel := int(binary.LittleEndian.Uint32(data[field:]))
		n := int(binary.LittleEndian.Uint32(data[field+4:]))
		if n == 0 {
			continue
		}

		pos := field + rel
		for j := 0; j < n; j++ {
			if pos < 0 || pos+entryFixedSize > len(data) {
				return fmt.Errorf("%w: bucket %d entry %d at 0x%x", ErrMalformed, i, j, pos)
			}
			var e Entry
			e.Flags = binary.LittleEndian.Uint16(data[pos+2:])
			e.Size = binary.LittleEndian.Uint32(data[pos+4:])
			copy(e.SHA1[:], data[pos+8:pos+28])
			end := bytes.IndexByte(data[pos+entryFixedSize:], 0)
			if end < 0 {
				return fmt.Errorf("%w: unterminated name at 0x%x", ErrMalformed, pos)
			}
			e.Name = string(data[pos+entryFixedSize : pos+entryFixedSize+end])
			t.Buckets[i].Entries = append(t.Buckets[i].Entries, e)
			pos += e.encodedSize()
		}
	}
	return nil
}

// MarshalBinary encodes the table of contents. The last entry of each
// bucket has an entry size of zero.
func (t *TOC) MarshalBinary() ([]byte, error) {
	buf := make([]byte, tocHeaderSize+bucketEntrySize*len(t.Buckets))
	binary.LittleEndian.PutUint32(buf[0:4], TOCMagic)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(t.Buckets)))

	for i, b := range t.Buckets {
		field := tocHeaderSize + i*bucketEntrySize
		if len(b.Entries) == 0 {
			continue
		}
		binary.LittleEndian.PutUint32(buf[field:], uint32(len(buf)-field))
		binary.LittleEndian.PutUint32(buf[field+4:], uint32(len(b.Entries)))

		for j := range b.Entries {
			e := &b.Entries[j]
			size := e.encodedSize()
			if size > 0xFFFF {
				return nil, fmt.Errorf("%w: name too long: %q", ErrMalformed, e.Name)
			}
			entry := make([]byte, size)
			if j < len(b.Entries)-1 {
				binary.LittleEndian.PutUint16(entry[0:], uint16(size))
			}
			binary.LittleEndian.PutUint16(entry[2:], e.Flags)
			binary.LittleEndian.PutUint32(entry[4:], e.Size)
			copy(entry[8:28], e.SHA1[:])
			copy(entry[entryFixedSize:], e.Name)
			buf = append(buf, entry...)
		}
	}
	return buf, nil
}

// Find returns the entry for name, compared case-insensitively with either
// separator.
func (t *TOC) Find(name string) (*Entry, bool) {
	name = normalizeName(name)
	for i := range t.Buckets {
		for j := range t.Buckets[i].Entries {
			e := &t.Buckets[i].Entries[j]
			if strings.EqualFold(e.Name, name) {
				return e, true
			}
		}
	}
	return nil, false
}

// UpdateFile sets the size recorded for name. A missing entry is added to
// the last bucket. It reports whether the entry was added.
func (t *TOC) UpdateFile(name string, size uint32) bool {
	if e, ok := t.Find(name); ok {
		e.Size = size
		return false
	}
	if len(t.Buckets) == 0 {
		t.Buckets = append(t.Buckets, Bucket{})
	}
	last := &t.Buckets[len(t.Buckets)-1]
	last.Entries = append(last.Entries, Entry{Name: normalizeName(name), Size: size})
	return true
}

func normalizeName(name string) string {
	return strings.ReplaceAll(filepath.ToSlash(name), "/", `\`)
}

// ReadFile reads and parses a table of contents.
func ReadFile(path string) (*TOC, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrAccess, path, err)
	}

	toc := &TOC{}
	if err := toc.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("parse %q: %w", path, err)
	}
	return toc, nil
}

// WriteFile writes a table of contents through a temporary file.
func WriteFile(path string, t *TOC) error {
	data, err := t.MarshalBinary()
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrAccess, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %q: %v", ErrAccess, path, err)
	}
	return nil
}
