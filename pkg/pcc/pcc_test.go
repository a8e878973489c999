package pcc

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/goopsie/metexpatch/pkg/game"
)

func fixedData(data []byte) ExportDataFunc {
	return func(uint32) ([]byte, error) { return data, nil }
}

func writeTestPackage(t *testing.T, g game.Game, exports map[string][]byte, order []string) string {
	t.Helper()

	b := NewBuilder(g)
	tex := b.AddClassImport("Texture2D")
	for _, name := range order {
		b.AddExport(tex, name, fixedData(exports[name]))
	}
	path := filepath.Join(t.TempDir(), "Test.pcc")
	if err := b.WriteFile(path); err != nil {
		t.Fatalf("write package: %v", err)
	}
	return path
}

func TestOpen(t *testing.T) {
	for _, g := range []game.Game{game.ME1, game.ME2, game.ME3} {
		t.Run(g.String(), func(t *testing.T) {
			path := writeTestPackage(t, g, map[string][]byte{
				"Rock_Diff": []byte("diffuse"),
				"Rock_Norm": []byte("normal map"),
			}, []string{"Rock_Diff", "Rock_Norm"})

			p, err := Open(path)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if p.Game() != g {
				t.Errorf("Game: got %v, want %v", p.Game(), g)
			}
			if p.ExportCount() != 2 {
				t.Fatalf("ExportCount: got %d, want 2", p.ExportCount())
			}

			name, err := p.ObjectName(1)
			if err != nil || name != "Rock_Norm" {
				t.Errorf("ObjectName(1): got %q, %v", name, err)
			}
			class, err := p.ClassName(0)
			if err != nil || class != "Texture2D" {
				t.Errorf("ClassName(0): got %q, %v", class, err)
			}

			data, err := p.ExportData(1)
			if err != nil {
				t.Fatalf("ExportData: %v", err)
			}
			if string(data) != "normal map" {
				t.Errorf("ExportData: got %q", data)
			}

			if got := p.FindExports("Texture2D"); len(got) != 2 {
				t.Errorf("FindExports: got %v", got)
			}
			if got := p.FindExports("Material"); len(got) != 0 {
				t.Errorf("FindExports(Material): got %v", got)
			}
		})
	}
}

func TestOpenErrors(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope.pcc"))
		if !errors.Is(err, errs.ErrIO) {
			t.Errorf("expected io error, got %v", err)
		}
	})

	t.Run("BadMagic", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.pcc")
		if err := os.WriteFile(path, bytes.Repeat([]byte{0xAB}, 64), 0644); err != nil {
			t.Fatal(err)
		}
		_, err := Open(path)
		if !errors.Is(err, errs.ErrFormat) {
			t.Errorf("expected format error, got %v", err)
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		path := writeTestPackage(t, game.ME3, map[string][]byte{"A": []byte("abc")}, []string{"A"})
		data, _ := os.ReadFile(path)
		if err := os.WriteFile(path, data[:40], 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(path); !errors.Is(err, ErrMalformed) {
			t.Errorf("expected malformed, got %v", err)
		}
	})

	t.Run("HeaderOnly", func(t *testing.T) {
		path := writeTestPackage(t, game.ME2, map[string][]byte{"A": []byte("abc")}, []string{"A"})
		p, err := Open(path, WithHeaderOnly())
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if _, err := p.Export(0); !errors.Is(err, ErrHeaderOnly) {
			t.Errorf("expected ErrHeaderOnly, got %v", err)
		}
		if _, ok := p.FindName("A"); !ok {
			t.Error("name table not parsed")
		}
	})
}

func TestOpenPackageFlags(t *testing.T) {
	write := func(t *testing.T, flags uint32) string {
		t.Helper()
		b := NewBuilder(game.ME3)
		b.SetFlags(flags)
		b.AddExport(b.AddClassImport("Texture2D"), "A", fixedData([]byte("cooked data")))
		path := filepath.Join(t.TempDir(), "Flags.pcc")
		if err := b.WriteFile(path); err != nil {
			t.Fatalf("write package: %v", err)
		}
		return path
	}

	t.Run("Cooked", func(t *testing.T) {
		path := write(t, FlagCooked)
		p, err := Open(path)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if p.Header().Flags&FlagCooked == 0 {
			t.Errorf("Flags: got 0x%x", p.Header().Flags)
		}
		if p.ExportCount() != 1 {
			t.Fatalf("ExportCount: got %d, want 1", p.ExportCount())
		}
		if data, err := p.ExportData(0); err != nil || string(data) != "cooked data" {
			t.Errorf("ExportData: got %q, %v", data, err)
		}

		idx := p.AddName("TFCFileGuid")
		if err := p.Save(); err != nil {
			t.Fatalf("save: %v", err)
		}
		q, err := Open(path)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		if got, ok := q.FindName("TFCFileGuid"); !ok || got != idx {
			t.Errorf("FindName: got %d, %v, want %d", got, ok, idx)
		}
		if q.ExportCount() != 1 {
			t.Errorf("ExportCount after save: got %d", q.ExportCount())
		}
		if q.Header().Flags != p.Header().Flags {
			t.Errorf("Flags after save: got 0x%x", q.Header().Flags)
		}
	})

	t.Run("Compressed", func(t *testing.T) {
		path := write(t, FlagCompressed)
		_, err := Open(path)
		if !errors.Is(err, ErrCompressed) {
			t.Errorf("expected ErrCompressed, got %v", err)
		}
		if !errors.Is(err, errs.ErrFormat) {
			t.Errorf("expected format error, got %v", err)
		}
	})
}

func TestSetExportData(t *testing.T) {
	path := writeTestPackage(t, game.ME3, map[string][]byte{
		"A": []byte("0123456789"),
		"B": []byte("tail"),
	}, []string{"A", "B"})

	p, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	info, _ := os.Stat(path)
	end := uint32(info.Size())
	a, _ := p.Export(0)
	orig := a.DataOffset

	t.Run("FitsKeepsOffset", func(t *testing.T) {
		off, err := p.PlanExportOffset(0, 10)
		if err != nil || off != orig {
			t.Errorf("PlanExportOffset: got 0x%x, %v, want 0x%x", off, err, orig)
		}
		if err := p.SetExportData(0, []byte("short")); err != nil {
			t.Fatal(err)
		}
		if a.DataOffset != orig || a.DataSize != 5 {
			t.Errorf("entry: got offset 0x%x size %d", a.DataOffset, a.DataSize)
		}
	})

	t.Run("GrowthAppends", func(t *testing.T) {
		off, err := p.PlanExportOffset(0, 20)
		if err != nil || off != end {
			t.Errorf("PlanExportOffset: got 0x%x, %v, want 0x%x", off, err, end)
		}
		if a.DataOffset != orig {
			t.Error("PlanExportOffset mutated the entry")
		}
		if err := p.SetExportData(0, bytes.Repeat([]byte{'x'}, 20)); err != nil {
			t.Fatal(err)
		}
		if a.DataOffset != end {
			t.Errorf("DataOffset: got 0x%x, want 0x%x", a.DataOffset, end)
		}
		// The appended slot is reused by a later write that fits.
		off, _ = p.PlanExportOffset(0, 15)
		if off != end {
			t.Errorf("reuse: got 0x%x, want 0x%x", off, end)
		}
	})

	t.Run("Save", func(t *testing.T) {
		idx := p.AddName("SomeNewName")
		if err := p.Save(); err != nil {
			t.Fatalf("save: %v", err)
		}
		if p.Dirty() {
			t.Error("package still dirty after save")
		}

		q, err := Open(path)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		data, err := q.ExportData(0)
		if err != nil || !bytes.Equal(data, bytes.Repeat([]byte{'x'}, 20)) {
			t.Errorf("export A: got %q, %v", data, err)
		}
		data, err = q.ExportData(1)
		if err != nil || string(data) != "tail" {
			t.Errorf("export B: got %q, %v", data, err)
		}
		if got, ok := q.FindName("SomeNewName"); !ok || got != idx {
			t.Errorf("FindName: got %d, %v, want %d", got, ok, idx)
		}

		// The saved package keeps working without a reopen.
		data, err = p.ExportData(0)
		if err != nil || len(data) != 20 {
			t.Errorf("post-save ExportData: got %d bytes, %v", len(data), err)
		}
	})
}

func TestAddName(t *testing.T) {
	path := writeTestPackage(t, game.ME1, map[string][]byte{"A": nil}, []string{"A"})
	p, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	existing, _ := p.FindName("A")
	if got := p.AddName("A"); got != existing {
		t.Errorf("AddName(existing): got %d, want %d", got, existing)
	}
	if p.Dirty() {
		t.Error("adding an existing name made the package dirty")
	}
	i := p.AddName("TFCFileGuid")
	if name, _ := p.Name(i); name != "TFCFileGuid" {
		t.Errorf("Name(%d): got %q", i, name)
	}
	if !p.Dirty() {
		t.Error("expected dirty after new name")
	}
}

func TestFString(t *testing.T) {
	for _, s := range []string{"", "Texture2D", "Ünïcode"} {
		buf := appendFString(nil, s)
		r := newTableReader(bytes.NewReader(buf), 0, int64(len(buf)))
		if got := r.fstring(); got != s || r.err != nil {
			t.Errorf("fstring %q: got %q, %v", s, got, r.err)
		}
	}
}

func TestBuilderSizeMismatch(t *testing.T) {
	b := NewBuilder(game.ME3)
	calls := 0
	b.AddExport(b.AddClassImport("Texture2D"), "A", func(uint32) ([]byte, error) {
		calls++
		return make([]byte, calls), nil
	})
	if _, err := b.Build(); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestCache(t *testing.T) {
	path := writeTestPackage(t, game.ME3, map[string][]byte{"A": []byte("abc")}, []string{"A"})
	c := NewCache(nil)

	p1, err := c.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := c.Open(filepath.Join(filepath.Dir(path), ".", filepath.Base(path)))
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Error("expected the same package instance")
	}
	if c.Len() != 1 {
		t.Errorf("Len: got %d, want 1", c.Len())
	}

	if err := p1.SetExportData(0, []byte("xyz")); err != nil {
		t.Fatal(err)
	}
	saved, err := c.SaveAll()
	if err != nil || len(saved) != 1 {
		t.Fatalf("SaveAll: got %v, %v", saved, err)
	}

	c.Discard()
	if c.Len() != 0 {
		t.Errorf("Len after Discard: got %d", c.Len())
	}
	p3, _ := c.Open(path)
	if data, _ := p3.ExportData(0); string(data) != "xyz" {
		t.Errorf("after reopen: got %q", data)
	}
}

func TestCacheClose(t *testing.T) {
	path := writeTestPackage(t, game.ME3, map[string][]byte{"A": []byte("abc")}, []string{"A"})
	c := NewCache(nil)
	p1, _ := c.Open(path)
	if err := p1.SetExportData(0, []byte("zz")); err != nil {
		t.Fatal(err)
	}
	if got := c.Paths(); len(got) != 1 {
		t.Fatalf("Paths: got %v", got)
	}
	c.Close(path)
	p2, err := c.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if p1 == p2 {
		t.Error("expected a fresh package after Close")
	}
	if data, _ := p2.ExportData(0); string(data) != "abc" {
		t.Errorf("staged data leaked: got %q", data)
	}
}

func TestSnapshotRestore(t *testing.T) {
	path := writeTestPackage(t, game.ME2, map[string][]byte{
		"A": []byte("0123"),
		"B": []byte("tail"),
	}, []string{"A", "B"})
	p, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.SetExportData(1, []byte("ta")); err != nil {
		t.Fatal(err)
	}
	a, _ := p.Export(0)
	offset, size := a.DataOffset, a.DataSize
	names := p.AddName("Kept")

	snap := p.Snapshot()
	if err := p.SetExportData(0, bytes.Repeat([]byte{'x'}, 64)); err != nil {
		t.Fatal(err)
	}
	if err := p.SetExportData(1, []byte("changed")); err != nil {
		t.Fatal(err)
	}
	p.AddName("Dropped")
	p.Restore(snap)

	if a.Dirty() || a.DataOffset != offset || a.DataSize != size {
		t.Errorf("export A: dirty %v offset 0x%x size %d", a.Dirty(), a.DataOffset, a.DataSize)
	}
	if data, _ := p.ExportData(1); string(data) != "ta" {
		t.Errorf("export B: got %q, want staged data from before the snapshot", data)
	}
	if _, ok := p.FindName("Dropped"); ok {
		t.Error("name added after the snapshot survived Restore")
	}
	if got, ok := p.FindName("Kept"); !ok || got != names {
		t.Errorf("FindName(Kept): got %d, %v", got, ok)
	}
	// Space freed by the restore is handed out again.
	info, _ := os.Stat(path)
	if off, _ := p.PlanExportOffset(0, 64); off != uint32(info.Size()) {
		t.Errorf("PlanExportOffset: got 0x%x, want 0x%x", off, info.Size())
	}
	if got := p.AddName("Other"); got != names+1 {
		t.Errorf("AddName after Restore: got %d, want %d", got, names+1)
	}

	if err := p.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}
	q, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if data, _ := q.ExportData(0); string(data) != "0123" {
		t.Errorf("saved export A: got %q", data)
	}
	if data, _ := q.ExportData(1); string(data) != "ta" {
		t.Errorf("saved export B: got %q", data)
	}
}

func TestCacheRelativePath(t *testing.T) {
	path := writeTestPackage(t, game.ME3, map[string][]byte{
		"A": []byte("aaaa"),
		"B": []byte("bbbb"),
	}, []string{"A", "B"})
	c := NewCache(nil)

	p1, err := c.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Chdir(filepath.Dir(path))
	p2, err := c.Open(filepath.Base(path))
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Error("relative and absolute paths opened two packages")
	}
	if !filepath.IsAbs(p2.Path()) {
		t.Errorf("Path: got %q, want an absolute path", p2.Path())
	}

	link := filepath.Join(t.TempDir(), "Link.pcc")
	if err := os.Symlink(path, link); err == nil {
		p3, err := c.Open(link)
		if err != nil {
			t.Fatal(err)
		}
		if p3 != p1 {
			t.Error("symlink opened a second package")
		}
	}
	if c.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", c.Len())
	}

	// Growing both exports through either name must not hand out the same
	// end-of-file slot twice.
	if err := p1.SetExportData(0, []byte("grown-export-A")); err != nil {
		t.Fatal(err)
	}
	if err := p2.SetExportData(1, []byte("grown-export-B")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SaveAll(); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
	q, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if data, _ := q.ExportData(0); string(data) != "grown-export-A" {
		t.Errorf("export A: got %q", data)
	}
	if data, _ := q.ExportData(1); string(data) != "grown-export-B" {
		t.Errorf("export B: got %q", data)
	}

	c.Close(filepath.Base(path))
	if c.Len() != 0 {
		t.Errorf("Len after relative Close: got %d", c.Len())
	}
}
