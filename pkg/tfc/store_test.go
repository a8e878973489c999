package tfc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/goopsie/metexpatch/pkg/game"
)

type recorder struct {
	calls []string
}

func (r *recorder) RecordCreate(path string) error {
	r.calls = append(r.calls, "create "+filepath.Base(path))
	return nil
}

func (r *recorder) RecordAppend(path string, priorSize int64) error {
	r.calls = append(r.calls, fmt.Sprintf("append %s %d", filepath.Base(path), priorSize))
	return nil
}

func (r *recorder) RecordOverwrite(path string, offset int64, prior []byte) error {
	r.calls = append(r.calls, fmt.Sprintf("overwrite %s %d %d", filepath.Base(path), offset, len(prior)))
	return nil
}

func newStore(t *testing.T, g game.Game, opts ...Option) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(g, dir, opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, dir
}

// writeArchive creates an archive with the given GUID and payload.
func writeArchive(t *testing.T, path string, guid [16]byte, payload []byte) {
	t.Helper()
	if err := os.WriteFile(path, append(guid[:], payload...), 0644); err != nil {
		t.Fatal(err)
	}
}

// growArchive extends an archive to size without writing data.
func growArchive(t *testing.T, path string, guid [16]byte, size int64) {
	t.Helper()
	writeArchive(t, path, guid, nil)
	if err := os.Truncate(path, size); err != nil {
		t.Skipf("sparse files unsupported: %v", err)
	}
}

func TestFits(t *testing.T) {
	tests := []struct {
		size, payload int64
		want          bool
	}{
		{HeaderSize, 1 << 20, true},
		{Ceiling - Margin, 0, true},
		{Ceiling - Margin, 1, false},
		{0x7E000000, 0x2000000, false},
	}
	for _, tt := range tests {
		if got := Fits(tt.size, tt.payload); got != tt.want {
			t.Errorf("Fits(0x%x, 0x%x): got %v, want %v", tt.size, tt.payload, got, tt.want)
		}
	}
}

func TestReserve(t *testing.T) {
	t.Run("KeepsHintWithRoom", func(t *testing.T) {
		s, dir := newStore(t, game.ME3)
		hint := Ref{Name: "Textures", GUID: [16]byte{1}, Path: filepath.Join(dir, "Textures.tfc")}
		writeArchive(t, hint.Path, hint.GUID, make([]byte, 100))

		got, err := s.Reserve(hint, 1000)
		if err != nil {
			t.Fatal(err)
		}
		if got != hint {
			t.Errorf("got %+v, want hint", got)
		}
	})

	t.Run("MissingHint", func(t *testing.T) {
		s, dir := newStore(t, game.ME3)
		_, err := s.Reserve(Ref{Name: "Textures", Path: filepath.Join(dir, "Textures.tfc")}, 10)
		if !errors.Is(err, errs.ErrIO) {
			t.Errorf("expected io error, got %v", err)
		}
	})

	t.Run("RotatesToNewArchive", func(t *testing.T) {
		rec := &recorder{}
		s, dir := newStore(t, game.ME3, WithRecorder(rec))
		full := filepath.Join(dir, "Texture2D.tfc")
		growArchive(t, full, Catalog[0].GUID, 0x7E000000)

		got, err := s.Reserve(Ref{Name: "Texture2D", GUID: Catalog[0].GUID, Path: full}, 0x2000000)
		if err != nil {
			t.Fatal(err)
		}
		if got.Name != "IntProperty" || got.GUID != Catalog[1].GUID || !got.Created {
			t.Errorf("got %+v", got)
		}
		header, err := os.ReadFile(got.Path)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(header, Catalog[1].GUID[:]) {
			t.Errorf("header: got %x", header)
		}
		if len(rec.calls) != 1 || rec.calls[0] != "create IntProperty.tfc" {
			t.Errorf("journal: got %v", rec.calls)
		}
	})

	t.Run("BindsExistingCatalogArchive", func(t *testing.T) {
		s, dir := newStore(t, game.ME3)
		writeArchive(t, filepath.Join(dir, "Texture2D.tfc"), Catalog[0].GUID, make([]byte, 64))

		got, err := s.Reserve(Ref{}, 100)
		if err != nil {
			t.Fatal(err)
		}
		if got.Name != "Texture2D" || got.Created {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("CapacityExhausted", func(t *testing.T) {
		s, dir := newStore(t, game.ME3)
		for _, e := range Catalog {
			growArchive(t, filepath.Join(dir, e.Name+Ext), e.GUID, Ceiling-Margin)
		}
		_, err := s.Reserve(Ref{}, 1)
		if !errors.Is(err, ErrCapacity) || !errors.Is(err, errs.ErrCapacity) {
			t.Errorf("expected capacity error, got %v", err)
		}
	})
}

func TestPlace(t *testing.T) {
	guid := [16]byte{7}
	setup := func(t *testing.T) (*Store, *recorder, Ref) {
		rec := &recorder{}
		s, dir := newStore(t, game.ME3, WithRecorder(rec))
		ref := Ref{Name: "Textures", GUID: guid, Path: filepath.Join(dir, "Textures.tfc")}
		writeArchive(t, ref.Path, guid, bytes.Repeat([]byte{0xEE}, 100))
		return s, rec, ref
	}
	size := func(t *testing.T, path string) int64 {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		return info.Size()
	}

	t.Run("InPlace", func(t *testing.T) {
		s, rec, ref := setup(t)
		off, err := s.Place(ref, bytes.Repeat([]byte{1}, 40), &Prior{GUID: guid, Offset: 16, CompressedSize: 50})
		if err != nil {
			t.Fatal(err)
		}
		if off != 16 {
			t.Errorf("offset: got %d, want 16", off)
		}
		if got := size(t, ref.Path); got != 116 {
			t.Errorf("archive grew to %d", got)
		}
		if len(rec.calls) != 1 || rec.calls[0] != "overwrite Textures.tfc 16 40" {
			t.Errorf("journal: got %v", rec.calls)
		}
	})

	t.Run("AppendWhenLarger", func(t *testing.T) {
		s, rec, ref := setup(t)
		off, err := s.Place(ref, make([]byte, 60), &Prior{GUID: guid, Offset: 16, CompressedSize: 50})
		if err != nil {
			t.Fatal(err)
		}
		if off != 116 || size(t, ref.Path) != 176 {
			t.Errorf("offset %d, size %d", off, size(t, ref.Path))
		}
		if len(rec.calls) != 1 || rec.calls[0] != "append Textures.tfc 116" {
			t.Errorf("journal: got %v", rec.calls)
		}
	})

	t.Run("AppendWhenArchiveChanged", func(t *testing.T) {
		s, _, ref := setup(t)
		off, err := s.Place(ref, make([]byte, 10), &Prior{GUID: [16]byte{8}, Offset: 16, CompressedSize: 50})
		if err != nil {
			t.Fatal(err)
		}
		if off != 116 {
			t.Errorf("offset: got %d, want 116", off)
		}
	})

	t.Run("AppendWithoutPrior", func(t *testing.T) {
		s, _, ref := setup(t)
		off, err := s.Place(ref, make([]byte, 10), nil)
		if err != nil || off != 116 {
			t.Errorf("got %d, %v", off, err)
		}
	})

	t.Run("ReadSeesWrites", func(t *testing.T) {
		s, _, ref := setup(t)
		before, err := s.Read(ref.Path, 16, 4)
		if err != nil || !bytes.Equal(before, []byte{0xEE, 0xEE, 0xEE, 0xEE}) {
			t.Fatalf("read: %x, %v", before, err)
		}
		if _, err := s.Place(ref, []byte{1, 2, 3, 4}, &Prior{GUID: guid, Offset: 16, CompressedSize: 4}); err != nil {
			t.Fatal(err)
		}
		after, err := s.Reader(ref.Path)(16, 4)
		if err != nil || !bytes.Equal(after, []byte{1, 2, 3, 4}) {
			t.Errorf("read after write: %x, %v", after, err)
		}
	})
}

func TestRead(t *testing.T) {
	s, dir := newStore(t, game.ME3)
	path := filepath.Join(dir, "Textures.tfc")
	writeArchive(t, path, [16]byte{3}, []byte("payload"))

	if _, err := s.Read(path, 16, 100); !errors.Is(err, ErrRange) {
		t.Errorf("past end: expected ErrRange, got %v", err)
	}
	if _, err := s.Read(path, 4, 2); !errors.Is(err, ErrRange) {
		t.Errorf("inside header: expected ErrRange, got %v", err)
	}
	if _, err := s.Read(filepath.Join(dir, "Nope.tfc"), 16, 1); !errors.Is(err, ErrMissing) {
		t.Errorf("missing: expected ErrMissing, got %v", err)
	}
	guid, err := s.GUID(path)
	if err != nil || guid != [16]byte{3} {
		t.Errorf("GUID: %x, %v", guid, err)
	}
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	main := filepath.Join(root, "BIOGame", "CookedPCConsole")
	dlc := filepath.Join(root, "BIOGame", "DLC", "DLC_CON_END", "CookedPCConsole")
	for _, d := range []string{main, dlc} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	writeArchive(t, filepath.Join(dlc, "Textures_DLC_CON_END.tfc"), [16]byte{}, nil)

	me3, _ := New(game.ME3, main)
	me2, _ := New(game.ME2, main)

	tests := []struct {
		name    string
		store   *Store
		archive string
		pkg     string
		want    string
	}{
		{"Main", me3, "Textures", filepath.Join(main, "BioA_Nor.pcc"), filepath.Join(main, "Textures.tfc")},
		{"DLCLocal", me3, "Textures_DLC_CON_END", filepath.Join(dlc, "BioD_End.pcc"), filepath.Join(dlc, "Textures_DLC_CON_END.tfc")},
		{"DLCMainFallback", me3, "CharTextures", filepath.Join(dlc, "BioD_End.pcc"), filepath.Join(main, "CharTextures.tfc")},
		{"ME2DLCFallback", me2, "CharTextures", filepath.Join(dlc, "BioD_End.pcc"), filepath.Join(main, "Textures.tfc")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.store.ResolvePath(tt.archive, tt.pkg); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
