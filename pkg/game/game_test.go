package game

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/goopsie/metexpatch/pkg/errs"
)

func TestFromPackageVersion(t *testing.T) {
	tests := []struct {
		version uint16
		want    Game
	}{
		{VersionME1, ME1},
		{VersionME2, ME2},
		{VersionME3, ME3},
	}
	for _, tt := range tests {
		got, err := FromPackageVersion(tt.version)
		if err != nil {
			t.Fatalf("version %d: %v", tt.version, err)
		}
		if got != tt.want {
			t.Errorf("version %d: got %v, want %v", tt.version, got, tt.want)
		}
	}

	if _, err := FromPackageVersion(100); !errors.Is(err, errs.ErrFormat) {
		t.Errorf("expected format error, got %v", err)
	}
}

func TestParse(t *testing.T) {
	for _, s := range []string{"3", "me3", "ME3", " Me3 "} {
		g, err := Parse(s)
		if err != nil || g != ME3 {
			t.Errorf("Parse(%q): got %v, %v", s, g, err)
		}
	}
	if _, err := Parse("me4"); err == nil {
		t.Error("expected error for me4")
	}
}

func TestIsDLCPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join("BIOGame", "DLC", "DLC_CON_END", "CookedPCConsole", "Textures_DLC_CON_END.tfc"), true},
		{filepath.Join("DLC", "DLC_UNC", "CookedPC", "x.sfm"), true},
		{filepath.Join("BIOGame", "CookedPCConsole", "Textures.tfc"), false},
		{filepath.Join("BIOGame", "CookedPCConsole", "DLCish.pcc"), false},
	}
	for _, tt := range tests {
		if got := IsDLCPath(tt.path); got != tt.want {
			t.Errorf("IsDLCPath(%q): got %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestDirectories(t *testing.T) {
	root := "/games/me3"
	if got, want := ME3.MainDataDir(root), filepath.Join(root, "BIOGame", "CookedPCConsole"); got != want {
		t.Errorf("MainDataDir: got %q, want %q", got, want)
	}
	if got, want := ME2.DLCDir(root), filepath.Join(root, "BioGame", "DLC"); got != want {
		t.Errorf("DLCDir: got %q, want %q", got, want)
	}
}
