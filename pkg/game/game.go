// Package game identifies the Mass Effect trilogy variant a package belongs to
// and the directory layout each variant uses.
package game

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goopsie/metexpatch/pkg/errs"
)

// Game is one of the three supported engine variants.
type Game int

const (
	Unknown Game = iota
	ME1
	ME2
	ME3
)

// Package file versions written by each game.
const (
	VersionME1 = 491
	VersionME2 = 512
	VersionME3 = 684
)

// Licensee versions written by each game.
const (
	LicenseeME1 = 1008
	LicenseeME2 = 130
	LicenseeME3 = 194
)

// ErrUnknownGame indicates an unsupported package version or game selector.
var ErrUnknownGame = fmt.Errorf("unknown game: %w", errs.ErrFormat)

func (g Game) String() string {
	switch g {
	case ME1:
		return "ME1"
	case ME2:
		return "ME2"
	case ME3:
		return "ME3"
	default:
		return "unknown"
	}
}

// FromPackageVersion maps a package file version to its game.
func FromPackageVersion(version uint16) (Game, error) {
	switch version {
	case VersionME1:
		return ME1, nil
	case VersionME2:
		return ME2, nil
	case VersionME3:
		return ME3, nil
	default:
		return Unknown, fmt.Errorf("%w: package version %d", ErrUnknownGame, version)
	}
}

// Parse accepts "1", "me1", "ME1" and so on.
func Parse(s string) (Game, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "me1":
		return ME1, nil
	case "2", "me2":
		return ME2, nil
	case "3", "me3":
		return ME3, nil
	default:
		return Unknown, fmt.Errorf("%w: %q", ErrUnknownGame, s)
	}
}

// PackageVersion returns the version and licensee written by g.
func (g Game) PackageVersion() (version, licensee uint16) {
	switch g {
	case ME1:
		return VersionME1, LicenseeME1
	case ME2:
		return VersionME2, LicenseeME2
	default:
		return VersionME3, LicenseeME3
	}
}

// MainDataDir returns the cooked data directory under the game root.
func (g Game) MainDataDir(root string) string {
	switch g {
	case ME3:
		return filepath.Join(root, "BIOGame", "CookedPCConsole")
	default:
		return filepath.Join(root, "BioGame", "CookedPC")
	}
}

// DLCDir returns the DLC directory under the game root.
func (g Game) DLCDir(root string) string {
	switch g {
	case ME1:
		return filepath.Join(root, "DLC")
	case ME2:
		return filepath.Join(root, "BioGame", "DLC")
	default:
		return filepath.Join(root, "BIOGame", "DLC")
	}
}

// IsDLCPath reports whether path lies inside a DLC directory.
func IsDLCPath(path string) bool {
	p := strings.ToLower(filepath.ToSlash(path))
	return strings.HasPrefix(p, "dlc/") || strings.Contains(p, "/dlc/")
}
