package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goopsie/metexpatch/pkg/game"
	"github.com/hashicorp/go-hclog"
)

// GameFileExts are the file types listed in a table of contents.
var GameFileExts = []string{".pcc", ".tfc"}

// Updater refreshes the tables of contents of one ME3 installation: the
// main one next to the cooked data and one per DLC directory.
type Updater struct {
	game     game.Game
	gamePath string
	mainDir  string
	dlcDir   string
	logger   hclog.Logger
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithLogger sets the updater's logger.
func WithLogger(logger hclog.Logger) UpdaterOption {
	return func(u *Updater) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// NewUpdater creates an updater. Main entries are named relative to
// gamePath; DLC entries relative to their DLC directory.
func NewUpdater(g game.Game, gamePath, mainDir, dlcDir string, opts ...UpdaterOption) *Updater {
	u := &Updater{
		game:     g,
		gamePath: gamePath,
		mainDir:  mainDir,
		dlcDir:   dlcDir,
		logger:   hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Update rewrites every table of contents with the current file sizes and
// returns the paths it wrote. Games other than ME3 have none. A missing
// table of contents is skipped and reported in the returned error; the
// others are still updated.
func (u *Updater) Update(ctx context.Context) ([]string, error) {
	if u.game != game.ME3 {
		return nil, nil
	}

	var (
		updated []string
		skipped []error
	)
	record := func(path string, err error) error {
		switch {
		case err == nil:
			updated = append(updated, path)
		case errors.Is(err, ErrMissing):
			u.logger.Warn("table of contents missing", "path", path)
			skipped = append(skipped, err)
		default:
			return err
		}
		return nil
	}

	mainTOC := filepath.Join(filepath.Dir(u.mainDir), TOCName)
	if err := record(mainTOC, u.updateOne(mainTOC, u.mainDir, u.gamePath)); err != nil {
		return updated, err
	}

	dlcs, err := os.ReadDir(u.dlcDir)
	if err != nil {
		if os.IsNotExist(err) {
			return updated, errors.Join(skipped...)
		}
		return updated, fmt.Errorf("%w: %q: %v", ErrAccess, u.dlcDir, err)
	}
	for _, d := range dlcs {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(u.dlcDir, d.Name())
		packages, err := ScanFiles(dir, ".pcc")
		if err != nil {
			return updated, fmt.Errorf("%w: scan %q: %v", ErrAccess, dir, err)
		}
		if len(packages) == 0 {
			continue
		}
		toc := filepath.Join(dir, TOCName)
		if err := record(toc, u.updateOne(toc, dir, dir)); err != nil {
			return updated, err
		}
	}
	return updated, errors.Join(skipped...)
}

// updateOne refreshes the table at tocPath with the game files under
// scanRoot, naming them relative to nameRoot.
func (u *Updater) updateOne(tocPath, scanRoot, nameRoot string) error {
	toc, err := ReadFile(tocPath)
	if err != nil {
		return err
	}

	files, err := ScanFiles(scanRoot, GameFileExts...)
	if err != nil {
		return fmt.Errorf("%w: scan %q: %v", ErrAccess, scanRoot, err)
	}

	added := 0
	for _, f := range files {
		name, err := filepath.Rel(nameRoot, f.Path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAccess, err)
		}
		if toc.UpdateFile(name, f.Size) {
			added++
		}
	}
	if err := WriteFile(tocPath, toc); err != nil {
		return err
	}
	u.logger.Info("table of contents updated", "path", tocPath, "files", len(files), "added", added)
	return nil
}
