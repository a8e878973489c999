// Package config resolves the game installation a command operates on.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goopsie/metexpatch/internal/logging"
	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/goopsie/metexpatch/pkg/game"
	"github.com/goopsie/metexpatch/pkg/journal"
)

// Environment variables read by Load.
const (
	EnvGame     = "METEXPATCH_GAME"
	EnvGamePath = "METEXPATCH_GAME_PATH"
)

var (
	// ErrNoGame indicates that neither a flag nor the environment selected a game.
	ErrNoGame = errors.New("no game selected: use --game or " + EnvGame)

	// ErrGamePath indicates a missing or unusable game directory.
	ErrGamePath = fmt.Errorf("game path: %w", errs.ErrIO)
)

// Config describes one game installation.
type Config struct {
	Game        game.Game
	GamePath    string
	MainDataDir string
	DLCDir      string
	JournalPath string
	LogLevel    string
	LogJSON     bool
}

// Load builds a Config. Empty arguments fall back to the environment.
func Load(gameSel, gamePath string) (*Config, error) {
	if gameSel == "" {
		gameSel = os.Getenv(EnvGame)
	}
	if gameSel == "" {
		return nil, ErrNoGame
	}
	g, err := game.Parse(gameSel)
	if err != nil {
		return nil, err
	}

	if gamePath == "" {
		gamePath = os.Getenv(EnvGamePath)
	}
	if gamePath == "" {
		return nil, fmt.Errorf("%w: use --game-path or %s", ErrGamePath, EnvGamePath)
	}
	abs, err := filepath.Abs(gamePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrGamePath, gamePath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrGamePath, abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", ErrGamePath, abs)
	}

	return &Config{
		Game:        g,
		GamePath:    abs,
		MainDataDir: g.MainDataDir(abs),
		DLCDir:      g.DLCDir(abs),
		JournalPath: filepath.Join(abs, journal.DefaultName),
		LogLevel:    logging.GetLogLevel(),
		LogJSON:     logging.JSONEnabled(),
	}, nil
}

// Resolve turns a location relative to the game root into an absolute path.
func (c *Config) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.GamePath, path)
}
