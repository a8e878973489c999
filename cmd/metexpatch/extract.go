package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goopsie/metexpatch/pkg/codec"
	"github.com/goopsie/metexpatch/pkg/pcc"
	"github.com/goopsie/metexpatch/pkg/texture"
	"github.com/goopsie/metexpatch/pkg/tfc"
	"github.com/spf13/cobra"
)

func newExtractCmd() *cobra.Command {
	var stripAlpha bool

	cmd := &cobra.Command{
		Use:   "extract PACKAGE EXPORT OUTPUT",
		Short: "Write a texture to a PNG (top mip) or DDS (full chain) file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("bad export index %q", args[1])
			}
			img, err := readTexture(args[0], idx)
			if err != nil {
				return err
			}
			return writeImage(args[2], img, stripAlpha)
		},
	}

	cmd.Flags().BoolVar(&stripAlpha, "strip-alpha", false, "Force alpha to opaque in PNG output")
	return cmd
}

// readTexture loads every mip of a texture export. External mips need the
// game configuration to locate their archive.
func readTexture(path string, idx int) (*codec.SourceImage, error) {
	p, err := pcc.Open(path, pcc.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	data, err := p.ExportData(idx)
	if err != nil {
		return nil, err
	}
	tex, err := texture.Parse(data, p, p.Game())
	if err != nil {
		return nil, err
	}
	tex.PruneEmpty()
	format, err := tex.PixelFormat()
	if err != nil {
		return nil, err
	}

	var read texture.ExternalReader
	if name, ok := tex.ArchiveName(); ok && tex.HasExternal() {
		cfg, err := loadConfig()
		if err != nil {
			return nil, fmt.Errorf("texture uses archive %s: %w", name, err)
		}
		store, err := tfc.New(cfg.Game, cfg.MainDataDir, tfc.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		read = store.Reader(store.ResolvePath(name, p.Path()))
	}

	img := &codec.SourceImage{Format: format, HasAlpha: format.HasAlpha()}
	for _, m := range tex.Mips {
		raw, err := tex.MipData(m, read)
		if err != nil {
			return nil, fmt.Errorf("mip %dx%d: %w", m.Width, m.Height, err)
		}
		mip, err := codec.NewMipImage(raw, m.Width, m.Height, format)
		if err != nil {
			return nil, fmt.Errorf("mip %dx%d: %w", m.Width, m.Height, err)
		}
		img.Mips = append(img.Mips, mip)
	}
	return img, nil
}

func writeImage(path string, img *codec.SourceImage, stripAlpha bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		top := img.Top()
		err = codec.ConvertToPNG(f, top.Data, top.Width, top.Height, img.Format, stripAlpha)
	case ".dds":
		err = codec.WriteDDS(f, img)
	default:
		err = fmt.Errorf("%w: %q", codec.ErrUnsupportedFile, path)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Wrote %s (%s, %d mips)\n", path, img.Format, len(img.Mips))
	return f.Close()
}
