package texture

import (
	"fmt"

	"github.com/goopsie/metexpatch/pkg/codec"
	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/goopsie/metexpatch/pkg/game"
)

// minExternalMipsME2 is the smallest external ME2 chain that accepts new
// mip sizes.
const minExternalMipsME2 = 6

var (
	// ErrNeedsMipmaps indicates a single-mip source for a texture with a
	// mip chain.
	ErrNeedsMipmaps = fmt.Errorf("image must have mipmaps: %w", errs.ErrPrecondition)

	// ErrFormatMismatch indicates a source image in another pixel format
	// than the texture.
	ErrFormatMismatch = fmt.Errorf("image does not match texture format: %w", errs.ErrPrecondition)

	// ErrExternalME1 indicates an ME1 texture whose mips live in other
	// packages.
	ErrExternalME1 = fmt.Errorf("ME1 texture with external mips: %w", errs.ErrPrecondition)
)

// Planned is one mip of a replacement chain with its resolved storage.
type Planned struct {
	Image   *codec.MipImage
	Storage Storage

	// Prior is the existing descriptor of the same size, or nil.
	Prior *MipMap
}

// SelectMips checks src against t and returns the mip chain to install.
// Empty descriptors are dropped from t first. Source mips larger than the
// texture's top mip are kept; smaller ones without a matching descriptor
// are dropped. Existing mips the source lacks are taken over from t, reading
// external payloads through read. Nothing is written.
func SelectMips(t *Texture, src *codec.SourceImage, read ExternalReader) (*codec.SourceImage, error) {
	t.PruneEmpty()
	if len(t.Mips) == 0 {
		return nil, fmt.Errorf("%w: texture has no mips", ErrMalformed)
	}

	if len(t.Mips) > 1 && len(src.Mips) <= 1 {
		return nil, ErrNeedsMipmaps
	}

	format, err := t.PixelFormat()
	if err != nil {
		return nil, err
	}
	if src.Format != format {
		return nil, fmt.Errorf("%w: image is %s, texture is %s", ErrFormatMismatch, src.Format, format)
	}

	if t.Game == game.ME1 && t.HasExternal() {
		return nil, ErrExternalME1
	}

	chain := src.Clone()
	chain.DropEmpty()
	ceiling := t.Top().Pixels()

	kept := chain.Mips[:0]
	for _, m := range chain.Mips {
		if m.Pixels() > ceiling {
			kept = append(kept, m)
			continue
		}
		if _, ok := t.Mip(m.OrigWidth, m.OrigHeight); ok {
			kept = append(kept, m)
		}
	}
	chain.Mips = kept

	for _, existing := range t.Mips {
		if existing.Pixels() > ceiling {
			continue
		}
		if _, ok := chain.Find(existing.Width, existing.Height); ok {
			continue
		}
		data, err := t.MipData(existing, read)
		if err != nil {
			return nil, fmt.Errorf("reuse %dx%d mip: %w", existing.Width, existing.Height, err)
		}
		mip, err := codec.NewMipImage(data, existing.Width, existing.Height, format)
		if err != nil {
			return nil, fmt.Errorf("reuse %dx%d mip: %w", existing.Width, existing.Height, err)
		}
		chain.Mips = append(chain.Mips, mip)
	}

	chain.SortMips()
	return chain, nil
}

// ResolveStorage assigns a storage type to every mip of chain. archivePath
// is the archive the texture will use, empty when it has none.
//
// A mip that exists in t keeps its storage type. A new mip inherits the top
// mip's type, except for archived multi-mip textures: ME2 stores them as
// external zlib and drops new sizes entirely when the chain has fewer than
// six mips; ME3 stores them uncompressed in DLC archives and as zlib
// elsewhere. LZO always becomes zlib. A single-mip texture stays single.
func ResolveStorage(t *Texture, chain *codec.SourceImage, archivePath string) []Planned {
	_, archived := t.ArchiveName()
	archived = archived && len(t.Mips) > 1
	top := t.Top()

	var out []Planned
	for _, img := range chain.Mips {
		p := Planned{Image: img}
		if prior, ok := t.Mip(img.OrigWidth, img.OrigHeight); ok {
			p.Prior = prior
			p.Storage = prior.Storage
		} else {
			p.Storage = top.Storage
			switch {
			case t.Game == game.ME2 && archived:
				if len(t.Mips) < minExternalMipsME2 {
					continue
				}
				p.Storage = ExtZlib
			case t.Game == game.ME3 && archived:
				if game.IsDLCPath(archivePath) {
					p.Storage = ExtUnc
				} else {
					p.Storage = ExtZlib
				}
			}
		}
		p.Storage = p.Storage.Normalize()
		out = append(out, p)

		if len(t.Mips) == 1 {
			break
		}
	}
	return out
}
