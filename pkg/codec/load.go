package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/bmp"
)

// FileKind is an on-disk image container.
type FileKind int

const (
	KindUnknown FileKind = iota
	KindDDS
	KindTGA
	KindBMP
	KindPNG
	KindJPEG
)

func (k FileKind) String() string {
	switch k {
	case KindDDS:
		return "dds"
	case KindTGA:
		return "tga"
	case KindBMP:
		return "bmp"
	case KindPNG:
		return "png"
	case KindJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// KindFromPath sniffs the container from the file extension.
func KindFromPath(path string) (FileKind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dds":
		return KindDDS, nil
	case ".tga":
		return KindTGA, nil
	case ".bmp":
		return KindBMP, nil
	case ".png":
		return KindPNG, nil
	case ".jpg", ".jpeg":
		return KindJPEG, nil
	default:
		return KindUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFile, path)
	}
}

// LoadImage reads an image file, choosing the decoder by extension.
func LoadImage(path string) (*SourceImage, error) {
	kind, err := KindFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrOpenFile, path, err)
	}
	defer func() { _ = f.Close() }()

	img, err := DecodeImage(f, kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// DecodeImage decodes r as the given container. Everything except DDS
// produces a single ARGB mip.
func DecodeImage(r io.Reader, kind FileKind) (*SourceImage, error) {
	if kind == KindDDS {
		return ReadDDS(r)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeImage, err)
	}

	var img image.Image
	switch kind {
	case KindPNG, KindJPEG:
		decodeConfig, decode := png.DecodeConfig, png.Decode
		if kind == KindJPEG {
			decodeConfig, decode = jpeg.DecodeConfig, jpeg.Decode
		}
		cfg, err := decodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecodeHeader, kind, err)
		}
		if !IsPowerOfTwo(cfg.Width) || !IsPowerOfTwo(cfg.Height) {
			return nil, fmt.Errorf("%w: %dx%d", ErrNotPowerOfTwo, cfg.Width, cfg.Height)
		}
		img, err = decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecodeImage, kind, err)
		}
	case KindBMP:
		img, err = bmp.Decode(bytes.NewReader(data))
	case KindTGA:
		img, err = tga.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecodeImage, kind, err)
	}

	return FromImage(img)
}

// FromImage wraps a decoded image as a single-mip ARGB SourceImage.
func FromImage(img image.Image) (*SourceImage, error) {
	b := img.Bounds()
	argb := imageToARGB(img)
	mip, err := NewMipImage(argb, b.Dx(), b.Dy(), FormatARGB)
	if err != nil {
		return nil, err
	}
	return &SourceImage{
		Format:   FormatARGB,
		HasAlpha: hasTransparency(argb),
		Mips:     []*MipImage{mip},
	}, nil
}
