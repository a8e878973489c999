// Package codec converts texture pixel data between the game's storage
// formats and a canonical uncompressed buffer.
//
// The canonical buffer holds 4 bytes per pixel in B, G, R, A order (the
// little-endian layout of a 32-bit ARGB word). Block-compressed formats are
// decoded and encoded through github.com/woozymasta/bcn; the uncompressed
// formats are converted directly.
//
// Supported formats:
//   - DXT1, DXT3, DXT5: 4x4 block compression
//   - ATI2: two-channel normal maps (BC5)
//   - V8U8: signed two-channel normal maps
//   - ARGB, RGB: raw 32 and 24 bit pixels
//   - G8: 8-bit luminance
package codec

import (
	"fmt"

	"github.com/goopsie/metexpatch/pkg/errs"
	"github.com/woozymasta/bcn"
)

// PixelFormat identifies how a mip level's bytes are laid out.
type PixelFormat int

const (
	FormatUnknown PixelFormat = iota
	FormatDXT1
	FormatDXT3
	FormatDXT5
	FormatATI2
	FormatV8U8
	FormatARGB
	FormatRGB
	FormatG8
)

var (
	// ErrUnknownFormat indicates an unrecognized pixel format or format tag.
	ErrUnknownFormat = fmt.Errorf("unknown pixel format: %w", errs.ErrFormat)

	// ErrBufferSize indicates a pixel buffer whose length does not match its
	// dimensions and format.
	ErrBufferSize = fmt.Errorf("buffer size mismatch: %w", errs.ErrFormat)

	// ErrNotPowerOfTwo indicates an image whose dimensions are not powers of two.
	ErrNotPowerOfTwo = fmt.Errorf("image dimensions not power of two: %w", errs.ErrFormat)

	// ErrDecodeHeader indicates an image file header that could not be parsed.
	ErrDecodeHeader = fmt.Errorf("decode image header: %w", errs.ErrFormat)

	// ErrDecodeImage indicates pixel data that could not be decoded.
	ErrDecodeImage = fmt.Errorf("decode image: %w", errs.ErrFormat)

	// ErrEncodeImage indicates pixel data that could not be encoded.
	ErrEncodeImage = fmt.Errorf("encode image: %w", errs.ErrFormat)

	// ErrUnsupportedFile indicates an image file type that cannot be loaded.
	ErrUnsupportedFile = fmt.Errorf("unsupported image file: %w", errs.ErrFormat)

	// ErrOpenFile indicates an image file that could not be opened.
	ErrOpenFile = fmt.Errorf("open image file: %w", errs.ErrIO)
)

var formatTags = map[string]PixelFormat{
	"PF_DXT1":         FormatDXT1,
	"PF_DXT3":         FormatDXT3,
	"PF_DXT5":         FormatDXT5,
	"PF_NormalMap_HQ": FormatATI2,
	"PF_V8U8":         FormatV8U8,
	"PF_A8R8G8B8":     FormatARGB,
	"PF_R8G8B8":       FormatRGB,
	"PF_G8":           FormatG8,
}

// ParseFormatTag maps a texture's Format property value to a PixelFormat.
func ParseFormatTag(tag string) (PixelFormat, error) {
	f, ok := formatTags[tag]
	if !ok {
		return FormatUnknown, fmt.Errorf("%w: %q", ErrUnknownFormat, tag)
	}
	return f, nil
}

// ParseFormatName accepts a short name such as "DXT5" or "ARGB".
func ParseFormatName(name string) (PixelFormat, error) {
	for f := FormatDXT1; f <= FormatG8; f++ {
		if f.String() == name {
			return f, nil
		}
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// Tag returns the Format property value the game uses for f.
func (f PixelFormat) Tag() string {
	for tag, v := range formatTags {
		if v == f {
			return tag
		}
	}
	return ""
}

func (f PixelFormat) String() string {
	switch f {
	case FormatDXT1:
		return "DXT1"
	case FormatDXT3:
		return "DXT3"
	case FormatDXT5:
		return "DXT5"
	case FormatATI2:
		return "ATI2"
	case FormatV8U8:
		return "V8U8"
	case FormatARGB:
		return "ARGB"
	case FormatRGB:
		return "RGB"
	case FormatG8:
		return "G8"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(f))
	}
}

// IsBlockCompressed reports whether f stores 4x4 pixel blocks.
func (f PixelFormat) IsBlockCompressed() bool {
	switch f {
	case FormatDXT1, FormatDXT3, FormatDXT5, FormatATI2:
		return true
	default:
		return false
	}
}

// padsToBlock reports whether mip dimensions below 4 are raised to 4.
// ATI2 mips keep their dimensions.
func (f PixelFormat) padsToBlock() bool {
	return f == FormatDXT1 || f == FormatDXT3 || f == FormatDXT5
}

// HasAlpha reports whether f carries an alpha channel.
func (f PixelFormat) HasAlpha() bool {
	switch f {
	case FormatDXT3, FormatDXT5, FormatARGB:
		return true
	default:
		return false
	}
}

func (f PixelFormat) bcnFormat() bcn.Format {
	switch f {
	case FormatDXT1:
		return bcn.FormatDXT1
	case FormatDXT3:
		return bcn.FormatDXT3
	case FormatDXT5:
		return bcn.FormatDXT5
	case FormatATI2:
		return bcn.FormatBC5
	default:
		return bcn.FormatUnknown
	}
}

// BufferSize returns the byte length of a w x h mip stored as f.
func BufferSize(w, h int, f PixelFormat) (int, error) {
	switch f {
	case FormatARGB:
		return 4 * w * h, nil
	case FormatRGB:
		return 3 * w * h, nil
	case FormatV8U8:
		return 2 * w * h, nil
	case FormatDXT3, FormatDXT5, FormatATI2, FormatG8:
		return w * h, nil
	case FormatDXT1:
		return (w * h) / 2, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownFormat, f)
	}
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
