package codec

import (
	"fmt"
	"io"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/woozymasta/bcn"
)

// Compressor produces block-compressed bytes from a canonical buffer.
// The result must be exactly BufferSize(w, h, f) bytes long.
type Compressor interface {
	Compress(argb []byte, w, h int, f PixelFormat) ([]byte, error)
}

// BCCompressor compresses DXT and ATI2 blocks with bcn.
type BCCompressor struct {
	Options *bcn.EncodeOptions
}

// DefaultCompressor is used when callers pass a nil Compressor.
var DefaultCompressor Compressor = BCCompressor{}

// Compress implements Compressor.
func (c BCCompressor) Compress(argb []byte, w, h int, f PixelFormat) ([]byte, error) {
	if !f.IsBlockCompressed() {
		return nil, fmt.Errorf("%w: %s is not block compressed", ErrUnknownFormat, f)
	}
	if len(argb) != 4*w*h {
		return nil, fmt.Errorf("%w: canonical %dx%d needs %d bytes, got %d", ErrBufferSize, w, h, 4*w*h, len(argb))
	}

	data, _, _, err := bcn.EncodeImageWithOptions(argbToImage(argb, w, h), f.bcnFormat(), c.Options)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrEncodeImage, f, err)
	}
	return data, nil
}

// EncodeFromARGB converts a canonical buffer back into format f. Block
// formats go through c, or DefaultCompressor when c is nil.
func EncodeFromARGB(argb []byte, w, h int, f PixelFormat, c Compressor) ([]byte, error) {
	pixels := w * h
	if len(argb) != 4*pixels {
		return nil, fmt.Errorf("%w: canonical %dx%d needs %d bytes, got %d", ErrBufferSize, w, h, 4*pixels, len(argb))
	}

	var out []byte
	switch f {
	case FormatARGB:
		out = make([]byte, len(argb))
		copy(out, argb)
	case FormatRGB:
		out = argbToRGB(argb)
	case FormatV8U8:
		out = make([]byte, 2*pixels)
		for i := 0; i < pixels; i++ {
			out[2*i+0] = argb[4*i+2] ^ 0x80
			out[2*i+1] = argb[4*i+1] ^ 0x80
		}
	case FormatG8:
		out = make([]byte, pixels)
		for i := 0; i < pixels; i++ {
			b, g, r := int(argb[4*i+0]), int(argb[4*i+1]), int(argb[4*i+2])
			out[i] = byte((r*77 + g*150 + b*29 + 128) >> 8)
		}
	case FormatDXT1, FormatDXT3, FormatDXT5, FormatATI2:
		if c == nil {
			c = DefaultCompressor
		}
		data, err := c.Compress(argb, w, h, f)
		if err != nil {
			return nil, err
		}
		out = data
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, f)
	}

	size, _ := BufferSize(w, h, f)
	if len(out) != size {
		return nil, fmt.Errorf("%w: encoded %s %dx%d is %d bytes, want %d", ErrBufferSize, f, w, h, len(out), size)
	}
	return out, nil
}

// ConvertToPNG decodes one mip and writes it to w as PNG.
func ConvertToPNG(w io.Writer, data []byte, width, height int, f PixelFormat, stripAlpha bool) error {
	argb, err := DecodeToARGB(data, width, height, f, stripAlpha)
	if err != nil {
		return err
	}
	if err := imgio.PNGEncoder()(w, argbToImage(argb, width, height)); err != nil {
		return fmt.Errorf("%w: png: %v", ErrEncodeImage, err)
	}
	return nil
}

// ConvertTo re-encodes every mip of s into format f.
func (s *SourceImage) ConvertTo(f PixelFormat, c Compressor) (*SourceImage, error) {
	if s.Format == f {
		return s.Clone(), nil
	}

	out := &SourceImage{Format: f, HasAlpha: s.HasAlpha && f.HasAlpha()}
	for i, m := range s.Mips {
		argb, err := DecodeToARGB(m.Data, m.Width, m.Height, s.Format, false)
		if err != nil {
			return nil, fmt.Errorf("mip %d: %w", i, err)
		}
		argb, w, h := cropARGB(argb, m.Width, m.Height, m.OrigWidth, m.OrigHeight)
		mip, err := encodeMip(argb, w, h, f, c)
		if err != nil {
			return nil, fmt.Errorf("mip %d: %w", i, err)
		}
		out.Mips = append(out.Mips, mip)
	}
	return out, nil
}

// GenerateMipmaps rebuilds the chain from the top mip down to 1x1.
func (s *SourceImage) GenerateMipmaps(c Compressor) (*SourceImage, error) {
	top := s.Top()
	if top == nil {
		return nil, fmt.Errorf("%w: image has no mipmaps", ErrDecodeImage)
	}

	argb, err := DecodeToARGB(top.Data, top.Width, top.Height, s.Format, false)
	if err != nil {
		return nil, err
	}
	argb, w, h := cropARGB(argb, top.Width, top.Height, top.OrigWidth, top.OrigHeight)

	out := &SourceImage{Format: s.Format, HasAlpha: s.HasAlpha}
	for i, level := range bcn.GenerateMipmaps(argbToImage(argb, w, h), false) {
		b := level.Bounds()
		if s.Format == FormatATI2 && (b.Dx() < 4 || b.Dy() < 4) {
			break
		}
		mip, err := encodeMip(imageToARGB(level), b.Dx(), b.Dy(), s.Format, c)
		if err != nil {
			return nil, fmt.Errorf("mip %d: %w", i, err)
		}
		out.Mips = append(out.Mips, mip)
	}
	return out, nil
}

// encodeMip encodes a w x h canonical buffer as a MipImage in format f,
// padding sub-block mips with edge pixels first.
func encodeMip(argb []byte, w, h int, f PixelFormat, c Compressor) (*MipImage, error) {
	pw, ph := w, h
	if f.padsToBlock() {
		pw, ph = max(w, 4), max(h, 4)
		argb = padARGB(argb, w, h, pw, ph)
	}
	data, err := EncodeFromARGB(argb, pw, ph, f, c)
	if err != nil {
		return nil, err
	}
	return NewMipImage(data, w, h, f)
}

func padARGB(argb []byte, w, h, pw, ph int) []byte {
	if w == pw && h == ph {
		return argb
	}
	out := make([]byte, 4*pw*ph)
	for y := 0; y < ph; y++ {
		sy := min(y, h-1)
		for x := 0; x < pw; x++ {
			sx := min(x, w-1)
			copy(out[4*(y*pw+x):4*(y*pw+x)+4], argb[4*(sy*w+sx):4*(sy*w+sx)+4])
		}
	}
	return out
}

func cropARGB(argb []byte, w, h, cw, ch int) ([]byte, int, int) {
	if w == cw && h == ch {
		return argb, w, h
	}
	out := make([]byte, 4*cw*ch)
	for y := 0; y < ch; y++ {
		copy(out[4*y*cw:4*(y+1)*cw], argb[4*y*w:4*y*w+4*cw])
	}
	return out, cw, ch
}
