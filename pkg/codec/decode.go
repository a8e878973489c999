package codec

import (
	"fmt"
	"image"
	"image/color"

	"github.com/woozymasta/bcn"
)

// DecodeToARGB converts a w x h mip stored as f into the canonical 4-byte
// per pixel buffer. With stripAlpha set every alpha byte is forced to 255.
func DecodeToARGB(data []byte, w, h int, f PixelFormat, stripAlpha bool) ([]byte, error) {
	size, err := BufferSize(w, h, f)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: %dx%d %s needs %d bytes, got %d", ErrBufferSize, w, h, f, size, len(data))
	}

	pixels := w * h
	var out []byte

	switch f {
	case FormatARGB:
		out = make([]byte, len(data))
		copy(out, data)
	case FormatRGB:
		out = make([]byte, 4*pixels)
		for i := 0; i < pixels; i++ {
			out[4*i+0] = data[3*i+0]
			out[4*i+1] = data[3*i+1]
			out[4*i+2] = data[3*i+2]
			out[4*i+3] = 255
		}
	case FormatV8U8:
		out = make([]byte, 4*pixels)
		for i := 0; i < pixels; i++ {
			out[4*i+0] = 255
			out[4*i+1] = data[2*i+1] ^ 0x80
			out[4*i+2] = data[2*i+0] ^ 0x80
			out[4*i+3] = 255
		}
	case FormatG8:
		out = make([]byte, 4*pixels)
		for i := 0; i < pixels; i++ {
			out[4*i+0] = data[i]
			out[4*i+1] = data[i]
			out[4*i+2] = data[i]
			out[4*i+3] = 255
		}
	case FormatDXT1, FormatDXT3, FormatDXT5, FormatATI2:
		img, err := bcn.DecodeImageWithOptions(data, w, h, f.bcnFormat(), nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrDecodeImage, f, err)
		}
		out = imageToARGB(img)
		if len(out) != 4*pixels {
			return nil, fmt.Errorf("%w: %s: decoded %d bytes for %dx%d", ErrDecodeImage, f, len(out), w, h)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, f)
	}

	if stripAlpha {
		for i := 3; i < len(out); i += 4 {
			out[i] = 255
		}
	}
	return out, nil
}

// DecodeToRGB is DecodeToARGB followed by removal of the alpha byte.
func DecodeToRGB(data []byte, w, h int, f PixelFormat) ([]byte, error) {
	argb, err := DecodeToARGB(data, w, h, f, false)
	if err != nil {
		return nil, err
	}
	return argbToRGB(argb), nil
}

func argbToRGB(argb []byte) []byte {
	pixels := len(argb) / 4
	out := make([]byte, 3*pixels)
	for i := 0; i < pixels; i++ {
		out[3*i+0] = argb[4*i+0]
		out[3*i+1] = argb[4*i+1]
		out[3*i+2] = argb[4*i+2]
	}
	return out
}

// imageToARGB flattens any image into the canonical buffer.
func imageToARGB(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, 4*w*h)

	if n, ok := img.(*image.NRGBA); ok {
		for y := 0; y < h; y++ {
			row := n.Pix[n.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < w; x++ {
				o := 4 * (y*w + x)
				out[o+0] = row[4*x+2]
				out[o+1] = row[4*x+1]
				out[o+2] = row[4*x+0]
				out[o+3] = row[4*x+3]
			}
		}
		return out
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			o := 4 * (y*w + x)
			out[o+0] = c.B
			out[o+1] = c.G
			out[o+2] = c.R
			out[o+3] = c.A
		}
	}
	return out
}

// argbToImage wraps the canonical buffer as an NRGBA image.
func argbToImage(argb []byte, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Pix[4*i+0] = argb[4*i+2]
		img.Pix[4*i+1] = argb[4*i+1]
		img.Pix[4*i+2] = argb[4*i+0]
		img.Pix[4*i+3] = argb[4*i+3]
	}
	return img
}

func hasTransparency(argb []byte) bool {
	for i := 3; i < len(argb); i += 4 {
		if argb[i] != 255 {
			return true
		}
	}
	return false
}
