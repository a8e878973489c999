package codec

import (
	"errors"
	"fmt"
	"io"

	"github.com/woozymasta/bcn"
)

// DDS pixel format flags not exported by bcn.
const (
	ddpfBumpDUDV = 0x00080000
)

// DXGI formats accepted in DX10 extension headers.
const (
	dxgiR8G8B8A8Unorm = 28
	dxgiR8Unorm       = 61
	dxgiBC1Unorm      = 71
	dxgiBC2Unorm      = 74
	dxgiBC3Unorm      = 77
	dxgiBC5Unorm      = 83
	dxgiB8G8R8A8Unorm = 87
	dxgiB8G8R8X8Unorm = 88
)

// ddsLayout describes how a DDS surface maps onto a PixelFormat.
type ddsLayout struct {
	format PixelFormat
	// swapRB is set for RGBA-ordered 32-bit surfaces.
	swapRB bool
	// opaque is set for 32-bit surfaces without an alpha mask.
	opaque bool
}

func makeFourCC(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

func fourCCString(v uint32) string {
	return string([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

func detectDDSLayout(header *bcn.DDSHeader, dx10 *bcn.DDSHeaderDX10) (ddsLayout, error) {
	if dx10 != nil {
		switch dx10.DXGIFormat {
		case dxgiBC1Unorm:
			return ddsLayout{format: FormatDXT1}, nil
		case dxgiBC2Unorm:
			return ddsLayout{format: FormatDXT3}, nil
		case dxgiBC3Unorm:
			return ddsLayout{format: FormatDXT5}, nil
		case dxgiBC5Unorm:
			return ddsLayout{format: FormatATI2}, nil
		case dxgiB8G8R8A8Unorm:
			return ddsLayout{format: FormatARGB}, nil
		case dxgiB8G8R8X8Unorm:
			return ddsLayout{format: FormatARGB, opaque: true}, nil
		case dxgiR8G8B8A8Unorm:
			return ddsLayout{format: FormatARGB, swapRB: true}, nil
		case dxgiR8Unorm:
			return ddsLayout{format: FormatG8}, nil
		default:
			return ddsLayout{}, fmt.Errorf("%w: DXGI format %d", ErrUnknownFormat, dx10.DXGIFormat)
		}
	}

	pf := header.PixelFormat
	switch {
	case pf.Flags&bcn.DDSPFFourCC != 0:
		switch cc := fourCCString(pf.FourCC); cc {
		case "DXT1":
			return ddsLayout{format: FormatDXT1}, nil
		case "DXT2", "DXT3":
			return ddsLayout{format: FormatDXT3}, nil
		case "DXT4", "DXT5":
			return ddsLayout{format: FormatDXT5}, nil
		case "ATI2", "BC5U":
			return ddsLayout{format: FormatATI2}, nil
		default:
			return ddsLayout{}, fmt.Errorf("%w: FourCC %q", ErrUnknownFormat, cc)
		}
	case pf.Flags&ddpfBumpDUDV != 0 && pf.RGBBitCount == 16:
		return ddsLayout{format: FormatV8U8}, nil
	case pf.Flags&bcn.DDSPFRGB != 0 && pf.RGBBitCount == 32:
		l := ddsLayout{format: FormatARGB, swapRB: pf.RBitMask == 0x000000ff}
		l.opaque = pf.Flags&bcn.DDSPFAlphaPixels == 0 || pf.ABitMask == 0
		return l, nil
	case pf.Flags&bcn.DDSPFRGB != 0 && pf.RGBBitCount == 24:
		return ddsLayout{format: FormatRGB}, nil
	case pf.Flags&bcn.DDSPFLuminance != 0 && pf.RGBBitCount == 8:
		return ddsLayout{format: FormatG8}, nil
	}
	return ddsLayout{}, fmt.Errorf("%w: DDS pixel format flags 0x%x, %d bits", ErrUnknownFormat, pf.Flags, pf.RGBBitCount)
}

// ReadDDS parses a DDS stream into a SourceImage with its full mip chain.
func ReadDDS(r io.Reader) (*SourceImage, error) {
	header, err := bcn.ReadDDSHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeHeader, err)
	}
	dx10, err := bcn.ReadDDSHeaderDX10(r, header)
	if err != nil {
		return nil, fmt.Errorf("%w: dx10: %v", ErrDecodeHeader, err)
	}

	layout, err := detectDDSLayout(header, dx10)
	if err != nil {
		return nil, err
	}
	if header.Width == 0 || header.Height == 0 {
		return nil, fmt.Errorf("%w: zero dimensions", ErrDecodeHeader)
	}

	count := 1
	if header.MipMapCount > 1 {
		count = int(header.MipMapCount)
	}

	img := &SourceImage{Format: layout.format, HasAlpha: layout.format.HasAlpha() && !layout.opaque}
	w, h := int(header.Width), int(header.Height)
	for i := 0; i < count; i++ {
		mw, mh := max(1, w>>i), max(1, h>>i)
		if layout.format == FormatATI2 && (mw < 4 || mh < 4) && i > 0 {
			break
		}
		pw, ph := mw, mh
		if layout.format.padsToBlock() {
			pw, ph = max(mw, 4), max(mh, 4)
		}
		size, _ := BufferSize(pw, ph, layout.format)

		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			if i > 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
				break
			}
			return nil, fmt.Errorf("%w: mip %d: %v", ErrDecodeImage, i, err)
		}

		if layout.swapRB || layout.opaque {
			for p := 0; p < len(data); p += 4 {
				if layout.swapRB {
					data[p], data[p+2] = data[p+2], data[p]
				}
				if layout.opaque {
					data[p+3] = 255
				}
			}
		}

		mip, err := NewMipImage(data, mw, mh, layout.format)
		if err != nil {
			return nil, err
		}
		img.Mips = append(img.Mips, mip)

		if mw == 1 && mh == 1 {
			break
		}
	}

	return img, nil
}

// WriteDDS writes img as a legacy (non-DX10) DDS stream.
func WriteDDS(w io.Writer, img *SourceImage) error {
	top := img.Top()
	if top == nil {
		return fmt.Errorf("%w: image has no mipmaps", ErrEncodeImage)
	}

	header, err := makeDDSHeader(uint32(top.OrigWidth), uint32(top.OrigHeight), uint32(len(img.Mips)), img.Format)
	if err != nil {
		return err
	}
	if err := bcn.WriteDDSMagic(w); err != nil {
		return fmt.Errorf("%w: magic: %v", ErrEncodeImage, err)
	}
	if err := bcn.WriteDDSHeader(w, header); err != nil {
		return fmt.Errorf("%w: header: %v", ErrEncodeImage, err)
	}
	for i, m := range img.Mips {
		if _, err := w.Write(m.Data); err != nil {
			return fmt.Errorf("%w: mip %d: %v", ErrEncodeImage, i, err)
		}
	}
	return nil
}

func makeDDSHeader(width, height, mipCount uint32, f PixelFormat) (*bcn.DDSHeader, error) {
	flags := uint32(bcn.DDSFlagCaps | bcn.DDSFlagHeight | bcn.DDSFlagWidth | bcn.DDSFlagPixelFormat)
	caps := uint32(bcn.DDSCapsTexture)
	if mipCount > 1 {
		flags |= bcn.DDSFlagMipmapCount
		caps |= bcn.DDSCapsComplex | bcn.DDSCapsMipmap
	}

	hdr := &bcn.DDSHeader{
		Size:        bcn.DDSHeaderSize,
		Flags:       flags,
		Height:      height,
		Width:       width,
		Depth:       1,
		MipMapCount: mipCount,
		Caps:        caps,
	}
	hdr.PixelFormat.Size = bcn.DDSPixelFormatSize

	pf := &hdr.PixelFormat
	switch f {
	case FormatDXT1, FormatDXT3, FormatDXT5, FormatATI2:
		size, _ := BufferSize(max(int(width), 4), max(int(height), 4), f)
		hdr.Flags |= bcn.DDSFlagLinearSize
		hdr.PitchOrLinearSize = uint32(size)
		pf.Flags = bcn.DDSPFFourCC
		switch f {
		case FormatDXT1:
			pf.FourCC = makeFourCC('D', 'X', 'T', '1')
		case FormatDXT3:
			pf.FourCC = makeFourCC('D', 'X', 'T', '3')
		case FormatDXT5:
			pf.FourCC = makeFourCC('D', 'X', 'T', '5')
		default:
			pf.FourCC = makeFourCC('A', 'T', 'I', '2')
		}
	case FormatARGB:
		hdr.Flags |= bcn.DDSFlagPitch
		hdr.PitchOrLinearSize = width * 4
		pf.Flags = bcn.DDSPFRGB | bcn.DDSPFAlphaPixels
		pf.RGBBitCount = 32
		pf.RBitMask, pf.GBitMask, pf.BBitMask, pf.ABitMask = 0x00ff0000, 0x0000ff00, 0x000000ff, 0xff000000
	case FormatRGB:
		hdr.Flags |= bcn.DDSFlagPitch
		hdr.PitchOrLinearSize = width * 3
		pf.Flags = bcn.DDSPFRGB
		pf.RGBBitCount = 24
		pf.RBitMask, pf.GBitMask, pf.BBitMask = 0x00ff0000, 0x0000ff00, 0x000000ff
	case FormatV8U8:
		hdr.Flags |= bcn.DDSFlagPitch
		hdr.PitchOrLinearSize = width * 2
		pf.Flags = ddpfBumpDUDV
		pf.RGBBitCount = 16
		pf.RBitMask, pf.GBitMask = 0x00ff, 0xff00
	case FormatG8:
		hdr.Flags |= bcn.DDSFlagPitch
		hdr.PitchOrLinearSize = width
		pf.Flags = bcn.DDSPFLuminance
		pf.RGBBitCount = 8
		pf.RBitMask = 0xff
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, f)
	}

	return hdr, nil
}
