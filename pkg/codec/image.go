package codec

import (
	"fmt"
	"sort"
)

// MipImage is one decoded mip level.
// Width and Height are block-padded; OrigWidth and OrigHeight are the true
// pixel dimensions.
type MipImage struct {
	Data       []byte
	Width      int
	Height     int
	OrigWidth  int
	OrigHeight int
}

// NewMipImage validates data against the dimensions of a w x h mip in format f.
// DXT1, DXT3 and DXT5 mips narrower or shorter than one block are padded to 4.
func NewMipImage(data []byte, w, h int, f PixelFormat) (*MipImage, error) {
	m := &MipImage{
		Data:       data,
		Width:      w,
		Height:     h,
		OrigWidth:  w,
		OrigHeight: h,
	}
	if f.padsToBlock() {
		if m.Width < 4 {
			m.Width = 4
		}
		if m.Height < 4 {
			m.Height = 4
		}
	}

	size, err := BufferSize(m.Width, m.Height, f)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: %dx%d %s needs %d bytes, got %d", ErrBufferSize, w, h, f, size, len(data))
	}
	return m, nil
}

// Pixels returns the pixel count of the mip's true dimensions.
func (m *MipImage) Pixels() int {
	return m.OrigWidth * m.OrigHeight
}

// SourceImage is an ordered mip chain, largest first.
type SourceImage struct {
	Format   PixelFormat
	HasAlpha bool
	Mips     []*MipImage
}

// Clone returns a copy whose mip list can be edited without affecting s.
// Mip data is shared.
func (s *SourceImage) Clone() *SourceImage {
	c := *s
	c.Mips = make([]*MipImage, len(s.Mips))
	for i, m := range s.Mips {
		mc := *m
		c.Mips[i] = &mc
	}
	return &c
}

// Top returns the largest mip, or nil for an empty image.
func (s *SourceImage) Top() *MipImage {
	if len(s.Mips) == 0 {
		return nil
	}
	return s.Mips[0]
}

// Find returns the mip with the given true dimensions.
func (s *SourceImage) Find(w, h int) (*MipImage, bool) {
	for _, m := range s.Mips {
		if m.OrigWidth == w && m.OrigHeight == h {
			return m, true
		}
	}
	return nil, false
}

// DropEmpty removes mips without pixel data.
func (s *SourceImage) DropEmpty() {
	kept := s.Mips[:0]
	for _, m := range s.Mips {
		if len(m.Data) > 0 {
			kept = append(kept, m)
		}
	}
	s.Mips = kept
}

// SortMips orders the chain largest first.
func (s *SourceImage) SortMips() {
	sort.SliceStable(s.Mips, func(i, j int) bool {
		return s.Mips[i].Pixels() > s.Mips[j].Pixels()
	})
}
