package main

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/goopsie/metexpatch/pkg/codec"
)

func writePNG(t *testing.T, path string, alpha uint8) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 10, B: 20, A: alpha})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestChooseFormat(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name  string
		alpha uint8
		flag  string
		want  codec.PixelFormat
	}{
		{"Opaque", 255, "", codec.FormatDXT1},
		{"PartialAlpha", 128, "", codec.FormatDXT5},
		{"Explicit", 255, "ati2", codec.FormatATI2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".png")
			writePNG(t, path, tt.alpha)
			img, err := codec.LoadImage(path)
			if err != nil {
				t.Fatal(err)
			}
			got, err := chooseFormat(img, tt.flag)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := chooseFormat(&codec.SourceImage{}, "BC7"); err == nil {
		t.Error("expected error for unknown format name")
	}
}

func TestEncodeDecode(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	dds := filepath.Join(dir, "out.dds")
	out := filepath.Join(dir, "out.png")
	writePNG(t, in, 255)

	img, err := encodeFile(in, dds, encodeOptions{format: "ARGB", mipmaps: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(img.Mips) < 2 {
		t.Errorf("mips: got %d, want a chain", len(img.Mips))
	}

	back, err := codec.LoadImage(dds)
	if err != nil {
		t.Fatalf("load dds: %v", err)
	}
	if back.Format != codec.FormatARGB || len(back.Mips) != len(img.Mips) {
		t.Errorf("dds: got %s with %d mips", back.Format, len(back.Mips))
	}

	if err := decodeFile(dds, out, false); err != nil {
		t.Fatalf("decode: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if b := decoded.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Errorf("png size: got %dx%d", b.Dx(), b.Dy())
	}
	c := color.NRGBAModel.Convert(decoded.At(3, 3)).(color.NRGBA)
	if c != (color.NRGBA{R: 200, G: 10, B: 20, A: 255}) {
		t.Errorf("pixel: got %v", c)
	}
}
