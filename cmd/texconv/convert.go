package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goopsie/metexpatch/pkg/codec"
	"github.com/goopsie/metexpatch/pkg/manifest"
)

type encodeOptions struct {
	format  string
	mipmaps bool
}

// decodeFile writes the top mip of a DDS file as PNG.
func decodeFile(inputPath, outputPath string, stripAlpha bool) error {
	img, err := codec.LoadImage(inputPath)
	if err != nil {
		return err
	}
	top := img.Top()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	if err := codec.ConvertToPNG(out, top.Data, top.Width, top.Height, img.Format, stripAlpha); err != nil {
		return err
	}
	return out.Close()
}

// encodeFile converts any supported image into a DDS file.
func encodeFile(inputPath, outputPath string, opts encodeOptions) (*codec.SourceImage, error) {
	img, err := codec.LoadImage(inputPath)
	if err != nil {
		return nil, err
	}

	format, err := chooseFormat(img, opts.format)
	if err != nil {
		return nil, err
	}
	if img, err = img.ConvertTo(format, nil); err != nil {
		return nil, err
	}
	if opts.mipmaps && len(img.Mips) == 1 {
		if img, err = img.GenerateMipmaps(nil); err != nil {
			return nil, err
		}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	if err := codec.WriteDDS(out, img); err != nil {
		return nil, err
	}
	return img, out.Close()
}

// chooseFormat resolves the target format. Without a name, images with
// partial alpha get DXT5 and everything else DXT1.
func chooseFormat(img *codec.SourceImage, name string) (codec.PixelFormat, error) {
	if name != "" {
		return codec.ParseFormatName(strings.ToUpper(name))
	}
	if !img.HasAlpha {
		return codec.FormatDXT1, nil
	}

	top := img.Top()
	argb, err := codec.DecodeToARGB(top.Data, top.Width, top.Height, img.Format, false)
	if err != nil {
		return codec.FormatUnknown, err
	}
	for i := 3; i < len(argb); i += 4 {
		if a := argb[i]; a > 0 && a < 255 {
			return codec.FormatDXT5, nil
		}
	}
	return codec.FormatDXT1, nil
}

// showInfo prints the format and mip chain of an image file.
func showInfo(inputPath string) error {
	img, err := codec.LoadImage(inputPath)
	if err != nil {
		return err
	}
	top := img.Top()

	fmt.Printf("File: %s\n", inputPath)
	fmt.Printf("Dimensions: %dx%d\n", top.OrigWidth, top.OrigHeight)
	fmt.Printf("Format: %s\n", img.Format)
	fmt.Printf("Alpha: %t\n", img.HasAlpha)
	fmt.Printf("Mip levels: %d\n", len(img.Mips))

	total := 0
	for i, m := range img.Mips {
		fmt.Printf("  %2d: %dx%d, %d bytes\n", i, m.OrigWidth, m.OrigHeight, len(m.Data))
		total += len(m.Data)
	}
	fmt.Printf("Data size: %d bytes (%.2f KB)\n", total, float64(total)/1024)
	return nil
}

// batchConvert converts a directory tree. Failures are reported and
// counted; the batch keeps going.
func batchConvert(mode, inputDir, outputDir string, opts encodeOptions) error {
	var exts []string
	var outExt string
	switch mode {
	case "decode":
		exts, outExt = []string{".dds"}, ".png"
	case "encode":
		exts, outExt = []string{".png", ".jpg", ".jpeg", ".bmp", ".tga"}, ".dds"
	default:
		return fmt.Errorf("mode must be 'decode' or 'encode'")
	}

	files, err := manifest.ScanFiles(inputDir, exts...)
	if err != nil {
		return err
	}

	count, failed := 0, 0
	for _, f := range files {
		outPath := filepath.Join(outputDir, filepath.FromSlash(strings.TrimSuffix(f.Rel, filepath.Ext(f.Rel))+outExt))
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}

		if mode == "decode" {
			err = decodeFile(f.Path, outPath, false)
		} else {
			_, err = encodeFile(f.Path, outPath, opts)
		}
		if err != nil {
			logger.Error("convert failed", "file", f.Path, "error", err)
			failed++
			continue
		}
		count++
		if count%100 == 0 {
			fmt.Printf("Processed %d files...\n", count)
		}
	}

	fmt.Printf("\nCompleted: %d files converted, %d errors\n", count, failed)
	return nil
}
