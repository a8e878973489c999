// texconv converts between DDS textures and editable image files.
//
// Usage:
//
//	texconv decode input.dds output.png           # top mip to PNG
//	texconv encode input.png output.dds           # DXT1 or DXT5 by alpha usage
//	texconv encode -f ATI2 --mipmaps=false n.png n.dds
//	texconv info input.dds
//	texconv batch decode dir/ out/
package main

import (
	"fmt"
	"os"

	"github.com/goopsie/metexpatch/internal/logging"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

var (
	rootCmd *cobra.Command
	logger  hclog.Logger = hclog.NewNullLogger()
)

func init() {
	rootCmd = &cobra.Command{
		Use:           "texconv",
		Short:         "Convert between DDS textures and PNG, JPEG, BMP or TGA images",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewLogger("texconv", logging.GetLogLevel(), os.Stderr)
		},
	}
	rootCmd.AddCommand(newDecodeCmd(), newEncodeCmd(), newInfoCmd(), newBatchCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newDecodeCmd() *cobra.Command {
	var stripAlpha bool
	cmd := &cobra.Command{
		Use:   "decode INPUT.dds OUTPUT.png",
		Short: "Decode the top mip of a DDS file to PNG",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := decodeFile(args[0], args[1], stripAlpha); err != nil {
				return err
			}
			fmt.Printf("Decoded %s → %s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&stripAlpha, "strip-alpha", false, "Force alpha to opaque")
	return cmd
}

func newEncodeCmd() *cobra.Command {
	var opts encodeOptions
	cmd := &cobra.Command{
		Use:   "encode INPUT OUTPUT.dds",
		Short: "Encode an image as DDS",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := encodeFile(args[0], args[1], opts)
			if err != nil {
				return err
			}
			fmt.Printf("Encoded %s → %s (%s, %d mips)\n", args[0], args[1], img.Format, len(img.Mips))
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Pixel format: DXT1, DXT3, DXT5, ATI2, V8U8, ARGB, RGB, G8 (default by alpha usage)")
	cmd.Flags().BoolVar(&opts.mipmaps, "mipmaps", true, "Generate a full mip chain")
	return cmd
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info INPUT",
		Short: "Show image information",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showInfo(args[0])
		},
	}
}

func newBatchCmd() *cobra.Command {
	var opts encodeOptions
	cmd := &cobra.Command{
		Use:       "batch decode|encode INPUT_DIR OUTPUT_DIR",
		Short:     "Convert every file of a directory tree",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{"decode", "encode"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return batchConvert(args[0], args[1], args[2], opts)
		},
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Pixel format for encode (default by alpha usage)")
	cmd.Flags().BoolVar(&opts.mipmaps, "mipmaps", true, "Generate a full mip chain when encoding")
	return cmd
}
