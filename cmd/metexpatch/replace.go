package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/goopsie/metexpatch/internal/config"
	"github.com/goopsie/metexpatch/pkg/codec"
	"github.com/goopsie/metexpatch/pkg/journal"
	"github.com/goopsie/metexpatch/pkg/manifest"
	"github.com/goopsie/metexpatch/pkg/pcc"
	"github.com/goopsie/metexpatch/pkg/replace"
	"github.com/goopsie/metexpatch/pkg/tfc"
	"github.com/spf13/cobra"
)

var errJournalPending = errors.New("an unfinished replacement was found (run rollback first)")

func newReplaceCmd() *cobra.Command {
	var (
		imagePath string
		locations []string
		convert   bool
		skipTOC   bool
	)

	cmd := &cobra.Command{
		Use:   "replace",
		Short: "Replace one texture at every location it appears",
		Example: "  metexpatch replace -g 3 -p /games/ME3 --image rock.dds \\\n" +
			"    --location BIOGame/CookedPCConsole/BioA_Nor.pcc:412 \\\n" +
			"    --location BIOGame/DLC/DLC_HEN_PR/CookedPCConsole/BioA_Nor_DLC.pcc:97",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			locs, err := parseLocations(cfg, locations)
			if err != nil {
				return err
			}
			src, err := codec.LoadImage(imagePath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return runReplace(ctx, cfg, src, locs, convert, skipTOC)
		},
	}

	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "Replacement image (DDS, PNG, JPEG, BMP or TGA)")
	cmd.Flags().StringArrayVarP(&locations, "location", "l", nil, "Texture location as PACKAGE:EXPORT (repeatable)")
	cmd.Flags().BoolVar(&convert, "convert", false, "Convert the image to the texture format and generate mipmaps")
	cmd.Flags().BoolVar(&skipTOC, "skip-toc", false, "Do not update PCConsoleTOC.bin files")
	if err := cmd.MarkFlagRequired("image"); err != nil {
		panic(err)
	}
	if err := cmd.MarkFlagRequired("location"); err != nil {
		panic(err)
	}
	return cmd
}

func runReplace(ctx context.Context, cfg *config.Config, src *codec.SourceImage, locs []replace.Location, convert, skipTOC bool) error {
	j := journal.Open(cfg.JournalPath, journal.WithLogger(logger))
	pending, err := j.Pending()
	if err != nil {
		return err
	}
	if pending {
		return fmt.Errorf("%w: %s", errJournalPending, cfg.JournalPath)
	}

	store, err := tfc.New(cfg.Game, cfg.MainDataDir, tfc.WithRecorder(j), tfc.WithLogger(logger))
	if err != nil {
		return err
	}
	opts := []replace.Option{
		replace.WithJournal(j),
		replace.WithConversion(convert),
		replace.WithLogger(logger),
	}
	if !skipTOC {
		opts = append(opts, replace.WithTOC(manifest.NewUpdater(cfg.Game, cfg.GamePath, cfg.MainDataDir, cfg.DLCDir,
			manifest.WithLogger(logger))))
	}
	eng := replace.New(pcc.NewCache(logger), store, opts...)

	fmt.Printf("Replacing %s texture at %d locations...\n", src.Format, len(locs))
	report, err := eng.Replace(ctx, src, locs)
	if err != nil {
		if rerr := eng.Abort(); rerr != nil {
			logger.Error("rollback failed", "error", rerr)
		}
		return err
	}
	for _, s := range report.Skipped {
		fmt.Printf("Skipped %s: %v\n", s.Location, s.Err)
	}
	for _, path := range report.Archives {
		fmt.Printf("Created archive %s\n", path)
	}

	if err := eng.Commit(ctx); err != nil {
		if errors.Is(err, replace.ErrPartialCommit) {
			return err
		}
		if rerr := eng.Abort(); rerr != nil {
			logger.Error("rollback failed", "error", rerr)
		}
		return err
	}

	fmt.Printf("Replacement complete: %d locations updated\n", len(report.Replaced))
	return nil
}

// parseLocations turns PACKAGE:EXPORT arguments into locations. Relative
// package paths are taken from the game directory.
func parseLocations(cfg *config.Config, args []string) ([]replace.Location, error) {
	locs := make([]replace.Location, 0, len(args))
	for _, arg := range args {
		i := strings.LastIndex(arg, ":")
		if i <= 0 {
			return nil, fmt.Errorf("location %q: expected PACKAGE:EXPORT", arg)
		}
		idx, err := strconv.Atoi(arg[i+1:])
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("location %q: bad export index", arg)
		}
		locs = append(locs, replace.Location{PackagePath: cfg.Resolve(arg[:i]), Export: idx})
	}
	return locs, nil
}
