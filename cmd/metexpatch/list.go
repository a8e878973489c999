package main

import (
	"fmt"
	"strings"

	"github.com/goopsie/metexpatch/pkg/pcc"
	"github.com/goopsie/metexpatch/pkg/texture"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list PACKAGE",
		Short: "List the textures of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := pcc.Open(args[0], pcc.WithLogger(logger))
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s, %d exports\n", p.Path(), p.Game(), p.ExportCount())

			for i := 0; i < p.ExportCount(); i++ {
				class, err := p.ClassName(i)
				if err != nil {
					return err
				}
				name, err := p.ObjectName(i)
				if err != nil {
					return err
				}
				if !strings.Contains(class, "Texture") {
					if all {
						fmt.Printf("%6d  %-24s %s\n", i, class, name)
					}
					continue
				}
				fmt.Printf("%6d  %-24s %s  %s\n", i, class, name, describeTexture(p, i))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "List every export, not only textures")
	return cmd
}

func describeTexture(p *pcc.Package, i int) string {
	data, err := p.ExportData(i)
	if err != nil {
		return err.Error()
	}
	tex, err := texture.Parse(data, p, p.Game())
	if err != nil {
		return err.Error()
	}

	format := "?"
	if f, err := tex.PixelFormat(); err == nil {
		format = f.String()
	}
	mips := make([]string, 0, len(tex.Mips))
	for _, m := range tex.Mips {
		mips = append(mips, fmt.Sprintf("%dx%d:%s", m.Width, m.Height, m.Storage))
	}
	out := fmt.Sprintf("%s [%s]", format, strings.Join(mips, " "))
	if name, ok := tex.ArchiveName(); ok {
		out += " archive=" + name
	}
	return out
}
