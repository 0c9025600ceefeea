package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"sessiond/internal/capability"
	"sessiond/internal/common/fsutil"
	"sessiond/internal/engine/llamacpp"
)

func newDetectCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Print detected CPU features and the backend variant order",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := capability.NewDetector(nil, nil, c.log)
			fs, err := d.Features()
			if err != nil {
				fmt.Fprintf(c.out, "probe failed: %v\n", err)
			}
			fmt.Fprintf(c.out, "features: %s\n", strings.Join(fs.Names(), " "))
			fmt.Fprintf(c.out, "variant:  %s\n", d.Detect())
			fmt.Fprintf(c.out, "linked:   %s\n", llamacpp.BuiltVariant)

			libDir := ""
			if c.cfg.LibDir != "" {
				if libDir, err = fsutil.ExpandPath(c.cfg.LibDir); err != nil {
					return err
				}
			}
			for i, v := range d.Ranked() {
				line := fmt.Sprintf("%d. %-24s %s", i+1, v.ID, v.Library)
				if libDir != "" {
					state := "missing"
					if fsutil.PathExists(filepath.Join(libDir, v.Library)) {
						state = "present"
					}
					line += " (" + state + ")"
				}
				fmt.Fprintln(c.out, line)
			}
			return nil
		},
	}
}
