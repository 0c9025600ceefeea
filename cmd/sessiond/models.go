package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newModelsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models resolvable from the models directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(c.cfg, c.log, appOptions{})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFORMAT\tPROVIDER\tCTX\tTEMPLATE\tSIZE")
			for _, m := range a.ListModels() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\n", m.ID, m.Format, m.Provider, m.ContextLength, m.Template, m.SizeBytes)
			}
			return tw.Flush()
		},
	}
}
