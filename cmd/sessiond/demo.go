package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"sessiond/internal/common/fsutil"
	"sessiond/internal/engine/reference"
)

// newDemoModelCmd writes a small reference model that always answers with
// the given text, so the server can be exercised without native weights.
func newDemoModelCmd(c *cli) *cobra.Command {
	var (
		name   string
		text   string
		ctxLen int
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "demo-model",
		Short: "Write a reference model into the models directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := fsutil.ExpandPath(c.cfg.ModelsDir)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			if !strings.HasSuffix(name, reference.FileSuffix) {
				name += reference.FileSuffix
			}
			path := filepath.Join(dir, name)
			if fsutil.PathExists(path) && !force {
				return fmt.Errorf("%s exists (use --force)", path)
			}
			pieces, err := demoPieces(text)
			if err != nil {
				return err
			}
			f := reference.Chain(strings.TrimSuffix(name, reference.FileSuffix), ctxLen, pieces...)
			if err := f.Write(path); err != nil {
				return err
			}
			fmt.Fprintln(c.out, path)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "demo", "Model file name")
	f.StringVar(&text, "text", "Hello from sessiond.", "Reply the model emits, split on spaces")
	f.IntVar(&ctxLen, "ctx", 2048, "Context length")
	f.BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

// demoPieces splits text into words, keeping the separating space on every
// word after the first. Chain needs distinct pieces.
func demoPieces(text string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for i, w := range strings.Fields(text) {
		if i > 0 {
			w = " " + w
		}
		if seen[w] {
			return nil, fmt.Errorf("demo text repeats %q", strings.TrimSpace(w))
		}
		seen[w] = true
		out = append(out, w)
	}
	return out, nil
}
