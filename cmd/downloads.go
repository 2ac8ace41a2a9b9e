package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tanq16/kestrel/internal/output"
	"github.com/tanq16/kestrel/internal/registry"
)

func newDownloadsCmd() *cobra.Command {
	var limit int
	var asYAML bool

	cmd := &cobra.Command{
		Use:     "downloads",
		Aliases: []string{"ls"},
		Short:   "List recent downloads, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit > 0 {
				cfg.Downloads.BootstrapLimit = limit
			}
			a := newApp(cmd.Context(), cfg, nil)
			records := a.registry.List()
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}
			if asYAML {
				return yaml.NewEncoder(os.Stdout).Encode(recordsDoc(records))
			}
			if len(records) == 0 {
				output.PrintInfo(fmt.Sprintf("%s no downloads in %s", output.StyleSymbols["info"], cfg.Downloads.Dir))
				return nil
			}
			fmt.Println(output.RecordsTable(records, output.TerminalWidth(), time.Now()))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many records")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Print records as YAML")
	return cmd
}

type recordDoc struct {
	Name      string    `yaml:"name"`
	Path      string    `yaml:"path"`
	Size      int64     `yaml:"size"`
	Source    string    `yaml:"source,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
}

func recordsDoc(records []registry.Record) []recordDoc {
	docs := make([]recordDoc, 0, len(records))
	for _, r := range records {
		docs = append(docs, recordDoc{
			Name:      r.Name,
			Path:      r.Path,
			Size:      r.Size,
			Source:    r.SourceURL,
			CreatedAt: r.CreatedAt,
		})
	}
	return docs
}
