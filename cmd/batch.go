package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tanq16/kestrel/internal/download"
	"github.com/tanq16/kestrel/internal/output"
	"github.com/tanq16/kestrel/internal/scheduler"
)

// BatchEntry is one line of a batch file.
type BatchEntry struct {
	Link string `yaml:"link"`
	Dir  string `yaml:"dir"`
}

func parseBatchFile(data []byte) ([]BatchEntry, error) {
	var entries []BatchEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("error parsing batch file: %w", err)
	}
	valid := entries[:0]
	for i, e := range entries {
		e.Link = strings.TrimSpace(e.Link)
		if e.Link == "" {
			log.Warn().Str("op", "cmd/batch").Msgf("entry %d has no link, skipping", i+1)
			continue
		}
		valid = append(valid, e)
	}
	return valid, nil
}

func newBatchCmd() *cobra.Command {
	var prompt bool

	cmd := &cobra.Command{
		Use:   "batch [YAML file]",
		Short: "Download every link listed in a YAML file",
		Long: `Download a list of links in parallel. The file is a YAML list:

  - link: https://example.com/a.zip
  - link: s3://bucket/key.pdf
    dir: /tmp/papers`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading batch file: %w", err)
			}
			entries, err := parseBatchFile(data)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				output.PrintWarning("no links in batch file")
				return nil
			}

			a := newApp(cmd.Context(), cfg, newPromptPicker())
			jobs := make([]scheduler.Job, 0, len(entries))
			for _, e := range entries {
				jobs = append(jobs, batchJob(a.downloads, e, prompt))
			}
			log.Debug().Str("op", "cmd/batch").Msgf("running %d jobs on %d workers", len(jobs), cfg.Downloads.Workers)

			mgr := output.NewManager()
			failed := scheduler.Run(cmd.Context(), jobs, cfg.Downloads.Workers, mgr)
			mgr.ShowSummary()
			if failed > 0 {
				return fmt.Errorf("%d of %d downloads failed", failed, len(jobs))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&prompt, "prompt", false, "Ask where to save each file")
	return cmd
}

func batchJob(d *download.Orchestrator, e BatchEntry, prompt bool) scheduler.Job {
	return scheduler.Job{
		Label: e.Link,
		Run: func(ctx context.Context) (string, error) {
			rec, err := d.Fetch(ctx, e.Link, download.FetchOptions{Prompt: prompt, Directory: e.Dir})
			if err != nil {
				return "", err
			}
			if rec == nil {
				return fmt.Sprintf("cancelled %s", e.Link), scheduler.ErrSkipped
			}
			return fmt.Sprintf("%s (%s)", rec.Path, humanize.Bytes(uint64(rec.Size))), nil
		},
	}
}
