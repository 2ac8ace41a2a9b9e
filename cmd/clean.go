package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanq16/kestrel/internal/output"
)

func newCleanCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove leftover .part files from interrupted downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, size, err := cleanParts(cfg.Downloads.TempDir, olderThan, time.Now())
			if err != nil {
				return err
			}
			if removed == 0 {
				output.PrintInfo(fmt.Sprintf("%s nothing to clean in %s", output.StyleSymbols["info"], cfg.Downloads.TempDir))
				return nil
			}
			output.PrintSuccess(fmt.Sprintf("%s removed %d files (%s)", output.StyleSymbols["pass"], removed, humanize.Bytes(uint64(size))))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Only remove files not modified for this long (eg. 1h)")
	return cmd
}

func cleanParts(dir string, olderThan time.Duration, now time.Time) (int, int64, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("error reading temp directory: %w", err)
	}
	removed := 0
	var size int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if olderThan > 0 && now.Sub(info.ModTime()) < olderThan {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Error().Str("op", "cmd/clean").Err(err).Msgf("could not remove %s", path)
			continue
		}
		log.Debug().Str("op", "cmd/clean").Msgf("removed %s", path)
		removed++
		size += info.Size()
	}
	return removed, size, nil
}
