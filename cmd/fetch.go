package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tanq16/kestrel/internal/download"
	"github.com/tanq16/kestrel/internal/output"
)

func newFetchCmd() *cobra.Command {
	var prompt bool
	var dir string

	cmd := &cobra.Command{
		Use:   "fetch [URL]",
		Short: "Download a URL into the downloads directory",
		Long: `Download an http(s) or s3:// URL. The file name comes from the response
headers or the URL and never overwrites an existing file. With --prompt the
destination is asked for on the terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.Context(), cfg, newPromptPicker())
			rec, err := a.downloads.Fetch(cmd.Context(), args[0], download.FetchOptions{
				Prompt:    prompt,
				Directory: dir,
			})
			if err != nil {
				return err
			}
			if rec == nil {
				output.PrintWarning(fmt.Sprintf("%s save cancelled", output.StyleSymbols["warning"]))
				return nil
			}
			output.PrintSuccess(fmt.Sprintf("%s %s %s", output.StyleSymbols["pass"], rec.Name,
				output.FDebug(fmt.Sprintf("(%s)", humanize.Bytes(uint64(rec.Size))))))
			output.PrintDetail(fmt.Sprintf("  %s %s", output.StyleSymbols["arrow"], rec.Path))
			return nil
		},
	}
	cmd.Flags().BoolVar(&prompt, "prompt", false, "Ask where to save the file")
	cmd.Flags().StringVarP(&dir, "output-dir", "o", "", "Save into this directory instead of the downloads directory")
	return cmd
}
