package cmd

import (
	"bytes"
	"fmt"
	"image"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanq16/kestrel/internal/favicon"
	"github.com/tanq16/kestrel/internal/output"
	"github.com/tanq16/kestrel/internal/policy"
)

func newFaviconCmd() *cobra.Command {
	var outPath string
	var noHints bool

	cmd := &cobra.Command{
		Use:   "favicon [URL]",
		Short: "Resolve the icon for a site and write it as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			origin, err := url.Parse(args[0])
			if err != nil || origin.Hostname() == "" {
				return fmt.Errorf("invalid URL %q", args[0])
			}
			a := newApp(cmd.Context(), cfg, nil)

			var hints []string
			if !noHints {
				// the page itself may name better icons than the well-known paths
				payload, err := a.client.Fetch(cmd.Context(), origin.String(), cfg.HTTP.Timeout)
				if err != nil {
					log.Debug().Str("op", "cmd/favicon").Err(err).Msg("could not load page for icon hints")
				} else if policy.ParseMIME(payload.Header.Get("Content-Type")) == "text/html" {
					base, _ := url.Parse(payload.URL)
					hints = favicon.DiscoverIcons(base, bytes.NewReader(payload.Body))
				}
			}

			host := strings.ToLower(origin.Hostname())
			img, ok := a.favicons.Resolve(cmd.Context(), origin, hints...)
			if !ok {
				img = favicon.Glyph(host, a.favicons.Size())
			}
			if outPath == "" {
				outPath = host + ".png"
			}
			if err := writePNG(outPath, img); err != nil {
				return err
			}
			kind := "icon"
			if !ok {
				kind = "glyph"
			}
			output.PrintSuccess(fmt.Sprintf("%s %s for %s %s %s", output.StyleSymbols["pass"], kind, host,
				output.StyleSymbols["arrow"], outPath))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default <host>.png)")
	cmd.Flags().BoolVar(&noHints, "no-hints", false, "Skip reading <link rel=icon> hints from the page")
	return cmd
}

func writePNG(path string, img image.Image) error {
	data, err := favicon.EncodePNG(img)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0644)
}
