package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tanq16/kestrel/internal/engine"
	"github.com/tanq16/kestrel/internal/output"
	"github.com/tanq16/kestrel/internal/session"
)

func newBrowseCmd() *cobra.Command {
	var interactive bool
	var iconDir string

	cmd := &cobra.Command{
		Use:   "browse [URL...]",
		Short: "Open URLs in a tab and report how each one was handled",
		Long: `Open URLs in a single tab. Each response is rendered, diverted to the
downloads directory or blocked. With --interactive, lines read from stdin are
either URLs to open or messages such as "download <url>" and "save-as <url>".
When the commands are piped in, save-as asks for the destination on the
controlling terminal. When they are typed on the terminal itself, save-as
keeps the suggested name, as download does.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !interactive {
				return fmt.Errorf("no URLs given")
			}
			picker := browsePicker(interactive, term.IsTerminal(int(os.Stdin.Fd())), openTTY)
			a := newApp(cmd.Context(), cfg, picker)

			tab := a.newSession(cmd.Context(), func(ev session.FaviconEvent) {
				printFavicon(ev, iconDir)
			})
			eng := engine.New(a.client, tab)
			log.Debug().Str("op", "cmd/browse").Str("session", tab.ID()).Msg("tab opened")

			for _, arg := range args {
				browseOne(cmd.Context(), eng, tab, arg)
			}
			if interactive {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "" || strings.HasPrefix(line, "#") {
						continue
					}
					if msg, err := session.ParseMessage(line); err == nil {
						if err := tab.Messages().HandleMessage(msg); err != nil {
							output.PrintError(err.Error())
						}
						continue
					}
					browseOne(cmd.Context(), eng, tab, line)
				}
			}
			tab.Wait()
			tab.Close()
			a.downloads.Wait()
			return nil
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Read URLs and messages from stdin")
	cmd.Flags().StringVar(&iconDir, "icon-dir", "", "Write each resolved favicon as <host>.png into this directory")
	return cmd
}

func browseOne(ctx context.Context, eng *engine.HTTPEngine, tab *session.Session, rawURL string) {
	res, err := eng.Load(ctx, rawURL)
	if err != nil {
		output.PrintError(fmt.Sprintf("%s %s %v", output.StyleSymbols["fail"], rawURL, err))
		return
	}
	line := fmt.Sprintf("%s %s %s", output.StatusIndicator("success"), output.FDetail(res.Action.String()), res.URL)
	switch res.Action {
	case session.ActionBlock:
		line = fmt.Sprintf("%s %s %s", output.StatusIndicator("warning"), output.FWarning(res.Action.String()), res.URL)
	case session.ActionAllowDownload:
		if res.Record != nil {
			line += " " + output.FDebug(fmt.Sprintf("%s %s %s (%s)", output.StyleSymbols["arrow"],
				res.Record.Path, output.StyleSymbols["bullet"], humanize.Bytes(uint64(res.Record.Size))))
		}
	default:
		if res.Title != "" {
			line += " " + output.FDebug(fmt.Sprintf("%q", res.Title))
		}
		if tab.StylingSuppressed() {
			line += " " + output.FWarning("styling suppressed")
		} else if tab.DarkStyling() {
			line += " " + output.FDebug("dark")
		}
	}
	fmt.Println(line)
}

func printFavicon(ev session.FaviconEvent, dir string) {
	kind := "icon"
	if ev.Fallback {
		kind = "glyph"
	}
	msg := fmt.Sprintf("  %s %s for %s", output.StyleSymbols["info"], kind, ev.Host)
	if dir != "" {
		path := filepath.Join(dir, ev.Host+".png")
		if err := writePNG(path, ev.Icon); err != nil {
			log.Error().Str("op", "cmd/browse").Err(err).Msgf("could not write icon for %s", ev.Host)
		} else {
			msg += " " + output.StyleSymbols["arrow"] + " " + path
		}
	}
	fmt.Println(output.FDebug(msg))
}
