package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/tanq16/kestrel/internal/output"
	"github.com/tanq16/kestrel/internal/policy"
)

func newClassifyCmd() *cobra.Command {
	var mimeType string
	var disposition string
	var offline bool

	cmd := &cobra.Command{
		Use:   "classify [URL]",
		Short: "Show whether a response would be rendered or downloaded",
		Long: `Evaluate the navigation policy for a URL. By default the URL is requested
and its response headers are evaluated. With --offline, only the URL and the
--mime and --disposition values are used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd.Context(), cfg, nil)
			header := http.Header{}
			finalURL := args[0]
			if !offline && mimeType == "" && disposition == "" {
				resp, err := a.client.Open(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				resp.Body.Close()
				header = resp.Header
				finalURL = resp.Request.URL.String()
			}
			if mimeType != "" {
				header.Set("Content-Type", mimeType)
			}
			if disposition != "" {
				header.Set("Content-Disposition", disposition)
			}

			meta := policy.NewResponseMetadata(finalURL, header)
			v := a.policy.Evaluate(meta)
			output.PrintHeader(finalURL)
			fmt.Printf("  %s %s\n", output.FInfo("decision:"), output.FDetail(v.Decision.String()))
			fmt.Printf("  %s %s\n", output.FInfo("reason:  "), string(v.Reason))
			if meta.MIMEType != "" {
				fmt.Printf("  %s %s\n", output.FInfo("mime:    "), meta.MIMEType)
			}
			if v.SuppressStyling {
				fmt.Printf("  %s\n", output.FWarning("styling suppressed (sign-in page)"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime", "", "Content-Type to evaluate instead of the live response")
	cmd.Flags().StringVar(&disposition, "disposition", "", "Content-Disposition to evaluate instead of the live response")
	cmd.Flags().BoolVar(&offline, "offline", false, "Do not request the URL")
	return cmd
}
