package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tanq16/kestrel/internal/config"
	"github.com/tanq16/kestrel/internal/logging"
)

var KestrelVersion = "dev"

var (
	configPath    string
	debug         bool
	jsonLogs      bool
	downloadDir   string
	timeout       time.Duration
	kaTimeout     time.Duration
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	headers       []string
	rateLimit     float64
	s3Profile     string
	workers       int
	metricsAddr   string
	forceDark     bool
)

// cfg is loaded once per invocation before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "kestrel",
	Short:         "Kestrel is the navigation and download core of a small web browser",
	Version:       KestrelVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cmd, loaded)
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		logging.Init(cfg.Log.Level, cfg.Log.JSON)
		log.Debug().Str("op", "cmd/root").Msgf("downloads dir %s", cfg.Downloads.Dir)
		return nil
	},
}

// applyFlags lets explicitly set flags win over file and environment values.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if debug {
		c.Log.Level = "debug"
	}
	if flags.Changed("json-logs") {
		c.Log.JSON = jsonLogs
	}
	if flags.Changed("dir") {
		c.Downloads.Dir = downloadDir
		if !flags.Changed("temp-dir") {
			c.Downloads.TempDir = ""
		}
	}
	if flags.Changed("temp-dir") {
		c.Downloads.TempDir, _ = flags.GetString("temp-dir")
	}
	if flags.Changed("timeout") {
		c.HTTP.Timeout = timeout
	}
	if flags.Changed("keep-alive-timeout") {
		c.HTTP.KATimeout = kaTimeout
	}
	if flags.Changed("user-agent") {
		c.HTTP.UserAgent = userAgent
	}
	if flags.Changed("proxy") {
		c.HTTP.ProxyURL = proxyURL
	}
	if flags.Changed("proxy-username") {
		c.HTTP.ProxyUsername = proxyUsername
	}
	if flags.Changed("proxy-password") {
		c.HTTP.ProxyPassword = proxyPassword
	}
	// credentials embedded in the proxy URL are split out
	if parsed, err := u.Parse(c.HTTP.ProxyURL); err == nil && parsed.User != nil && c.HTTP.ProxyUsername == "" {
		c.HTTP.ProxyUsername = parsed.User.Username()
		if password, set := parsed.User.Password(); set {
			c.HTTP.ProxyPassword = password
		}
		parsed.User = nil
		c.HTTP.ProxyURL = parsed.String()
	}
	for k, v := range parseHeaderArgs(headers) {
		c.HTTP.Headers[k] = v
	}
	if flags.Changed("rate-limit") {
		c.HTTP.RateLimit = rateLimit
	}
	if flags.Changed("s3-profile") {
		c.HTTP.S3Profile = s3Profile
	}
	if flags.Changed("workers") {
		c.Downloads.Workers = workers
	}
	if flags.Changed("metrics-addr") {
		c.Metrics.Addr = metricsAddr
	}
	if flags.Changed("force-dark") {
		c.Policy.ForceDark = forceDark
	}
}

func parseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			if key != "" {
				result[key] = value
			}
		}
	}
	return result
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	logging.Init("info", false)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", config.DefaultPath(), "Path to the YAML config file")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")
	pf.BoolVar(&jsonLogs, "json-logs", false, "Log as JSON instead of console text")
	pf.StringVarP(&downloadDir, "dir", "d", "", "Downloads directory")
	pf.String("temp-dir", "", "Directory for in-flight .part files")
	pf.DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Connection and response-header timeout (eg. 5s, 10m)")
	pf.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	pf.StringVarP(&userAgent, "user-agent", "a", "kestrel/1.0", "User agent")
	pf.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	pf.StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	pf.StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	pf.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	pf.Float64Var(&rateLimit, "rate-limit", 0, "Maximum requests per second (0 = unlimited)")
	pf.StringVar(&s3Profile, "s3-profile", "default", "AWS shared config profile for s3:// URLs")
	pf.IntVarP(&workers, "workers", "w", 4, "Number of downloads to run in parallel")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (eg. :9090)")
	pf.BoolVar(&forceDark, "force-dark", false, "Force dark styling on pages other than sign-in pages")

	rootCmd.AddCommand(newBrowseCmd())
	rootCmd.AddCommand(newClassifyCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newFaviconCmd())
	rootCmd.AddCommand(newDownloadsCmd())
	rootCmd.AddCommand(newCleanCmd())
}
