package main

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Shared flags. Each falls back to a GROUPWATCH_* environment variable.
var (
	flagEndpoint    string
	flagAuthURL     string
	flagStreamURL   string
	flagStateDir    string
	flagMetricsAddr string
	flagDebug       bool
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd := &cobra.Command{
		Use:   "groupwatch",
		Short: "Group chat with synchronized video playback",
		Long: `groupwatch joins a group's chat from the terminal and keeps a local
player in step with everyone else watching. It can also run a local
relay that speaks the same protocol for development.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			if flagDebug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagEndpoint, "endpoint", envOr("GROUPWATCH_ENDPOINT", "ws://localhost:8001"), "chat service URL (env GROUPWATCH_ENDPOINT)")
	flags.StringVar(&flagAuthURL, "auth-url", envOr("GROUPWATCH_AUTH_URL", "http://localhost:8000"), "auth service URL (env GROUPWATCH_AUTH_URL)")
	flags.StringVar(&flagStreamURL, "stream-url", envOr("GROUPWATCH_STREAM_URL", "http://localhost:8002"), "stream service URL (env GROUPWATCH_STREAM_URL)")
	flags.StringVar(&flagStateDir, "state-dir", envOr("GROUPWATCH_STATE_DIR", defaultStateDir()), "directory for saved sessions (env GROUPWATCH_STATE_DIR)")
	flags.StringVar(&flagMetricsAddr, "metrics-addr", os.Getenv("GROUPWATCH_METRICS_ADDR"), "serve prometheus metrics on this address (env GROUPWATCH_METRICS_ADDR)")
	flags.BoolVar(&flagDebug, "debug", false, "verbose logging")

	rootCmd.AddCommand(
		joinCmd(),
		relayCmd(),
		videosCmd(),
		logoutCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		ev := log.Error().Err(err)
		if hint := errors.FlattenHints(err); hint != "" {
			ev = ev.Str("hint", hint)
		}
		ev.Msg("groupwatch")
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".groupwatch"
	}
	return filepath.Join(dir, "groupwatch")
}
