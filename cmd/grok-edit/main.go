// Command grok-edit edits images with Grok.
//
//	grok-edit serve                     run the HTTP API
//	grok-edit edit -i in.png -p "..."   edit one local image
//	grok-edit probe                     check connectivity and the API key
//	grok-edit token --user 42           mint a bearer token for the HTTP API
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/grok-image-edit/internal/config"
	"github.com/fpang/grok-image-edit/internal/logging"
	"github.com/fpang/grok-image-edit/internal/tracing"
)

var (
	configFlag   string
	logLevelFlag string

	opts            config.Options
	shutdownTracing tracing.ShutdownFunc
	initStart       time.Time
)

var rootCmd = &cobra.Command{
	Use:   "grok-edit",
	Short: "Edit images with Grok",
	Long: `grok-edit sends an image and an edit instruction to an OpenAI-compatible
Grok endpoint, retries with a recompressed image when the first attempt fails,
and saves or relays the returned images.

Configuration is read from --config (YAML, ${VAR:default} placeholders are
expanded) and GROK_EDIT_* environment variables.

Examples:
  grok-edit serve --config config.yaml
  grok-edit edit -i cat.png -p "add sunglasses"
  grok-edit probe`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		initStart = time.Now()
		loaded, err := config.Load(configFlag)
		if err != nil {
			return err
		}
		if logLevelFlag != "" {
			loaded.LogLevel = logLevelFlag
		}
		opts = loaded
		logging.Init(opts.LogLevel, opts.LogFormat)

		shutdownTracing, err = tracing.Init(cmd.Context(), tracing.Config{
			Endpoint:   opts.OTLPEndpoint,
			SampleRate: opts.TraceSampleRate,
		})
		return err
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if shutdownTracing == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to flush traces")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, editCmd, probeCmd, tokenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
