package main

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/dialogd/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "dialogd",
	Short: "Multi-session dialog service over a stateless text-generation backend",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv()
		lvl, _ := cmd.Flags().GetString("log-level")
		withCaller, _ := cmd.Flags().GetBool("with-caller")
		return initLogger(lvl, withCaller)
	},
	SilenceUsage: true,
}

func initLogger(level string, withCaller bool) error {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if withCaller {
		log.Logger = log.Logger.With().Caller().Logger()
	}
	if strings.TrimSpace(level) == "" {
		return nil
	}
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid --log-level %q", level)
	}
	zerolog.SetGlobalLevel(l)
	return nil
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "", "Global log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("with-caller", false, "Include caller (file:line) in logs")
	rootCmd.AddCommand(newServeCommand(), newRenderCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
