package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/dialogd/pkg/config"
	"github.com/go-go-golems/dialogd/pkg/dialogevents"
	"github.com/go-go-golems/dialogd/pkg/dispatcher"
	"github.com/go-go-golems/dialogd/pkg/generation"
	"github.com/go-go-golems/dialogd/pkg/persistence/turnarchive"
	"github.com/go-go-golems/dialogd/pkg/sessionstore"
	"github.com/go-go-golems/dialogd/pkg/webchat"
)

type serveFlags struct {
	configPath string
	addr       string
	backend    string
	baseURL    string
	model      string
	archive    string
	logEvents  bool
}

func newServeCommand() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dialog HTTP and websocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			f.apply(cmd, &s)
			if err := s.Validate(); err != nil {
				return err
			}
			if err := applyLogLevel(cmd.Flags().Changed("log-level"), s); err != nil {
				return err
			}
			return serve(cmd.Context(), s, f.logEvents)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.configPath, "config", "", "Path to a YAML config file")
	fl.StringVar(&f.addr, "addr", "", "Listen address (overrides server.addr)")
	fl.StringVar(&f.backend, "backend", "", "Backend kind: openai or echo")
	fl.StringVar(&f.baseURL, "base-url", "", "OpenAI-compatible API base URL")
	fl.StringVar(&f.model, "model", "", "Model name sent to the backend")
	fl.StringVar(&f.archive, "archive", "", "SQLite file to archive committed turns into")
	fl.BoolVar(&f.logEvents, "log-events", false, "Log every dialog event")
	return cmd
}

func (f *serveFlags) apply(cmd *cobra.Command, s *config.Settings) {
	fl := cmd.Flags()
	if fl.Changed("addr") {
		s.Server.Addr = f.addr
	}
	if fl.Changed("backend") {
		s.Backend.Kind = f.backend
	}
	if fl.Changed("base-url") {
		s.Backend.BaseURL = f.baseURL
	}
	if fl.Changed("model") {
		s.Backend.Model = f.model
	}
	if fl.Changed("archive") {
		s.Archive.Path = f.archive
	}
}

// applyLogLevel sets the configured log-level unless --log-level was given.
func applyLogLevel(flagSet bool, s config.Settings) error {
	if flagSet {
		return nil
	}
	l, err := s.Level()
	if err != nil {
		return err
	}
	if l != zerolog.NoLevel {
		zerolog.SetGlobalLevel(l)
	}
	return nil
}

// warnUnsupportedDefaults logs configured generation defaults the backend
// cannot honor. Requests only report the options they set themselves.
func warnUnsupportedDefaults(gen generation.Generator, defaults generation.Options) []string {
	c, ok := gen.(generation.OptionChecker)
	if !ok {
		return nil
	}
	warnings := c.Unsupported(defaults)
	for _, w := range warnings {
		log.Warn().Str("backend", gen.Name()).Msg("generation default: " + w)
	}
	return warnings
}

func buildGenerator(s config.BackendSettings) (generation.Generator, error) {
	switch s.Kind {
	case "openai":
		b, err := generation.NewOpenAIBackend(generation.OpenAIConfig{
			BaseURL: s.BaseURL,
			APIKey:  s.APIKey,
			Model:   s.Model,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case "echo":
		return generation.NewEcho(), nil
	default:
		return nil, errors.Errorf("unknown backend %q", s.Kind)
	}
}

func serve(ctx context.Context, s config.Settings, logEvents bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	gen, err := buildGenerator(s.Backend)
	if err != nil {
		return errors.Wrap(err, "build backend")
	}
	warnUnsupportedDefaults(gen, s.Generation)

	store := sessionstore.New(sessionstore.Options{DialogOptions: s.DialogOptions()})
	store.SetEviction(sessionstore.EvictionPolicy{Idle: s.Store.EvictIdle.Std(), Interval: s.Store.EvictInterval.Std()})

	transport, err := dialogevents.BuildTransport(ctx, s.Events)
	if err != nil {
		return errors.Wrap(err, "build event transport")
	}
	defer func() {
		if err := transport.Close(); err != nil {
			log.Warn().Err(err).Msg("event transport close failed")
		}
	}()

	var handlers []dialogevents.Handler
	if logEvents || zerolog.GlobalLevel() <= zerolog.DebugLevel {
		handlers = append(handlers, dialogevents.LogHandler)
	}
	if s.Archive.Path != "" {
		dsn, err := turnarchive.DSNForFile(s.Archive.Path)
		if err != nil {
			return err
		}
		archive, err := turnarchive.Open(dsn)
		if err != nil {
			return errors.Wrap(err, "open turn archive")
		}
		defer func() { _ = archive.Close() }()
		handlers = append(handlers, archive.HandleEvent)
		log.Info().Str("path", s.Archive.Path).Msg("archiving committed turns")
	}

	var events *dialogevents.Publisher
	opts := []webchat.ServerOption{webchat.WithShutdownTimeout(s.Server.ShutdownTimeout.Std())}
	if len(handlers) > 0 {
		events = dialogevents.NewPublisher(transport.Publisher, s.Events.Topic)
		topic := events.Topic()
		opts = append(opts, webchat.WithWorker("dialog-events", func(ctx context.Context) error {
			return dialogevents.Consume(ctx, transport.Subscriber, topic, "dialog-events", dialogevents.Fanout(handlers...))
		}))
	}

	d, err := dispatcher.New(dispatcher.Config{
		Store:        store,
		Generator:    gen,
		Defaults:     s.Generation,
		Events:       events,
		StallTimeout: s.Stream.StallTimeout.Std(),
		StreamBuffer: s.Stream.Buffer,
	})
	if err != nil {
		return err
	}

	srv, err := webchat.NewServer(s.Server.Addr, d, opts...)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
