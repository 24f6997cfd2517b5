// Package config loads dialogd settings from a YAML file and the environment.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/dialogd/pkg/dialog"
	"github.com/go-go-golems/dialogd/pkg/dialogevents"
	"github.com/go-go-golems/dialogd/pkg/generation"
)

const (
	EnvAPIKey       = "DIALOGD_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Duration accepts Go duration strings ("10s", "5m") in YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.Wrap(err, "duration")
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "line %d: invalid duration %q", value.Line, s)
	}
	*d = Duration(parsed)
	return nil
}

type Settings struct {
	Server     ServerSettings        `yaml:"server"`
	Dialog     DialogSettings        `yaml:"dialog"`
	Store      StoreSettings         `yaml:"store"`
	Backend    BackendSettings       `yaml:"backend"`
	Generation generation.Options    `yaml:"generation"`
	Stream     StreamSettings        `yaml:"stream"`
	Events     dialogevents.Settings `yaml:"events"`
	Archive    ArchiveSettings       `yaml:"archive"`
	LogLevel   string                `yaml:"log-level"`
}

type ServerSettings struct {
	Addr            string   `yaml:"addr"`
	ShutdownTimeout Duration `yaml:"shutdown-timeout"`
}

type DialogSettings struct {
	SystemPrompt string           `yaml:"system-prompt"`
	TokenBudget  int              `yaml:"token-budget"`
	Template     *dialog.Template `yaml:"template,omitempty"`
}

// StoreSettings configures idle eviction. A zero EvictIdle keeps sessions
// until they are deleted.
type StoreSettings struct {
	EvictIdle     Duration `yaml:"evict-idle"`
	EvictInterval Duration `yaml:"evict-interval"`
}

type BackendSettings struct {
	// Kind is "openai" or "echo".
	Kind    string `yaml:"kind"`
	BaseURL string `yaml:"base-url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api-key,omitempty"`
}

type StreamSettings struct {
	StallTimeout Duration `yaml:"stall-timeout"`
	Buffer       int      `yaml:"buffer"`
}

type ArchiveSettings struct {
	// Path of the SQLite archive. Empty disables archiving.
	Path string `yaml:"path"`
}

func Default() Settings {
	return Settings{
		Server: ServerSettings{
			Addr:            ":5555",
			ShutdownTimeout: Duration(30 * time.Second),
		},
		Dialog: DialogSettings{
			SystemPrompt: dialog.DefaultSystemPrompt,
			TokenBudget:  dialog.DefaultTokenBudget,
		},
		Store: StoreSettings{
			EvictInterval: Duration(time.Minute),
		},
		Backend: BackendSettings{
			Kind:    "openai",
			BaseURL: "http://localhost:8080/v1",
			Model:   "llama-2-13b-chat",
		},
		Generation: generation.Options{
			Temperature:  generation.Float32(0.5),
			TopP:         generation.Float32(0.95),
			MaxNewTokens: generation.Int(128),
		},
		Stream: StreamSettings{
			StallTimeout: Duration(10 * time.Second),
			Buffer:       32,
		},
		Events:   dialogevents.DefaultSettings(),
		LogLevel: "info",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (Settings, error) {
	s := Default()
	if strings.TrimSpace(path) != "" {
		f, err := os.Open(path)
		if err != nil {
			return Settings{}, errors.Wrap(err, "open config")
		}
		defer func() { _ = f.Close() }()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return Settings{}, errors.Wrapf(err, "parse config %s", path)
		}
	}
	s.resolveEnv()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) resolveEnv() {
	if s.Backend.APIKey != "" {
		return
	}
	for _, k := range []string{EnvAPIKey, EnvOpenAIAPIKey} {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			s.Backend.APIKey = v
			return
		}
	}
}

func (s Settings) Validate() error {
	switch s.Backend.Kind {
	case "openai":
		if strings.TrimSpace(s.Backend.Model) == "" {
			return errors.New("config: backend.model is required for the openai backend")
		}
	case "echo":
	default:
		return errors.Errorf("config: unknown backend.kind %q", s.Backend.Kind)
	}
	if s.Dialog.TokenBudget <= 0 {
		return errors.New("config: dialog.token-budget must be positive")
	}
	if s.Stream.StallTimeout <= 0 {
		return errors.New("config: stream.stall-timeout must be positive")
	}
	if s.Store.EvictIdle > 0 && s.Store.EvictInterval <= 0 {
		return errors.New("config: store.evict-interval must be positive when eviction is enabled")
	}
	if _, err := s.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses log-level. An empty value yields zerolog.NoLevel.
func (s Settings) Level() (zerolog.Level, error) {
	if strings.TrimSpace(s.LogLevel) == "" {
		return zerolog.NoLevel, nil
	}
	l, err := zerolog.ParseLevel(strings.TrimSpace(s.LogLevel))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "config: invalid log-level %q", s.LogLevel)
	}
	return l, nil
}

// DialogOptions are the options every new session's dialog is built with.
func (s Settings) DialogOptions() []dialog.Option {
	opts := []dialog.Option{
		dialog.WithSystemPrompt(s.Dialog.SystemPrompt),
		dialog.WithTokenBudget(s.Dialog.TokenBudget),
	}
	if s.Dialog.Template != nil {
		opts = append(opts, dialog.WithTemplate(*s.Dialog.Template))
	}
	return opts
}

// LoadDotEnv loads .env files, ignoring missing ones.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}
}
