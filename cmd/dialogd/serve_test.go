package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/dialogd/pkg/config"
	"github.com/go-go-golems/dialogd/pkg/generation"
)

func TestApplyLogLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	s := config.Default()
	s.LogLevel = "warn"

	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	require.NoError(t, applyLogLevel(true, s))
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	require.NoError(t, applyLogLevel(false, s))
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	s.LogLevel = "loud"
	require.Error(t, applyLogLevel(false, s))
}

func TestWarnUnsupportedDefaults(t *testing.T) {
	gen, err := buildGenerator(configBackend("openai", "llama-2-13b-chat"))
	require.NoError(t, err)

	require.Empty(t, warnUnsupportedDefaults(gen, config.Default().Generation))
	require.Equal(t,
		[]string{"top_k is not supported by the completions API and was ignored"},
		warnUnsupportedDefaults(gen, generation.Options{TopK: generation.Int(100)}))
	require.Empty(t, warnUnsupportedDefaults(generation.NewEcho(), generation.Options{TopK: generation.Int(100)}))
}
