package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/dialogd/pkg/dialog"
)

func TestRender_Fixture(t *testing.T) {
	f, err := os.Open("testdata/dialog.yaml")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	fx, err := loadFixture(f)
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	require.NoError(t, runRender(fx, false, &out, &errOut))
	require.Equal(t,
		"<s>[INST] <<SYS>>\nS\n<</SYS>>\n\nhi [/INST] hello <\\s><s>[INST] bye [/INST]\n",
		out.String())
	require.Empty(t, errOut.String())
}

func TestRender_TranscriptAndWarning(t *testing.T) {
	fx := &Fixture{
		SystemPrompt: "S",
		TokenBudget:  1,
		Turns:        []FixtureTurn{{Role: "user", Content: "a fairly long question"}},
	}
	var out, errOut bytes.Buffer
	require.NoError(t, runRender(fx, false, &out, &errOut))
	require.Contains(t, errOut.String(), "context window of 1 tokens")

	out.Reset()
	require.NoError(t, runRender(fx, true, &out, &errOut))
	require.Contains(t, out.String(), " USER: a fairly long question \n---Turn:2")
}

func TestRender_RejectsBadFixtures(t *testing.T) {
	for name, body := range map[string]string{
		"unknown role":  "turns:\n  - role: robot\n    content: x\n",
		"double user":   "turns:\n  - role: user\n    content: a\n  - role: user\n    content: b\n",
		"system turn":   "turns:\n  - role: system\n    content: x\n",
		"ends answered": "turns:\n  - role: user\n    content: a\n  - role: assistant\n    content: b\n",
		"unknown field": "turnz: []\n",
	} {
		t.Run(name, func(t *testing.T) {
			fx, err := loadFixture(strings.NewReader(body))
			if err == nil {
				err = runRender(fx, false, &bytes.Buffer{}, &bytes.Buffer{})
			}
			require.Error(t, err)
		})
	}
}

func TestFixture_DefaultSystemPrompt(t *testing.T) {
	fx := &Fixture{Turns: []FixtureTurn{{Role: "user", Content: "hi"}}}
	d, err := fx.Dialog()
	require.NoError(t, err)
	require.Equal(t, dialog.DefaultSystemPrompt, d.SystemPrompt())
}

func TestBuildGenerator(t *testing.T) {
	gen, err := buildGenerator(configBackend("echo", ""))
	require.NoError(t, err)
	require.Equal(t, "scripted", gen.Name())

	gen, err = buildGenerator(configBackend("openai", "llama"))
	require.NoError(t, err)
	require.Equal(t, "llama", gen.Name())

	_, err = buildGenerator(configBackend("gpu", ""))
	require.Error(t, err)
}
