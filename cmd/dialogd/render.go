package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/dialogd/pkg/dialog"
)

// Fixture is an offline dialog description used by the render command.
type Fixture struct {
	SystemPrompt string           `yaml:"system-prompt"`
	TokenBudget  int              `yaml:"token-budget,omitempty"`
	Template     *dialog.Template `yaml:"template,omitempty"`
	Turns        []FixtureTurn    `yaml:"turns"`
}

type FixtureTurn struct {
	Role    string `yaml:"role"`
	Content string `yaml:"content"`
}

func loadFixture(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, "parse dialog fixture")
	}
	return &f, nil
}

// Dialog replays the fixture's turns onto a fresh dialog.
func (f *Fixture) Dialog() (*dialog.Dialog, error) {
	opts := []dialog.Option{}
	if f.SystemPrompt != "" {
		opts = append(opts, dialog.WithSystemPrompt(f.SystemPrompt))
	}
	if f.TokenBudget > 0 {
		opts = append(opts, dialog.WithTokenBudget(f.TokenBudget))
	}
	if f.Template != nil {
		opts = append(opts, dialog.WithTemplate(*f.Template))
	}
	d := dialog.New(opts...)
	for i, t := range f.Turns {
		role, err := dialog.ParseRole(t.Role)
		if err != nil {
			return nil, errors.Wrapf(err, "turn %d", i+1)
		}
		switch role {
		case dialog.RoleUser:
			_, err = d.AskAsUser(t.Content)
		case dialog.RoleAssistant:
			_, err = d.ReplyAsAssistant(t.Content)
		default:
			err = errors.New("system turns are set through system-prompt")
		}
		if err != nil {
			return nil, errors.Wrapf(err, "turn %d", i+1)
		}
	}
	return d, nil
}

func newRenderCommand() *cobra.Command {
	var transcript bool
	cmd := &cobra.Command{
		Use:   "render <dialog.yaml>",
		Short: "Render a dialog fixture into the backend prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = file.Close() }()
			fx, err := loadFixture(file)
			if err != nil {
				return err
			}
			return runRender(fx, transcript, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&transcript, "transcript", false, "Print the human readable transcript instead of the prompt")
	return cmd
}

func runRender(fx *Fixture, transcript bool, out, errOut io.Writer) error {
	d, err := fx.Dialog()
	if err != nil {
		return err
	}
	if transcript {
		_, err = fmt.Fprint(out, d.DisplayTranscript())
		return err
	}
	prompt, warn, err := d.Render()
	if err != nil {
		return err
	}
	if warn != nil {
		_, _ = fmt.Fprintln(errOut, "warning:", warn.String())
	}
	_, err = fmt.Fprintln(out, prompt)
	return err
}
