package dialog

import (
	"strings"
)

// Template holds the control markers of an instruction-tuned prompt format.
type Template struct {
	BOS       string `yaml:"bos"`
	EOS       string `yaml:"eos"`
	InstBegin string `yaml:"inst-begin"`
	InstEnd   string `yaml:"inst-end"`
	SysBegin  string `yaml:"sys-begin"`
	SysEnd    string `yaml:"sys-end"`
}

// Llama2Template is the Llama 2 chat format.
var Llama2Template = Template{
	BOS:       "<s>",
	EOS:       `<\s>`,
	InstBegin: "[INST]",
	InstEnd:   "[/INST]",
	SysBegin:  "<<SYS>>\n",
	SysEnd:    "\n<</SYS>>\n\n",
}

func (t Template) closed(prompt, answer string) string {
	var b strings.Builder
	b.WriteString(t.BOS)
	b.WriteString(t.InstBegin)
	b.WriteString(" ")
	b.WriteString(prompt)
	b.WriteString(" ")
	b.WriteString(t.InstEnd)
	b.WriteString(" ")
	b.WriteString(answer)
	b.WriteString(" ")
	b.WriteString(t.EOS)
	return b.String()
}

func (t Template) open(prompt string) string {
	return t.BOS + t.InstBegin + " " + prompt + " " + t.InstEnd
}

// Render turns a well-formed turn sequence into the prompt the backend
// completes. The system turn is folded into the first user turn; every
// answered exchange is closed with EOS and the final user turn is left open.
func (t Template) Render(turns []Turn) (string, error) {
	if err := checkRenderable(turns); err != nil {
		return "", err
	}

	prompts := make([]string, 0, len(turns)-1)
	prompts = append(prompts, t.SysBegin+strings.TrimSpace(turns[0].content)+t.SysEnd+strings.TrimSpace(turns[1].content))
	for _, turn := range turns[2:] {
		prompts = append(prompts, strings.TrimSpace(turn.content))
	}

	var b strings.Builder
	last := len(prompts) - 1
	for i := 0; i < last; i += 2 {
		b.WriteString(t.closed(prompts[i], prompts[i+1]))
	}
	b.WriteString(t.open(prompts[last]))
	return b.String(), nil
}

func checkRenderable(turns []Turn) error {
	if len(turns) < 2 {
		return invalidState("dialog has no user turn to render")
	}
	if turns[0].role != RoleSystem {
		return invalidState("first turn must be %s, got %s", RoleSystem, turns[0].role)
	}
	if turns[len(turns)-1].role != RoleUser {
		return invalidState("last turn must be %s, got %s", RoleUser, turns[len(turns)-1].role)
	}
	for i, turn := range turns[1:] {
		want := RoleUser
		if i%2 == 1 {
			want = RoleAssistant
		}
		if turn.role != want {
			return invalidState("turn %d must be %s, got %s", i+1, want, turn.role)
		}
	}
	return nil
}
