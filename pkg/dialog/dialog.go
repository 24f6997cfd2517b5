package dialog

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSystemPrompt seeds new dialogs unless a prompt is configured.
const DefaultSystemPrompt = `You are a helpful, respectful and honest assistant.
Always answer as helpfully as possible, while being safe.
Your answers should not include any harmful, unethical, racist, sexist, toxic, dangerous, or illegal content.
Please ensure that your responses are socially unbiased and positive in nature.
If a question does not make any sense, or is not factually coherent, explain why instead of answering something not correct.
If you don't know the answer to a question, please don't share false information.`

// Dialog is one conversation: a system turn followed by alternating user and
// assistant turns. All methods are safe for concurrent use; callers that need
// a read-modify-write sequence to be atomic serialize on the owning session.
type Dialog struct {
	mu sync.RWMutex

	id            string
	retainHistory bool
	systemPrompt  string
	template      Template
	tokenBudget   int
	now           func() time.Time
	createdAt     time.Time

	turns []Turn
}

type Option func(*Dialog)

func WithID(id string) Option {
	return func(d *Dialog) {
		if id != "" {
			d.id = id
		}
	}
}

func WithRetainHistory(retain bool) Option {
	return func(d *Dialog) { d.retainHistory = retain }
}

func WithSystemPrompt(prompt string) Option {
	return func(d *Dialog) { d.systemPrompt = prompt }
}

func WithTemplate(t Template) Option {
	return func(d *Dialog) { d.template = t }
}

// WithTokenBudget sets the advisory budget; zero or less disables the warning.
func WithTokenBudget(tokens int) Option {
	return func(d *Dialog) { d.tokenBudget = tokens }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dialog) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a dialog whose first turn is the system prompt.
func New(opts ...Option) *Dialog {
	d := &Dialog{
		id:            uuid.NewString(),
		retainHistory: true,
		systemPrompt:  DefaultSystemPrompt,
		template:      Llama2Template,
		tokenBudget:   DefaultTokenBudget,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.createdAt = d.now()
	d.turns = []Turn{newTurn(RoleSystem, d.systemPrompt, d.createdAt)}
	return d
}

func (d *Dialog) ID() string           { return d.id }
func (d *Dialog) RetainHistory() bool  { return d.retainHistory }
func (d *Dialog) CreatedAt() time.Time { return d.createdAt }

// SystemPrompt returns the baseline prompt the dialog was created with.
func (d *Dialog) SystemPrompt() string { return d.systemPrompt }

// Turns returns a copy of the turn sequence.
func (d *Dialog) Turns() []Turn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Turn(nil), d.turns...)
}

func (d *Dialog) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.turns)
}

// TotalLength is the sum of all turn lengths.
func (d *Dialog) TotalLength() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return totalLength(d.turns)
}

func totalLength(turns []Turn) int {
	n := 0
	for _, t := range turns {
		n += t.length
	}
	return n
}

// LastTurn returns the most recent turn, which is the system turn for a fresh dialog.
func (d *Dialog) LastTurn() Turn {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.turns[len(d.turns)-1]
}

// AskAsUser appends a user turn. Without retained history the dialog is
// reset to its system turn first.
func (d *Dialog) AskAsUser(content string) (Turn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last := d.turns[len(d.turns)-1]; last.role == RoleUser {
		return Turn{}, invalidState("user turn %s is still unanswered", last.id)
	}
	if !d.retainHistory {
		d.turns = d.turns[:1]
	}
	t := newTurn(RoleUser, content, d.now())
	d.turns = append(d.turns, t)
	return t, nil
}

// ReplyAsAssistant answers the pending user turn.
func (d *Dialog) ReplyAsAssistant(content string) (Turn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last := d.turns[len(d.turns)-1]; last.role != RoleUser {
		return Turn{}, invalidState("cannot reply after a %s turn", last.role)
	}
	t := newTurn(RoleAssistant, content, d.now())
	d.turns = append(d.turns, t)
	return t, nil
}

// RetractPendingUser drops a trailing unanswered user turn.
func (d *Dialog) RetractPendingUser() (Turn, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	last := d.turns[len(d.turns)-1]
	if last.role != RoleUser {
		return Turn{}, false
	}
	d.turns = d.turns[:len(d.turns)-1]
	return last, true
}

// AppendSystemPrompt sets the system turn to the baseline prompt followed by
// extra. Calls do not accumulate: each one starts again from the baseline.
func (d *Dialog) AppendSystemPrompt(extra string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.turns[0].setContent(d.systemPrompt + extra)
}

// ReplaceSystemPrompt overwrites the system turn verbatim.
func (d *Dialog) ReplaceSystemPrompt(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.turns[0].setContent(text)
}

// ActiveSystemPrompt is the current content of the system turn.
func (d *Dialog) ActiveSystemPrompt() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.turns[0].content
}

// Render formats the dialog for the backend. The warning is advisory and is
// returned alongside a valid prompt.
func (d *Dialog) Render() (string, *ContextBudgetWarning, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	prompt, err := d.template.Render(d.turns)
	if err != nil {
		return "", nil, err
	}
	return prompt, checkBudget(totalLength(d.turns), d.tokenBudget), nil
}

const transcriptSeparator = "--------------------------------------------------\n "

// DisplayTranscript renders a human readable transcript, independent of the
// backend template.
func (d *Dialog) DisplayTranscript() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b strings.Builder
	b.WriteString(transcriptSeparator)
	for i, t := range d.turns {
		b.WriteString(" ")
		b.WriteString(strings.ToUpper(string(t.role)))
		b.WriteString(": ")
		b.WriteString(t.content)
		b.WriteString(" \n")
		b.WriteString("---Turn:")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(transcriptSeparator)
	}
	return b.String()
}

// Snapshot captures the turn sequence so a failed exchange can be undone.
type Snapshot struct {
	turns []Turn
}

func (d *Dialog) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return Snapshot{turns: append([]Turn(nil), d.turns...)}
}

func (d *Dialog) Restore(s Snapshot) {
	if len(s.turns) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.turns = append(d.turns[:0:0], s.turns...)
}
