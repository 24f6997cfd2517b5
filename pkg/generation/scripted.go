package generation

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Scripted is an in-process Generator that answers from a reply function.
// It backs the "echo" backend and tests.
type Scripted struct {
	// Reply produces the full answer for a prompt.
	Reply func(prompt string) (string, error)
	// Delay is waited before every streamed delta.
	Delay time.Duration

	mu      sync.Mutex
	prompts []string
	opts    []Options
}

var _ Generator = (*Scripted)(nil)

// NewScripted answers with replies in order, repeating the last one.
func NewScripted(replies ...string) *Scripted {
	s := &Scripted{}
	n := 0
	s.Reply = func(string) (string, error) {
		if len(replies) == 0 {
			return "ok", nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		r := replies[min(n, len(replies)-1)]
		n++
		return r, nil
	}
	return s
}

// NewEcho reports how much prompt it received; useful without a model.
func NewEcho() *Scripted {
	return &Scripted{Reply: func(prompt string) (string, error) {
		return fmt.Sprintf("received a prompt of %d characters", len([]rune(prompt))), nil
	}}
}

func (s *Scripted) Name() string { return "scripted" }

func (s *Scripted) record(prompt string, opts Options) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.opts = append(s.opts, opts)
	s.mu.Unlock()
}

// Prompts returns every prompt received so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// LastOptions returns the options of the latest call.
func (s *Scripted) LastOptions() (Options, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.opts) == 0 {
		return Options{}, false
	}
	return s.opts[len(s.opts)-1], true
}

func (s *Scripted) reply(prompt string) (string, error) {
	text, err := s.Reply(prompt)
	if err != nil {
		return "", &BackendError{Backend: "scripted", Err: err}
	}
	return text, nil
}

func (s *Scripted) Generate(ctx context.Context, prompt string, opts Options) (Result, error) {
	s.record(prompt, opts)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	text, err := s.reply(prompt)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, Debug: map[string]any{"backend": "scripted"}}, nil
}

func (s *Scripted) GenerateStream(ctx context.Context, prompt string, opts Options) (Stream, error) {
	s.record(prompt, opts)
	text, err := s.reply(prompt)
	if err != nil {
		return nil, err
	}
	return &scriptedStream{ctx: ctx, deltas: strings.SplitAfter(text, " "), delay: s.Delay}, nil
}

type scriptedStream struct {
	ctx    context.Context
	deltas []string
	delay  time.Duration
	closed atomic.Bool
}

func (s *scriptedStream) Recv() (string, error) {
	if s.closed.Load() {
		return "", errors.New("stream closed")
	}
	if len(s.deltas) == 0 {
		return "", io.EOF
	}
	if s.delay > 0 {
		t := time.NewTimer(s.delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

func (s *scriptedStream) Warnings() []string { return nil }

func (s *scriptedStream) Close() error {
	s.closed.Store(true)
	return nil
}
