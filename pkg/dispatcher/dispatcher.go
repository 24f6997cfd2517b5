// Package dispatcher runs one question/answer exchange against a session:
// resolve the session, extend its dialog, render the prompt, call the
// generation backend and commit the reply. Ask is the blocking variant and
// AskStream the incremental one.
package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/dialogd/pkg/dialog"
	"github.com/go-go-golems/dialogd/pkg/dialogevents"
	"github.com/go-go-golems/dialogd/pkg/generation"
	"github.com/go-go-golems/dialogd/pkg/sessionstore"
)

const (
	DefaultStallTimeout = 10 * time.Second
	DefaultStreamBuffer = 32
)

var (
	ErrStreamTimeout  = errors.New("generation stream stalled")
	ErrCancelled      = errors.New("generation cancelled")
	ErrInvalidRequest = errors.New("invalid request")
)

const retractedWarning = "an unanswered question left by an interrupted request was discarded"

type Config struct {
	Store     *sessionstore.Store
	Generator generation.Generator
	// Defaults are merged under the per-request generation options.
	Defaults generation.Options
	// Counter computes debug_info.input_len. Defaults to the tiktoken counter.
	Counter dialog.TokenCounter
	Events  *dialogevents.Publisher

	StallTimeout time.Duration
	StreamBuffer int
}

type Dispatcher struct {
	store    *sessionstore.Store
	gen      generation.Generator
	defaults generation.Options
	counter  dialog.TokenCounter
	events   *dialogevents.Publisher

	stallTimeout time.Duration
	streamBuffer int
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("dispatcher: store is nil")
	}
	if cfg.Generator == nil {
		return nil, errors.New("dispatcher: generator is nil")
	}
	d := &Dispatcher{
		store:        cfg.Store,
		gen:          cfg.Generator,
		defaults:     cfg.Defaults,
		counter:      cfg.Counter,
		events:       cfg.Events,
		stallTimeout: cfg.StallTimeout,
		streamBuffer: cfg.StreamBuffer,
	}
	if d.counter == nil {
		d.counter = dialog.NewTokenCounter()
	}
	if d.stallTimeout <= 0 {
		d.stallTimeout = DefaultStallTimeout
	}
	if d.streamBuffer <= 0 {
		d.streamBuffer = DefaultStreamBuffer
	}
	d.store.OnEvict(d.evicted)
	return d, nil
}

// evicted publishes a session.deleted event for every session the store
// dropped for inactivity.
func (d *Dispatcher) evicted(sessions []sessionstore.Summary) {
	now := time.Now()
	for _, s := range sessions {
		d.events.Emit(context.Background(), dialogevents.Event{
			Type:      dialogevents.TypeSessionDeleted,
			SessionID: s.ID,
			Count:     s.Turns,
			Reason:    dialogevents.ReasonEvicted,
			At:        now,
		})
	}
}

func (d *Dispatcher) Store() *sessionstore.Store { return d.store }

type SystemPromptMode string

const (
	// SystemPromptExtend appends the request's text to the session's baseline prompt.
	SystemPromptExtend SystemPromptMode = "extend"
	// SystemPromptReplace overwrites the session's system prompt.
	SystemPromptReplace SystemPromptMode = "replace"
)

type AskRequest struct {
	Question  string
	SessionID string
	// RetainHistory defaults to true. It only applies when a session is created.
	RetainHistory    *bool
	SystemPrompt     string
	SystemPromptMode SystemPromptMode
	Debug            bool
	Options          generation.Options
}

func (r AskRequest) retainHistory() bool {
	return r.RetainHistory == nil || *r.RetainHistory
}

func (r AskRequest) validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return errors.Wrap(ErrInvalidRequest, "question is required")
	}
	switch r.SystemPromptMode {
	case "", SystemPromptExtend, SystemPromptReplace:
	default:
		return errors.Wrapf(ErrInvalidRequest, "unknown system_prompt_mode %q", r.SystemPromptMode)
	}
	return nil
}

type AskResponse struct {
	Answer    string         `json:"message"`
	SessionID string         `json:"uuid"`
	Warnings  []string       `json:"warnings"`
	DebugInfo map[string]any `json:"debug_info"`
}

// exchange is the state of one in-flight ask between preparation and commit.
// The session lock is held for its whole lifetime.
type exchange struct {
	sess     *sessionstore.Session
	created  bool
	snapshot dialog.Snapshot
	prompt   string
	opts     generation.Options
	warnings []string
	pending  []dialogevents.Event
}

// begin acquires the session and appends the user turn. On success the
// caller owns the session lock and must call finish.
func (d *Dispatcher) begin(ctx context.Context, req AskRequest) (*exchange, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	sess, created, err := d.store.Acquire(ctx, req.SessionID, req.retainHistory())
	if err != nil {
		return nil, err
	}
	dlg := sess.Dialog()
	ex := &exchange{
		sess:     sess,
		created:  created,
		snapshot: dlg.Snapshot(),
		opts:     d.defaults.Merge(req.Options),
		warnings: []string{},
	}
	if created {
		ex.pending = append(ex.pending, dialogevents.Event{Type: dialogevents.TypeSessionCreated, SessionID: sess.ID(), At: dlg.CreatedAt()})
	}

	if retracted, ok := dlg.RetractPendingUser(); ok {
		ex.warnings = append(ex.warnings, retractedWarning)
		ex.pending = append(ex.pending, dialogevents.TurnEvent(dialogevents.TypeTurnRetracted, sess.ID(), retracted))
	}

	if req.SystemPrompt != "" {
		if req.SystemPromptMode == SystemPromptReplace {
			dlg.ReplaceSystemPrompt(req.SystemPrompt)
		} else {
			dlg.AppendSystemPrompt(req.SystemPrompt)
		}
	}

	user, err := dlg.AskAsUser(req.Question)
	if err != nil {
		d.abort(ex)
		return nil, err
	}
	ex.pending = append(ex.pending, dialogevents.TurnEvent(dialogevents.TypeTurnCommitted, sess.ID(), user))

	prompt, warn, err := dlg.Render()
	if err != nil {
		d.abort(ex)
		return nil, err
	}
	if warn != nil {
		ex.warnings = append(ex.warnings, warn.String())
	}
	// Only options the caller set are reported; configured defaults the
	// backend cannot carry are logged once at startup.
	if c, ok := d.gen.(generation.OptionChecker); ok {
		ex.warnings = append(ex.warnings, c.Unsupported(req.Options)...)
	}
	ex.prompt = prompt
	return ex, nil
}

// abort restores the dialog to its state before begin and releases the lock.
func (d *Dispatcher) abort(ex *exchange) {
	ex.sess.Dialog().Restore(ex.snapshot)
	ex.sess.Unlock()
}

// commit records the reply, releases the lock and publishes the exchange.
func (d *Dispatcher) commit(ctx context.Context, ex *exchange, answer string, backendWarnings []string, debug map[string]any, wantDebug bool) (AskResponse, error) {
	reply, err := ex.sess.Dialog().ReplyAsAssistant(answer)
	if err != nil {
		d.abort(ex)
		return AskResponse{}, err
	}
	ex.sess.Unlock()

	ex.pending = append(ex.pending, dialogevents.TurnEvent(dialogevents.TypeTurnCommitted, ex.sess.ID(), reply))
	for _, ev := range ex.pending {
		d.events.Emit(ctx, ev)
	}

	resp := AskResponse{
		Answer:    answer,
		SessionID: ex.sess.ID(),
		Warnings:  append(ex.warnings, backendWarnings...),
		DebugInfo: map[string]any{},
	}
	if wantDebug {
		resp.DebugInfo = d.debugInfo(ex, debug)
	}
	log.Debug().
		Str("component", "dispatcher").
		Str("session_id", resp.SessionID).
		Str("turn_id", reply.ID()).
		Int("answer_chars", reply.Length()).
		Int("warnings", len(resp.Warnings)).
		Msg("exchange committed")
	return resp, nil
}

func (d *Dispatcher) debugInfo(ex *exchange, backend map[string]any) map[string]any {
	info := map[string]any{}
	for k, v := range backend {
		info[k] = v
	}
	info["prompt"] = ex.prompt
	info["prompt_chars"] = len([]rune(ex.prompt))
	info["generation_options"] = ex.opts.Map()
	if n, err := d.counter.Count(ex.prompt); err == nil {
		info["input_len"] = n
	} else {
		log.Warn().Err(err).Str("component", "dispatcher").Msg("token count failed")
	}
	return info
}

// Ask runs one blocking exchange. A backend failure leaves the session as it
// was before the call.
func (d *Dispatcher) Ask(ctx context.Context, req AskRequest) (AskResponse, error) {
	ex, err := d.begin(ctx, req)
	if err != nil {
		return AskResponse{}, err
	}
	res, err := d.gen.Generate(ctx, ex.prompt, ex.opts)
	if err != nil {
		d.abort(ex)
		log.Warn().Err(err).Str("component", "dispatcher").Str("session_id", ex.sess.ID()).Msg("generation failed")
		if ctx.Err() != nil {
			return AskResponse{}, errors.Wrap(ErrCancelled, err.Error())
		}
		return AskResponse{}, err
	}
	return d.commit(ctx, ex, res.Text, res.Warnings, res.Debug, req.Debug)
}
