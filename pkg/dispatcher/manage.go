package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/dialogd/pkg/dialogevents"
	"github.com/go-go-golems/dialogd/pkg/sessionstore"
)

type ClearResult struct {
	Message   string `json:"message"`
	Removed   int    `json:"removed"`
	Remaining int    `json:"history"`
}

// Clear drops every session. It fails with sessionstore.ErrBusy while any
// exchange is in flight.
func (d *Dispatcher) Clear(ctx context.Context) (ClearResult, error) {
	n, err := d.store.Clear()
	if err != nil {
		return ClearResult{}, err
	}
	d.events.Emit(ctx, dialogevents.Event{Type: dialogevents.TypeSessionsClear, Count: n})
	return ClearResult{
		Message:   "History cleared, all dialogs removed",
		Removed:   n,
		Remaining: d.store.Len(),
	}, nil
}

type DeleteResult struct {
	SessionID string `json:"uuid"`
	Removed   bool   `json:"removed"`
	Message   string `json:"message"`
}

// Delete removes one session. An unknown id is reported, not treated as an error.
func (d *Dispatcher) Delete(ctx context.Context, sessionID string) (DeleteResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return DeleteResult{}, errors.Wrap(sessionstore.ErrMissingParameter, "delete")
	}
	if !d.store.Delete(sessionID) {
		return DeleteResult{SessionID: sessionID, Message: fmt.Sprintf("Dialog %s not found", sessionID)}, nil
	}
	d.events.Emit(ctx, dialogevents.Event{Type: dialogevents.TypeSessionDeleted, SessionID: sessionID, Reason: dialogevents.ReasonDeleted, At: time.Now()})
	log.Info().Str("component", "dispatcher").Str("session_id", sessionID).Msg("session deleted")
	return DeleteResult{SessionID: sessionID, Removed: true, Message: fmt.Sprintf("Dialog %s removed!", sessionID)}, nil
}

// Show returns the human readable transcript of one session.
func (d *Dispatcher) Show(sessionID string) (string, error) {
	sess, err := d.store.Get(sessionID)
	if err != nil {
		return "", err
	}
	return sess.Dialog().DisplayTranscript(), nil
}

func (d *Dispatcher) List() []sessionstore.Summary {
	sessions := d.store.List()
	out := make([]sessionstore.Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	return out
}

type Info struct {
	Service  string `json:"service"`
	Model    string `json:"model"`
	Sessions int    `json:"sessions"`
}

func (d *Dispatcher) Info() Info {
	return Info{Service: "dialogd", Model: d.gen.Name(), Sessions: d.store.Len()}
}

func (i Info) String() string {
	return fmt.Sprintf("dialogd : %s", i.Model)
}
