package dispatcher

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/dialogd/pkg/generation"
)

// Partial is one incremental update of a streamed answer. Text always holds
// the whole answer so far.
type Partial struct {
	SessionID string `json:"uuid"`
	Text      string `json:"message"`
	Delta     string `json:"delta"`
}

// EmitFunc receives partial answers in order. Returning an error abandons the
// stream as if the caller had cancelled.
type EmitFunc func(Partial) error

// AskStream runs one exchange against the streaming entry point of the
// backend. The reply is committed only once the stream is exhausted. A
// cancelled or stalled stream commits nothing and leaves the question as the
// session's last turn; the next ask on the session discards it.
func (d *Dispatcher) AskStream(ctx context.Context, req AskRequest, emit EmitFunc) (AskResponse, error) {
	if emit == nil {
		emit = func(Partial) error { return nil }
	}
	ex, err := d.begin(ctx, req)
	if err != nil {
		return AskResponse{}, err
	}
	sessionID := ex.sess.ID()
	logger := log.With().Str("component", "dispatcher").Str("session_id", sessionID).Logger()

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := d.gen.GenerateStream(streamCtx, ex.prompt, ex.opts)
	if err != nil {
		cancel()
		d.abort(ex)
		logger.Warn().Err(err).Msg("stream start failed")
		return AskResponse{}, err
	}

	deltas := make(chan string, d.streamBuffer)
	produced := make(chan error, 1)
	go produce(streamCtx, stream, deltas, produced)

	// Close before draining: a backend may only unblock Recv on Close.
	stop := func() {
		cancel()
		if err := stream.Close(); err != nil {
			logger.Debug().Err(err).Msg("stream close failed")
		}
		for range deltas {
		}
	}

	answer, err := d.consume(ctx, sessionID, deltas, emit)
	if err != nil {
		stop()
		if errors.Is(err, ErrCancelled) || errors.Is(err, ErrStreamTimeout) {
			ex.sess.Unlock()
			logger.Info().Err(err).Msg("stream abandoned, reply not committed")
			return AskResponse{}, err
		}
		d.abort(ex)
		return AskResponse{}, err
	}
	if perr := <-produced; perr != nil {
		stop()
		if ctx.Err() != nil {
			ex.sess.Unlock()
			logger.Info().Err(perr).Msg("stream cancelled, reply not committed")
			return AskResponse{}, errors.Wrap(ErrCancelled, perr.Error())
		}
		d.abort(ex)
		logger.Warn().Err(perr).Msg("stream failed")
		return AskResponse{}, perr
	}
	stop()
	return d.commit(ctx, ex, answer, stream.Warnings(), map[string]any{"backend": d.gen.Name(), "streamed": true}, req.Debug)
}

// produce drains the backend stream into deltas. It always closes deltas and
// reports the terminal error (nil on a clean end) on done.
func produce(ctx context.Context, stream generation.Stream, deltas chan<- string, done chan<- error) {
	defer close(deltas)
	for {
		delta, err := stream.Recv()
		if err == io.EOF {
			done <- nil
			return
		}
		if err != nil {
			done <- err
			return
		}
		select {
		case deltas <- delta:
		case <-ctx.Done():
			done <- ctx.Err()
			return
		}
	}
}

// consume forwards cumulative partials until deltas closes. It fails with
// ErrStreamTimeout when no delta arrives within the stall timeout.
func (d *Dispatcher) consume(ctx context.Context, sessionID string, deltas <-chan string, emit EmitFunc) (string, error) {
	var sb strings.Builder
	stall := time.NewTimer(d.stallTimeout)
	defer stall.Stop()
	for {
		select {
		case delta, ok := <-deltas:
			if !ok {
				return sb.String(), nil
			}
			sb.WriteString(delta)
			stall.Reset(d.stallTimeout)
			if err := emit(Partial{SessionID: sessionID, Text: sb.String(), Delta: delta}); err != nil {
				return "", errors.Wrap(ErrCancelled, err.Error())
			}
		case <-stall.C:
			return "", errors.Wrapf(ErrStreamTimeout, "no output for %s", d.stallTimeout)
		case <-ctx.Done():
			return "", errors.Wrap(ErrCancelled, ctx.Err().Error())
		}
	}
}
