package webchat

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/go-go-golems/dialogd/pkg/dispatcher"
	"github.com/go-go-golems/dialogd/pkg/generation"
	"github.com/go-go-golems/dialogd/pkg/sessionstore"
)

// DialogService is the caller-facing surface the HTTP handlers drive.
type DialogService interface {
	Ask(ctx context.Context, req dispatcher.AskRequest) (dispatcher.AskResponse, error)
	AskStream(ctx context.Context, req dispatcher.AskRequest, emit dispatcher.EmitFunc) (dispatcher.AskResponse, error)
	Clear(ctx context.Context) (dispatcher.ClearResult, error)
	Delete(ctx context.Context, sessionID string) (dispatcher.DeleteResult, error)
	Show(sessionID string) (string, error)
	List() []sessionstore.Summary
	Info() dispatcher.Info
}

var _ DialogService = (*dispatcher.Dispatcher)(nil)

// AskPayload is the JSON body of an ask. Both uuid and session_id address a
// session; no_history is the inverse of retain_history.
type AskPayload struct {
	Question             string             `json:"question"`
	UUID                 string             `json:"uuid,omitempty"`
	SessionID            string             `json:"session_id,omitempty"`
	RetainHistory        *bool              `json:"retain_history,omitempty"`
	NoHistory            *bool              `json:"no_history,omitempty"`
	SystemPrompt         string             `json:"system_prompt,omitempty"`
	SystemPromptMode     string             `json:"system_prompt_mode,omitempty"`
	Debug                bool               `json:"debug,omitempty"`
	GenerationParameters generation.Options `json:"generation_parameters"`
}

func (p AskPayload) Request() dispatcher.AskRequest {
	req := dispatcher.AskRequest{
		Question:         p.Question,
		SessionID:        strings.TrimSpace(p.SessionID),
		RetainHistory:    p.RetainHistory,
		SystemPrompt:     p.SystemPrompt,
		SystemPromptMode: dispatcher.SystemPromptMode(strings.ToLower(strings.TrimSpace(p.SystemPromptMode))),
		Debug:            p.Debug,
		Options:          p.GenerationParameters,
	}
	if req.SessionID == "" {
		req.SessionID = strings.TrimSpace(p.UUID)
	}
	if req.RetainHistory == nil && p.NoHistory != nil {
		retain := !*p.NoHistory
		req.RetainHistory = &retain
	}
	return req
}

// StatusFor maps an error from the dialog service to an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, sessionstore.ErrMissingParameter), stderrors.Is(err, dispatcher.ErrInvalidRequest):
		return http.StatusBadRequest
	case stderrors.Is(err, sessionstore.ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, sessionstore.ErrBusy):
		return http.StatusConflict
	case stderrors.Is(err, dispatcher.ErrStreamTimeout):
		return http.StatusGatewayTimeout
	case stderrors.Is(err, generation.ErrBackend):
		return http.StatusBadGateway
	case stderrors.Is(err, dispatcher.ErrCancelled), stderrors.Is(err, context.Canceled):
		return 499
	default:
		// dialog.ErrInvalidState and anything unexpected
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := StatusFor(err)
	ev := logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = logger.Error()
	}
	ev.Err(err).Int("status", status).Msg("request failed")
	writeJSON(w, status, errorBody{Error: err.Error(), Status: status})
}

// sessionParam reads the session id from ?uuid= or ?session_id=.
func sessionParam(req *http.Request) string {
	q := req.URL.Query()
	if v := strings.TrimSpace(q.Get("uuid")); v != "" {
		return v
	}
	return strings.TrimSpace(q.Get("session_id"))
}

func NewRootHandler(svc DialogService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/" {
			http.NotFound(w, req)
			return
		}
		writeJSON(w, http.StatusOK, svc.Info())
	}
}

func NewAskHTTPHandler(svc DialogService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, "dialogd, use POST")
			return
		}
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var payload AskPayload
		dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, 1<<20))
		if err := dec.Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error(), Status: http.StatusBadRequest})
			return
		}
		resp, err := svc.Ask(req.Context(), payload.Request())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func NewClearHTTPHandler(svc DialogService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		res, err := svc.Clear(req.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func NewDeleteHTTPHandler(svc DialogService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		res, err := svc.Delete(req.Context(), sessionParam(req))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func NewShowHTTPHandler(svc DialogService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		transcript, err := svc.Show(sessionParam(req))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"dialog": transcript})
	}
}

func NewHistoryHTTPHandler(svc DialogService) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"history": svc.List()})
	}
}
