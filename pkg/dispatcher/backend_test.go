package dispatcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/dialogd/pkg/config"
	"github.com/go-go-golems/dialogd/pkg/generation"
)

func newOpenAIDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"text_completion","created":1,"model":"llama-2-13b-chat",`+
			`"choices":[{"text":"Hello!","index":0,"finish_reason":"stop"}]}`)
	}))
	tr := &http.Transport{}
	t.Cleanup(func() {
		tr.CloseIdleConnections()
		srv.Close()
	})

	s := config.Default()
	gen, err := generation.NewOpenAIBackend(generation.OpenAIConfig{
		BaseURL:    srv.URL + "/v1",
		Model:      s.Backend.Model,
		HTTPClient: &http.Client{Transport: tr},
	})
	require.NoError(t, err)
	return newTestDispatcher(t, gen, func(c *Config) { c.Defaults = s.Generation })
}

func TestAsk_DefaultOptionsCarryNoWarnings(t *testing.T) {
	d := newOpenAIDispatcher(t)
	resp, err := d.Ask(context.Background(), AskRequest{Question: "hi"})
	require.NoError(t, err)
	require.Equal(t, "Hello!", resp.Answer)
	require.Empty(t, resp.Warnings)
}

func TestAsk_ReportsRequestOptionsTheBackendDrops(t *testing.T) {
	d := newOpenAIDispatcher(t)
	resp, err := d.Ask(context.Background(), AskRequest{
		Question: "hi",
		Options:  generation.Options{TopK: generation.Int(40)},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"top_k is not supported by the completions API and was ignored"}, resp.Warnings)
}
