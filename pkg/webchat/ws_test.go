package webchat

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/dialogd/pkg/dialog"
	"github.com/go-go-golems/dialogd/pkg/generation"
)

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ask/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f wsFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestAskWS_StreamsPartialsThenFinal(t *testing.T) {
	srv, d := newTestServer(t, generation.NewScripted("one two three"))
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{"question": "count"}))

	var partials []wsFrame
	var final wsFrame
	for {
		f := readFrame(t, conn)
		if f.Type == "partial" {
			partials = append(partials, f)
			continue
		}
		final = f
		break
	}
	require.Equal(t, "final", final.Type)
	require.Equal(t, "one two three", final.Message)
	require.Len(t, partials, 3)
	require.Equal(t, "one two ", partials[1].Message)
	require.Equal(t, "two ", partials[1].Delta)

	sess, err := d.Store().Get(final.SessionID)
	require.NoError(t, err)
	require.Equal(t, dialog.RoleAssistant, sess.Dialog().LastTurn().Role())

	// a second ask on the same socket continues the session
	require.NoError(t, conn.WriteJSON(map[string]any{"question": "again", "uuid": final.SessionID}))
	for {
		f := readFrame(t, conn)
		if f.Type != "partial" {
			require.Equal(t, "final", f.Type)
			break
		}
	}
	require.Equal(t, 5, sess.Dialog().Len())
}

func TestAskWS_ErrorFrame(t *testing.T) {
	srv, _ := newTestServer(t, generation.NewEcho())
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{"question": " "}))
	f := readFrame(t, conn)
	require.Equal(t, "error", f.Type)
	require.Equal(t, 400, f.Status)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("nope")))
	f = readFrame(t, conn)
	require.Equal(t, "error", f.Type)
	require.Equal(t, 400, f.Status)
}

func TestAskWS_CancelLeavesQuestionPending(t *testing.T) {
	gen := generation.NewScripted("a b c d e f g h")
	gen.Delay = 50 * time.Millisecond
	srv, d := newTestServer(t, gen)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{"question": "long"}))
	first := readFrame(t, conn)
	require.Equal(t, "partial", first.Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "cancel"}))
	for {
		f := readFrame(t, conn)
		if f.Type != "partial" {
			require.Equal(t, "error", f.Type)
			require.Equal(t, 499, f.Status)
			break
		}
	}

	sess, err := d.Store().Get(first.SessionID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !sess.Busy() }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, dialog.RoleUser, sess.Dialog().LastTurn().Role())
	require.Equal(t, 2, sess.Dialog().Len())
}

func TestAskWS_DisconnectReleasesSession(t *testing.T) {
	gen := generation.NewScripted("a b c d e f g h")
	gen.Delay = 50 * time.Millisecond
	srv, d := newTestServer(t, gen)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{"question": "long"}))
	first := readFrame(t, conn)
	require.NoError(t, conn.Close())

	sess, err := d.Store().Get(first.SessionID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !sess.Busy() }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, dialog.RoleUser, sess.Dialog().LastTurn().Role())
}

func TestAskWS_CancelRightAfterAsk(t *testing.T) {
	gen := generation.NewScripted("a b c d e f g h")
	gen.Delay = 20 * time.Millisecond
	srv, d := newTestServer(t, gen)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{"question": "long"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "cancel"}))
	for {
		f := readFrame(t, conn)
		if f.Type != "partial" {
			require.Equal(t, "error", f.Type)
			require.Equal(t, 499, f.Status)
			break
		}
	}

	for _, s := range d.List() {
		require.Eventually(t, func() bool {
			sess, err := d.Store().Get(s.ID)
			return err == nil && !sess.Busy()
		}, 2*time.Second, 10*time.Millisecond)
		sess, err := d.Store().Get(s.ID)
		require.NoError(t, err)
		require.NotEqual(t, dialog.RoleAssistant, sess.Dialog().LastTurn().Role())
	}
}

func TestAskWS_QueuedAskDroppedOnDisconnect(t *testing.T) {
	gen := generation.NewScripted("a b c d e f g h")
	gen.Delay = 50 * time.Millisecond
	srv, d := newTestServer(t, gen)
	conn := dialWS(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{"question": "first"}))
	first := readFrame(t, conn)
	require.Equal(t, "partial", first.Type)
	require.NoError(t, conn.WriteJSON(map[string]any{"question": "second"}))
	require.NoError(t, conn.Close())

	sess, err := d.Store().Get(first.SessionID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !sess.Busy() }, 2*time.Second, 10*time.Millisecond)
	require.Never(t, func() bool { return d.Store().Len() > 1 }, 300*time.Millisecond, 10*time.Millisecond)
}
