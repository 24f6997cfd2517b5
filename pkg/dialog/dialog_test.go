package dialog

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNew_SeedsSystemTurn(t *testing.T) {
	d := New(WithSystemPrompt("be nice"))
	turns := d.Turns()
	require.Len(t, turns, 1)
	require.Equal(t, RoleSystem, turns[0].Role())
	require.Equal(t, "be nice", turns[0].Content())
	require.Equal(t, 7, turns[0].Length())
	require.NotEmpty(t, d.ID())
	require.True(t, d.RetainHistory())
}

func TestNew_UsesDefaultsAndOptions(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	d := New(WithID("abc"), WithRetainHistory(false), WithClock(func() time.Time { return fixed }))
	require.Equal(t, "abc", d.ID())
	require.False(t, d.RetainHistory())
	require.Equal(t, fixed, d.CreatedAt())
	require.Equal(t, DefaultSystemPrompt, d.ActiveSystemPrompt())
	require.Equal(t, fixed, d.Turns()[0].CreatedAt())
}

func TestTurnLength_CountsCharacters(t *testing.T) {
	d := New(WithSystemPrompt("héllo"))
	require.Equal(t, 5, d.Turns()[0].Length())

	d.ReplaceSystemPrompt("日本語")
	require.Equal(t, 3, d.Turns()[0].Length())
	require.Equal(t, 3, d.TotalLength())
}

func TestAskAsUser_RejectsDoubleAsk(t *testing.T) {
	d := New()
	_, err := d.AskAsUser("first")
	require.NoError(t, err)

	_, err = d.AskAsUser("second")
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 2, d.Len())
	require.Equal(t, "first", d.LastTurn().Content())
}

func TestAskAsUser_WithoutHistoryRejectsDoubleAsk(t *testing.T) {
	d := New(WithRetainHistory(false))
	_, err := d.AskAsUser("first")
	require.NoError(t, err)

	_, err = d.AskAsUser("second")
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 2, d.Len())
	require.Equal(t, "first", d.LastTurn().Content())
}

func TestReplyAsAssistant_RequiresPendingUser(t *testing.T) {
	d := New()
	_, err := d.ReplyAsAssistant("nobody asked")
	require.ErrorIs(t, err, ErrInvalidState)

	_, _ = d.AskAsUser("q")
	_, err = d.ReplyAsAssistant("a")
	require.NoError(t, err)
	_, err = d.ReplyAsAssistant("again")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestAskAsUser_WithoutHistoryResets(t *testing.T) {
	d := New(WithRetainHistory(false))
	for _, q := range []string{"one", "two", "three"} {
		_, err := d.AskAsUser(q)
		require.NoError(t, err)
		turns := d.Turns()
		require.Len(t, turns, 2)
		require.Equal(t, RoleSystem, turns[0].Role())
		require.Equal(t, q, turns[1].Content())
		_, err = d.ReplyAsAssistant("answer to " + q)
		require.NoError(t, err)
	}
}

func TestAppendSystemPrompt_IsNotCumulative(t *testing.T) {
	d := New(WithSystemPrompt("base"))
	d.AppendSystemPrompt("A")
	require.Equal(t, "baseA", d.ActiveSystemPrompt())
	d.AppendSystemPrompt("B")
	require.Equal(t, "baseB", d.ActiveSystemPrompt())
	require.Equal(t, "base", d.SystemPrompt())
	require.Equal(t, 5, d.Turns()[0].Length())
}

func TestReplaceSystemPrompt_ThenAppendStartsFromBaseline(t *testing.T) {
	d := New(WithSystemPrompt("base"))
	d.ReplaceSystemPrompt("other")
	require.Equal(t, "other", d.ActiveSystemPrompt())
	d.AppendSystemPrompt("X")
	require.Equal(t, "baseX", d.ActiveSystemPrompt())
}

func TestRetractPendingUser(t *testing.T) {
	d := New()
	_, ok := d.RetractPendingUser()
	require.False(t, ok)

	asked, _ := d.AskAsUser("q")
	got, ok := d.RetractPendingUser()
	require.True(t, ok)
	require.Equal(t, asked.ID(), got.ID())
	require.Equal(t, 1, d.Len())
}

func TestSnapshotRestore(t *testing.T) {
	d := New(WithSystemPrompt("s"))
	snap := d.Snapshot()
	d.AppendSystemPrompt("extra")
	_, _ = d.AskAsUser("q")

	d.Restore(snap)
	require.Equal(t, 1, d.Len())
	require.Equal(t, "s", d.ActiveSystemPrompt())
}

func TestDisplayTranscript(t *testing.T) {
	d := New(WithSystemPrompt("S"))
	_, _ = d.AskAsUser("hi")
	_, _ = d.ReplyAsAssistant("hello")

	sep := strings.Repeat("-", 50) + "\n "
	want := sep +
		" SYSTEM: S \n---Turn:1" + sep +
		" USER: hi \n---Turn:2" + sep +
		" ASSISTANT: hello \n---Turn:3" + sep
	require.Equal(t, want, d.DisplayTranscript())
}

func TestDialog_SystemTurnSurvivesConcurrentUse(t *testing.T) {
	d := New(WithRetainHistory(false))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = d.AskAsUser("q")
				_, _ = d.ReplyAsAssistant("a")
				_ = d.DisplayTranscript()
				require.Equal(t, RoleSystem, d.Turns()[0].Role())
			}
		}()
	}
	wg.Wait()
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("assistant")
	require.NoError(t, err)
	require.Equal(t, RoleAssistant, r)

	_, err = ParseRole("tool")
	require.Error(t, err)
}

func TestHeuristicCounter(t *testing.T) {
	n, err := HeuristicCounter{}.Count("123456789")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}
