package turnarchive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/dialogd/pkg/dialogevents"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	dsn, err := DSNForFile(filepath.Join(t.TempDir(), "turns.db"))
	require.NoError(t, err)
	a, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchive_SaveAndList(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.Save(ctx, Record{SessionID: "s1", TurnID: "t1", Role: "user", Content: "hi", Length: 2, CreatedAtMs: 100}))
	require.NoError(t, a.Save(ctx, Record{SessionID: "s1", TurnID: "t2", Role: "assistant", Content: "hello", Length: 5, CreatedAtMs: 200}))
	require.NoError(t, a.Save(ctx, Record{SessionID: "s2", TurnID: "t3", Role: "user", Content: "other", Length: 5, CreatedAtMs: 150}))

	items, err := a.List(ctx, Query{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "t1", items[0].TurnID)
	require.Equal(t, "hello", items[1].Content)

	since, err := a.List(ctx, Query{SessionID: "s1", SinceMs: 150})
	require.NoError(t, err)
	require.Len(t, since, 1)
	require.Equal(t, "t2", since[0].TurnID)
}

func TestArchive_Validation(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.Error(t, a.Save(ctx, Record{TurnID: "t"}))
	_, err := a.List(ctx, Query{})
	require.Error(t, err)
	_, err = Open("")
	require.Error(t, err)
	_, err = DSNForFile(" ")
	require.Error(t, err)
}

func TestArchive_HandleEvent(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)

	require.NoError(t, a.HandleEvent(ctx, dialogevents.Event{Type: dialogevents.TypeSessionCreated, SessionID: "s"}))
	require.NoError(t, a.HandleEvent(ctx, dialogevents.Event{Type: dialogevents.TypeTurnCommitted, SessionID: "s", TurnID: "u1", Role: "user", Content: "hi", Length: 2, At: at}))
	require.NoError(t, a.HandleEvent(ctx, dialogevents.Event{Type: dialogevents.TypeTurnRetracted, SessionID: "s", TurnID: "u1"}))

	items, err := a.List(ctx, Query{SessionID: "s"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.True(t, items[0].Retracted)
	require.Equal(t, at.UnixMilli(), items[0].CreatedAtMs)
}
