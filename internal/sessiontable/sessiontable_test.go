package sessiontable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUpsertThenGet(t *testing.T) {
	tbl := New()
	tbl.Upsert(Entry{SessionID: "s1", AppID: "app1", Status: StatusRunning})
	e, ok := tbl.Get("s1")
	require.True(t, ok)
	require.Equal(t, "app1", e.AppID)
	require.False(t, e.CreatedAt.IsZero())
}

func TestUpsertPreservesCreatedAtAcrossUpdates(t *testing.T) {
	tbl := New()
	tbl.Upsert(Entry{SessionID: "s1", Status: StatusStarting})
	first, _ := tbl.Get("s1")

	time.Sleep(5 * time.Millisecond)
	tbl.Upsert(Entry{SessionID: "s1", Status: StatusRunning})
	second, _ := tbl.Get("s1")

	require.Equal(t, first.CreatedAt, second.CreatedAt)
	require.True(t, second.LastTouched.After(first.LastTouched) || second.LastTouched.Equal(first.LastTouched))
}

func TestMarkDefunctThenSweepRemoves(t *testing.T) {
	tbl := New()
	tbl.Upsert(Entry{SessionID: "s1", Status: StatusRunning})
	tbl.MarkDefunct("s1")

	_, ok := tbl.Get("s1")
	require.True(t, ok, "defunct entries remain visible until the next sweep")

	removed := tbl.SweepDefunct()
	require.Equal(t, []string{"s1"}, removed)
	_, ok = tbl.Get("s1")
	require.False(t, ok)
}

func TestSweepIdleMarksStaleSessionsDefunct(t *testing.T) {
	tbl := New()
	tbl.Upsert(Entry{SessionID: "s1", Status: StatusRunning})

	idled := tbl.SweepIdle(time.Now().Add(time.Hour))
	require.Equal(t, []string{"s1"}, idled)

	e, _ := tbl.Get("s1")
	require.Equal(t, StatusDefunct, e.Status)
}

func TestSubscribeReceivesUpdateAndRemoveEvents(t *testing.T) {
	tbl := New()
	ch := tbl.Subscribe()
	defer tbl.Unsubscribe(ch)

	tbl.Upsert(Entry{SessionID: "s1"})
	evt := <-ch
	require.Equal(t, "update", evt.Type)

	tbl.Remove("s1")
	evt = <-ch
	require.Equal(t, "remove", evt.Type)
}

func TestSnapshotIsACopy(t *testing.T) {
	tbl := New()
	tbl.Upsert(Entry{SessionID: "s1"})
	snap := tbl.Snapshot()
	snap["s1"] = Entry{SessionID: "mutated"}

	e, _ := tbl.Get("s1")
	require.Equal(t, "s1", e.SessionID)
}
