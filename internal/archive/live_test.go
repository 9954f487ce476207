package archive_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-booklist/internal/archive"
	"github.com/JakeFAU/realtime-booklist/internal/archive/memory"
	"github.com/JakeFAU/realtime-booklist/internal/id/uuid"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

type tickClock struct{ t time.Time }

func (c *tickClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func receive(t *testing.T, ch <-chan []studio.ArchivedProject) []studio.ArchivedProject {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for archive update")
		return nil
	}
}

func TestLiveBroadcastsOrderedChanges(t *testing.T) {
	t.Parallel()

	clk := &tickClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	live := archive.NewLive(memory.New(uuid.New(), clk.now), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := live.Subscribe(ctx)
	require.Empty(t, receive(t, sub))

	_, err := live.Append(ctx, "Atomic Habits")
	require.NoError(t, err)
	require.Equal(t, []string{"Atomic Habits"}, studio.BookNames(receive(t, sub)))

	deep, err := live.Append(ctx, "Deep Work")
	require.NoError(t, err)
	require.Equal(t, []string{"Deep Work", "Atomic Habits"}, studio.BookNames(receive(t, sub)))
	require.Equal(t, 2, live.Count())

	require.NoError(t, live.Delete(ctx, deep.ID))
	require.Equal(t, []string{"Atomic Habits"}, studio.BookNames(receive(t, sub)))

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestLivePollPicksUpExternalWrites(t *testing.T) {
	t.Parallel()

	backing := memory.New(uuid.New(), nil)
	live := archive.NewLive(backing, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := live.Subscribe(ctx)
	require.Empty(t, receive(t, sub))
	go live.Poll(ctx, 5*time.Millisecond)

	_, err := backing.Append(ctx, "活着")
	require.NoError(t, err)
	require.Equal(t, []string{"活着"}, studio.BookNames(receive(t, sub)))
}

func TestLiveSlowReaderSeesLatest(t *testing.T) {
	t.Parallel()

	clk := &tickClock{t: time.Unix(0, 0)}
	live := archive.NewLive(memory.New(uuid.New(), clk.now), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := live.Subscribe(ctx)
	for _, name := range []string{"A", "B", "C"} {
		_, err := live.Append(ctx, name)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"C", "B", "A"}, studio.BookNames(receive(t, sub)))
}

func TestScopeValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, archive.Scope{AppID: "app"}.Validate())
	require.NoError(t, archive.Scope{AppID: "app", UserID: "u"}.Validate())
}

func TestSortNewestFirst(t *testing.T) {
	t.Parallel()

	ts := time.Unix(100, 0)
	in := []studio.ArchivedProject{
		{ID: "1", BookName: "old", CreatedAt: ts},
		{ID: "3", BookName: "new", CreatedAt: ts.Add(time.Minute)},
		{ID: "2", BookName: "tie", CreatedAt: ts},
	}
	archive.SortNewestFirst(in)
	require.Equal(t, []string{"new", "tie", "old"}, studio.BookNames(in))
}
