package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/jackport-sync/internal/engine"
	"github.com/DoyleJ11/jackport-sync/internal/store"
)

type reloaderFunc func(ctx context.Context)

func (f reloaderFunc) ReloadGame(ctx context.Context) { f(ctx) }

func newFacade(t *testing.T, reload GameReloader) (*Facade, *store.Store, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	st := store.NewStore(ctx, zaptest.NewLogger(t))
	if reload == nil {
		reload = reloaderFunc(func(context.Context) {})
	}
	return New(st, reload), st, cancel
}

func attach(t *testing.T, st *store.Store) uint64 {
	t.Helper()
	reply := make(chan uint64, 1)
	st.Inbox() <- store.Attach{Conn: engine.ConnHandle{SessionID: "s1", Endpoint: "http://game.test/"}, Reply: reply}
	return <-reply
}

func TestFacade_ClearGame_LeavesOutcomeAndChat(t *testing.T) {
	f, st, _ := newFacade(t, nil)
	ctx := context.Background()
	epoch := attach(t, st)

	chat := []engine.ChatEntry{engine.ChatEntry(`"gl"`)}
	st.Inbox() <- store.FromServer{Epoch: epoch, Event: engine.RoundStarted{RoundAddress: "R1", EndTimestamp: 10, Players: []engine.Player{engine.Player(`"P1"`)}}}
	st.Inbox() <- store.FromServer{Epoch: epoch, Event: engine.RoundEnded{Winner: "P1", ResultHeight: 3}}
	st.Inbox() <- store.FromServer{Epoch: epoch, Event: engine.ChatUpdated{Entries: chat}}

	require.NoError(t, f.ClearGame(ctx))

	game, err := f.Game(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.GameState{Players: []engine.Player{}, EndTimestamp: 0, RoundAddress: "", Started: false}, game)

	outcome, err := f.Outcome(ctx)
	require.NoError(t, err)
	assert.Equal(t, engine.Outcome{Winner: "P1", ResultHeight: 3}, outcome)

	got, err := f.Chat(ctx)
	require.NoError(t, err)
	assert.Equal(t, chat, got)
}

func TestFacade_SessionFlag(t *testing.T) {
	f, _, _ := newFacade(t, nil)
	ctx := context.Background()

	require.NoError(t, f.SetSessionFlag(ctx, true))
	v, err := f.View(ctx)
	require.NoError(t, err)
	assert.True(t, v.SessionFlag)
	assert.Equal(t, engine.NewEmptyState(), v.State, "flag must not touch other state")
}

func TestFacade_ReloadDelegates(t *testing.T) {
	called := make(chan struct{}, 1)
	f, _, _ := newFacade(t, reloaderFunc(func(context.Context) { called <- struct{}{} }))

	f.ReloadGameSnapshot(context.Background())
	select {
	case <-called:
	case <-time.After(100 * time.Millisecond):
		t.Fatalf("reload not invoked")
	}
}

func TestFacade_Subscribe(t *testing.T) {
	f, st, _ := newFacade(t, nil)
	ctx := context.Background()

	views, cancel, err := f.Subscribe(ctx, "ui", 4)
	require.NoError(t, err)

	first := <-views
	assert.Equal(t, 0, first.Version)

	epoch := attach(t, st)
	<-views
	st.Inbox() <- store.FromServer{Epoch: epoch, Event: engine.PresenceUpdated{Count: 12}}
	next := <-views
	assert.Equal(t, 12, next.State.Presence)

	cancel()
	for range views {
		// drain until the store closes the outbox
	}
}

func TestFacade_StoppedStore(t *testing.T) {
	f, st, stop := newFacade(t, nil)
	stop()
	<-st.Done()

	_, err := f.View(context.Background())
	require.ErrorIs(t, err, ErrStopped)
	require.ErrorIs(t, f.ClearGame(context.Background()), ErrStopped)
}
