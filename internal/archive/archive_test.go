package archive

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/jackport-sync/internal/engine"
	"github.com/DoyleJ11/jackport-sync/internal/store"
)

type memRepo struct {
	saved []RoundResult
	fail  int
}

func (m *memRepo) SaveResult(_ context.Context, r RoundResult) error {
	if m.fail > 0 {
		m.fail--
		return errors.New("db down")
	}
	m.saved = append(m.saved, r)
	return nil
}

func view(address, winner string, height int64) store.View {
	return store.View{State: engine.State{
		Game:    engine.GameState{RoundAddress: address, EndTimestamp: 100, Started: true, Players: []engine.Player{engine.Player(`"P1"`), engine.Player(`"P2"`)}},
		Outcome: engine.Outcome{Winner: winner, ResultHeight: height},
	}}
}

// feed is a Source that hands out prepared streams in order. Once they run out
// it blocks until ctx ends, like a live store with nothing new to say.
type feed struct {
	mu         sync.Mutex
	streams    []chan store.View
	subscribed int
	err        error
}

func (f *feed) Subscribe(ctx context.Context, id string, buffer int) (<-chan store.View, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	f.subscribed++
	if len(f.streams) == 0 {
		return make(chan store.View), func() {}, nil
	}
	next := f.streams[0]
	f.streams = f.streams[1:]
	return next, func() {}, nil
}

// stream returns a closed channel holding vs, i.e. a subscription the store dropped.
func stream(vs ...store.View) chan store.View {
	ch := make(chan store.View, len(vs))
	for _, v := range vs {
		ch <- v
	}
	close(ch)
	return ch
}

func (f *feed) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed
}

// drain runs rec over every prepared stream. A subscription past the last one
// means every earlier stream was read to its close.
func drain(t *testing.T, rec *Recorder, src *feed) {
	t.Helper()
	want := len(src.streams) + 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx, src) }()

	require.Eventually(t, func() bool { return src.subscriptions() == want }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("recorder did not stop")
	}
}

func TestRecorder_SavesEachResolvedRoundOnce(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, zaptest.NewLogger(t))

	src := &feed{streams: []chan store.View{stream(
		view("R1", "", 0),    // in progress
		view("R1", "P2", 42), // resolved
		view("R1", "P2", 42), // repeated broadcast
		view("R2", "", 0),    // next round
		view("R2", "P1", 43), // resolved
		store.View{},         // after teardown
	)}}
	drain(t, rec, src)

	require.Equal(t, []RoundResult{
		{RoundAddress: "R1", Winner: "P2", ResultHeight: 42, EndTimestamp: 100, PlayerCount: 2},
		{RoundAddress: "R2", Winner: "P1", ResultHeight: 43, EndTimestamp: 100, PlayerCount: 2},
	}, repo.saved)
}

func TestRecorder_StaleOutcomeOnNewRoundIsNotRecorded(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, zaptest.NewLogger(t))

	// timeUpdated for R2 arrived without a roundStarted, so R1's winner is still held
	src := &feed{streams: []chan store.View{stream(
		view("R1", "", 0),
		view("R1", "P1", 7),
		view("R2", "P1", 7),
	)}}
	drain(t, rec, src)

	require.Equal(t, []RoundResult{
		{RoundAddress: "R1", Winner: "P1", ResultHeight: 7, EndTimestamp: 100, PlayerCount: 2},
	}, repo.saved)
}

func TestRecorder_NewWinnerWithoutRoundStartIsRecorded(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, zaptest.NewLogger(t))

	src := &feed{streams: []chan store.View{stream(
		view("R1", "P1", 7),
		view("R2", "P1", 7),
		view("R2", "P2", 8),
	)}}
	drain(t, rec, src)

	require.Len(t, repo.saved, 2)
	require.Equal(t, RoundResult{RoundAddress: "R2", Winner: "P2", ResultHeight: 8, EndTimestamp: 100, PlayerCount: 2}, repo.saved[1])
}

func TestRecorder_RetriesOnNextView(t *testing.T) {
	repo := &memRepo{fail: 1}
	rec := NewRecorder(repo, zaptest.NewLogger(t))

	src := &feed{streams: []chan store.View{stream(
		view("R1", "P2", 42),
		view("R1", "P2", 42),
	)}}
	drain(t, rec, src)

	require.Len(t, repo.saved, 1)
}

func TestRecorder_SubscribesAgainAfterBeingDropped(t *testing.T) {
	repo := &memRepo{}
	rec := NewRecorder(repo, zaptest.NewLogger(t))

	src := &feed{streams: []chan store.View{
		stream(view("R1", "", 0)),
		// the first view after resubscribing already carries the result
		stream(view("R1", "P1", 7)),
	}}
	drain(t, rec, src)

	require.Equal(t, []RoundResult{
		{RoundAddress: "R1", Winner: "P1", ResultHeight: 7, EndTimestamp: 100, PlayerCount: 2},
	}, repo.saved)
}

func TestRecorder_SubscribeFailureIsReturned(t *testing.T) {
	rec := NewRecorder(&memRepo{}, zaptest.NewLogger(t))

	err := rec.Run(context.Background(), &feed{err: errors.New("state store stopped")})
	require.ErrorContains(t, err, "archive: subscribe")
}
