// Package client is the read/command surface offered to presentation layers.
// Reads return copies; all writes go through the store's inbox.
package client

import (
	"context"
	"errors"

	"github.com/DoyleJ11/jackport-sync/internal/engine"
	"github.com/DoyleJ11/jackport-sync/internal/store"
)

var ErrStopped = errors.New("state store stopped")

// GameReloader re-reads the game snapshot. Failures are absorbed by the implementation.
type GameReloader interface {
	ReloadGame(ctx context.Context)
}

type Facade struct {
	store  *store.Store
	reload GameReloader
}

func New(st *store.Store, reload GameReloader) *Facade {
	return &Facade{store: st, reload: reload}
}

// View returns the current game, outcome, chat, presence, connection handle and
// session flag as one consistent copy.
func (f *Facade) View(ctx context.Context) (store.View, error) {
	reply := make(chan store.View, 1)
	if !f.store.Send(ctx, store.GetState{Reply: reply}) {
		return store.View{}, f.err(ctx)
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return store.View{}, ctx.Err()
	case <-f.store.Done():
		return store.View{}, ErrStopped
	}
}

func (f *Facade) Game(ctx context.Context) (engine.GameState, error) {
	v, err := f.View(ctx)
	return v.State.Game, err
}

func (f *Facade) Outcome(ctx context.Context) (engine.Outcome, error) {
	v, err := f.View(ctx)
	return v.State.Outcome, err
}

func (f *Facade) Chat(ctx context.Context) ([]engine.ChatEntry, error) {
	v, err := f.View(ctx)
	return v.State.Chat, err
}

func (f *Facade) Presence(ctx context.Context) (int, error) {
	v, err := f.View(ctx)
	return v.State.Presence, err
}

// Subscribe streams a view now and after every change. The returned channel is
// closed if the subscriber falls more than buffer views behind, when cancel is
// called, or when the store stops.
func (f *Facade) Subscribe(ctx context.Context, id string, buffer int) (<-chan store.View, func(), error) {
	if buffer < 1 {
		buffer = 1
	}
	out := make(chan store.View, buffer)
	if !f.store.Send(ctx, store.Subscribe{ID: id, Outbox: out}) {
		return nil, nil, f.err(ctx)
	}
	cancel := func() {
		f.store.Send(context.Background(), store.Unsubscribe{ID: id})
	}
	return out, cancel, nil
}

// ClearGame resets the game to its empty, not-started value. Outcome, chat and
// the channel are left alone.
func (f *Facade) ClearGame(ctx context.Context) error {
	if !f.store.Send(ctx, store.ClearGame{}) {
		return f.err(ctx)
	}
	return nil
}

// ReloadGameSnapshot fetches the game snapshot again and applies it like a bootstrap.
func (f *Facade) ReloadGameSnapshot(ctx context.Context) {
	f.reload.ReloadGame(ctx)
}

func (f *Facade) SetSessionFlag(ctx context.Context, started bool) error {
	if !f.store.Send(ctx, store.SetSessionFlag{Value: started}) {
		return f.err(ctx)
	}
	return nil
}

func (f *Facade) err(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrStopped
}
