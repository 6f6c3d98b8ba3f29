package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/jackport-sync/internal/engine"
	"github.com/DoyleJ11/jackport-sync/internal/store"
	"github.com/DoyleJ11/jackport-sync/pkg/types"
)

var ErrStoreStopped = errors.New("store stopped")

// Fetcher reads bootstrap snapshots. Implementations do not retry.
type Fetcher interface {
	GetGame(ctx context.Context) (types.GameSnapshot, error)
	GetChat(ctx context.Context) (types.ChatSnapshot, error)
}

// Loader primes the store from snapshots. Fetch failures are logged and
// treated as "no update"; they never reach the caller.
type Loader struct {
	store   *store.Store
	fetcher Fetcher
	log     *zap.Logger
}

func NewLoader(st *store.Store, fetcher Fetcher, log *zap.Logger) *Loader {
	return &Loader{store: st, fetcher: fetcher, log: log.Named("loader")}
}

// Ticket reserves a place for a snapshot of slice. It must be taken before the
// fetch is issued so live events that arrive meanwhile win over the result.
func (l *Loader) Ticket(ctx context.Context, slice engine.Slice) (store.Ticket, error) {
	reply := make(chan store.Ticket, 1)
	if !l.store.Send(ctx, store.BeginFetch{Slice: slice, Reply: reply}) {
		return store.Ticket{}, ErrStoreStopped
	}
	select {
	case t := <-reply:
		return t, nil
	case <-ctx.Done():
		return store.Ticket{}, ctx.Err()
	case <-l.store.Done():
		return store.Ticket{}, ErrStoreStopped
	}
}

func (l *Loader) LoadGame(ctx context.Context, t store.Ticket) {
	snap, err := l.fetcher.GetGame(ctx)
	if err != nil {
		l.log.Warn("game snapshot failed", zap.Error(err))
		return
	}
	game, ok := engine.GameFromSnapshot(snap)
	if !ok {
		l.log.Debug("game snapshot has no players")
		return
	}
	l.store.Send(ctx, store.GameSnapshot{Ticket: t, Game: game})
}

func (l *Loader) LoadChat(ctx context.Context, t store.Ticket) {
	snap, err := l.fetcher.GetChat(ctx)
	if err != nil {
		l.log.Warn("chat snapshot failed", zap.Error(err))
		return
	}
	entries, ok := engine.ChatFromSnapshot(snap)
	if !ok {
		l.log.Debug("chat snapshot is empty")
		return
	}
	l.store.Send(ctx, store.ChatSnapshot{Ticket: t, Entries: entries})
}

// ReloadGame takes a ticket and loads the game snapshot in one call.
func (l *Loader) ReloadGame(ctx context.Context) {
	t, err := l.Ticket(ctx, engine.SliceGame)
	if err != nil {
		l.log.Warn("game reload skipped", zap.Error(err))
		return
	}
	l.LoadGame(ctx, t)
}
