package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jackport-sync/internal/engine"
	"github.com/DoyleJ11/jackport-sync/internal/store"
	"github.com/DoyleJ11/jackport-sync/pkg/types"
)

var ErrAlreadyStarted = errors.New("session already started")

// Channel is the push connection to the game server. Handlers registered with On
// only live as long as the channel instance; lifecycle notifications arrive as
// types.EventConnect and types.EventDisconnect.
type Channel interface {
	ID() string
	On(event string, h func(json.RawMessage))
	Off(event string)
	Connect(ctx context.Context)
	Close() error
}

type Dialer interface {
	Dial(endpoint string) (Channel, error)
}

type DialerFunc func(endpoint string) (Channel, error)

func (f DialerFunc) Dial(endpoint string) (Channel, error) { return f(endpoint) }

// eventNames lists every server event bound to the store, legacy aliases included.
func eventNames() []string {
	names := []string{
		types.EventTimeUpdated,
		types.EventPresenceUpdated,
		types.EventRoundStarted,
		types.EventRoundEnded,
		types.EventChatUpdated,
	}
	for legacy := range types.LegacyEventNames {
		names = append(names, legacy)
	}
	return names
}

// Manager owns the channel of one session: it opens it, binds server events to
// the store on every connect, bootstraps snapshots, and tears everything down.
type Manager struct {
	dialer Dialer
	store  *store.Store
	loader *Loader
	log    *zap.Logger

	mu     sync.Mutex
	ch     Channel
	epoch  uint64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(dialer Dialer, st *store.Store, loader *Loader, log *zap.Logger) *Manager {
	return &Manager{dialer: dialer, store: st, loader: loader, log: log.Named("session")}
}

// Start opens the channel to endpoint. Starting an active manager returns
// ErrAlreadyStarted; callers must Stop first.
func (m *Manager) Start(ctx context.Context, endpoint string) (engine.ConnHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ch != nil {
		return engine.ConnHandle{}, ErrAlreadyStarted
	}

	ch, err := m.dialer.Dial(endpoint)
	if err != nil {
		return engine.ConnHandle{}, err
	}

	handle := engine.ConnHandle{SessionID: uuid.NewString(), Endpoint: endpoint}
	reply := make(chan uint64, 1)
	if !m.store.Send(ctx, store.Attach{Conn: handle, Reply: reply}) {
		_ = ch.Close()
		return engine.ConnHandle{}, ErrStoreStopped
	}
	var epoch uint64
	select {
	case epoch = <-reply:
	case <-m.store.Done():
		_ = ch.Close()
		return engine.ConnHandle{}, ErrStoreStopped
	}

	sctx, cancel := context.WithCancel(ctx)
	log := m.log.With(zap.String("session_id", handle.SessionID), zap.Uint64("epoch", epoch))

	ch.On(types.EventConnect, func(json.RawMessage) { m.onConnect(sctx, ch, epoch, log) })
	ch.On(types.EventDisconnect, func(json.RawMessage) {
		// Reconnecting is the channel's job; state is kept as is.
		log.Info("disconnected from backend")
	})

	m.ch, m.epoch, m.cancel = ch, epoch, cancel
	ch.Connect(sctx)

	log.Info("session started", zap.String("endpoint", endpoint))
	return handle, nil
}

func (m *Manager) onConnect(ctx context.Context, ch Channel, epoch uint64, log *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	log.Info("connected to backend", zap.String("conn_id", ch.ID()))

	// Handlers are tied to the channel instance, so bind them afresh each time.
	for _, name := range eventNames() {
		ch.Off(name)
		ch.On(name, m.forward(ctx, name, epoch, log))
	}

	// Tickets are taken here, before any later frame is dispatched, so events
	// that arrive during the fetches take precedence over their results.
	gameTicket, err := m.loader.Ticket(ctx, engine.SliceGame)
	if err != nil {
		log.Warn("bootstrap skipped", zap.Error(err))
		return
	}
	chatTicket, err := m.loader.Ticket(ctx, engine.SliceChat)
	if err != nil {
		log.Warn("bootstrap skipped", zap.Error(err))
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.loader.LoadGame(ctx, gameTicket)
		m.loader.LoadChat(ctx, chatTicket)
	}()
}

func (m *Manager) forward(ctx context.Context, name string, epoch uint64, log *zap.Logger) func(json.RawMessage) {
	return func(data json.RawMessage) {
		ev, err := engine.Decode(types.Frame{Event: name, Data: data})
		if err != nil {
			log.Warn("dropping event", zap.String("event", name), zap.Error(err))
			return
		}
		m.store.Send(ctx, store.FromServer{Epoch: epoch, Event: ev})
	}
}

// Stop unbinds every handler, closes the channel and discards the session's
// state. It is a no-op when nothing is running.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ch == nil {
		return
	}
	ch, epoch := m.ch, m.epoch
	m.ch = nil

	m.cancel()
	ch.Off(types.EventConnect)
	ch.Off(types.EventDisconnect)
	for _, name := range eventNames() {
		ch.Off(name)
	}
	if err := ch.Close(); err != nil {
		m.log.Warn("closing channel", zap.Error(err))
	}
	m.wg.Wait()

	// Stop may run during process shutdown, after the caller's context is gone.
	m.store.Send(context.Background(), store.Detach{Epoch: epoch})
	m.log.Info("session stopped", zap.Uint64("epoch", epoch))
}
