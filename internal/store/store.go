package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/jackport-sync/internal/engine"
)

type Msg interface{ isStoreMsg() }

// Attach opens a session epoch and publishes its connection handle.
type Attach struct {
	Conn  engine.ConnHandle
	Reply chan uint64 // receives the new epoch
}

func (Attach) isStoreMsg() {}

// Detach discards everything but the session flag. Ignored unless Epoch is current.
type Detach struct{ Epoch uint64 }

func (Detach) isStoreMsg() {}

// FromServer carries one live event decoded from the channel.
type FromServer struct {
	Epoch uint64
	Event engine.Event
}

func (FromServer) isStoreMsg() {}

// BeginFetch hands out a ticket that a later snapshot result must present.
type BeginFetch struct {
	Slice engine.Slice // SliceGame or SliceChat
	Reply chan Ticket
}

func (BeginFetch) isStoreMsg() {}

type GameSnapshot struct {
	Ticket Ticket
	Game   engine.GameState
}

func (GameSnapshot) isStoreMsg() {}

type ChatSnapshot struct {
	Ticket  Ticket
	Entries []engine.ChatEntry
}

func (ChatSnapshot) isStoreMsg() {}

type ClearGame struct{}

func (ClearGame) isStoreMsg() {}

type SetSessionFlag struct{ Value bool }

func (SetSessionFlag) isStoreMsg() {}

type Subscribe struct {
	ID     string
	Outbox chan View // receives a view now and after every change
}

func (Subscribe) isStoreMsg() {}

type Unsubscribe struct{ ID string }

func (Unsubscribe) isStoreMsg() {}

type Shutdown struct{}

func (Shutdown) isStoreMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isStoreMsg() {}

// Ticket tags an asynchronous snapshot fetch. A result is applied only if the
// session epoch is unchanged, no live event or local write touched the slice
// since the ticket was issued, and no newer fetch for the slice has landed.
type Ticket struct {
	Epoch uint64
	Slice engine.Slice
	Gen   uint64
	Seq   uint64
}

// View is a read-only copy of the store.
type View struct {
	Version        int                `json:"version"`
	Epoch          uint64             `json:"epoch"`
	State          engine.State       `json:"state"`
	Conn           *engine.ConnHandle `json:"conn,omitempty"`
	SessionFlag    bool               `json:"started"`
	Ended          bool               `json:"ended"` // the current round has an outcome
	NumSubscribers int                `json:"-"`
}

type Store struct {
	inbox       chan Msg
	state       engine.State
	version     int
	epoch       uint64
	conn        *engine.ConnHandle
	sessionFlag bool
	gens        map[engine.Slice]uint64
	fetchSeq    uint64
	applied     map[engine.Slice]uint64 // highest fetch Seq applied per slice
	subscribers map[string]chan View
	log         *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
}

func NewStore(parent context.Context, log *zap.Logger) *Store {
	ctx, cancel := context.WithCancel(parent)

	s := &Store{
		inbox:       make(chan Msg, 64),
		state:       engine.NewEmptyState(),
		gens:        make(map[engine.Slice]uint64),
		applied:     make(map[engine.Slice]uint64),
		subscribers: make(map[string]chan View),
		log:         log.Named("store"),
		ctx:         ctx,
		cancel:      cancel,
	}

	go s.loop()
	return s
}

func (s *Store) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case m := <-s.inbox:
			if _, ok := m.(Shutdown); ok {
				s.shutdown()
				return
			}
			if s.handle(m) {
				s.version++
				s.broadcast()
			}
		}
	}
}

// handle applies one message and reports whether observable state changed.
func (s *Store) handle(m Msg) bool {
	switch msg := m.(type) {
	case Attach:
		s.epoch++
		conn := msg.Conn
		s.conn = &conn
		msg.Reply <- s.epoch
		return true

	case Detach:
		if msg.Epoch != s.epoch {
			return false
		}
		s.epoch++
		s.conn = nil
		s.state = engine.NewEmptyState()
		return true

	case FromServer:
		if msg.Epoch != s.epoch {
			s.log.Debug("dropping event from previous session",
				zap.String("event", msg.Event.Kind()), zap.Uint64("epoch", msg.Epoch))
			return false
		}
		next, err := engine.Apply(s.state, msg.Event)
		if err != nil {
			s.log.Warn("rejected event", zap.String("event", msg.Event.Kind()), zap.Error(err))
			return false
		}
		s.state = next
		s.bump(msg.Event.Affects())
		return true

	case BeginFetch:
		s.fetchSeq++
		msg.Reply <- Ticket{Epoch: s.epoch, Slice: msg.Slice, Gen: s.gens[msg.Slice], Seq: s.fetchSeq}
		return false

	case GameSnapshot:
		if !s.accept(msg.Ticket, engine.SliceGame) {
			return false
		}
		s.state = engine.WithGameSnapshot(s.state, msg.Game)
		return true

	case ChatSnapshot:
		if !s.accept(msg.Ticket, engine.SliceChat) {
			return false
		}
		s.state.Chat = msg.Entries
		return true

	case ClearGame:
		s.state.Game = engine.ClearedGame()
		s.bump(engine.SliceGame)
		return true

	case SetSessionFlag:
		if s.sessionFlag == msg.Value {
			return false
		}
		s.sessionFlag = msg.Value
		return true

	case Subscribe:
		s.subscribers[msg.ID] = msg.Outbox
		// Send the current view immediately so the subscriber never starts blank.
		s.send(msg.ID, msg.Outbox, s.view())
		return false

	case Unsubscribe:
		if ch, ok := s.subscribers[msg.ID]; ok {
			close(ch)
			delete(s.subscribers, msg.ID)
		}
		return false

	case GetState:
		msg.Reply <- s.view()
		return false
	}
	return false
}

func (s *Store) bump(affected engine.Slice) {
	for _, slice := range []engine.Slice{engine.SliceGame, engine.SliceChat} {
		if affected.Has(slice) {
			s.gens[slice]++
		}
	}
}

func (s *Store) accept(t Ticket, slice engine.Slice) bool {
	switch {
	case t.Slice != slice:
		s.log.Warn("snapshot presented with ticket for another slice")
		return false
	case t.Epoch != s.epoch:
		s.log.Debug("dropping snapshot from previous session", zap.Uint64("epoch", t.Epoch))
		return false
	case t.Gen != s.gens[slice]:
		s.log.Debug("dropping snapshot older than live update", zap.Uint64("ticket_gen", t.Gen), zap.Uint64("gen", s.gens[slice]))
		return false
	case t.Seq <= s.applied[slice]:
		s.log.Debug("dropping snapshot superseded by newer fetch", zap.Uint64("seq", t.Seq))
		return false
	}
	s.applied[slice] = t.Seq
	return true
}

func (s *Store) view() View {
	v := View{
		Version:        s.version,
		Epoch:          s.epoch,
		State:          s.state.Clone(),
		SessionFlag:    s.sessionFlag,
		Ended:          s.state.Outcome.Winner != "",
		NumSubscribers: len(s.subscribers),
	}
	if s.conn != nil {
		conn := *s.conn
		v.Conn = &conn
	}
	return v
}

func (s *Store) shutdown() {
	for id, ch := range s.subscribers {
		close(ch) // Tell subscriber no more views
		delete(s.subscribers, id)
	}
	s.cancel()
}

func (s *Store) broadcast() {
	for id, ch := range s.subscribers {
		s.send(id, ch, s.view())
	}
}

func (s *Store) send(id string, ch chan View, v View) {
	select {
	case ch <- v:
		//ok
	default:
		// Subscriber is slow/full - drop them.
		s.log.Info("dropping slow subscriber", zap.String("subscriber", id))
		close(ch)
		delete(s.subscribers, id)
	}
}

// Inbox is the only way to mutate the store.
func (s *Store) Inbox() chan<- Msg { return s.inbox }

// Send delivers m unless ctx or the store itself is done first.
func (s *Store) Send(ctx context.Context, m Msg) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.inbox <- m:
		return true
	case <-ctx.Done():
		return false
	case <-s.ctx.Done():
		return false
	}
}

// Done is closed once the store stops processing messages.
func (s *Store) Done() <-chan struct{} { return s.ctx.Done() }
