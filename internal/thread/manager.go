package thread

import (
	"context"
	"sync"
	"time"

	"github.com/periskope/chat/internal/backend"
	"github.com/periskope/chat/internal/bus"
	"go.uber.org/zap"
)

// Lister loads a chat's ordered message history.
type Lister interface {
	ListMessages(ctx context.Context, chatID string) ([]backend.Message, error)
}

// Feed opens a live subscription to insert events for one chat. The
// returned stop function must close the subscription; the events
// channel closes after stop.
type Feed interface {
	Subscribe(ctx context.Context, chatID string) (events <-chan backend.Message, stop func(), err error)
}

// Manager owns the message thread for the currently selected chat: it
// loads history, ingests live inserts, and guarantees that the old
// chat's subscription is torn down before a new one opens.
//
// Two hardening rules apply on top of plain load-then-append:
// appends are deduplicated by message ID, so an insert seen by both
// the history query and the feed lands once; and every selection bumps
// a generation counter, so a slow history response for a chat that is
// no longer selected is discarded instead of overwriting the thread.
type Manager struct {
	lister  Lister
	feed    Feed
	bus     *bus.Bus
	logger  *zap.Logger
	machine *Machine

	// openMu serializes Open/Close so teardown and setup never
	// interleave across rapid selection changes.
	openMu sync.Mutex

	mu       sync.Mutex
	chatID   string
	gen      uint64
	loading  bool
	messages []backend.Message
	seen     map[string]struct{}
	pending  []backend.Message
	stop     func()
}

// NewManager creates a thread manager over the given history source
// and live feed.
func NewManager(lister Lister, feed Feed, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		lister:  lister,
		feed:    feed,
		bus:     b,
		logger:  logger,
		machine: NewMachine(b),
		seen:    make(map[string]struct{}),
	}
}

// Open selects a chat: the previous subscription (if any) is closed
// first, then the new chat's subscription opens and its history loads
// in the background. The returned error reports a failed subscription;
// history still loads, the thread just gets no live updates.
func (m *Manager) Open(ctx context.Context, chatID string) error {
	m.openMu.Lock()
	defer m.openMu.Unlock()

	m.teardown()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.chatID = chatID
	m.loading = true
	m.messages = nil
	m.seen = make(map[string]struct{})
	m.pending = nil
	m.mu.Unlock()

	if err := m.machine.Transition(Loading); err != nil {
		m.logger.Error("thread state error", zap.Error(err))
	}

	var feedErr error
	events, stop, err := m.feed.Subscribe(ctx, chatID)
	if err != nil {
		feedErr = err
		m.logger.Warn("live feed unavailable", zap.String("chat_id", chatID), zap.Error(err))
		m.bus.Publish(bus.Event{Kind: "thread.feed_error", Timestamp: time.Now(), Payload: err.Error()})
	} else {
		m.mu.Lock()
		m.stop = stop
		m.mu.Unlock()
		go m.consume(gen, events)
	}

	go m.load(ctx, gen, chatID)
	return feedErr
}

// Close tears down the active subscription and empties the thread.
func (m *Manager) Close() {
	m.openMu.Lock()
	defer m.openMu.Unlock()

	m.teardown()

	m.mu.Lock()
	m.gen++
	m.chatID = ""
	m.loading = false
	m.messages = nil
	m.seen = make(map[string]struct{})
	m.pending = nil
	m.mu.Unlock()
}

// teardown closes the current subscription before anything new opens.
func (m *Manager) teardown() {
	m.mu.Lock()
	stop := m.stop
	m.stop = nil
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	if s := m.machine.Current(); s == Loading || s == Live {
		if err := m.machine.Transition(TornDown); err != nil {
			m.logger.Error("thread state error", zap.Error(err))
		}
	}
}

func (m *Manager) load(ctx context.Context, gen uint64, chatID string) {
	msgs, err := m.lister.ListMessages(ctx, chatID)

	m.mu.Lock()
	if gen != m.gen {
		// Stale response for a chat that is no longer selected.
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.logger.Error("load messages failed", zap.String("chat_id", chatID), zap.Error(err))
		msgs = nil
	}

	m.messages = make([]backend.Message, 0, len(msgs)+len(m.pending))
	m.seen = make(map[string]struct{}, len(msgs)+len(m.pending))
	for _, msg := range msgs {
		m.appendLocked(msg)
	}
	// Inserts that raced the history query were parked; replay them
	// now, duplicates suppressed by ID.
	for _, msg := range m.pending {
		m.appendLocked(msg)
	}
	m.pending = nil
	m.loading = false
	m.mu.Unlock()

	if terr := m.machine.Transition(Live); terr != nil {
		m.logger.Error("thread state error", zap.Error(terr))
	}
	if err != nil {
		m.bus.Publish(bus.Event{Kind: "thread.load_error", Timestamp: time.Now(), Payload: err.Error()})
	}
	m.bus.Publish(bus.Event{Kind: "thread.loaded", Timestamp: time.Now(), Payload: chatID})
}

func (m *Manager) consume(gen uint64, events <-chan backend.Message) {
	for msg := range events {
		m.ingest(gen, msg)
	}
}

// Ingest appends a message to the thread if it belongs to the selected
// chat and has not been seen. Used by the composer to echo a sent
// message without waiting for the feed to deliver it back.
func (m *Manager) Ingest(msg backend.Message) {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	m.ingest(gen, msg)
}

func (m *Manager) ingest(gen uint64, msg backend.Message) {
	m.mu.Lock()
	if gen != m.gen || msg.ChatID != m.chatID {
		m.mu.Unlock()
		return
	}
	if m.loading {
		m.pending = append(m.pending, msg)
		m.mu.Unlock()
		return
	}
	added := m.appendLocked(msg)
	m.mu.Unlock()

	if added {
		m.bus.Publish(bus.Event{Kind: "thread.message", Timestamp: time.Now(), Payload: msg})
	}
}

// appendLocked appends if the message ID is unseen. Appends only,
// never reorders.
func (m *Manager) appendLocked(msg backend.Message) bool {
	if _, ok := m.seen[msg.ID]; ok {
		return false
	}
	m.seen[msg.ID] = struct{}{}
	m.messages = append(m.messages, msg)
	return true
}

// Messages returns a snapshot of the thread.
func (m *Manager) Messages() []backend.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]backend.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// ChatID returns the selected chat, or empty when idle.
func (m *Manager) ChatID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatID
}

// State returns the current thread state.
func (m *Manager) State() State {
	return m.machine.Current()
}
