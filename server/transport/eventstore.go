package transport

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/vecmcp/vecmcp/shared/config"
	"go.uber.org/zap"
)

// StoredEvent is one frame retained for stream resumption.
type StoredEvent struct {
	ID        uint64
	SessionID string
	Event     string
	Data      []byte
}

// EventStore retains the last N frames written to streamable GET streams so
// a client reconnecting with Last-Event-ID can be caught up. Event ids are
// strictly increasing across the store; each event remembers its owning
// session, so one store serves every session of the transport without
// leaking frames between them.
//
// Writers serialize on a mutex and publish an immutable snapshot; readers
// load the snapshot and never block a writer.
type EventStore struct {
	logger    *zap.Logger
	retention int
	mu        sync.Mutex
	nextID    uint64       // guarded by mu
	snapshot  atomic.Value // []StoredEvent, replaced wholesale on every write
}

// NewEventStore creates a store keeping at most retention events.
func NewEventStore(retention int, logger *zap.Logger) *EventStore {
	if retention <= 0 {
		retention = config.DefaultEventRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EventStore{
		logger:    logger.Named("eventStore"),
		retention: retention,
	}
	s.snapshot.Store([]StoredEvent{})
	return s
}

// Append assigns the next event id, stores the frame and returns the id in
// its wire form. The oldest events fall off once retention is exceeded.
func (s *EventStore) Append(sessionID, event string, data []byte) string {
	s.mu.Lock()
	s.nextID++
	id := s.nextID

	current, _ := s.snapshot.Load().([]StoredEvent)
	next := make([]StoredEvent, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, StoredEvent{
		ID:        id,
		SessionID: sessionID,
		Event:     event,
		Data:      append([]byte(nil), data...),
	})
	if len(next) > s.retention {
		next = next[len(next)-s.retention:]
	}
	s.snapshot.Store(next)
	s.mu.Unlock()

	return strconv.FormatUint(id, 10)
}

// ReplayAfter returns the retained events of one session with ids greater
// than lastID, oldest first. A resume position older than the oldest
// retained event replays from the oldest one; a malformed position replays
// everything retained for the session.
func (s *EventStore) ReplayAfter(sessionID, lastID string) []StoredEvent {
	after, err := strconv.ParseUint(lastID, 10, 64)
	if err != nil {
		if lastID != "" {
			s.logger.Debug("Malformed resume position, replaying from the start",
				zap.String("lastEventID", lastID),
				zap.String("sessionID", sessionID),
			)
		}
		after = 0
	}

	events, _ := s.snapshot.Load().([]StoredEvent)
	matched := make([]StoredEvent, 0)
	for _, ev := range events {
		if ev.SessionID != sessionID || ev.ID <= after {
			continue
		}
		matched = append(matched, ev)
	}
	return matched
}

// SetRetention changes the retention cap. A non-positive value is ignored.
// A smaller cap takes effect on the next append.
func (s *EventStore) SetRetention(retention int) {
	if retention <= 0 {
		return
	}
	s.mu.Lock()
	s.retention = retention
	s.mu.Unlock()
}

// Size reports how many events are currently retained.
func (s *EventStore) Size() int {
	events, _ := s.snapshot.Load().([]StoredEvent)
	return len(events)
}
