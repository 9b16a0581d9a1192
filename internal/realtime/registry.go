package realtime

import "sync"

const sessionBufferSize = 16

// Session is a live connection handle registered in a room. Outbound frames
// are queued on a buffered channel that the owning connection drains. Send
// and Close serialize on the session mutex: a broadcaster that snapshotted
// the room before teardown drops its frame instead of hitting a closed
// channel.
type Session struct {
	id     string
	mu     sync.Mutex
	stream chan []byte
	closed bool
}

// NewSession constructs a session handle with the given identifier.
func NewSession(id string) *Session {
	return &Session{
		id:     id,
		stream: make(chan []byte, sessionBufferSize),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Stream exposes the outbound frame queue for the connection writer.
func (s *Session) Stream() <-chan []byte {
	return s.stream
}

// Send queues a frame without blocking. A full queue or a closed session
// drops the frame and returns false; reconnecting clients re-fetch state
// instead of replaying.
func (s *Session) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.stream <- frame:
		return true
	default:
		return false
	}
}

// Close shuts the outbound queue. Safe to call more than once and safe
// against concurrent Send.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.stream)
}

// RoomRegistry maps a document identifier to the set of sessions currently
// subscribed to it. Membership changes and fan-out are linearizable per room;
// rooms for unrelated documents never contend beyond the registry map itself.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Session
}

// NewRoomRegistry constructs an empty registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{rooms: make(map[string]map[string]*Session)}
}

// Join adds the session to the room for documentID, creating the room when
// absent. Joining twice with the same session is a no-op.
func (r *RoomRegistry) Join(documentID string, session *Session) {
	if documentID == "" || session == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[documentID]
	if !ok {
		room = make(map[string]*Session)
		r.rooms[documentID] = room
	}
	room[session.id] = session
}

// Leave removes the session from the room and discards the room once empty.
func (r *RoomRegistry) Leave(documentID string, session *Session) {
	if documentID == "" || session == nil {
		return
	}
	r.mu.Lock()
	room := r.rooms[documentID]
	if room != nil {
		delete(room, session.id)
		if len(room) == 0 {
			delete(r.rooms, documentID)
		}
	}
	r.mu.Unlock()
}

// Broadcast queues the frame to every member of the room except the session
// identified by excludeSessionID. Pass an empty exclude id to reach everyone.
func (r *RoomRegistry) Broadcast(documentID string, frame []byte, excludeSessionID string) {
	if documentID == "" {
		return
	}
	r.mu.RLock()
	room := r.rooms[documentID]
	if len(room) == 0 {
		r.mu.RUnlock()
		return
	}
	members := make([]*Session, 0, len(room))
	for _, session := range room {
		if session.id == excludeSessionID {
			continue
		}
		members = append(members, session)
	}
	r.mu.RUnlock()

	for _, session := range members {
		session.Send(frame)
	}
}

// MemberCount reports the current size of the room for documentID.
func (r *RoomRegistry) MemberCount(documentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[documentID])
}
