// Package session implements the gateway's session and handle tables: the
// object graph described by the data model, guarded by the locking
// discipline it calls for (one lock for the session table's own map, one
// lock per session for its handle map and event queue).
package session

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/streamspace-dev/confrelay/internal/event"
	"github.com/streamspace-dev/confrelay/internal/identifier"
)

// HandleState is the handle state machine from fresh through closed.
type HandleState int32

const (
	HandleFresh HandleState = iota
	HandleAttached
	HandleNegotiating
	HandleMediaReady
	HandleClosed
)

// SessionState is the session state machine.
type SessionState int32

const (
	SessionAlive SessionState = iota
	SessionDestroying
	SessionGone
)

// PluginRef is the subset of a registry entry a handle needs to hold,
// kept narrow so the session package does not import the registry
// package (avoiding an import cycle between the two).
type PluginRef interface {
	Package() string
}

// MediaContext is owned by the ICE/DTLS subsystem and describes the
// negotiated audio/video streams for a handle. Concrete fields live in
// the negotiate package; session only needs to hold a pointer and a
// generation-agnostic reference, never to look inside it.
type MediaContext any

// Handle is the binding of one session to one plugin instance.
type Handle struct {
	ID          uint64
	Session     *Session // back-reference, non-owning
	Plugin      PluginRef
	PluginToken string // opaque id handed to the plugin, minted with uuid

	mu            sync.Mutex
	state         HandleState
	mediaContext  MediaContext
	lastAudioSSRC uint32
	lastVideoSSRC uint32
}

// RecordRTP records the most recently observed SSRC for a media kind, the
// minimal per-handle bookkeeping the media-ready state machine needs to
// notice an SSRC change (e.g. a plugin switching simulcast layers).
func (h *Handle) RecordRTP(ssrc uint32, isVideo bool) {
	h.mu.Lock()
	if isVideo {
		h.lastVideoSSRC = ssrc
	} else {
		h.lastAudioSSRC = ssrc
	}
	h.mu.Unlock()
}

// LastSSRC returns the most recently recorded SSRC for a media kind.
func (h *Handle) LastSSRC(isVideo bool) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if isVideo {
		return h.lastVideoSSRC
	}
	return h.lastAudioSSRC
}

// State returns the handle's current state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetState transitions the handle to a new state. Callers are expected to
// only ever move it forward; the package does not itself enforce the
// direction since negotiate and gateway are in the best position to know
// which transition is in flight.
func (h *Handle) SetState(s HandleState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// MediaReady reports whether relay callbacks should forward bytes for
// this handle; every other state silently drops RTP/RTCP.
func (h *Handle) MediaReady() bool {
	return h.State() == HandleMediaReady
}

// SetMediaContext stores the ICE/DTLS-owned media context once negotiation
// has produced one.
func (h *Handle) SetMediaContext(mc MediaContext) {
	h.mu.Lock()
	h.mediaContext = mc
	h.mu.Unlock()
}

// MediaContext returns the stored media context, or nil if none yet.
func (h *Handle) GetMediaContext() MediaContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mediaContext
}

// Session is a gateway-side client context that may contain multiple
// handles, per §3 of the data model.
type Session struct {
	ID uint64

	mu           sync.Mutex
	handles      map[uint64]*Handle
	tokenToHandl map[string]*Handle
	state        int32 // SessionState, accessed atomically for fast reads

	Events *event.Queue
}

func newSession(id uint64) *Session {
	return &Session{
		ID:           id,
		handles:      make(map[uint64]*Handle),
		tokenToHandl: make(map[string]*Handle),
		Events:       event.NewQueue(),
	}
}

// State returns the session's current state.
func (s *Session) State() SessionState {
	return SessionState(atomic.LoadInt32(&s.state))
}

func (s *Session) setState(st SessionState) {
	atomic.StoreInt32(&s.state, int32(st))
}

// MarkDestroying flips the session's destroy flag immediately, before any
// handle walk/detach happens. Per §4.6, this is the instant no new handles
// may be attached; Attach checks this state ahead of allocating a handle.
func (s *Session) MarkDestroying() {
	s.setState(SessionDestroying)
}

// NewHandle allocates and registers a handle with a fresh id unique within
// this session, minting an opaque plugin-facing token for it.
func (s *Session) NewHandle(plugin PluginRef) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := identifier.Draw(func(id uint64) bool {
		_, ok := s.handles[id]
		return ok
	})
	if err != nil {
		return nil, err
	}

	h := &Handle{
		ID:          id,
		Session:     s,
		Plugin:      plugin,
		PluginToken: uuid.NewString(),
		state:       HandleFresh,
	}
	s.handles[id] = h
	s.tokenToHandl[h.PluginToken] = h
	return h, nil
}

// RemoveHandle deletes a handle from the session's tables unconditionally;
// it is called whether or not the plugin's destroy_session call succeeded,
// per the propagation policy in §7.
func (s *Session) RemoveHandle(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[id]; ok {
		delete(s.tokenToHandl, h.PluginToken)
		delete(s.handles, id)
	}
}

// Handle looks up a handle by its gateway-side id.
func (s *Session) Handle(id uint64) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[id]
	return h, ok
}

// HandleByToken resolves the plugin-side opaque token back to the gateway
// handle, per the reverse lookup called for in §2.
func (s *Session) HandleByToken(token string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.tokenToHandl[token]
	return h, ok
}

// Handles returns a snapshot slice of every handle currently registered,
// used by destroy to walk and detach them all.
func (s *Session) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

// Table is the session table: a map from session id to session record,
// guarded by one lock with short critical sections, per §5.
type Table struct {
	mu       sync.Mutex
	sessions map[uint64]*Session
}

// NewTable returns an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[uint64]*Session)}
}

// Create allocates a session with a freshly drawn id and inserts it.
func (t *Table) Create() (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, err := identifier.Draw(func(id uint64) bool {
		_, ok := t.sessions[id]
		return ok
	})
	if err != nil {
		return nil, err
	}
	s := newSession(id)
	s.setState(SessionAlive)
	t.sessions[id] = s
	return s, nil
}

// Get looks up a session by id.
func (t *Table) Get(id uint64) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Remove marks a session destroying and removes it from the table.
// Removal from the table happens-before the caller may treat the session
// as reclaimable, matching the invariant in §8.
func (t *Table) Remove(id uint64) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil, false
	}
	s.setState(SessionDestroying)
	delete(t.sessions, id)
	s.setState(SessionGone)
	return s, true
}

// Len reports the number of live sessions, used by metrics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Snapshot returns a point-in-time slice of every live session, used by
// the token-resolution path in the gateway-to-plugin callback bundle.
func (t *Table) Snapshot() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// HandleCount sums the live handle count across every session, used by
// the periodic metrics-refresh job.
func (t *Table) HandleCount() int {
	t.mu.Lock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	total := 0
	for _, s := range sessions {
		total += len(s.Handles())
	}
	return total
}
