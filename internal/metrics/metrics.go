package metrics

import "sync"

// Event counter names. Kept as plain strings so the registry stays a simple
// map; the Prometheus handler exposes them under a single labelled metric.
const (
	AuthFailure          = "auth_failure"
	RoomCreated          = "room_created"
	RoomDeleted          = "room_deleted"
	ParticipantJoined    = "participant_joined"
	ParticipantLeft      = "participant_left"
	MalformedMessage     = "malformed_message"
	RateLimited          = "rate_limited"
	NegotiationFailed    = "negotiation_failed"
	PublisherLeftCascade = "publisher_left_cascade"
	MediaSessionClosed   = "media_session_closed"
	ZombieChannelClosed  = "zombie_channel_closed"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A production deployment scrapes these through the Prometheus handler; the
// type exists so room and negotiation logic stay testable without a metrics
// backend.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
