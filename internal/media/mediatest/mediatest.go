// Package mediatest provides an in-memory media.Engine for tests that
// exercise negotiation and signaling without real transport.
package mediatest

import (
	"fmt"
	"sync"

	"github.com/roomcast/roomcast/internal/media"
)

// Feed is a plain value implementing media.Feed.
type Feed struct {
	FeedID   string
	Stream   string
	FeedKind string
}

func (f Feed) ID() string       { return f.FeedID }
func (f Feed) StreamID() string { return f.Stream }
func (f Feed) Kind() string     { return f.FeedKind }

// Engine records every session it creates.
type Engine struct {
	mu sync.Mutex

	NewSessionErr error
	sessions      []*Session
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) NewSession() (media.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	s := &Session{engine: e, id: len(e.sessions)}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Sessions returns the sessions created so far, in creation order.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, len(e.sessions))
	copy(out, e.sessions)
	return out
}

// Session is a scripted media.Session. The zero value of the Err fields
// makes every operation succeed.
type Session struct {
	engine *Engine
	id     int

	CreateOfferErr  error
	CreateAnswerErr error
	SetRemoteErr    error
	AddCandidateErr error
	AttachFeedErr   error

	mu          sync.Mutex
	offers      int
	answers     int
	remote      []media.SessionDescription
	candidates  []media.Candidate
	feeds       []media.Feed
	onCandidate func(media.Candidate)
	onTrack     func(media.Feed)
	onClosed    func()
	closeCalls  int

	closeOnce sync.Once
}

func (s *Session) CreateOffer() (media.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateOfferErr != nil {
		return media.SessionDescription{}, s.CreateOfferErr
	}
	s.offers++
	return media.SessionDescription{Type: "offer", SDP: fmt.Sprintf("fake-offer-%d-%d", s.id, s.offers)}, nil
}

func (s *Session) CreateAnswer() (media.SessionDescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateAnswerErr != nil {
		return media.SessionDescription{}, s.CreateAnswerErr
	}
	if len(s.remote) == 0 {
		return media.SessionDescription{}, fmt.Errorf("create answer before remote description")
	}
	s.answers++
	return media.SessionDescription{Type: "answer", SDP: fmt.Sprintf("fake-answer-%d-%d", s.id, s.answers)}, nil
}

func (s *Session) SetRemoteDescription(desc media.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetRemoteErr != nil {
		return s.SetRemoteErr
	}
	s.remote = append(s.remote, desc)
	return nil
}

func (s *Session) AddRemoteCandidate(c media.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddCandidateErr != nil {
		return s.AddCandidateErr
	}
	s.candidates = append(s.candidates, c)
	return nil
}

func (s *Session) AttachFeed(f media.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AttachFeedErr != nil {
		return s.AttachFeedErr
	}
	s.feeds = append(s.feeds, f)
	return nil
}

func (s *Session) OnLocalCandidate(fn func(media.Candidate)) {
	s.mu.Lock()
	s.onCandidate = fn
	s.mu.Unlock()
}

func (s *Session) OnTrack(fn func(media.Feed)) {
	s.mu.Lock()
	s.onTrack = fn
	s.mu.Unlock()
}

func (s *Session) OnClosed(fn func()) {
	s.mu.Lock()
	s.onClosed = fn
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		s.mu.Lock()
		fn := s.onClosed
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return nil
}

// EmitCandidate delivers a locally gathered candidate to the registered
// callback.
func (s *Session) EmitCandidate(c media.Candidate) {
	s.mu.Lock()
	fn := s.onCandidate
	s.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitTrack delivers an inbound remote track to the registered callback.
func (s *Session) EmitTrack(f media.Feed) {
	s.mu.Lock()
	fn := s.onTrack
	s.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

// RemoteDescriptions returns the descriptions applied so far.
func (s *Session) RemoteDescriptions() []media.SessionDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]media.SessionDescription, len(s.remote))
	copy(out, s.remote)
	return out
}

// Candidates returns the remote candidates applied so far, in order.
func (s *Session) Candidates() []media.Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]media.Candidate, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// AttachedFeeds returns the feeds attached so far.
func (s *Session) AttachedFeeds() []media.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]media.Feed, len(s.feeds))
	copy(out, s.feeds)
	return out
}

// CloseCalls reports how many times Close was invoked.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Offers reports how many offers the session produced.
func (s *Session) Offers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offers
}
