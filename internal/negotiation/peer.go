package negotiation

import (
	"fmt"
	"sync"

	"github.com/roomcast/roomcast/internal/media"
	"github.com/roomcast/roomcast/internal/registry"
)

// Sender is the outbound half of a signaling channel, as negotiation sees
// it. Sends must not block beyond enqueue; Close must be safe to call more
// than once.
type Sender interface {
	SendOffer(desc media.SessionDescription) error
	SendAnswer(desc media.SessionDescription) error
	SendCandidate(c media.Candidate) error
	Close(reason CloseReason)
}

// Peer is one participant's negotiation record: its media session, its
// state, and the candidates that arrived before a remote description.
type Peer struct {
	connID string
	roomID string
	role   registry.Role
	sender Sender

	mu        sync.Mutex
	session   media.Session
	state     State
	remoteSet bool
	pending   []media.Candidate
}

func (p *Peer) ConnID() string      { return p.connID }
func (p *Peer) Role() registry.Role { return p.role }

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// bufferOrApply either queues a candidate for replay or applies it
// immediately, depending on whether the remote description is set.
func (p *Peer) bufferOrApply(c media.Candidate) error {
	p.mu.Lock()
	if p.state == StateFailed || p.session == nil {
		p.mu.Unlock()
		return nil
	}
	if !p.remoteSet {
		p.pending = append(p.pending, c)
		p.mu.Unlock()
		return nil
	}
	session := p.session
	p.mu.Unlock()
	return session.AddRemoteCandidate(c)
}

// applyRemote sets the remote description and replays buffered candidates
// in their original receipt order.
func (p *Peer) applyRemote(desc media.SessionDescription) error {
	p.mu.Lock()
	session := p.session
	if session == nil {
		p.mu.Unlock()
		return fmt.Errorf("no media session")
	}
	p.mu.Unlock()

	if err := session.SetRemoteDescription(desc); err != nil {
		return err
	}

	p.mu.Lock()
	p.remoteSet = true
	buffered := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range buffered {
		if err := session.AddRemoteCandidate(c); err != nil {
			return fmt.Errorf("apply buffered candidate: %w", err)
		}
	}
	return nil
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// fail marks the peer terminal and closes its media session.
func (p *Peer) fail() {
	p.mu.Lock()
	p.state = StateFailed
	session := p.session
	p.mu.Unlock()
	if session != nil {
		_ = session.Close()
	}
}

// closeSession releases the media session without changing state.
func (p *Peer) closeSession() {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()
	if session != nil {
		_ = session.Close()
	}
}

// resetForNewPublisher swaps in a fresh media session and returns the peer
// to idle, dropping any stale buffered candidates.
func (p *Peer) resetForNewPublisher(session media.Session) {
	p.mu.Lock()
	old := p.session
	p.session = session
	p.state = StateIdle
	p.remoteSet = false
	p.pending = nil
	p.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}
