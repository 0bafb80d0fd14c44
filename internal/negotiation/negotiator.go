package negotiation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roomcast/roomcast/internal/config"
	"github.com/roomcast/roomcast/internal/media"
	"github.com/roomcast/roomcast/internal/metrics"
	"github.com/roomcast/roomcast/internal/registry"
)

// ErrUnexpectedFrame marks a signaling message that is valid on the wire
// but not acceptable in the peer's current state or role. The channel
// discards it like any other malformed frame.
var ErrUnexpectedFrame = errors.New("unexpected signaling message for peer state")

// Negotiator drives SDP/ICE exchange for every participant. The room
// topology is a star: the publisher's tracks fan out to each subscriber
// through an independent one-offer-one-answer pairing, so late joins never
// disturb existing pairings.
type Negotiator struct {
	engine  media.Engine
	policy  config.PublisherLossPolicy
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	rooms map[string]*roomState
}

type roomState struct {
	feeds     []media.Feed
	publisher *Peer
	peers     map[string]*Peer
}

func New(engine media.Engine, policy config.PublisherLossPolicy, logger *slog.Logger, m *metrics.Metrics) *Negotiator {
	return &Negotiator{
		engine:  engine,
		policy:  policy,
		log:     logger,
		metrics: m,
		rooms:   make(map[string]*roomState),
	}
}

// AddPeer creates the media session for a freshly joined participant and,
// for subscribers, starts the pairing by sending the local offer.
func (n *Negotiator) AddPeer(participant *registry.Participant, sender Sender) (*Peer, error) {
	session, err := n.engine.NewSession()
	if err != nil {
		n.metrics.Inc(metrics.NegotiationFailed)
		return nil, fmt.Errorf("create media session: %w", err)
	}

	peer := &Peer{
		connID:  participant.ConnID,
		roomID:  participant.RoomID,
		role:    participant.Role,
		sender:  sender,
		session: session,
		state:   StateIdle,
	}
	session.OnLocalCandidate(func(c media.Candidate) {
		_ = sender.SendCandidate(c)
	})
	session.OnClosed(func() {
		n.metrics.Inc(metrics.MediaSessionClosed)
	})

	n.mu.Lock()
	rs := n.rooms[participant.RoomID]
	if rs == nil {
		rs = &roomState{peers: make(map[string]*Peer)}
		n.rooms[participant.RoomID] = rs
	}
	rs.peers[participant.ConnID] = peer

	var feeds []media.Feed
	var waiting []*Peer
	if participant.Role == registry.RolePublisher {
		rs.publisher = peer
		for _, p := range rs.peers {
			if p != peer && p.State() == StateIdle {
				waiting = append(waiting, p)
			}
		}
	} else {
		feeds = append(feeds, rs.feeds...)
	}
	n.mu.Unlock()

	if participant.Role == registry.RolePublisher {
		session.OnTrack(func(f media.Feed) {
			n.addFeed(participant.RoomID, f)
		})
		// Subscribers left idle by a previous publisher's departure get a
		// fresh pairing with the new one.
		for _, sub := range waiting {
			n.repairSubscriber(sub)
		}
		return peer, nil
	}

	if err := n.startSubscriberPairing(peer, feeds); err != nil {
		n.RemovePeer(participant.RoomID, participant.ConnID)
		return nil, err
	}
	return peer, nil
}

func (n *Negotiator) startSubscriberPairing(peer *Peer, feeds []media.Feed) error {
	peer.mu.Lock()
	session := peer.session
	peer.mu.Unlock()

	for _, f := range feeds {
		if err := session.AttachFeed(f); err != nil {
			return n.failPeer(peer, fmt.Errorf("attach feed %s: %w", f.ID(), err))
		}
	}
	offer, err := session.CreateOffer()
	if err != nil {
		return n.failPeer(peer, fmt.Errorf("create offer: %w", err))
	}
	if err := peer.sender.SendOffer(offer); err != nil {
		return n.failPeer(peer, fmt.Errorf("send offer: %w", err))
	}
	peer.setState(StateOfferSent)
	return nil
}

// HandleOffer processes a client offer. Only the publisher's uplink is
// client-offered; an offer from a subscriber is rejected as unexpected.
func (n *Negotiator) HandleOffer(peer *Peer, desc media.SessionDescription) error {
	if peer.Role() != registry.RolePublisher {
		return ErrUnexpectedFrame
	}
	if peer.State() == StateFailed {
		return ErrUnexpectedFrame
	}

	if err := peer.applyRemote(desc); err != nil {
		return n.failPeer(peer, fmt.Errorf("apply offer: %w", err))
	}

	peer.mu.Lock()
	session := peer.session
	peer.mu.Unlock()
	answer, err := session.CreateAnswer()
	if err != nil {
		return n.failPeer(peer, fmt.Errorf("create answer: %w", err))
	}
	if err := peer.sender.SendAnswer(answer); err != nil {
		return n.failPeer(peer, fmt.Errorf("send answer: %w", err))
	}
	peer.setState(StateNegotiated)
	return nil
}

// HandleAnswer completes a subscriber pairing previously opened by a local
// offer.
func (n *Negotiator) HandleAnswer(peer *Peer, desc media.SessionDescription) error {
	if peer.State() != StateOfferSent {
		return ErrUnexpectedFrame
	}
	peer.setState(StateAnswerPending)

	if err := peer.applyRemote(desc); err != nil {
		return n.failPeer(peer, fmt.Errorf("apply answer: %w", err))
	}
	peer.setState(StateNegotiated)
	return nil
}

// HandleCandidate buffers or applies one remote ICE candidate. Candidates
// arriving before the remote description are replayed in receipt order once
// it is set.
func (n *Negotiator) HandleCandidate(peer *Peer, c media.Candidate) error {
	return peer.bufferOrApply(c)
}

// RemovePeer detaches a participant and releases its media session. When
// the publisher goes, all remaining pairings in the room are torn down (or
// returned to idle, under the await policy).
func (n *Negotiator) RemovePeer(roomID, connID string) {
	n.mu.Lock()
	rs := n.rooms[roomID]
	if rs == nil {
		n.mu.Unlock()
		return
	}
	peer := rs.peers[connID]
	delete(rs.peers, connID)

	var subscribers []*Peer
	wasPublisher := peer != nil && rs.publisher == peer
	if wasPublisher {
		rs.publisher = nil
		rs.feeds = nil
		for _, p := range rs.peers {
			subscribers = append(subscribers, p)
		}
	}
	if len(rs.peers) == 0 {
		delete(n.rooms, roomID)
	}
	n.mu.Unlock()

	if peer != nil {
		peer.closeSession()
	}
	if !wasPublisher {
		return
	}

	for _, sub := range subscribers {
		switch n.policy {
		case config.PublisherLossAwait:
			sub.resetForNewPublisher(nil)
			n.log.Info("subscriber awaiting new publisher", "room", roomID, "conn", sub.connID)
		default:
			sub.sender.Close(ReasonPublisherLeft)
			sub.fail()
		}
	}
}

// PeerCount reports how many peers a room currently has, for tests and the
// REST surface.
func (n *Negotiator) PeerCount(roomID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	rs := n.rooms[roomID]
	if rs == nil {
		return 0
	}
	return len(rs.peers)
}

func (n *Negotiator) addFeed(roomID string, f media.Feed) {
	n.mu.Lock()
	rs := n.rooms[roomID]
	if rs != nil {
		rs.feeds = append(rs.feeds, f)
	}
	n.mu.Unlock()
}

// repairSubscriber gives an idle subscriber a fresh session and pairing
// after a publisher change.
func (n *Negotiator) repairSubscriber(sub *Peer) {
	session, err := n.engine.NewSession()
	if err != nil {
		n.metrics.Inc(metrics.NegotiationFailed)
		n.log.Error("repair subscriber", "conn", sub.connID, "err", err)
		sub.sender.Close(ReasonNegotiationFailed)
		sub.fail()
		return
	}
	session.OnLocalCandidate(func(c media.Candidate) {
		_ = sub.sender.SendCandidate(c)
	})
	session.OnClosed(func() {
		n.metrics.Inc(metrics.MediaSessionClosed)
	})
	sub.resetForNewPublisher(session)

	if err := n.startSubscriberPairing(sub, nil); err != nil {
		n.log.Error("repair subscriber pairing", "conn", sub.connID, "err", err)
		sub.sender.Close(ReasonNegotiationFailed)
	}
}

// failPeer records a terminal negotiation error and returns it.
func (n *Negotiator) failPeer(peer *Peer, err error) error {
	n.metrics.Inc(metrics.NegotiationFailed)
	n.log.Warn("negotiation failed", "room", peer.roomID, "conn", peer.connID, "err", err)
	peer.fail()
	return err
}
