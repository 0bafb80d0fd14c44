// Package media is the adapter boundary to the peer-to-peer transport. The
// negotiation layer drives sessions through these interfaces and never
// inspects codec or media-plane bytes.
package media

// SessionDescription is an SDP blob plus its type ("offer" or "answer").
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is a trickled ICE candidate in its JSON wire shape.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Feed is one media track published into a room, attachable to any number
// of subscriber sessions.
type Feed interface {
	ID() string
	StreamID() string
	Kind() string
}

// Session is one server-side transport session, exclusively owned by the
// signaling channel that created it.
type Session interface {
	// CreateOffer builds and applies a local offer.
	CreateOffer() (SessionDescription, error)
	// CreateAnswer builds and applies a local answer. The remote offer must
	// already be set.
	CreateAnswer() (SessionDescription, error)
	SetRemoteDescription(desc SessionDescription) error
	AddRemoteCandidate(c Candidate) error

	// AttachFeed adds an outgoing track feed. Must be called before
	// CreateOffer for the feed to appear in the offer.
	AttachFeed(f Feed) error

	// OnLocalCandidate registers the callback for locally gathered ICE
	// candidates. Register before the first CreateOffer/CreateAnswer.
	OnLocalCandidate(fn func(Candidate))
	// OnTrack registers the callback for inbound remote tracks, each
	// surfaced as a reusable Feed.
	OnTrack(fn func(Feed))
	// OnClosed registers a callback invoked exactly once when the session
	// closes, whether via Close or a transport failure.
	OnClosed(fn func())

	// Close releases all transport resources. Idempotent.
	Close() error
}

// Engine creates sessions.
type Engine interface {
	NewSession() (Session, error)
}
