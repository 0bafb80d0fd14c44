// Package negotiation tracks the SDP offer/answer exchange and ICE candidate
// accumulation per participant, independent from the transport implementation.
package negotiation

// State is the phase of one participant's negotiation.
type State string

const (
	// StateIdle: no description exchanged yet.
	StateIdle State = "idle"
	// StateOfferSent: the server sent a local offer and awaits the answer.
	StateOfferSent State = "offer_sent"
	// StateAnswerPending: the remote answer arrived and is being applied.
	StateAnswerPending State = "answer_pending"
	// StateNegotiated: the description exchange completed.
	StateNegotiated State = "negotiated"
	// StateFailed: terminal, reached on any unrecoverable negotiation error.
	StateFailed State = "failed"
)

// CloseReason tells a signaling channel why negotiation is shutting it down.
type CloseReason string

const (
	ReasonNegotiationFailed CloseReason = "negotiation_failed"
	ReasonPublisherLeft     CloseReason = "publisher_left"
)
