package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/roomcast/roomcast/internal/media"
)

type eventType string

const (
	eventOffer     eventType = "offer"
	eventAnswer    eventType = "answer"
	eventCandidate eventType = "candidate"
)

// WebSocket close codes in the application range. The reason string carried
// alongside is the stable part of the contract; the codes disambiguate for
// clients that only see numbers.
const (
	CloseUnauthorized      = 4001
	CloseRoomNotFound      = 4002
	CloseRoomFull          = 4003
	CloseNegotiationFailed = 4004
	ClosePublisherLeft     = 4005
)

// envelope is the single canonical frame shape: the inner payload travels
// as a JSON string, not a nested object.
type envelope struct {
	Event eventType `json:"event"`
	Data  string    `json:"data"`
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

func parseEnvelope(data []byte) (envelope, error) {
	var env envelope
	if err := strictUnmarshal(data, &env); err != nil {
		return envelope{}, err
	}
	switch env.Event {
	case eventOffer, eventAnswer, eventCandidate:
	default:
		return envelope{}, fmt.Errorf("unsupported event %q", env.Event)
	}
	if env.Data == "" {
		return envelope{}, fmt.Errorf("%s event missing data", env.Event)
	}
	return env, nil
}

// decodeDescription parses the inner session description of an offer or
// answer event and checks the sdp type matches the event.
func decodeDescription(data string, event eventType) (media.SessionDescription, error) {
	var desc media.SessionDescription
	if err := strictUnmarshal([]byte(data), &desc); err != nil {
		return media.SessionDescription{}, err
	}
	if desc.Type != string(event) {
		return media.SessionDescription{}, fmt.Errorf("%s event carries sdp type %q", event, desc.Type)
	}
	if desc.SDP == "" {
		return media.SessionDescription{}, fmt.Errorf("%s event missing sdp", event)
	}
	return desc, nil
}

func decodeCandidate(data string) (media.Candidate, error) {
	var c media.Candidate
	if err := strictUnmarshal([]byte(data), &c); err != nil {
		return media.Candidate{}, err
	}
	if c.Candidate == "" {
		return media.Candidate{}, fmt.Errorf("candidate event missing candidate")
	}
	return c, nil
}

func encodeEnvelope(event eventType, inner any) ([]byte, error) {
	data, err := json.Marshal(inner)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	frame, err := json.Marshal(envelope{Event: event, Data: string(data)})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return frame, nil
}
