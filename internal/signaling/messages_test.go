package signaling

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/roomcast/roomcast/internal/media"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		event   eventType
	}{
		{"offer", `{"event":"offer","data":"{}"}`, false, eventOffer},
		{"answer", `{"event":"answer","data":"{}"}`, false, eventAnswer},
		{"candidate", `{"event":"candidate","data":"{}"}`, false, eventCandidate},
		{"unknown event", `{"event":"join","data":"{}"}`, true, ""},
		{"missing data", `{"event":"offer"}`, true, ""},
		{"unknown field", `{"event":"offer","data":"{}","extra":1}`, true, ""},
		{"trailing data", `{"event":"offer","data":"{}"}{}`, true, ""},
		{"not json", `hello`, true, ""},
		{"empty", ``, true, ""},
		{"array", `[1,2,3]`, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := parseEnvelope([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseEnvelope(%q) succeeded, want error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseEnvelope(%q): %v", tt.raw, err)
			}
			if env.Event != tt.event {
				t.Errorf("event=%q, want %q", env.Event, tt.event)
			}
		})
	}
}

func TestDecodeDescription(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		event   eventType
		wantErr bool
	}{
		{"valid offer", `{"type":"offer","sdp":"v=0"}`, eventOffer, false},
		{"valid answer", `{"type":"answer","sdp":"v=0"}`, eventAnswer, false},
		{"type mismatch", `{"type":"answer","sdp":"v=0"}`, eventOffer, true},
		{"missing sdp", `{"type":"offer"}`, eventOffer, true},
		{"unknown field", `{"type":"offer","sdp":"v=0","ice":true}`, eventOffer, true},
		{"not json", `x`, eventOffer, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := decodeDescription(tt.data, tt.event)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("decodeDescription(%q) succeeded, want error", tt.data)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeDescription(%q): %v", tt.data, err)
			}
			if desc.SDP != "v=0" {
				t.Errorf("sdp=%q, want v=0", desc.SDP)
			}
		})
	}
}

func TestDecodeCandidate(t *testing.T) {
	mid := "0"
	valid, err := json.Marshal(media.Candidate{Candidate: "candidate:1", SDPMid: &mid})
	if err != nil {
		t.Fatal(err)
	}

	c, err := decodeCandidate(string(valid))
	if err != nil {
		t.Fatalf("decodeCandidate: %v", err)
	}
	if c.Candidate != "candidate:1" || c.SDPMid == nil || *c.SDPMid != "0" {
		t.Errorf("candidate=%+v, want candidate:1 mid 0", c)
	}

	if _, err := decodeCandidate(`{"sdpMid":"0"}`); err == nil {
		t.Error("decodeCandidate accepted missing candidate string")
	}
	if _, err := decodeCandidate(`{"candidate":"x","bogus":1}`); err == nil {
		t.Error("decodeCandidate accepted unknown field")
	}
}

func TestEncodeEnvelopeRoundTrip(t *testing.T) {
	frame, err := encodeEnvelope(eventOffer, media.SessionDescription{Type: "offer", SDP: "v=0"})
	if err != nil {
		t.Fatalf("encodeEnvelope: %v", err)
	}
	if !strings.Contains(string(frame), `"event":"offer"`) {
		t.Errorf("frame=%s, missing event field", frame)
	}

	env, err := parseEnvelope(frame)
	if err != nil {
		t.Fatalf("parseEnvelope: %v", err)
	}
	desc, err := decodeDescription(env.Data, eventOffer)
	if err != nil {
		t.Fatalf("decodeDescription: %v", err)
	}
	if desc.SDP != "v=0" {
		t.Errorf("sdp=%q after round trip, want v=0", desc.SDP)
	}
}

func FuzzParseEnvelope(f *testing.F) {
	f.Add([]byte(`{"event":"offer","data":"{\"type\":\"offer\",\"sdp\":\"v=0\"}"}`))
	f.Add([]byte(`{"event":"candidate","data":"{\"candidate\":\"candidate:1\"}"}`))
	f.Add([]byte(`{"event":"answer","data":""}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte{0xff, 0xfe})

	f.Fuzz(func(t *testing.T, data []byte) {
		env, err := parseEnvelope(data)
		if err != nil {
			return
		}
		// Whatever parses must re-encode to something that parses again.
		switch env.Event {
		case eventOffer, eventAnswer:
			if desc, err := decodeDescription(env.Data, env.Event); err == nil {
				frame, err := encodeEnvelope(env.Event, desc)
				if err != nil {
					t.Fatalf("encodeEnvelope: %v", err)
				}
				if _, err := parseEnvelope(frame); err != nil {
					t.Fatalf("re-encoded frame does not parse: %v", err)
				}
			}
		case eventCandidate:
			if c, err := decodeCandidate(env.Data); err == nil {
				frame, err := encodeEnvelope(env.Event, c)
				if err != nil {
					t.Fatalf("encodeEnvelope: %v", err)
				}
				if _, err := parseEnvelope(frame); err != nil {
					t.Fatalf("re-encoded frame does not parse: %v", err)
				}
			}
		}
	})
}
