package media

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/roomcast/roomcast/internal/config"
)

func newTestEngine(t *testing.T) *PionEngine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e, err := NewPionEngine(config.Config{}, logger)
	if err != nil {
		t.Fatalf("NewPionEngine: %v", err)
	}
	return e
}

func TestPionSession_OfferAnswer(t *testing.T) {
	e := newTestEngine(t)

	offerer, err := e.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer offerer.Close()
	answerer, err := e.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer answerer.Close()

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.Type != "offer" || !strings.Contains(offer.SDP, "v=0") {
		t.Errorf("offer = {%q, %.20q...}, want sdp offer", offer.Type, offer.SDP)
	}

	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}
	answer, err := answerer.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if answer.Type != "answer" {
		t.Errorf("answer type=%q, want answer", answer.Type)
	}
	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("apply answer: %v", err)
	}
}

func TestPionSession_RejectsUnknownSDPType(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	err = s.SetRemoteDescription(SessionDescription{Type: "rollback?", SDP: "v=0"})
	if err == nil {
		t.Error("SetRemoteDescription accepted unknown type")
	}
}

func TestPionSession_CloseIdempotent(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	closed := 0
	s.OnClosed(func() { closed++ })

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if closed != 1 {
		t.Errorf("OnClosed fired %d times, want 1", closed)
	}
}

func TestPionSession_AttachFeedRejectsForeignFeed(t *testing.T) {
	e := newTestEngine(t)
	s, err := e.NewSession()
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer s.Close()

	type otherFeed struct{ Feed }
	if err := s.AttachFeed(otherFeed{}); err == nil {
		t.Error("AttachFeed accepted a feed from another engine")
	}
}

func TestNewPionEngine_PortRange(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{WebRTCUDPPortRange: &config.UDPPortRange{Min: 50000, Max: 50100}}
	if _, err := NewPionEngine(cfg, logger); err != nil {
		t.Fatalf("NewPionEngine with port range: %v", err)
	}
}
