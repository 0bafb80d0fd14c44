package media

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/roomcast/roomcast/internal/config"
)

// PionEngine implements Engine on server-side pion PeerConnections.
type PionEngine struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	log        *slog.Logger
}

func NewPionEngine(cfg config.Config, logger *slog.Logger) (*PionEngine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = newLoggerFactory(logger)
	if cfg.WebRTCUDPPortRange != nil {
		if err := se.SetEphemeralUDPPortRange(cfg.WebRTCUDPPortRange.Min, cfg.WebRTCUDPPortRange.Max); err != nil {
			return nil, fmt.Errorf("set ephemeral udp port range: %w", err)
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return &PionEngine{api: api, iceServers: cfg.ICEServers, log: logger}, nil
}

func (e *PionEngine) NewSession() (Session, error) {
	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	s := &pionSession{pc: pc, log: e.log}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		s.mu.Lock()
		fn := s.onCandidate
		s.mu.Unlock()
		if fn != nil {
			fn(Candidate{
				Candidate:        init.Candidate,
				SDPMid:           init.SDPMid,
				SDPMLineIndex:    init.SDPMLineIndex,
				UsernameFragment: init.UsernameFragment,
			})
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		feed, err := newPionFeed(track)
		if err != nil {
			e.log.Error("create track feed", "track_id", track.ID(), "err", err)
			return
		}
		go feed.pump(track, e.log)

		s.mu.Lock()
		fn := s.onTrack
		s.mu.Unlock()
		if fn != nil {
			fn(feed)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			_ = s.Close()
		}
	})

	return s, nil
}

type pionSession struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu          sync.Mutex
	onCandidate func(Candidate)
	onTrack     func(Feed)
	onClosed    func()

	closeOnce sync.Once
}

func (s *pionSession) CreateOffer() (SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (s *pionSession) CreateAnswer() (SessionDescription, error) {
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (s *pionSession) SetRemoteDescription(desc SessionDescription) error {
	var sdpType webrtc.SDPType
	switch desc.Type {
	case "offer":
		sdpType = webrtc.SDPTypeOffer
	case "answer":
		sdpType = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("unknown sdp type %q", desc.Type)
	}
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (s *pionSession) AddRemoteCandidate(c Candidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
	if err := s.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (s *pionSession) AttachFeed(f Feed) error {
	pf, ok := f.(*pionFeed)
	if !ok {
		return errors.New("feed does not belong to this engine")
	}
	sender, err := s.pc.AddTrack(pf.local)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	// Drain inbound RTCP so the interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (s *pionSession) OnLocalCandidate(fn func(Candidate)) {
	s.mu.Lock()
	s.onCandidate = fn
	s.mu.Unlock()
}

func (s *pionSession) OnTrack(fn func(Feed)) {
	s.mu.Lock()
	s.onTrack = fn
	s.mu.Unlock()
}

func (s *pionSession) OnClosed(fn func()) {
	s.mu.Lock()
	s.onClosed = fn
	s.mu.Unlock()
}

func (s *pionSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pc.Close()
		s.mu.Lock()
		fn := s.onClosed
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	return err
}
