package media

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// pionFeed republishes one remote track as a TrackLocalStaticRTP. A single
// feed can be attached to any number of subscriber sessions; pion handles
// the per-sender packet duplication.
type pionFeed struct {
	local *webrtc.TrackLocalStaticRTP
	kind  string
}

func newPionFeed(track *webrtc.TrackRemote) (*pionFeed, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(track.Codec().RTPCodecCapability, track.ID(), track.StreamID())
	if err != nil {
		return nil, fmt.Errorf("new local track: %w", err)
	}
	return &pionFeed{local: local, kind: track.Kind().String()}, nil
}

func (f *pionFeed) ID() string       { return f.local.ID() }
func (f *pionFeed) StreamID() string { return f.local.StreamID() }
func (f *pionFeed) Kind() string     { return f.kind }

// pump copies RTP packets from the remote track into the local feed until
// the remote side stops. It runs as the track's single reader goroutine.
func (f *pionFeed) pump(track *webrtc.TrackRemote, log *slog.Logger) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("track read ended", "track_id", track.ID(), "err", err)
			}
			return
		}
		if err := f.writeRTP(pkt); err != nil {
			return
		}
	}
}

func (f *pionFeed) writeRTP(pkt *rtp.Packet) error {
	err := f.local.WriteRTP(pkt)
	if err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}
