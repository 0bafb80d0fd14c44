package signaling

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/roomcast/roomcast/internal/config"
	"github.com/roomcast/roomcast/internal/media"
	"github.com/roomcast/roomcast/internal/metrics"
	"github.com/roomcast/roomcast/internal/negotiation"
)

const wsWriteWait = 1 * time.Second

// channel is one participant's signaling stream. A single goroutine reads
// from the connection; writes from the negotiation layer are serialized by
// writeMu. Cleanup (registry leave, negotiator detach) runs exactly once no
// matter which path triggers the close.
type channel struct {
	conn    *websocket.Conn
	log     *slog.Logger
	cfg     config.Config
	metrics *metrics.Metrics

	// cleanup is set before the channel enters its read loop.
	cleanup func()

	writeMu   sync.Mutex
	closeOnce sync.Once
	limiter   *rate.Limiter
	active    atomic.Bool
	done      chan struct{}
}

func newChannel(conn *websocket.Conn, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *channel {
	var limiter *rate.Limiter
	if cfg.MaxSignalingMessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxSignalingMessagesPerSecond), cfg.MaxSignalingMessagesPerSecond)
	}
	return &channel{
		conn:    conn,
		log:     logger,
		cfg:     cfg,
		metrics: m,
		limiter: limiter,
		done:    make(chan struct{}),
	}
}

func (c *channel) SendOffer(desc media.SessionDescription) error {
	return c.send(eventOffer, desc)
}

func (c *channel) SendAnswer(desc media.SessionDescription) error {
	return c.send(eventAnswer, desc)
}

func (c *channel) SendCandidate(cand media.Candidate) error {
	return c.send(eventCandidate, cand)
}

func (c *channel) send(event eventType, inner any) error {
	frame, err := encodeEnvelope(event, inner)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Close implements negotiation.Sender.
func (c *channel) Close(reason negotiation.CloseReason) {
	switch reason {
	case negotiation.ReasonPublisherLeft:
		c.shutdown(ClosePublisherLeft, string(reason))
	default:
		c.shutdown(CloseNegotiationFailed, string(reason))
	}
}

// shutdown sends a close frame, tears down the connection and runs the
// cleanup hook. Safe to call from any goroutine, any number of times.
func (c *channel) shutdown(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		deadline := time.Now().Add(wsWriteWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		c.writeMu.Unlock()
		_ = c.conn.Close()
		if c.cleanup != nil {
			c.cleanup()
		}
	})
}

// run is the read loop. It returns when the connection dies or the channel
// is shut down from another goroutine.
func (c *channel) run(peer *negotiation.Peer, neg *negotiation.Negotiator) {
	defer c.shutdown(websocket.CloseNormalClosure, "")

	if c.cfg.MaxSignalingMessageBytes > 0 {
		c.conn.SetReadLimit(c.cfg.MaxSignalingMessageBytes)
	}

	// A joined channel that never sends a first frame is a zombie; it gets
	// the shorter join deadline until it proves itself alive.
	if c.cfg.SignalingJoinTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.SignalingJoinTimeout))
	}
	c.conn.SetPongHandler(func(string) error {
		if c.active.Load() {
			c.extendIdleDeadline()
		}
		return nil
	})
	go c.pingLoop()

	malformed := 0
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.active.Load() && isTimeout(err) {
				c.metrics.Inc(metrics.ZombieChannelClosed)
				c.log.Info("zombie channel closed", "conn", peer.ConnID())
			}
			return
		}
		if !c.active.Load() {
			c.active.Store(true)
		}
		c.extendIdleDeadline()

		if c.limiter != nil && !c.limiter.Allow() {
			c.metrics.Inc(metrics.RateLimited)
			c.shutdown(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		if ok := c.dispatch(peer, neg, data, &malformed); !ok {
			return
		}
	}
}

// dispatch routes one inbound frame. It reports false when the channel
// must stop reading.
func (c *channel) dispatch(peer *negotiation.Peer, neg *negotiation.Negotiator, data []byte, malformed *int) bool {
	env, err := parseEnvelope(data)
	if err != nil {
		return c.discardMalformed(peer, malformed, err)
	}

	switch env.Event {
	case eventOffer:
		desc, derr := decodeDescription(env.Data, eventOffer)
		if derr != nil {
			return c.discardMalformed(peer, malformed, derr)
		}
		err = neg.HandleOffer(peer, desc)
	case eventAnswer:
		desc, derr := decodeDescription(env.Data, eventAnswer)
		if derr != nil {
			return c.discardMalformed(peer, malformed, derr)
		}
		err = neg.HandleAnswer(peer, desc)
	case eventCandidate:
		cand, derr := decodeCandidate(env.Data)
		if derr != nil {
			return c.discardMalformed(peer, malformed, derr)
		}
		// A candidate the transport refuses is dropped like a malformed
		// frame; it must not take the whole pairing down.
		if cerr := neg.HandleCandidate(peer, cand); cerr != nil {
			return c.discardMalformed(peer, malformed, cerr)
		}
	}

	if errors.Is(err, negotiation.ErrUnexpectedFrame) {
		return c.discardMalformed(peer, malformed, err)
	}
	if err != nil {
		c.shutdown(CloseNegotiationFailed, "negotiation_failed")
		return false
	}
	*malformed = 0
	return true
}

func (c *channel) discardMalformed(peer *negotiation.Peer, malformed *int, err error) bool {
	c.metrics.Inc(metrics.MalformedMessage)
	c.log.Warn("discarding signaling message", "conn", peer.ConnID(), "err", err)
	*malformed++
	if c.cfg.MaxMalformedMessages > 0 && *malformed >= c.cfg.MaxMalformedMessages {
		c.shutdown(websocket.ClosePolicyViolation, "too many malformed messages")
		return false
	}
	return true
}

func (c *channel) extendIdleDeadline() {
	if c.cfg.SignalingWSIdleTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.SignalingWSIdleTimeout))
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
}

func (c *channel) pingLoop() {
	if c.cfg.SignalingWSPingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.SignalingWSPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
