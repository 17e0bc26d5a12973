// Package netplay keeps the two peers' game views in sync over the data
// channel: the host broadcasts authoritative snapshots on a fixed period,
// the guest renders interpolated views and sends paddle input back.
package netplay

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pairpong/pairpong/pkg/api"
	"github.com/pairpong/pairpong/pkg/game"
	"github.com/pairpong/pairpong/pkg/logger"
	"github.com/pairpong/pairpong/pkg/p2p"
)

const (
	// broadcastInterval is the host's snapshot period
	broadcastInterval = 50 * time.Millisecond
	// sendIntervalMs is the guest's minimum gap between paddle updates
	sendIntervalMs = 33
)

// Netplay drives one side of the state sync protocol over an adopted
// data channel. The host is the sole writer of authoritative phase;
// the guest only requests transitions and forwards input.
type Netplay struct {
	log   *logger.Logger
	clock clock.Clock
	state *game.State

	mu      sync.Mutex
	gen     int // bumped on detach, stale channel callbacks check it
	ch      p2p.Channel
	host    bool
	open    bool
	ready   *p2p.Barrier
	stop    chan struct{}
	onReady func()

	buffer *InterpolationBuffer

	lastSentY  float64
	hasSentY   bool
	lastSendMs int64
}

func NewNetplay(state *game.State, log *logger.Logger) *Netplay {
	return &Netplay{
		log:    log,
		clock:  clock.New(),
		state:  state,
		buffer: NewInterpolationBuffer(),
	}
}

// OnReady registers a callback fired once per pairing, when both sides
// have confirmed the channel end to end.
func (n *Netplay) OnReady(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onReady = fn
}

// Attach takes over a freshly opened data channel for the given role,
// replacing any previous one.
func (n *Netplay) Attach(ch p2p.Channel, host bool) {
	n.mu.Lock()
	n.detachLocked()
	n.ch = ch
	n.host = host
	n.open = false
	n.hasSentY = false
	n.lastSendMs = 0
	gen := n.gen
	n.ready = p2p.NewBarrier(func() { n.handshaken(gen) })
	n.mu.Unlock()
	n.buffer.Reset()

	ch.OnOpen(func() { n.opened(gen) })
	ch.OnMessage(func(data []byte) { n.onMessage(gen, data) })
	ch.OnClose(func() { n.closed(gen) })
	n.log.Info().Msgf("channel attached as %s", roleOf(host))
}

// Detach drops the channel and stops the broadcast; the interpolation
// buffer and the ready handshake reset with it.
func (n *Netplay) Detach() {
	n.mu.Lock()
	n.detachLocked()
	n.mu.Unlock()
	n.buffer.Reset()
	n.state.Reset()
}

func (n *Netplay) detachLocked() {
	n.gen++
	if n.stop != nil {
		close(n.stop)
		n.stop = nil
	}
	n.ch = nil
	n.ready = nil
	n.open = false
}

func (n *Netplay) opened(gen int) {
	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		return
	}
	n.open = true
	ch := n.ch
	ready := n.ready
	n.mu.Unlock()

	n.send(ch, api.DCOut{T: api.DcReady, Timestamp: n.clock.Now().UnixMilli()})
	ready.Self()
}

func (n *Netplay) closed(gen int) {
	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		return
	}
	n.open = false
	if n.stop != nil {
		close(n.stop)
		n.stop = nil
	}
	n.mu.Unlock()
	n.log.Info().Msg("channel closed")
}

// handshaken fires once both dc_ready confirmations are in.
func (n *Netplay) handshaken(gen int) {
	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		return
	}
	fn := n.onReady
	host := n.host
	ch := n.ch
	var stop chan struct{}
	if host {
		stop = make(chan struct{})
		n.stop = stop
	}
	n.mu.Unlock()

	n.log.Info().Msg("channel confirmed end to end")
	if host {
		go n.broadcast(gen, ch, stop)
	}
	if fn != nil {
		fn()
	}
}

// broadcast is the host's snapshot loop: every period, stamp the current
// authoritative state and push it to the guest.
func (n *Netplay) broadcast(gen int, ch p2p.Channel, stop chan struct{}) {
	ticker := n.clock.Ticker(broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !n.alive(gen) {
				return
			}
			snap := n.state.Snapshot()
			snap.TimestampMs = n.clock.Now().UnixMilli()
			n.send(ch, api.DCOut{T: api.GameState, Payload: snap, Timestamp: snap.TimestampMs})
		}
	}
}

// SetReady flips the local ready flag, tells the peer, and (on the host)
// may advance the pre-game phase.
func (n *Netplay) SetReady(isReady bool) {
	n.state.SetReady(isReady)
	n.mu.Lock()
	ch, open, host := n.ch, n.open, n.host
	n.mu.Unlock()
	if open {
		n.send(ch, api.DCOut{T: api.ReadyStatus, Payload: api.ReadyStatusPayload{IsReady: isReady}})
	}
	if host {
		n.state.MaybeAdvancePhase()
	}
}

// SendPaddle forwards the guest's paddle position to the host. Updates
// are dropped while the channel is down or gameplay is not running, and
// both duplicates and over-frequent values are suppressed.
func (n *Netplay) SendPaddle(y float64) {
	n.mu.Lock()
	ch, open, host := n.ch, n.open, n.host
	n.mu.Unlock()
	if host || ch == nil || !open {
		return
	}
	if n.viewStatus() != game.Playing {
		return
	}

	now := n.clock.Now().UnixMilli()
	n.mu.Lock()
	if n.hasSentY && n.lastSentY == y {
		n.mu.Unlock()
		return
	}
	if n.hasSentY && now-n.lastSendMs < sendIntervalMs {
		n.mu.Unlock()
		return
	}
	n.lastSentY, n.hasSentY, n.lastSendMs = y, true, now
	n.mu.Unlock()

	n.send(ch, api.DCOut{T: api.PaddleMove, Payload: api.PaddleMovePayload{Y: y}, Timestamp: now})
}

// RequestPause asks the host to pause; on the host it pauses directly.
func (n *Netplay) RequestPause() {
	if n.isHost() {
		if n.state.Status() == game.Playing {
			n.state.SetStatus(game.Paused)
		}
		return
	}
	n.request(api.PauseRequest)
}

// RequestResume asks the host to resume; on the host it resumes directly.
func (n *Netplay) RequestResume() {
	if n.isHost() {
		if n.state.Status() == game.Paused {
			n.state.SetStatus(game.Playing)
		}
		return
	}
	n.request(api.ResumeRequest)
}

func (n *Netplay) request(t api.DC) {
	n.mu.Lock()
	ch, open := n.ch, n.open
	n.mu.Unlock()
	if !open {
		n.log.Warn().Msgf("dropped %v, channel is down", t)
		return
	}
	n.send(ch, api.DCOut{T: t, Timestamp: n.clock.Now().UnixMilli()})
}

// Render is the guest's view at the given render time; the host's view
// is the authoritative state itself.
func (n *Netplay) Render(nowMs int64) (game.Snapshot, bool) {
	if n.isHost() {
		return n.state.Snapshot(), true
	}
	return n.buffer.Render(nowMs)
}

func (n *Netplay) onMessage(gen int, data []byte) {
	if !n.alive(gen) {
		return
	}
	var in api.DCIn
	if err := api.Unmarshal(data, &in); err != nil {
		n.log.Warn().Err(err).Msg("broken frame, ignored")
		return
	}

	switch in.T {
	case api.DcReady:
		n.mu.Lock()
		ready := n.ready
		n.mu.Unlock()
		if ready != nil {
			ready.Other()
		}
	case api.ReadyStatus:
		pl := api.Unwrap[api.ReadyStatusPayload](in.Payload)
		if pl == nil {
			n.log.Warn().Msg("readyStatus with a broken payload, ignored")
			return
		}
		n.state.SetOpponentReady(pl.IsReady)
		if n.isHost() {
			n.state.MaybeAdvancePhase()
		}
	case api.PaddleMove:
		// the guest owns the right paddle; applied as-is, no smoothing
		if !n.isHost() {
			return
		}
		pl := api.Unwrap[api.PaddleMovePayload](in.Payload)
		if pl == nil {
			n.log.Warn().Msg("paddleMove with a broken payload, ignored")
			return
		}
		n.state.SetRightPaddle(pl.Y)
	case api.GameState:
		if n.isHost() {
			return
		}
		snap := api.Unwrap[game.Snapshot](in.Payload)
		if snap == nil {
			n.log.Warn().Msg("gameState with a broken payload, ignored")
			return
		}
		n.buffer.Push(*snap)
	case api.PauseRequest:
		if n.isHost() && n.state.Status() == game.Playing {
			n.state.SetStatus(game.Paused)
		}
	case api.ResumeRequest:
		if n.isHost() && n.state.Status() == game.Paused {
			n.state.SetStatus(game.Playing)
		}
	default:
		n.log.Debug().Msgf("unknown frame %v, ignored", in.T)
	}
}

func (n *Netplay) send(ch p2p.Channel, out api.DCOut) {
	data, err := api.Marshal(out)
	if err != nil {
		n.log.Error().Err(err).Msgf("couldn't encode %v", out.T)
		return
	}
	if err := ch.Send(data); err != nil {
		n.log.Warn().Err(err).Msgf("couldn't send %v", out.T)
	}
}

func (n *Netplay) isHost() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.host
}

func (n *Netplay) alive(gen int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return gen == n.gen
}

// viewStatus is the phase as this side currently sees it.
func (n *Netplay) viewStatus() game.Status {
	if n.isHost() {
		return n.state.Status()
	}
	if snap, ok := n.buffer.Latest(); ok {
		return snap.Status
	}
	return game.Waiting
}

func roleOf(host bool) string {
	if host {
		return "host"
	}
	return "guest"
}
