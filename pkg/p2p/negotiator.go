// Package p2p drives the peer-to-peer handshake between two paired
// clients: offer/answer/candidate exchange relayed through the signaling
// session until a direct data channel opens.
package p2p

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pairpong/pairpong/pkg/api"
	"github.com/pairpong/pairpong/pkg/logger"
	"github.com/pairpong/pairpong/pkg/signal"
	pion "github.com/pion/webrtc/v3"
)

// Stage is the negotiator lifecycle phase for the current pairing.
type Stage string

const (
	Idle        Stage = "idle"
	Negotiating Stage = "negotiating"
	Connected   Stage = "connected"
	// Disconnected and Failed keep the pairing context for inspection;
	// Closed means the resources are gone.
	Disconnected Stage = "disconnected"
	Failed       Stage = "failed"
	Closed       Stage = "closed"
)

const (
	channelLabel    = "gameData"
	offerRetries    = 3
	offerRetryDelay = time.Second
	// negotiationTimeout bounds the whole handshake; a peer stuck
	// waiting for a reply lands in Failed instead of stalling forever
	negotiationTimeout = 30 * time.Second
)

// Signaler is the slice of the signaling session the negotiator uses.
type Signaler interface {
	On(t api.MT, h signal.Handler)
	Send(t api.MT, payload any)
	Id() string
}

// Negotiator is the per-pairing handshake state machine. The host side
// creates the data channel and the offer; the guest accepts the pushed
// channel and answers. Negotiation proper starts only after both sides
// signal start intent, behind a fire-once barrier, so two intents
// arriving in either order can't kick it off twice.
type Negotiator struct {
	log      *logger.Logger
	clock    clock.Clock
	signaler Signaler
	factory  TransportFactory

	mu         sync.Mutex
	gen        int // bumped on every teardown, stale callbacks check it
	stage      Stage
	host       bool
	opponentId string
	transport  Transport
	channel    Channel
	intent     *Barrier
	onChannel  func(ch Channel, host bool)
	onStage    func(Stage)
	onPaired   func(opponentId string, host bool)
}

func NewNegotiator(signaler Signaler, factory TransportFactory, log *logger.Logger) *Negotiator {
	n := &Negotiator{
		log:      log,
		clock:    clock.New(),
		signaler: signaler,
		factory:  factory,
		stage:    Idle,
	}
	n.bind()
	return n
}

func (n *Negotiator) bind() {
	n.signaler.On(api.Paired, func(in api.In) {
		if pl := api.Unwrap[api.PairedPayload](in.Payload); pl != nil {
			n.Pair(pl.OpponentId, pl.IsHost)
		}
	})
	n.signaler.On(api.Offer, n.onOffer)
	n.signaler.On(api.Answer, n.onAnswer)
	n.signaler.On(api.IceCandidate, n.onCandidate)
	n.signaler.On(api.ReadyForOffer, n.onReadyForOffer)
	n.signaler.On(api.StartIntent, func(api.In) {
		n.mu.Lock()
		intent := n.intent
		n.mu.Unlock()
		if intent != nil {
			intent.Other()
		}
	})
	n.signaler.On(api.OpponentLeft, func(api.In) { n.Reset() })
	n.signaler.On(api.BackToLobby, func(api.In) { n.Reset() })
}

func (n *Negotiator) Stage() Stage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stage
}

func (n *Negotiator) IsHost() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.host
}

func (n *Negotiator) OpponentId() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opponentId
}

// OnChannel registers the handover callback for the opened data channel.
func (n *Negotiator) OnChannel(fn func(ch Channel, host bool)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onChannel = fn
}

// OnStageChange registers a stage observer. The callback must not
// call back into the negotiator.
func (n *Negotiator) OnStageChange(fn func(Stage)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onStage = fn
}

// OnPaired registers a callback fired after a pairing notification has
// been applied, once the negotiator is ready to Start.
func (n *Negotiator) OnPaired(fn func(opponentId string, host bool)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onPaired = fn
}

// Pair prepares a fresh transport for the given opponent, replacing any
// previous pairing. The handshake itself waits for both start intents.
func (n *Negotiator) Pair(opponentId string, host bool) {
	n.mu.Lock()
	cleanup := n.teardownLocked()
	n.opponentId = opponentId
	n.host = host
	gen := n.gen

	transport, err := n.factory()
	if err != nil {
		notify := n.toLocked(Failed)
		n.mu.Unlock()
		cleanup()
		notify()
		n.log.Error().Err(err).Msg("couldn't open a peer connection")
		return
	}
	n.transport = transport
	n.intent = NewBarrier(func() { n.negotiate(gen) })
	notify := n.toLocked(Idle)
	n.mu.Unlock()
	cleanup()
	notify()
	n.log.Info().Msgf("paired with %s as %s", opponentId, role(host))

	transport.OnICECandidate(func(candidate pion.ICECandidateInit) {
		if !n.alive(gen) {
			return
		}
		data, err := api.Marshal(candidate)
		if err != nil {
			n.log.Error().Err(err).Msg("couldn't encode a local candidate")
			return
		}
		n.signaler.Send(api.IceCandidate, api.CandidatePayload{Candidate: data, To: opponentId})
	})
	transport.OnConnectionStateChange(func(state pion.PeerConnectionState) { n.onConnState(gen, state) })
	if !host {
		transport.OnDataChannel(func(ch Channel) { n.adopt(gen, ch) })
	}

	n.mu.Lock()
	paired := n.onPaired
	n.mu.Unlock()
	if paired != nil {
		paired(opponentId, host)
	}
}

// Start signals the local side's intent to play. The handshake begins
// once the opponent's start_intent has arrived too.
func (n *Negotiator) Start() {
	n.mu.Lock()
	intent := n.intent
	opponentId := n.opponentId
	n.mu.Unlock()
	if intent == nil {
		n.log.Debug().Msg("start before pairing, ignored")
		return
	}
	n.signaler.Send(api.StartIntent, api.AddressedPayload{To: opponentId})
	intent.Self()
}

// negotiate runs once per pairing, after both intents have arrived.
func (n *Negotiator) negotiate(gen int) {
	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		return
	}
	notify := n.toLocked(Negotiating)
	host := n.host
	opponentId := n.opponentId
	transport := n.transport
	n.mu.Unlock()
	notify()

	n.clock.AfterFunc(negotiationTimeout, func() { n.expire(gen) })

	if !host {
		n.signaler.Send(api.ReadyForOffer, api.AddressedPayload{To: opponentId})
		return
	}
	ch, err := transport.CreateDataChannel(channelLabel)
	if err != nil {
		n.fail(gen, "couldn't create the data channel", err)
		return
	}
	n.adopt(gen, ch)
	go n.sendOffer(gen)
}

// expire fails a handshake still negotiating when the deadline hits.
func (n *Negotiator) expire(gen int) {
	n.mu.Lock()
	if gen != n.gen || n.stage != Negotiating {
		n.mu.Unlock()
		return
	}
	cleanup := n.teardownLocked()
	notify := n.toLocked(Failed)
	n.mu.Unlock()
	cleanup()
	notify()
	n.log.Error().Msgf("negotiation timed out after %v", negotiationTimeout)
}

// sendOffer produces and relays an offer, retrying locally bounded times.
func (n *Negotiator) sendOffer(gen int) {
	for attempt := 1; attempt <= offerRetries; attempt++ {
		n.mu.Lock()
		if gen != n.gen {
			n.mu.Unlock()
			return
		}
		transport := n.transport
		opponentId := n.opponentId
		n.mu.Unlock()

		offer, err := transport.CreateOffer()
		if err == nil {
			data, err := api.Marshal(offer)
			if err != nil {
				n.fail(gen, "couldn't encode the offer", err)
				return
			}
			n.signaler.Send(api.Offer, api.SdpPayload{Sdp: data, To: opponentId})
			return
		}
		n.log.Warn().Err(err).Msgf("offer attempt %d/%d failed", attempt, offerRetries)
		if attempt < offerRetries {
			n.clock.Sleep(offerRetryDelay)
		}
	}
	n.fail(gen, "ran out of offer attempts", nil)
}

// onOffer is the guest's side of the handshake: accept the remote
// description, answer, relay the answer back.
func (n *Negotiator) onOffer(in api.In) {
	pl := api.Unwrap[api.SdpPayload](in.Payload)
	if pl == nil {
		n.log.Warn().Msg("offer with a broken payload, ignored")
		return
	}
	n.mu.Lock()
	gen := n.gen
	transport := n.transport
	n.mu.Unlock()
	if transport == nil {
		n.log.Warn().Msg("offer before pairing, ignored")
		return
	}

	var sdp pion.SessionDescription
	if err := api.Unmarshal(pl.Sdp, &sdp); err != nil {
		n.log.Warn().Err(err).Msg("offer with a broken description, ignored")
		return
	}
	if err := transport.SetRemoteDescription(sdp); err != nil {
		n.fail(gen, "couldn't apply the remote offer", err)
		return
	}
	answer, err := transport.CreateAnswer()
	if err != nil {
		n.fail(gen, "couldn't create an answer", err)
		return
	}
	data, err := api.Marshal(answer)
	if err != nil {
		n.fail(gen, "couldn't encode the answer", err)
		return
	}
	n.signaler.Send(api.Answer, api.SdpPayload{Sdp: data, To: in.SenderId})
}

func (n *Negotiator) onAnswer(in api.In) {
	pl := api.Unwrap[api.SdpPayload](in.Payload)
	if pl == nil {
		n.log.Warn().Msg("answer with a broken payload, ignored")
		return
	}
	n.mu.Lock()
	gen := n.gen
	transport := n.transport
	n.mu.Unlock()
	if transport == nil {
		return
	}
	var sdp pion.SessionDescription
	if err := api.Unmarshal(pl.Sdp, &sdp); err != nil {
		n.log.Warn().Err(err).Msg("answer with a broken description, ignored")
		return
	}
	if err := transport.SetRemoteDescription(sdp); err != nil {
		n.fail(gen, "couldn't apply the remote answer", err)
	}
}

// onCandidate feeds a remote candidate to the transport; candidates that
// race the remote description are buffered by the transport itself.
func (n *Negotiator) onCandidate(in api.In) {
	pl := api.Unwrap[api.CandidatePayload](in.Payload)
	if pl == nil {
		n.log.Warn().Msg("candidate with a broken payload, ignored")
		return
	}
	n.mu.Lock()
	transport := n.transport
	n.mu.Unlock()
	if transport == nil {
		return
	}
	var candidate pion.ICECandidateInit
	if err := api.Unmarshal(pl.Candidate, &candidate); err != nil {
		n.log.Warn().Err(err).Msg("broken remote candidate, ignored")
		return
	}
	if err := transport.AddICECandidate(candidate); err != nil {
		n.log.Warn().Err(err).Msg("remote candidate rejected")
	}
}

// onReadyForOffer makes the host (re)issue an offer: the guest may have
// arrived after the host was already mid-negotiation with a prior peer.
func (n *Negotiator) onReadyForOffer(in api.In) {
	n.mu.Lock()
	gen := n.gen
	host := n.host
	ready := n.transport != nil && n.stage == Negotiating
	n.mu.Unlock()
	if !host || !ready {
		return
	}
	go n.sendOffer(gen)
}

// adopt takes ownership of the channel and hands it to the application.
func (n *Negotiator) adopt(gen int, ch Channel) {
	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		_ = ch.Close()
		return
	}
	n.channel = ch
	fn := n.onChannel
	host := n.host
	n.mu.Unlock()
	n.log.Debug().Msgf("data channel %q adopted", ch.Label())
	if fn != nil {
		fn(ch, host)
	}
}

func (n *Negotiator) onConnState(gen int, state pion.PeerConnectionState) {
	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		return
	}
	n.log.Info().Msgf("peer connection is %s", state)
	var notify, cleanup func()
	switch state {
	case pion.PeerConnectionStateConnected:
		notify = n.toLocked(Connected)
	case pion.PeerConnectionStateDisconnected:
		cleanup = n.dropChannelLocked()
		notify = n.toLocked(Disconnected)
	case pion.PeerConnectionStateFailed:
		cleanup = n.dropChannelLocked()
		notify = n.toLocked(Failed)
	case pion.PeerConnectionStateClosed:
		cleanup = n.teardownLocked()
		notify = n.toLocked(Closed)
	}
	n.mu.Unlock()
	if cleanup != nil {
		cleanup()
	}
	if notify != nil {
		notify()
	}
}

// Reset tears the pairing down back to Idle: opponent left, or the
// local side went back to the lobby.
func (n *Negotiator) Reset() {
	n.mu.Lock()
	cleanup := n.teardownLocked()
	notify := n.toLocked(Idle)
	n.mu.Unlock()
	cleanup()
	notify()
}

// Close releases everything for good.
func (n *Negotiator) Close() {
	n.mu.Lock()
	cleanup := n.teardownLocked()
	notify := n.toLocked(Closed)
	n.mu.Unlock()
	cleanup()
	notify()
}

func (n *Negotiator) fail(gen int, message string, err error) {
	n.mu.Lock()
	if gen != n.gen {
		n.mu.Unlock()
		return
	}
	cleanup := n.teardownLocked()
	notify := n.toLocked(Failed)
	n.mu.Unlock()
	cleanup()
	notify()
	n.log.Error().Err(err).Msg(message)
}

func (n *Negotiator) alive(gen int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return gen == n.gen
}

// teardownLocked invalidates the current generation and detaches the
// resources; the returned thunk closes them and must run after unlock,
// since closing may fire callbacks that re-enter the negotiator.
func (n *Negotiator) teardownLocked() func() {
	n.gen++
	channel, transport := n.channel, n.transport
	n.channel, n.transport = nil, nil
	n.intent = nil
	n.opponentId = ""
	return func() {
		if channel != nil {
			_ = channel.Close()
		}
		if transport != nil {
			_ = transport.Close()
		}
	}
}

// dropChannelLocked marks the data channel logically closed while the
// pairing context survives for inspection.
func (n *Negotiator) dropChannelLocked() func() {
	channel := n.channel
	n.channel = nil
	return func() {
		if channel != nil {
			_ = channel.Close()
		}
	}
}

// toLocked moves to a new stage; the returned thunk fires the observer
// and must be invoked after the mutex is released.
func (n *Negotiator) toLocked(v Stage) func() {
	if n.stage == v {
		return func() {}
	}
	n.stage = v
	fn := n.onStage
	if fn == nil {
		return func() {}
	}
	return func() { fn(v) }
}

func role(host bool) string {
	if host {
		return "host"
	}
	return "guest"
}
