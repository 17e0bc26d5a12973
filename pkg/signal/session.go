// Package signal maintains a client's session with the matchmaking relay:
// one websocket that survives drops through bounded, linearly backed-off
// reconnects under a stable clientId.
package signal

import (
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pairpong/pairpong/pkg/api"
	"github.com/pairpong/pairpong/pkg/logger"
	"github.com/pairpong/pairpong/pkg/network/websocket"
)

// State is the session lifecycle phase.
type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Reconnecting State = "reconnecting"
	// Failed is terminal: the reconnect budget is spent and
	// only an explicit Connect call may revive the session.
	Failed State = "failed"
)

const (
	heartbeatInterval = 30 * time.Second
	reconnectStep     = 3 * time.Second
	maxReconnects     = 5
)

// Conn is the transport under the session. *websocket.WS satisfies it.
type Conn interface {
	Write(data []byte)
	Close()
	Alive() bool
	Listen() chan struct{}
}

// Dialer opens one transport with the inbound handler already bound,
// so no message can slip by before the session is listening.
type Dialer func(address url.URL, onMessage websocket.WSMessageHandler, log *logger.Logger) (Conn, error)

// Websocket is the production Dialer.
func Websocket(address url.URL, onMessage websocket.WSMessageHandler, log *logger.Logger) (Conn, error) {
	conn, err := websocket.NewClient(address, log)
	if err != nil {
		return nil, err
	}
	conn.OnMessage = onMessage
	return conn, nil
}

type Handler func(in api.In)

// Session is one client's connection to the relay. It dispatches inbound
// envelopes to per-type handlers, keeps the link warm with pings, and
// redials on loss with a growing delay, reusing the same clientId so the
// relay can rebind rather than re-pair.
type Session struct {
	log   *logger.Logger
	clock clock.Clock
	dial  Dialer

	address  url.URL
	clientId string

	mu       sync.Mutex
	state    State
	conn     Conn
	attempt  int
	closed   bool
	handlers map[api.MT]Handler
	onState  func(State)
}

func NewSession(rawURL, clientId string, log *logger.Logger) (*Session, error) {
	address, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Session{
		log:      log,
		clock:    clock.New(),
		dial:     Websocket,
		address:  *address,
		clientId: clientId,
		state:    Disconnected,
		handlers: make(map[api.MT]Handler),
	}, nil
}

func (s *Session) Id() string { return s.clientId }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// On registers the handler for one message type, replacing any previous one.
func (s *Session) On(t api.MT, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = h
}

// OnStateChange registers a state observer. The callback must not
// call back into the session.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = fn
}

// toLocked moves to a new state; the returned thunk fires the observer
// and must be invoked after the mutex is released.
func (s *Session) toLocked(v State) func() {
	if s.state == v {
		return func() {}
	}
	s.state = v
	fn := s.onState
	if fn == nil {
		return func() {}
	}
	return func() { fn(v) }
}

// Connect dials the relay. Calls made while a connection attempt is
// already in flight, or while connected, are ignored.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.closed || s.state == Connecting || s.state == Connected {
		s.mu.Unlock()
		s.log.Debug().Msg("connect skipped, session is busy")
		return
	}
	if s.state == Failed {
		// an explicit call restores the reconnect budget
		s.attempt = 0
	}
	notify := s.toLocked(Connecting)
	address := s.address
	q := address.Query()
	q.Set("clientId", s.clientId)
	address.RawQuery = q.Encode()
	s.mu.Unlock()
	notify()

	conn, err := s.dial(address, s.dispatch, s.log)
	if err != nil {
		s.log.Warn().Err(err).Msg("relay dial failed")
		s.scheduleReconnect()
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.attempt = 0
	notify = s.toLocked(Connected)
	s.mu.Unlock()
	notify()
	s.log.Info().Msg("connected to the relay")

	go s.supervise(conn, conn.Listen())
}

// supervise keeps one connection warm until it drops,
// then hands over to the reconnect schedule.
func (s *Session) supervise(conn Conn, done chan struct{}) {
	heartbeat := s.clock.Ticker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-heartbeat.C:
			s.Send(api.Ping, nil)
		case <-done:
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				s.log.Warn().Msg("relay connection lost")
				s.scheduleReconnect()
			}
			return
		}
	}
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.attempt++
	if s.attempt > maxReconnects {
		notify := s.toLocked(Failed)
		s.mu.Unlock()
		notify()
		s.log.Error().Msgf("gave up on the relay after %d attempts", maxReconnects)
		return
	}
	attempt := s.attempt
	notify := s.toLocked(Reconnecting)
	s.mu.Unlock()
	notify()

	delay := time.Duration(attempt) * reconnectStep
	s.log.Info().Msgf("reconnect %d/%d in %v", attempt, maxReconnects, delay)
	s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		skip := s.closed || s.state != Reconnecting
		s.mu.Unlock()
		if !skip {
			s.Connect()
		}
	})
}

// Send marshals and writes one envelope. Messages sent while the
// connection is not open are dropped with a log line, never queued.
func (s *Session) Send(t api.MT, payload any) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || !conn.Alive() {
		s.log.Warn().Msgf("dropped %v, no open relay connection", t)
		return
	}
	data, err := api.Marshal(api.Out{T: t, Payload: payload})
	if err != nil {
		s.log.Error().Err(err).Msgf("couldn't encode %v", t)
		return
	}
	conn.Write(data)
}

// SendChat relays a chat line to the other game member.
func (s *Session) SendChat(text string) {
	s.Send(api.ChatMessage, api.ChatPayload{Text: text, Timestamp: s.clock.Now().UnixMilli()})
}

func (s *Session) dispatch(message []byte, _ error) {
	var in api.In
	if err := api.Unmarshal(message, &in); err != nil {
		s.log.Warn().Err(err).Msg("bad envelope from the relay")
		return
	}
	t := in.T
	if t == api.Candidate {
		t = api.IceCandidate
	}
	if t == api.Pong {
		return
	}
	s.mu.Lock()
	h := s.handlers[t]
	s.mu.Unlock()
	if h == nil {
		s.log.Debug().Msgf("no handler for %v", in.T)
		return
	}
	h(in)
}

// Close tears the session down for good; no reconnects follow.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	notify := s.toLocked(Disconnected)
	s.mu.Unlock()
	notify()
	if conn != nil {
		conn.Close()
	}
}
