package signal

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/pairpong/pairpong/pkg/api"
	"github.com/pairpong/pairpong/pkg/logger"
	"github.com/pairpong/pairpong/pkg/network/websocket"
)

var testLog = logger.Default()

type fakeConn struct {
	mu        sync.Mutex
	sent      [][]byte
	dead      bool
	done      chan struct{}
	onMessage websocket.WSMessageHandler
}

func newFakeConn(onMessage websocket.WSMessageHandler) *fakeConn {
	return &fakeConn{done: make(chan struct{}), onMessage: onMessage}
}

func (f *fakeConn) Write(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dead {
		f.dead = true
		close(f.done)
	}
}

func (f *fakeConn) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead
}

func (f *fakeConn) Listen() chan struct{} { return f.done }

func (f *fakeConn) types(t *testing.T) []api.MT {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]api.MT, len(f.sent))
	for i, raw := range f.sent {
		var in api.In
		if err := json.Unmarshal(raw, &in); err != nil {
			t.Fatalf("sent packet %d is not an envelope: %v", i, err)
		}
		out[i] = in.T
	}
	return out
}

type fakeDialer struct {
	mu       sync.Mutex
	failures int // fail this many dials before succeeding
	dialed   []url.URL
	conns    []*fakeConn
}

func (d *fakeDialer) dial(address url.URL, onMessage websocket.WSMessageHandler, _ *logger.Logger) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, address)
	if d.failures > 0 {
		d.failures--
		return nil, &url.Error{Op: "dial", URL: address.String(), Err: errRefused}
	}
	conn := newFakeConn(onMessage)
	d.conns = append(d.conns, conn)
	return conn, nil
}

var errRefused = &timeoutErr{}

type timeoutErr struct{}

func (*timeoutErr) Error() string { return "connection refused" }

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialed)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func newTestSession(t *testing.T, d *fakeDialer, mock *clock.Mock) *Session {
	t.Helper()
	s, err := NewSession("ws://relay.test/ws", "client-1", testLog)
	if err != nil {
		t.Fatal(err)
	}
	s.dial = d.dial
	if mock != nil {
		s.clock = mock
	}
	return s
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnect(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d, nil)
	defer s.Close()

	s.Connect()
	if got := s.State(); got != Connected {
		t.Fatalf("state = %v, want %v", got, Connected)
	}
	if d.count() != 1 {
		t.Fatalf("dialed %d times, want 1", d.count())
	}
	if got := d.dialed[0].Query().Get("clientId"); got != "client-1" {
		t.Errorf("clientId query = %q", got)
	}

	// connecting twice is a no-op
	s.Connect()
	if d.count() != 1 {
		t.Errorf("duplicate connect dialed again, %d dials", d.count())
	}
}

func TestHeartbeat(t *testing.T) {
	d := &fakeDialer{}
	mock := clock.NewMock()
	s := newTestSession(t, d, mock)
	defer s.Close()

	s.Connect()
	mock.Add(heartbeatInterval)
	waitFor(t, "first ping", func() bool {
		types := d.conn(0).types(t)
		return len(types) == 1 && types[0] == api.Ping
	})
	mock.Add(heartbeatInterval)
	waitFor(t, "second ping", func() bool { return len(d.conn(0).types(t)) == 2 })
}

func TestDispatch(t *testing.T) {
	d := &fakeDialer{}
	s := newTestSession(t, d, nil)
	defer s.Close()

	var mu sync.Mutex
	var got []api.In
	s.On(api.Paired, func(in api.In) { mu.Lock(); got = append(got, in); mu.Unlock() })
	s.On(api.IceCandidate, func(in api.In) { mu.Lock(); got = append(got, in); mu.Unlock() })

	s.Connect()
	conn := d.conn(0)
	conn.onMessage([]byte(`{"type":"paired","payload":{"opponentId":"bob","isHost":true},"senderId":""}`), nil)
	conn.onMessage([]byte(`{"type":"candidate","payload":{"candidate":{}},"senderId":"bob"}`), nil)
	conn.onMessage([]byte(`{"type":"somethingElse"}`), nil) // ignored
	conn.onMessage([]byte(`garbage`), nil)                  // ignored

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("dispatched %d messages, want 2", len(got))
	}
	if got[0].T != api.Paired {
		t.Errorf("first = %v", got[0].T)
	}
	pl := api.Unwrap[api.PairedPayload](got[0].Payload)
	if pl == nil || pl.OpponentId != "bob" || !pl.IsHost {
		t.Errorf("paired payload = %+v", pl)
	}
	// the legacy alias lands on the ice-candidate handler
	if got[1].T != api.Candidate || got[1].SenderId != "bob" {
		t.Errorf("second = %v from %q", got[1].T, got[1].SenderId)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	s := newTestSession(t, &fakeDialer{}, nil)
	s.Send(api.Offer, api.SdpPayload{}) // dropped, no panic
	if got := s.State(); got != Disconnected {
		t.Errorf("state = %v", got)
	}
}

func TestReconnectBackoff(t *testing.T) {
	d := &fakeDialer{failures: 1 << 10} // never succeeds
	mock := clock.NewMock()
	s := newTestSession(t, d, mock)
	defer s.Close()

	s.Connect()
	waitFor(t, "first retry scheduled", func() bool { return s.State() == Reconnecting })

	// the first retry fires at exactly 3s, not a tick earlier
	mock.Add(3*time.Second - time.Millisecond)
	if got := d.count(); got != 1 {
		t.Fatalf("dial fired early: %d dials", got)
	}
	mock.Add(time.Millisecond)
	waitFor(t, "second dial", func() bool { return d.count() == 2 })

	// the delay grows linearly with the attempt number
	for i, step := range []time.Duration{6 * time.Second, 9 * time.Second, 12 * time.Second, 15 * time.Second} {
		time.Sleep(10 * time.Millisecond) // let the next timer arm
		mock.Add(step)
		waitFor(t, "retry dial", func() bool { return d.count() == i+3 })
	}

	waitFor(t, "terminal state", func() bool { return s.State() == Failed })
	time.Sleep(10 * time.Millisecond)
	mock.Add(time.Hour)
	time.Sleep(20 * time.Millisecond)
	if got := d.count(); got != 6 {
		t.Errorf("failed session kept dialing: %d dials", got)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	d := &fakeDialer{failures: 2}
	mock := clock.NewMock()
	s := newTestSession(t, d, mock)
	defer s.Close()

	s.Connect() // fails
	waitFor(t, "reconnecting", func() bool { return s.State() == Reconnecting })
	mock.Add(3 * time.Second) // fails again
	waitFor(t, "second dial", func() bool { return d.count() == 2 })
	time.Sleep(10 * time.Millisecond) // let the next timer arm
	mock.Add(6 * time.Second)        // succeeds
	waitFor(t, "connected", func() bool { return s.State() == Connected })

	// a successful connection restores the full retry budget
	d.conn(0).Close()
	waitFor(t, "reconnecting after drop", func() bool { return s.State() == Reconnecting })
	mock.Add(3 * time.Second)
	waitFor(t, "redialed", func() bool { return d.count() == 4 })
	waitFor(t, "reconnected", func() bool { return s.State() == Connected })
}

func TestCloseStopsReconnects(t *testing.T) {
	d := &fakeDialer{}
	mock := clock.NewMock()
	s := newTestSession(t, d, mock)

	s.Connect()
	conn := d.conn(0)
	s.Close()

	if conn.Alive() {
		t.Error("transport left open")
	}
	if got := s.State(); got != Disconnected {
		t.Errorf("state = %v", got)
	}
	mock.Add(time.Hour)
	time.Sleep(20 * time.Millisecond)
	if d.count() != 1 {
		t.Errorf("closed session dialed again: %d dials", d.count())
	}
}
