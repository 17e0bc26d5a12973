package relay

import (
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/pairpong/pairpong/pkg/api"
	"github.com/pairpong/pairpong/pkg/logger"
)

var testLog = logger.Default()

type fakeConn struct {
	mu   sync.Mutex
	dead bool
	sent [][]byte
}

func (f *fakeConn) Write(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, data)
}
func (f *fakeConn) Close() { f.mu.Lock(); f.dead = true; f.mu.Unlock() }
func (f *fakeConn) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead
}

type envelope struct {
	T        api.MT          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderId string          `json:"senderId"`
}

func (f *fakeConn) packets(t *testing.T) []envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]envelope, len(f.sent))
	for i, raw := range f.sent {
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			t.Fatalf("packet %d is not a valid envelope: %v", i, err)
		}
	}
	return out
}

func (f *fakeConn) last(t *testing.T) envelope {
	t.Helper()
	ps := f.packets(t)
	if len(ps) == 0 {
		t.Fatal("no packets sent")
	}
	return ps[len(ps)-1]
}

func join(h *Hub, id string) (*Client, *fakeConn) {
	conn := &fakeConn{}
	c := NewClient(id, conn, testLog)
	h.Connect(c)
	return c, conn
}

func gameOf(h *Hub, id string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clientGame[id]
}

func TestPairing(t *testing.T) {
	h := NewHub(testLog)

	_, conn1 := join(h, "alice")
	first := conn1.last(t)
	if first.T != api.HostAssigned {
		t.Fatalf("first client got %v, want %v", first.T, api.HostAssigned)
	}
	assigned := api.Unwrap[api.HostAssignedPayload](first.Payload)
	if assigned == nil || assigned.GameId == "" {
		t.Fatalf("host_assigned carries no gameId: %s", first.Payload)
	}

	_, conn2 := join(h, "bob")
	p1, p2 := conn1.last(t), conn2.last(t)
	if p1.T != api.Paired || p2.T != api.Paired {
		t.Fatalf("got %v/%v, want both %v", p1.T, p2.T, api.Paired)
	}
	host := api.Unwrap[api.PairedPayload](p1.Payload)
	guest := api.Unwrap[api.PairedPayload](p2.Payload)
	if !host.IsHost || host.OpponentId != "bob" {
		t.Errorf("host payload = %+v", host)
	}
	if guest.IsHost || guest.OpponentId != "alice" {
		t.Errorf("guest payload = %+v", guest)
	}
	if a, b := gameOf(h, "alice"), gameOf(h, "bob"); a != b || a != assigned.GameId {
		t.Errorf("members hold different games: %q vs %q (assigned %q)", a, b, assigned.GameId)
	}
}

func TestPairingIsFIFO(t *testing.T) {
	h := NewHub(testLog)
	_, conn1 := join(h, "c1")
	_, conn2 := join(h, "c2") // pairs with c1
	_, conn3 := join(h, "c3") // waits
	_, conn4 := join(h, "c4") // pairs with c3

	if got := api.Unwrap[api.PairedPayload](conn2.last(t).Payload); got.OpponentId != "c1" {
		t.Errorf("c2 paired with %s, want c1", got.OpponentId)
	}
	if got := conn3.packets(t)[0]; got.T != api.HostAssigned {
		t.Errorf("third client should wait as host, got %v", got.T)
	}
	if got := api.Unwrap[api.PairedPayload](conn4.last(t).Payload); got.OpponentId != "c3" {
		t.Errorf("c4 paired with %s, want c3", got.OpponentId)
	}
	if conn1.last(t).T != api.Paired {
		t.Errorf("paired host later received %v", conn1.last(t).T)
	}
}

func TestRelay(t *testing.T) {
	h := NewHub(testLog)
	c1, _ := join(h, "alice")
	_, conn2 := join(h, "bob")

	t.Run("forwards verbatim with senderId", func(t *testing.T) {
		h.HandleMessage(c1, []byte(`{"type":"offer","payload":{"sdp":{"type":"offer","sdp":"v=0"}}}`))
		got := conn2.last(t)
		if got.T != api.Offer || got.SenderId != "alice" {
			t.Fatalf("got %v from %q", got.T, got.SenderId)
		}
		if string(got.Payload) != `{"sdp":{"type":"offer","sdp":"v=0"}}` {
			t.Errorf("payload altered in transit: %s", got.Payload)
		}
	})

	t.Run("legacy candidate alias", func(t *testing.T) {
		h.HandleMessage(c1, []byte(`{"type":"candidate","payload":{"candidate":{}}}`))
		if got := conn2.last(t); got.T != api.Candidate {
			t.Errorf("got %v, want %v", got.T, api.Candidate)
		}
	})

	t.Run("not paired", func(t *testing.T) {
		c3, conn3 := join(h, "carol") // waiting, sole member
		h.HandleMessage(c3, []byte(`{"type":"answer","payload":{}}`))
		got := conn3.last(t)
		if got.T != api.Error {
			t.Fatalf("got %v, want error", got.T)
		}
		var msg string
		if err := json.Unmarshal(got.Payload, &msg); err != nil || msg != api.ErrNotPaired {
			t.Errorf("error payload = %s", got.Payload)
		}
	})

	t.Run("opponent unavailable", func(t *testing.T) {
		conn2.Close()
		conn1 := h.clients["alice"].conn.(*fakeConn)
		h.HandleMessage(c1, []byte(`{"type":"offer","payload":{}}`))
		got := conn1.last(t)
		var msg string
		_ = json.Unmarshal(got.Payload, &msg)
		if got.T != api.Error || msg != api.ErrOpponentUnavailable {
			t.Errorf("got %v %s", got.T, got.Payload)
		}
	})

	t.Run("malformed json", func(t *testing.T) {
		h := NewHub(testLog)
		c, conn := join(h, "x")
		h.HandleMessage(c, []byte(`{"type":`))
		got := conn.last(t)
		var msg string
		_ = json.Unmarshal(got.Payload, &msg)
		if got.T != api.Error || msg != api.ErrInvalidMessage {
			t.Errorf("got %v %s", got.T, got.Payload)
		}
	})
}

func TestPing(t *testing.T) {
	h := NewHub(testLog)
	c, conn := join(h, "alice")
	h.HandleMessage(c, []byte(`{"type":"ping"}`))
	if got := conn.last(t); got.T != api.Pong {
		t.Errorf("got %v, want %v", got.T, api.Pong)
	}
}

func TestChatBroadcast(t *testing.T) {
	h := NewHub(testLog)
	c1, conn1 := join(h, "alice")
	_, conn2 := join(h, "bob")

	before := len(conn1.packets(t))
	h.HandleMessage(c1, []byte(`{"type":"chatMessage","payload":{"text":"gg","timestamp":1}}`))
	got := conn2.last(t)
	if got.T != api.ChatMessage || got.SenderId != "alice" {
		t.Fatalf("got %v from %q", got.T, got.SenderId)
	}
	pl := api.Unwrap[api.ChatPayload](got.Payload)
	if pl.Text != "gg" || pl.Timestamp != 1 {
		t.Errorf("chat payload = %+v", pl)
	}
	// no echo back to the sender
	if len(conn1.packets(t)) != before {
		t.Error("chat echoed to its sender")
	}
}

func TestDisconnectSurvivorKeepsGame(t *testing.T) {
	h := NewHub(testLog)
	c1, _ := join(h, "alice")
	_, conn2 := join(h, "bob")
	gameId := gameOf(h, "bob")

	h.Disconnect(c1)

	ps := conn2.packets(t)
	if len(ps) < 3 {
		t.Fatalf("survivor got %d packets, want opponentLeft + host_assigned", len(ps))
	}
	left, hosted := ps[len(ps)-2], ps[len(ps)-1]
	if left.T != api.OpponentLeft {
		t.Errorf("got %v, want %v", left.T, api.OpponentLeft)
	}
	if hosted.T != api.HostAssigned {
		t.Fatalf("got %v, want %v", hosted.T, api.HostAssigned)
	}
	if got := api.Unwrap[api.HostAssignedPayload](hosted.Payload); got.GameId != gameId {
		t.Errorf("survivor's game changed: %q, want %q", got.GameId, gameId)
	}
	if gameOf(h, "alice") != "" {
		t.Error("leaver still holds a game mapping")
	}

	// a newcomer pairs with the survivor, same game
	_, conn3 := join(h, "carol")
	if got := api.Unwrap[api.PairedPayload](conn3.last(t).Payload); got.OpponentId != "bob" || got.IsHost {
		t.Errorf("newcomer payload = %+v", got)
	}
	if gameOf(h, "carol") != gameId {
		t.Errorf("re-pair created a new game: %q, want %q", gameOf(h, "carol"), gameId)
	}
}

func TestDisconnectSurvivorPairsWithWaiting(t *testing.T) {
	h := NewHub(testLog)
	c1, _ := join(h, "alice")
	_, conn2 := join(h, "bob")
	_, conn3 := join(h, "carol") // waiting with a solo game
	soloGame := gameOf(h, "carol")
	pairGame := gameOf(h, "bob")

	h.Disconnect(c1)

	// bob keeps his game and immediately gets carol
	if got := api.Unwrap[api.PairedPayload](conn2.last(t).Payload); got.OpponentId != "carol" || !got.IsHost {
		t.Errorf("survivor payload = %+v", got)
	}
	if got := api.Unwrap[api.PairedPayload](conn3.last(t).Payload); got.OpponentId != "bob" || got.IsHost {
		t.Errorf("waiting client payload = %+v", got)
	}
	if gameOf(h, "carol") != pairGame {
		t.Errorf("guest joined game %q, want survivor's %q", gameOf(h, "carol"), pairGame)
	}
	h.mu.Lock()
	_, staleKept := h.games[soloGame]
	h.mu.Unlock()
	if staleKept {
		t.Error("guest's abandoned solo game not evicted")
	}
}

func TestDisconnectSoleMemberDeletesGame(t *testing.T) {
	h := NewHub(testLog)
	c1, _ := join(h, "alice")
	gameId := gameOf(h, "alice")

	h.Disconnect(c1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.games[gameId]; ok {
		t.Error("sole-member game survived its only client")
	}
	if len(h.waiting) != 0 {
		t.Errorf("waiting pool not drained: %v", h.waiting)
	}
}

func TestReconnectRebindsTransport(t *testing.T) {
	h := NewHub(testLog)
	_, conn1 := join(h, "alice")
	gameId := gameOf(h, "alice")

	conn1.Close()
	c1b, conn1b := join(h, "alice") // same identity, fresh transport

	if gameOf(h, "alice") != gameId {
		t.Fatalf("reconnect changed the game: %q, want %q", gameOf(h, "alice"), gameId)
	}
	// the waiting sole member is told its game again
	if got := conn1b.last(t); got.T != api.HostAssigned {
		t.Errorf("got %v, want %v", got.T, api.HostAssigned)
	}

	// the old connection's teardown must not evict the rebound client
	h.Disconnect(NewClient("alice", conn1, testLog))
	if h.clients["alice"] != c1b {
		t.Error("stale teardown evicted the live connection")
	}
	h.HandleMessage(c1b, []byte(`{"type":"ping"}`))
	if got := conn1b.last(t); got.T != api.Pong {
		t.Errorf("rebound client unusable, got %v", got.T)
	}
}

func TestPairingSkipsDeadWaiter(t *testing.T) {
	h := NewHub(testLog)
	_, conn1 := join(h, "alice")
	conn1.Close()

	_, conn2 := join(h, "bob")
	// pairing with the dead waiter is skipped, bob is not left hanging
	if got := conn2.packets(t); len(got) != 0 && got[len(got)-1].T == api.Paired {
		t.Errorf("paired with a dead client: %+v", got)
	}
}
