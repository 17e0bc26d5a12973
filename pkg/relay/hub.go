// Package relay implements the matchmaking/relay server: it registers
// anonymous clients, pairs them into two-party games, forwards handshake
// and chat traffic strictly within a game's membership, and re-pairs
// survivors after a partial disconnect. Gameplay traffic never touches
// the relay; it flows over the direct peer data channel.
package relay

import (
	"net/http"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/pairpong/pairpong/pkg/api"
	"github.com/pairpong/pairpong/pkg/logger"
	"github.com/pairpong/pairpong/pkg/network/websocket"
)

type Hub struct {
	log *logger.Logger

	// one mutex serializes every registry mutation, so a pairing
	// can't race a concurrent disconnect of the same client
	mu         sync.Mutex
	clients    map[string]*Client
	games      map[string]*Game
	clientGame map[string]string // clientId -> gameId
	waiting    []string          // FIFO of sole-member hosts
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[string]*Client),
		games:      make(map[string]*Game),
		clientGame: make(map[string]string),
	}
}

// HandleWS upgrades one client connection and serves it until it drops.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.NewServer(w, r, h.log)
	if err != nil {
		h.log.Error().Err(err).Msg("socket upgrade failed")
		return
	}
	clientId := r.URL.Query().Get("clientId")
	if clientId == "" {
		clientId = uuid.Must(uuid.NewV4()).String()
	}
	client := NewClient(clientId, conn, h.log)
	conn.OnMessage = func(message []byte, _ error) { h.HandleMessage(client, message) }

	h.Connect(client)
	<-conn.Listen()
	h.Disconnect(client)
}

// Connect registers the client and either resumes its existing game
// (reconnect), pairs it with the waiting pool's head, or makes it a
// waiting host of a fresh game.
func (h *Hub) Connect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if gameId, ok := h.clientGame[c.Id()]; ok {
		// same clientId came back: rebind the transport, keep membership
		c.log.Info().Msgf("reconnected, rebound to game %s", short(gameId))
		h.clients[c.Id()] = c
		if g := h.games[gameId]; g != nil && g.Sole() {
			c.Send(api.Out{T: api.HostAssigned, Payload: api.HostAssignedPayload{GameId: gameId}})
		}
		return
	}

	h.clients[c.Id()] = c
	metricClients.Set(float64(len(h.clients)))

	if len(h.waiting) > 0 {
		hostId := h.popWaitingLocked()
		c.log.Info().Msgf("pairing with waiting host %s", short(hostId))
		h.pairLocked(hostId, c.Id())
		return
	}

	gameId := uuid.Must(uuid.NewV4()).String()
	h.games[gameId] = &Game{id: gameId, members: []string{c.Id()}}
	h.clientGame[c.Id()] = gameId
	h.waiting = append(h.waiting, c.Id())
	h.syncGauges()
	c.log.Info().Msgf("waiting as host of game %s", short(gameId))
	c.Send(api.Out{T: api.HostAssigned, Payload: api.HostAssignedPayload{GameId: gameId}})
}

// pairLocked pairs the pre-existing member (host) with the newcomer
// (guest). A no-op when either transport is not open.
func (h *Hub) pairLocked(hostId, guestId string) {
	host, guest := h.clients[hostId], h.clients[guestId]
	if host == nil || guest == nil || !host.Alive() || !guest.Alive() {
		h.log.Warn().Msgf("pairing %s with %s skipped, closed transport", short(hostId), short(guestId))
		return
	}

	gameId, ok := h.clientGame[hostId]
	if !ok {
		gameId = uuid.Must(uuid.NewV4()).String()
		h.games[gameId] = &Game{id: gameId, members: []string{hostId}}
		h.clientGame[hostId] = gameId
		host.Send(api.Out{T: api.HostAssigned, Payload: api.HostAssignedPayload{GameId: gameId}})
	}
	// evict whatever solo game the guest may still hold
	if old, ok := h.clientGame[guestId]; ok && old != gameId {
		delete(h.games, old)
	}

	game := h.games[gameId]
	game.members = []string{hostId, guestId}
	h.clientGame[guestId] = gameId
	h.syncGauges()

	guest.Send(api.Out{T: api.Paired, Payload: api.PairedPayload{OpponentId: hostId, IsHost: false}})
	host.Send(api.Out{T: api.Paired, Payload: api.PairedPayload{OpponentId: guestId, IsHost: true}})
}

// HandleMessage dispatches one inbound envelope from the client.
func (h *Hub) HandleMessage(c *Client, message []byte) {
	var in api.In
	if err := api.Unmarshal(message, &in); err != nil {
		c.log.Warn().Err(err).Msg("malformed envelope")
		c.Send(api.ErrorPacket(api.ErrInvalidMessage))
		return
	}
	metricRelayed.WithLabelValues(string(in.T)).Inc()

	switch {
	case in.T == api.Ping:
		c.Send(api.Out{T: api.Pong})
	case in.T == api.Pong:
		// noop
	case in.T.Relayable():
		opponent, paired := h.opponentOf(c.Id())
		if !paired {
			c.log.Warn().Msgf("can't relay %v: not paired", in.T)
			c.Send(api.ErrorPacket(api.ErrNotPaired))
			return
		}
		if opponent == nil || !opponent.Alive() {
			c.log.Warn().Msgf("can't relay %v: opponent gone", in.T)
			c.Send(api.ErrorPacket(api.ErrOpponentUnavailable))
			return
		}
		opponent.Send(api.Out{T: in.T, Payload: in.Payload, SenderId: c.Id()})
	case in.T == api.ChatMessage:
		pl := api.Unwrap[api.ChatPayload](in.Payload)
		if pl == nil {
			c.Send(api.ErrorPacket(api.ErrInvalidMessage))
			return
		}
		for _, member := range h.othersOf(c.Id()) {
			member.Send(api.Out{T: api.ChatMessage, Payload: pl, SenderId: c.Id()})
		}
	default:
		c.log.Warn().Msgf("unknown message type %v", in.T)
		c.Send(api.ErrorPacket("Unknown message type: " + string(in.T)))
	}
}

// Disconnect evicts the client. A game with one surviving member keeps
// its gameId: the survivor is re-issued host status and either paired
// with the waiting pool's head right away or becomes waiting itself.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.Id()] != c {
		// a newer connection already took this identity over
		return
	}
	h.removeWaitingLocked(c.Id())

	if gameId, ok := h.clientGame[c.Id()]; ok {
		if game := h.games[gameId]; game != nil {
			if remaining, ok := game.Opponent(c.Id()); ok {
				game.members = []string{remaining}
				if rc := h.clients[remaining]; rc != nil && rc.Alive() {
					rc.Send(api.Out{T: api.OpponentLeft})
					rc.Send(api.Out{T: api.HostAssigned, Payload: api.HostAssignedPayload{GameId: gameId}})
				}
				if len(h.waiting) > 0 {
					next := h.popWaitingLocked()
					h.pairLocked(remaining, next)
				} else {
					h.waiting = append(h.waiting, remaining)
				}
				c.log.Info().Msgf("left game %s, %s re-hosts it", short(gameId), short(remaining))
			} else {
				delete(h.games, gameId)
			}
		}
	}

	delete(h.clientGame, c.Id())
	delete(h.clients, c.Id())
	metricClients.Set(float64(len(h.clients)))
	h.syncGauges()
	c.log.Info().Msg("disconnected")
}

// opponentOf resolves the other member of the sender's game.
// The second result tells whether the sender is paired at all.
func (h *Hub) opponentOf(id string) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	gameId, ok := h.clientGame[id]
	if !ok {
		return nil, false
	}
	game := h.games[gameId]
	if game == nil {
		return nil, false
	}
	opponentId, ok := game.Opponent(id)
	if !ok {
		return nil, false
	}
	return h.clients[opponentId], true
}

func (h *Hub) othersOf(id string) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	gameId, ok := h.clientGame[id]
	if !ok {
		return nil
	}
	game := h.games[gameId]
	if game == nil {
		return nil
	}
	var out []*Client
	for _, m := range game.Others(id) {
		if c := h.clients[m]; c != nil {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) popWaitingLocked() string {
	head := h.waiting[0]
	h.waiting = h.waiting[1:]
	metricWaiting.Set(float64(len(h.waiting)))
	return head
}

func (h *Hub) removeWaitingLocked(id string) {
	for i, w := range h.waiting {
		if w == id {
			h.waiting = append(h.waiting[:i], h.waiting[i+1:]...)
			break
		}
	}
	metricWaiting.Set(float64(len(h.waiting)))
}

func (h *Hub) syncGauges() {
	metricGames.Set(float64(len(h.games)))
	metricWaiting.Set(float64(len(h.waiting)))
}
