package relay

import (
	"github.com/pairpong/pairpong/pkg/api"
	"github.com/pairpong/pairpong/pkg/logger"
)

// Conn is the transport half of a connected client.
// *websocket.WS satisfies it; tests substitute fakes.
type Conn interface {
	Write(data []byte)
	Close()
	Alive() bool
}

// Client is a relay-side registry entry for one connected peer.
// Identity persists across reconnects when the same clientId
// is presented again; only the conn is swapped.
type Client struct {
	id   string
	conn Conn
	log  *logger.Logger
}

func NewClient(id string, conn Conn, log *logger.Logger) *Client {
	return &Client{
		id:   id,
		conn: conn,
		log:  log.Extend(log.With().Str("cid", short(id))),
	}
}

func (c *Client) Id() string  { return c.id }
func (c *Client) Alive() bool { return c.conn != nil && c.conn.Alive() }

// Send marshals and queues one envelope. Sends to a transport that is
// not open are dropped with a warning; the relay never retries.
func (c *Client) Send(packet api.Out) {
	if !c.Alive() {
		c.log.Warn().Msgf("dropped %v to a closed connection", packet.T)
		return
	}
	data, err := api.Marshal(packet)
	if err != nil {
		c.log.Error().Err(err).Msgf("couldn't encode %v", packet.T)
		return
	}
	c.conn.Write(data)
}

func short(id string) string {
	if len(id) <= 4 {
		return id
	}
	return id[:4]
}
