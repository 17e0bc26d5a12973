package websocket

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pairpong/pairpong/pkg/com"
	"github.com/pairpong/pairpong/pkg/logger"
)

const (
	maxMessageSize = 10 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
)

type WSMessageHandler func(message []byte, err error)

// WS wraps a single websocket connection with
// serialized reads and writes and explicit teardown.
type WS struct {
	id   com.Uid
	conn deadlinedConn
	send chan []byte

	OnMessage WSMessageHandler

	// server connections ping, client connections pong
	pingPong bool

	stop chan struct{}
	once sync.Once
	log  *logger.Logger

	// Done is closed when both pumps have stopped and the socket is closed.
	Done chan struct{}
}

type Upgrader struct {
	websocket.Upgrader
}

var DefaultUpgrader = Upgrader{
	websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
		// the relay serves browser peers from arbitrary origins
		CheckOrigin: func(r *http.Request) bool { return true },
	},
}

func NewUpgrader(origin string) *Upgrader {
	u := DefaultUpgrader
	if origin != "" && origin != "*" {
		u.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return &u
}

// NewServer upgrades an incoming HTTP request to a websocket connection.
func NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*WS, error) {
	conn, err := DefaultUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, true, log), nil
}

func NewServerWithConn(conn *websocket.Conn, log *logger.Logger) *WS {
	return newSocket(conn, true, log)
}

// NewClient dials the given ws(s):// address.
func NewClient(address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, pingPong bool, log *logger.Logger) *WS {
	id := com.NewUid()
	return &WS{
		id:       id,
		conn:     deadlinedConn{sock: conn, wt: writeWait},
		send:     make(chan []byte, 32),
		pingPong: pingPong,
		stop:     make(chan struct{}),
		Done:     make(chan struct{}),
		log:      log.Extend(log.With().Str("cid", id.Short())),
	}
}

func (ws *WS) Id() com.Uid    { return ws.id }
func (ws *WS) IsServer() bool { return ws.pingPong }

// Alive reports whether the connection has not been torn down yet.
func (ws *WS) Alive() bool {
	select {
	case <-ws.Done:
		return false
	default:
		return true
	}
}

// Listen starts the read and write pumps.
// The returned channel is closed when the connection is gone.
func (ws *WS) Listen() chan struct{} {
	go ws.writer()
	go ws.reader()
	return ws.Done
}

// Write queues a message for delivery, dropping it if the socket is closing.
func (ws *WS) Write(data []byte) {
	select {
	case ws.send <- data:
	case <-ws.stop:
		ws.log.Debug().Msg("write to a closed socket was dropped")
	}
}

func (ws *WS) Close() { ws.teardown() }

func (ws *WS) teardown() {
	ws.once.Do(func() {
		close(ws.stop)
		_ = ws.conn.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = ws.conn.close()
		close(ws.Done)
	})
}

// reader pumps messages from the websocket connection to the OnMessage callback.
// Serializes all websocket reads.
func (ws *WS) reader() {
	defer ws.teardown()
	ws.conn.setup(func(conn *websocket.Conn) {
		conn.SetReadLimit(maxMessageSize)
		if ws.pingPong {
			_ = conn.SetReadDeadline(time.Now().Add(pongTime))
			conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(pongTime)) })
		}
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				ws.log.Error().Err(err).Msg("read fail")
			}
			return
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, err)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Serializes all websocket writes.
func (ws *WS) writer() {
	var ping <-chan time.Time
	if ws.pingPong {
		ticker := time.NewTicker(pingTime)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer ws.teardown()
	for {
		select {
		case <-ws.stop:
			return
		case message := <-ws.send:
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ping:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
