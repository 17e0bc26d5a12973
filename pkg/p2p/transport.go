package p2p

import (
	"github.com/pairpong/pairpong/pkg/config"
	"github.com/pairpong/pairpong/pkg/logger"
	pion "github.com/pion/webrtc/v3"
)

// Channel is the bidirectional message pipe between the two peers.
// Implemented by a pion data channel; tests substitute in-memory pipes.
type Channel interface {
	Label() string
	Send(data []byte) error
	OnMessage(fn func(data []byte))
	OnOpen(fn func())
	OnClose(fn func())
	Close() error
}

// Transport is the peer connection under negotiation. CreateOffer and
// CreateAnswer also install the produced description locally, since the
// negotiator never needs one without the other.
type Transport interface {
	CreateDataChannel(label string) (Channel, error)
	OnDataChannel(fn func(Channel))
	OnICECandidate(fn func(candidate pion.ICECandidateInit))
	OnConnectionStateChange(fn func(state pion.PeerConnectionState))
	CreateOffer() (pion.SessionDescription, error)
	CreateAnswer() (pion.SessionDescription, error)
	SetRemoteDescription(sdp pion.SessionDescription) error
	AddICECandidate(candidate pion.ICECandidateInit) error
	Close() error
}

// TransportFactory opens a fresh peer connection for one pairing.
type TransportFactory func() (Transport, error)

// NewPionFactory builds peer connections with the given ICE servers,
// routing pion's internal logs into the app logger.
func NewPionFactory(conf config.Webrtc, log *logger.Logger) TransportFactory {
	settings := pion.SettingEngine{LoggerFactory: logger.NewPionLogger(log, conf.IceLogLevel)}
	api := pion.NewAPI(pion.WithSettingEngine(settings))

	peerConf := pion.Configuration{}
	for _, server := range conf.IceServers {
		peerConf.ICEServers = append(peerConf.ICEServers, pion.ICEServer{
			URLs:       []string{server.Urls},
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	return func() (Transport, error) {
		conn, err := api.NewPeerConnection(peerConf)
		if err != nil {
			return nil, err
		}
		return &pionTransport{conn: conn}, nil
	}
}

type pionTransport struct {
	conn *pion.PeerConnection
}

func (t *pionTransport) CreateDataChannel(label string) (Channel, error) {
	ordered := true
	dc, err := t.conn.CreateDataChannel(label, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

func (t *pionTransport) OnDataChannel(fn func(Channel)) {
	t.conn.OnDataChannel(func(dc *pion.DataChannel) { fn(&pionChannel{dc: dc}) })
}

func (t *pionTransport) OnICECandidate(fn func(pion.ICECandidateInit)) {
	t.conn.OnICECandidate(func(candidate *pion.ICECandidate) {
		// nil marks the end of gathering, the wire doesn't carry it
		if candidate != nil {
			fn(candidate.ToJSON())
		}
	})
}

func (t *pionTransport) OnConnectionStateChange(fn func(pion.PeerConnectionState)) {
	t.conn.OnConnectionStateChange(fn)
}

func (t *pionTransport) CreateOffer() (pion.SessionDescription, error) {
	offer, err := t.conn.CreateOffer(nil)
	if err != nil {
		return pion.SessionDescription{}, err
	}
	if err := t.conn.SetLocalDescription(offer); err != nil {
		return pion.SessionDescription{}, err
	}
	return offer, nil
}

func (t *pionTransport) CreateAnswer() (pion.SessionDescription, error) {
	answer, err := t.conn.CreateAnswer(nil)
	if err != nil {
		return pion.SessionDescription{}, err
	}
	if err := t.conn.SetLocalDescription(answer); err != nil {
		return pion.SessionDescription{}, err
	}
	return answer, nil
}

func (t *pionTransport) SetRemoteDescription(sdp pion.SessionDescription) error {
	return t.conn.SetRemoteDescription(sdp)
}

func (t *pionTransport) AddICECandidate(candidate pion.ICECandidateInit) error {
	return t.conn.AddICECandidate(candidate)
}

func (t *pionTransport) Close() error { return t.conn.Close() }

type pionChannel struct {
	dc *pion.DataChannel
}

func (c *pionChannel) Label() string          { return c.dc.Label() }
func (c *pionChannel) Send(data []byte) error { return c.dc.Send(data) }
func (c *pionChannel) OnMessage(fn func(data []byte)) {
	c.dc.OnMessage(func(msg pion.DataChannelMessage) { fn(msg.Data) })
}
func (c *pionChannel) OnOpen(fn func())  { c.dc.OnOpen(fn) }
func (c *pionChannel) OnClose(fn func()) { c.dc.OnClose(fn) }
func (c *pionChannel) Close() error      { return c.dc.Close() }
