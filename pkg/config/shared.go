package config

// Server contains the listening endpoint of an HTTP(S) server.
type Server struct {
	Address string `fig:"address" default:":8080"`
	Https   bool   `fig:"https"`
	Tls     Tls    `fig:"tls"`
}

type Tls struct {
	Address string `fig:"address" default:":443"`
	// Domain enables automatic Let's Encrypt certificates for that domain
	Domain   string `fig:"domain"`
	HttpsKey string `fig:"httpsKey"`
	HttpsCrt string `fig:"httpsCrt"`
}

func (s *Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}

// Monitoring contains the optional metrics/pprof side server params.
type Monitoring struct {
	Port             int    `fig:"port" default:"6601"`
	URLPrefix        string `fig:"urlPrefix"`
	MetricEnabled    bool   `fig:"metricEnabled"`
	ProfilingEnabled bool   `fig:"profilingEnabled"`
}

func (m Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

// IceServer is a STUN/TURN endpoint passed to the WebRTC engine.
type IceServer struct {
	Urls       string `fig:"urls" json:"urls"`
	Username   string `fig:"username" json:"username,omitempty"`
	Credential string `fig:"credential" json:"credential,omitempty"`
}

type Webrtc struct {
	IceServers []IceServer `fig:"iceServers"`
	// IceLogLevel is the zerolog level for pion's internal logs
	// (0 - debug, 1 - info, 2 - warn, 3 - error)
	IceLogLevel int `fig:"iceLogLevel" default:"3"`
}

func (w *Webrtc) WithDefaultIceServers() {
	if len(w.IceServers) > 0 {
		return
	}
	w.IceServers = []IceServer{
		{Urls: "stun:stun.l.google.com:19302"},
		{Urls: "stun:stun1.l.google.com:19302"},
	}
}
