package relay

import (
	"context"
	"net/http"

	"github.com/pairpong/pairpong/pkg/config"
	"github.com/pairpong/pairpong/pkg/logger"
	"github.com/pairpong/pairpong/pkg/monitoring"
	"github.com/pairpong/pairpong/pkg/network/httpx"
	"github.com/pairpong/pairpong/pkg/service"
)

type Relay struct {
	conf     config.RelayConfig
	log      *logger.Logger
	hub      *Hub
	server   *httpx.Server
	services service.Group
}

func New(conf config.RelayConfig, log *logger.Logger) (*Relay, error) {
	hub := NewHub(log)
	server, err := httpx.NewServer(
		conf.Relay.Server.GetAddr(),
		func(*httpx.Server) http.Handler {
			h := http.NewServeMux()
			h.HandleFunc("/ws", hub.HandleWS)
			h.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			return h
		},
		httpx.WithServerConfig(conf.Relay.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	r := &Relay{conf: conf, log: log, hub: hub, server: server}
	r.services.AddIf(conf.Relay.Monitoring.IsEnabled(), monitoring.New(conf.Relay.Monitoring, "relay", log))
	return r, nil
}

func (r *Relay) Start() {
	go func() {
		if err := r.server.Run(); err != nil {
			r.log.Fatal().Err(err).Msg("relay server failure")
		}
	}()
	r.services.Start()
}

func (r *Relay) Shutdown(ctx context.Context) error {
	err := r.server.Shutdown(ctx)
	if err2 := r.services.Shutdown(ctx); err == nil {
		err = err2
	}
	return err
}
