package config

import "github.com/spf13/pflag"

type ClientConfig struct {
	Client Client `fig:"client"`
	Webrtc Webrtc `fig:"webrtc"`
}

type Client struct {
	Debug bool `fig:"debug"`
	// RelayURL is the ws(s):// endpoint of the matchmaking relay
	RelayURL string `fig:"relayUrl" default:"ws://localhost:8080/ws"`
	Name     string `fig:"name"`
}

var clientConfigPath string

func NewClientConfig() (conf ClientConfig) {
	if err := LoadConfig(&conf, clientConfigPath); err != nil {
		panic(err)
	}
	conf.Webrtc.WithDefaultIceServers()
	return
}

func (c *ClientConfig) AddFlags(fs *pflag.FlagSet) *ClientConfig {
	fs.StringVarP(&c.Client.RelayURL, "relay", "r", c.Client.RelayURL, "relay server websocket URL")
	fs.BoolVarP(&c.Client.Debug, "debug", "d", c.Client.Debug, "enable debug logging")
	fs.StringVarP(&c.Client.Name, "name", "n", c.Client.Name, "display name used in chat")
	fs.StringVarP(&clientConfigPath, "conf", "c", clientConfigPath, "custom configuration file path")
	return c
}
