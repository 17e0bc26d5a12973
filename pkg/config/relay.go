package config

import "github.com/spf13/pflag"

type RelayConfig struct {
	Relay Relay `fig:"relay"`
}

type Relay struct {
	Debug      bool       `fig:"debug"`
	Server     Server     `fig:"server"`
	Monitoring Monitoring `fig:"monitoring"`
}

// allows custom config path
var relayConfigPath string

func NewRelayConfig() (conf RelayConfig) {
	if err := LoadConfig(&conf, relayConfigPath); err != nil {
		panic(err)
	}
	return
}

func (c *RelayConfig) AddFlags(fs *pflag.FlagSet) *RelayConfig {
	fs.StringVarP(&c.Relay.Server.Address, "address", "a", c.Relay.Server.Address, "relay server address")
	fs.BoolVarP(&c.Relay.Debug, "debug", "d", c.Relay.Debug, "enable debug logging")
	fs.BoolVarP(&c.Relay.Monitoring.MetricEnabled, "monitoring.metric", "m", c.Relay.Monitoring.MetricEnabled, "enable Prometheus metrics")
	fs.BoolVarP(&c.Relay.Monitoring.ProfilingEnabled, "monitoring.pprof", "p", c.Relay.Monitoring.ProfilingEnabled, "enable Go pprof")
	fs.IntVarP(&c.Relay.Monitoring.Port, "monitoring.port", "", c.Relay.Monitoring.Port, "monitoring server port")
	fs.StringVarP(&relayConfigPath, "conf", "c", relayConfigPath, "custom configuration file path")
	return c
}
