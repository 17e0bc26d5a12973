package main

import (
	"context"
	goflag "flag"

	"github.com/pairpong/pairpong/pkg/config"
	"github.com/pairpong/pairpong/pkg/logger"
	"github.com/pairpong/pairpong/pkg/os"
	"github.com/pairpong/pairpong/pkg/relay"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewRelayConfig()
	conf.AddFlags(flag.CommandLine)
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	log := logger.NewConsole(conf.Relay.Debug, "relay", false)

	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	lock, err := os.NewFileLock("")
	if err != nil {
		log.Fatal().Err(err).Msg("couldn't init the instance lock")
	}
	if ok, err := lock.TryLock(); err != nil || !ok {
		log.Fatal().Err(err).Msg("another relay instance is already running")
	}
	defer func() { _ = lock.Unlock() }()

	r, err := relay.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("couldn't init the relay")
	}
	r.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if err := r.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()
	<-os.ExpectTermination()
	cancel()
}
