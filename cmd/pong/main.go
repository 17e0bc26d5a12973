package main

import (
	"bufio"
	goflag "flag"
	"fmt"
	stdos "os"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pairpong/pairpong/pkg/api"
	"github.com/pairpong/pairpong/pkg/config"
	"github.com/pairpong/pairpong/pkg/game"
	"github.com/pairpong/pairpong/pkg/logger"
	"github.com/pairpong/pairpong/pkg/netplay"
	"github.com/pairpong/pairpong/pkg/os"
	"github.com/pairpong/pairpong/pkg/p2p"
	"github.com/pairpong/pairpong/pkg/signal"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewClientConfig()
	conf.AddFlags(flag.CommandLine)
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	log := logger.NewConsole(conf.Client.Debug, "pong", false)

	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	clientId := uuid.Must(uuid.NewV4()).String()
	session, err := signal.NewSession(conf.Client.RelayURL, clientId, log)
	if err != nil {
		log.Fatal().Err(err).Msg("couldn't init the relay session")
	}

	state := game.NewState()
	runner := game.NewRunner(state, game.NewPhysics(), log)
	np := netplay.NewNetplay(state, log)
	neg := p2p.NewNegotiator(session, p2p.NewPionFactory(conf.Webrtc, log), log)

	neg.OnChannel(np.Attach)
	neg.OnPaired(func(opponentId string, host bool) {
		fmt.Printf("* paired with %s\n", opponentId)
		neg.Start()
	})
	neg.OnStageChange(func(stage p2p.Stage) {
		switch stage {
		case p2p.Connected:
			fmt.Println("* peer channel up, type 'ready' when you are")
		case p2p.Idle, p2p.Disconnected, p2p.Failed:
			runner.Stop()
			np.Detach()
			fmt.Println("* back to the lobby")
		}
	})
	np.OnReady(func() {
		if neg.IsHost() {
			runner.Start()
		}
	})

	session.On(api.HostAssigned, func(in api.In) {
		if pl := api.Unwrap[api.HostAssignedPayload](in.Payload); pl != nil {
			fmt.Printf("* hosting game %s, waiting for an opponent\n", pl.GameId)
		}
	})
	session.On(api.ChatMessage, func(in api.In) {
		if pl := api.Unwrap[api.ChatPayload](in.Payload); pl != nil {
			fmt.Printf("[chat] %s\n", pl.Text)
		}
	})
	session.On(api.Error, func(in api.In) {
		if pl := api.Unwrap[string](in.Payload); pl != nil {
			fmt.Printf("! %s\n", *pl)
		}
	})

	session.Connect()
	defer session.Close()
	defer neg.Close()

	quit := make(chan struct{})
	go prompt(conf.Client.Name, state, np, neg, session, quit)

	select {
	case <-os.ExpectTermination():
	case <-quit:
	}
	runner.Stop()
}

// prompt runs the line-based control loop on stdin.
func prompt(name string, state *game.State, np *netplay.Netplay,
	neg *p2p.Negotiator, session *signal.Session, quit chan struct{}) {
	fmt.Println("commands: ready | unready | move <y> | pause | resume | chat <text> | state | lobby | quit")
	sc := bufio.NewScanner(stdos.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "ready":
			np.SetReady(true)
		case "unready":
			np.SetReady(false)
		case "move":
			y, err := strconv.ParseFloat(strings.TrimSpace(rest), 64)
			if err != nil {
				fmt.Println("! move wants a number, e.g. move 42.5")
				continue
			}
			if neg.IsHost() {
				state.SetLeftPaddle(y)
			} else {
				np.SendPaddle(y)
			}
		case "lobby":
			session.Send(api.BackToLobby, api.AddressedPayload{To: neg.OpponentId()})
			neg.Reset()
		case "pause":
			np.RequestPause()
		case "resume":
			np.RequestResume()
		case "chat":
			text := strings.TrimSpace(rest)
			if text == "" {
				continue
			}
			if name != "" {
				text = name + ": " + text
			}
			session.SendChat(text)
		case "state":
			if snap, ok := np.Render(time.Now().UnixMilli()); ok {
				fmt.Printf("%s %d:%d ball(%.1f, %.1f) paddles(%.1f | %.1f) wins %d:%d\n",
					snap.Status, snap.Score.Left, snap.Score.Right,
					snap.Ball.X, snap.Ball.Y,
					snap.LeftPaddle.Y, snap.RightPaddle.Y,
					snap.Wins.Left, snap.Wins.Right)
			} else {
				fmt.Println("* no game in progress")
			}
		case "quit", "exit":
			close(quit)
			return
		default:
			fmt.Printf("! unknown command %q\n", cmd)
		}
	}
	close(quit)
}
