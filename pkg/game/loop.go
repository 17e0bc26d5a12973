package game

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pairpong/pairpong/pkg/logger"
)

const (
	stepInterval  = 16 * time.Millisecond
	countdownTick = time.Second
)

// Runner drives the host's authoritative simulation: the pre-game
// countdown ticks down once per second, then the physics advances on a
// fixed step. Run it only on the host; the guest just renders snapshots.
type Runner struct {
	log   *logger.Logger
	clock clock.Clock
	state *State
	sim   Simulator

	mu   sync.Mutex
	stop chan struct{}
}

func NewRunner(state *State, sim Simulator, log *logger.Logger) *Runner {
	return &Runner{log: log, clock: clock.New(), state: state, sim: sim}
}

// Start launches the loop; a second call is a no-op until Stop.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	go r.loop(r.stop)
	r.log.Info().Msg("simulation started")
}

func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop == nil {
		return
	}
	close(r.stop)
	r.stop = nil
	r.log.Info().Msg("simulation stopped")
}

func (r *Runner) loop(stop chan struct{}) {
	ticker := r.clock.Ticker(stepInterval)
	defer ticker.Stop()

	last := r.clock.Now()
	var sinceTick time.Duration
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now
			switch r.state.Status() {
			case Countdown:
				sinceTick += dt
				for sinceTick >= countdownTick {
					sinceTick -= countdownTick
					r.tickCountdown()
				}
			case Playing:
				sinceTick = 0
				r.sim.Step(r.state, float64(dt.Milliseconds()))
			default:
				sinceTick = 0
			}
		}
	}
}

func (r *Runner) tickCountdown() {
	snap := r.state.Snapshot()
	if snap.Countdown > 1 {
		r.state.SetCountdown(snap.Countdown - 1)
		return
	}
	r.state.SetCountdown(0)
	r.state.SetStatus(Playing)
	r.log.Info().Msg("game on")
}
