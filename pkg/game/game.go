// Package game holds the simulation state shared between the two peers.
// Only the host mutates it; the guest receives read-only snapshots.
package game

import "sync"

// Status is the authoritative game phase. The host is its sole writer,
// the guest may only request transitions over the data channel.
type Status string

const (
	Waiting   Status = "waiting"
	Countdown Status = "countdown"
	Playing   Status = "playing"
	Paused    Status = "paused"
	GameOver  Status = "gameOver"
)

const (
	// WinScore ends the round when either side reaches it
	WinScore = 10
	// CountdownStart seeds the pre-game countdown, in seconds
	CountdownStart = 5
)

type Ball struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	VelocityX float64 `json:"velocityX"`
	VelocityY float64 `json:"velocityY"`
}

type Paddle struct {
	Y float64 `json:"y"`
}

type Score struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

type Wins struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Snapshot is a complete serialization of the authoritative state at one
// instant. Produced only by the host, consumed (never mutated) by the guest.
type Snapshot struct {
	Ball          Ball   `json:"ball"`
	LeftPaddle    Paddle `json:"leftPaddle"`
	RightPaddle   Paddle `json:"rightPaddle"`
	Score         Score  `json:"score"`
	Wins          Wins   `json:"wins"`
	Status        Status `json:"status"`
	Countdown     int    `json:"countdown"`
	IsReady       bool   `json:"isReady"`
	OpponentReady bool   `json:"opponentReady"`
	TimestampMs   int64  `json:"timestamp"`
}

func NewSnapshot() Snapshot {
	return Snapshot{
		Ball:        Ball{X: 50, Y: 50},
		LeftPaddle:  Paddle{Y: 50},
		RightPaddle: Paddle{Y: 50},
		Status:      Waiting,
		Countdown:   CountdownStart,
	}
}

// Simulator advances the ball/paddle physics of the host simulation.
// The collision math itself lives outside this package; the sync layer
// only drives it and serializes the results.
type Simulator interface {
	// Step advances the simulation by dt milliseconds and
	// writes the results back into the state.
	Step(state *State, dtMs float64)
}

// State is the host-authoritative game state. All mutations are
// serialized so a snapshot never observes a torn write.
type State struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewState() *State { return &State{snap: NewSnapshot()} }

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Status
}

// SetStatus assigns a new authoritative phase.
func (s *State) SetStatus(v Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Status = v
}

func (s *State) SetCountdown(v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Countdown = v
}

func (s *State) SetReady(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.IsReady = v
}

func (s *State) SetOpponentReady(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.OpponentReady = v
}

func (s *State) SetBall(b Ball) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Ball = b
}

func (s *State) SetLeftPaddle(y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LeftPaddle.Y = y
}

func (s *State) SetRightPaddle(y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.RightPaddle.Y = y
}

// AddPoint increments a side's score; reaching WinScore
// bumps the win counter and ends the game.
func (s *State) AddPoint(left bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addPointLocked(left)
}

func (s *State) addPointLocked(left bool) {
	var points int
	if left {
		s.snap.Score.Left++
		points = s.snap.Score.Left
	} else {
		s.snap.Score.Right++
		points = s.snap.Score.Right
	}
	if points >= WinScore {
		if left {
			s.snap.Wins.Left++
		} else {
			s.snap.Wins.Right++
		}
		s.snap.Status = GameOver
	}
}

// Apply replaces the whole snapshot under the lock, keeping local
// win counters intact. Used by the guest view on snapshot receive.
func (s *State) Apply(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

// Reset returns the state to the lobby defaults, preserving win counters.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	wins := s.snap.Wins
	s.snap = NewSnapshot()
	s.snap.Wins = wins
}

// MaybeAdvancePhase applies the pre-game ready latching rules:
// both sides ready in the lobby starts the countdown, losing
// readiness during the countdown returns to the lobby.
func (s *State) MaybeAdvancePhase() {
	s.mu.Lock()
	defer s.mu.Unlock()
	bothReady := s.snap.IsReady && s.snap.OpponentReady
	switch {
	case s.snap.Status == Waiting && bothReady:
		s.snap.Countdown = CountdownStart
		s.snap.Status = Countdown
	case s.snap.Status == Countdown && !bothReady:
		s.snap.Status = Waiting
		s.snap.Countdown = CountdownStart
	}
}
