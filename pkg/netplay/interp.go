package netplay

import (
	"sync"

	"github.com/pairpong/pairpong/pkg/game"
)

// InterpolationBuffer keeps the two most recent snapshots the guest has
// received and renders a view between them. A snapshot whose timestamp
// does not exceed the current latest is discarded, so reordered or
// duplicated frames never regress the rendered state.
type InterpolationBuffer struct {
	mu               sync.Mutex
	previous, latest *game.Snapshot
}

func NewInterpolationBuffer() *InterpolationBuffer { return &InterpolationBuffer{} }

// Push accepts a snapshot, shifting the previous latest down.
// Stale snapshots are rejected and reported false.
func (b *InterpolationBuffer) Push(snap game.Snapshot) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest != nil && snap.TimestampMs <= b.latest.TimestampMs {
		return false
	}
	b.previous = b.latest
	b.latest = &snap
	return true
}

// Latest returns the newest snapshot as-is, when there is one.
func (b *InterpolationBuffer) Latest() (game.Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return game.Snapshot{}, false
	}
	return *b.latest, true
}

// Render produces the view for the given render time: every numeric
// field interpolated between the two snapshots, everything else taken
// from the latest. With only one snapshot it is returned directly, and
// a zero or negative time delta snaps to the latest.
func (b *InterpolationBuffer) Render(nowMs int64) (game.Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest == nil {
		return game.Snapshot{}, false
	}
	if b.previous == nil {
		return *b.latest, true
	}

	t := 1.0
	if delta := b.latest.TimestampMs - b.previous.TimestampMs; delta > 0 {
		t = float64(nowMs-b.previous.TimestampMs) / float64(delta)
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}

	out := *b.latest
	out.Ball.X = lerp(b.previous.Ball.X, b.latest.Ball.X, t)
	out.Ball.Y = lerp(b.previous.Ball.Y, b.latest.Ball.Y, t)
	out.Ball.VelocityX = lerp(b.previous.Ball.VelocityX, b.latest.Ball.VelocityX, t)
	out.Ball.VelocityY = lerp(b.previous.Ball.VelocityY, b.latest.Ball.VelocityY, t)
	out.LeftPaddle.Y = lerp(b.previous.LeftPaddle.Y, b.latest.LeftPaddle.Y, t)
	out.RightPaddle.Y = lerp(b.previous.RightPaddle.Y, b.latest.RightPaddle.Y, t)
	return out, true
}

// Reset empties the buffer, for a new pairing.
func (b *InterpolationBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.previous, b.latest = nil, nil
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
