package netplay

import (
	"testing"

	"github.com/pairpong/pairpong/pkg/game"
)

func snapAt(ts int64, ballX float64) game.Snapshot {
	s := game.NewSnapshot()
	s.TimestampMs = ts
	s.Ball.X = ballX
	return s
}

func TestBufferRejectsStaleSnapshots(t *testing.T) {
	b := NewInterpolationBuffer()

	if !b.Push(snapAt(100, 0)) {
		t.Fatal("first snapshot rejected")
	}
	if latest, _ := b.Latest(); latest.TimestampMs != 100 {
		t.Fatalf("latest = %d, want 100", latest.TimestampMs)
	}

	// an older frame must not regress the buffer
	if b.Push(snapAt(50, 0)) {
		t.Fatal("stale snapshot accepted")
	}
	if latest, _ := b.Latest(); latest.TimestampMs != 100 {
		t.Fatalf("latest regressed to %d", latest.TimestampMs)
	}
	if b.Push(snapAt(100, 0)) {
		t.Fatal("duplicate timestamp accepted")
	}

	if !b.Push(snapAt(200, 0)) {
		t.Fatal("newer snapshot rejected")
	}
	b.mu.Lock()
	prev, latest := b.previous.TimestampMs, b.latest.TimestampMs
	b.mu.Unlock()
	if prev != 100 || latest != 200 {
		t.Fatalf("window = [%d, %d], want [100, 200]", prev, latest)
	}
}

func TestBufferInterpolation(t *testing.T) {
	b := NewInterpolationBuffer()
	b.Push(snapAt(0, 0))
	b.Push(snapAt(100, 100))

	t.Run("midpoint", func(t *testing.T) {
		view, ok := b.Render(50)
		if !ok || view.Ball.X != 50 {
			t.Fatalf("ball.x = %v, want 50", view.Ball.X)
		}
	})

	t.Run("clamps below", func(t *testing.T) {
		view, _ := b.Render(-100)
		if view.Ball.X != 0 {
			t.Fatalf("ball.x = %v, want the previous value 0", view.Ball.X)
		}
	})

	t.Run("clamps above", func(t *testing.T) {
		view, _ := b.Render(1000)
		if view.Ball.X != 100 {
			t.Fatalf("ball.x = %v, want the latest value 100", view.Ball.X)
		}
	})

	t.Run("every numeric field moves", func(t *testing.T) {
		b := NewInterpolationBuffer()
		prev := snapAt(0, 0)
		prev.Ball.Y, prev.Ball.VelocityX, prev.Ball.VelocityY = 10, -4, 8
		prev.LeftPaddle.Y, prev.RightPaddle.Y = 20, 80
		next := snapAt(100, 100)
		next.Ball.Y, next.Ball.VelocityX, next.Ball.VelocityY = 30, 4, -8
		next.LeftPaddle.Y, next.RightPaddle.Y = 40, 60
		b.Push(prev)
		b.Push(next)

		view, _ := b.Render(50)
		for name, got := range map[string]float64{
			"ball.y":        view.Ball.Y,
			"leftPaddle.y":  view.LeftPaddle.Y,
			"rightPaddle.y": view.RightPaddle.Y,
		} {
			want := map[string]float64{"ball.y": 20, "leftPaddle.y": 30, "rightPaddle.y": 70}[name]
			if got != want {
				t.Errorf("%s = %v, want %v", name, got, want)
			}
		}
		if view.Ball.VelocityX != 0 || view.Ball.VelocityY != 0 {
			t.Errorf("velocity = (%v, %v), want (0, 0)", view.Ball.VelocityX, view.Ball.VelocityY)
		}
	})
}

func TestBufferEdgeRenders(t *testing.T) {
	t.Run("empty buffer renders nothing", func(t *testing.T) {
		b := NewInterpolationBuffer()
		if _, ok := b.Render(0); ok {
			t.Fatal("rendered from an empty buffer")
		}
	})

	t.Run("single snapshot renders directly", func(t *testing.T) {
		b := NewInterpolationBuffer()
		b.Push(snapAt(100, 42))
		view, ok := b.Render(0)
		if !ok || view.Ball.X != 42 {
			t.Fatalf("view = %+v, ok = %v", view, ok)
		}
	})

	t.Run("non-positive delta snaps to latest", func(t *testing.T) {
		// can't happen through Push, guarded anyway
		b := NewInterpolationBuffer()
		prev, latest := snapAt(100, 0), snapAt(100, 99)
		b.previous, b.latest = &prev, &latest
		view, _ := b.Render(100)
		if view.Ball.X != 99 {
			t.Fatalf("ball.x = %v, want 99", view.Ball.X)
		}
	})

	t.Run("reset empties the window", func(t *testing.T) {
		b := NewInterpolationBuffer()
		b.Push(snapAt(100, 0))
		b.Reset()
		if _, ok := b.Latest(); ok {
			t.Fatal("buffer survived a reset")
		}
	})
}
