package p2p

import "testing"

func TestBarrier(t *testing.T) {
	t.Run("fires once when both arrive", func(t *testing.T) {
		fired := 0
		b := NewBarrier(func() { fired++ })
		b.Self()
		if fired != 0 {
			t.Fatal("fired on a single arrival")
		}
		b.Other()
		if fired != 1 {
			t.Fatalf("fired %d times, want 1", fired)
		}
		b.Self()
		b.Other()
		if fired != 1 {
			t.Fatalf("repeat arrivals re-fired: %d", fired)
		}
	})

	t.Run("arrival order does not matter", func(t *testing.T) {
		fired := false
		b := NewBarrier(func() { fired = true })
		b.Other()
		b.Self()
		if !fired {
			t.Fatal("never fired")
		}
	})

	t.Run("reset re-arms", func(t *testing.T) {
		fired := 0
		b := NewBarrier(func() { fired++ })
		b.Self()
		b.Other()
		b.Reset()
		if b.Done() {
			t.Fatal("done after reset")
		}
		b.Other()
		b.Self()
		if fired != 2 {
			t.Fatalf("fired %d times, want 2", fired)
		}
	})

	t.Run("nil callback", func(t *testing.T) {
		b := NewBarrier(nil)
		b.Self()
		b.Other()
		if !b.Done() {
			t.Fatal("not done")
		}
	})
}
