package relay

// Game is a two-party room. The first member is the host;
// that ordering is the sole source of role asymmetry in the system.
type Game struct {
	id      string
	members []string
}

func (g *Game) Id() string { return g.id }

func (g *Game) Sole() bool { return len(g.members) == 1 }

// Opponent returns the other member, if any.
func (g *Game) Opponent(id string) (string, bool) {
	for _, m := range g.members {
		if m != id {
			return m, true
		}
	}
	return "", false
}

func (g *Game) Has(id string) bool {
	for _, m := range g.members {
		if m == id {
			return true
		}
	}
	return false
}

// Others returns every member except the given one.
func (g *Game) Others(id string) []string {
	var out []string
	for _, m := range g.members {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}
