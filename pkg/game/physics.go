package game

// The field is a 100x100 square; both paddles sit a fixed inset from
// their edge and all positions are percentages of the field size.
const (
	fieldSize    = 100.0
	paddleHeight = 20.0
	paddleInset  = 5.0
	ballRadius   = 1.5
)

// Physics is the host-side pong simulation. It only ever advances a
// state whose phase is Playing; everything else passes through untouched.
type Physics struct {
	// Speed is the ball's horizontal velocity, field units per second
	Speed float64
	// Spin scales how much of the paddle-hit offset turns into
	// vertical velocity
	Spin float64
}

func NewPhysics() *Physics { return &Physics{Speed: 50, Spin: 0.75} }

func (p *Physics) Step(s *State, dtMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Status != Playing {
		return
	}

	ball := &s.snap.Ball
	if ball.VelocityX == 0 && ball.VelocityY == 0 {
		// fresh serve after a reset or a conceded point
		ball.VelocityX = p.Speed
	}

	dt := dtMs / 1000
	ball.X += ball.VelocityX * dt
	ball.Y += ball.VelocityY * dt

	// walls
	if ball.Y < ballRadius {
		ball.Y = 2*ballRadius - ball.Y
		ball.VelocityY = -ball.VelocityY
	} else if ball.Y > fieldSize-ballRadius {
		ball.Y = 2*(fieldSize-ballRadius) - ball.Y
		ball.VelocityY = -ball.VelocityY
	}

	// paddles
	if ball.VelocityX < 0 && ball.X < paddleInset+ballRadius {
		p.bounce(ball, s.snap.LeftPaddle.Y, paddleInset+ballRadius)
	} else if ball.VelocityX > 0 && ball.X > fieldSize-paddleInset-ballRadius {
		p.bounce(ball, s.snap.RightPaddle.Y, fieldSize-paddleInset-ballRadius)
	}

	// a ball past the edge is a point for the other side
	if ball.X < 0 {
		s.addPointLocked(false)
		p.serveLocked(s, true)
	} else if ball.X > fieldSize {
		s.addPointLocked(true)
		p.serveLocked(s, false)
	}
}

// bounce reflects the ball off a paddle when it covers the ball's
// height, converting the hit offset into spin.
func (p *Physics) bounce(ball *Ball, paddleY, wall float64) {
	offset := ball.Y - paddleY
	if offset < -paddleHeight/2 || offset > paddleHeight/2 {
		return
	}
	ball.X = 2*wall - ball.X
	ball.VelocityX = -ball.VelocityX
	ball.VelocityY = offset / (paddleHeight / 2) * p.Speed * p.Spin
}

// serveLocked recenters the ball toward the side that just conceded.
// The concede-side serve keeps the score pressure on the leader.
func (p *Physics) serveLocked(s *State, towardLeft bool) {
	if s.snap.Status != Playing {
		// the point may have ended the game
		s.snap.Ball = Ball{X: fieldSize / 2, Y: fieldSize / 2}
		return
	}
	velocity := p.Speed
	if towardLeft {
		velocity = -velocity
	}
	s.snap.Ball = Ball{X: fieldSize / 2, Y: fieldSize / 2, VelocityX: velocity}
}
