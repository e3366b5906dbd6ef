package sim

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// EdgeHandler receives the clk and B line levels after every edge, like the
// encoder pin interrupt.
type EdgeHandler func(clk, b bool)

// Quadrature phases (A,B) in the forward direction.
var phases = [4][2]bool{
	{false, false},
	{false, true},
	{true, true},
	{true, false},
}

// Wheel generates the encoder lines of a turning wheel and delivers each
// edge to its handler.
type Wheel struct {
	mu       sync.Mutex
	handler  EdgeHandler
	phase    int
	position int64
}

func NewWheel(handler EdgeHandler) *Wheel {
	return &Wheel{handler: handler}
}

// Levels returns the current clk and B line levels.
func (w *Wheel) Levels() (clk, b bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return levels(w.phase)
}

func levels(phase int) (clk, b bool) {
	p := phases[phase]
	return p[0] != p[1], p[1]
}

// Step moves the wheel one edge.
func (w *Wheel) Step(forward bool) {
	w.mu.Lock()
	if forward {
		w.phase = (w.phase + 1) % 4
		w.position++
	} else {
		w.phase = (w.phase + 3) % 4
		w.position--
	}
	clk, b := levels(w.phase)
	w.mu.Unlock()

	w.handler(clk, b)
}

// Move steps the wheel by edges, forward when positive.
func (w *Wheel) Move(edges int) {
	forward := edges > 0
	if edges < 0 {
		edges = -edges
	}
	for i := 0; i < edges; i++ {
		w.Step(forward)
	}
}

// Bounce delivers an interrupt without a level change, as contact bounce or
// noise on the clk line would.
func (w *Wheel) Bounce() {
	clk, b := w.Levels()
	w.handler(clk, b)
}

// Position returns the net number of edges moved.
func (w *Wheel) Position() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.position
}

// Spin turns the wheel at edgesPerSecond (negative for reverse) until ctx is
// done.
func (w *Wheel) Spin(ctx context.Context, clk clock.Clock, edgesPerSecond float64) {
	if edgesPerSecond == 0 {
		<-ctx.Done()
		return
	}
	forward := edgesPerSecond > 0
	if !forward {
		edgesPerSecond = -edgesPerSecond
	}
	interval := time.Duration(float64(time.Second) / edgesPerSecond)
	if interval <= 0 {
		interval = time.Microsecond
	}

	ticker := clk.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Step(forward)
		}
	}
}
