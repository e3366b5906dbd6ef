package sim

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"mazerunner/core"
)

var ErrTickerRunning = errors.New("ticker already running")

// Ticker is a core.TickSource driven by a clock. With a mock clock the test
// decides when each tick fires.
type Ticker struct {
	clock  clock.Clock
	period time.Duration

	mu    sync.Mutex
	stop  chan struct{}
	done  chan struct{}
	ticks uint64
}

var _ core.TickSource = (*Ticker)(nil)

// NewTicker creates a tick source firing at frequency Hz.
func NewTicker(clk clock.Clock, frequency float32) *Ticker {
	return &Ticker{
		clock:  clk,
		period: time.Duration(core.PeriodUS(frequency)) * time.Microsecond,
	}
}

// Period returns the tick period.
func (t *Ticker) Period() time.Duration {
	return t.period
}

func (t *Ticker) Start(handler func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return ErrTickerRunning
	}
	if t.period <= 0 {
		return errors.New("tick period must be positive")
	}

	ticker := t.clock.Ticker(t.period)
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.loop(ticker, handler, t.stop, t.done)
	return nil
}

func (t *Ticker) loop(ticker *clock.Ticker, handler func(), stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		// Stop may have raced with the tick.
		select {
		case <-stop:
			return
		default:
		}
		handler()

		t.mu.Lock()
		t.ticks++
		t.mu.Unlock()
	}
}

// Stop waits for a running handler to return. No handler starts afterwards.
func (t *Ticker) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Ticks returns how many times the handler has run.
func (t *Ticker) Ticks() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}
