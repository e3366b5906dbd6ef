package sim

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Clock reads a clock.Clock as the free-running microsecond counter the core
// expects. It wraps every 71 minutes like the hardware timer.
type Clock struct {
	clock clock.Clock
	epoch time.Time
}

func NewClock(clk clock.Clock) *Clock {
	return &Clock{clock: clk, epoch: clk.Now()}
}

func (c *Clock) Micros() uint32 {
	return uint32(c.clock.Since(c.epoch) / time.Microsecond)
}
