package sim

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"mazerunner/core"
)

// MaxCount is the full scale of the simulated converter (10 bit).
const MaxCount = 1023

// beam is one emitter shining onto one channel. An emitter may light
// several sensors.
type beam struct {
	pin     core.EmitterPin
	channel core.ChannelID
}

// Converter is a simulated multiplexed converter with emitter outputs. A
// conversion samples when it starts; the result is the channel's ambient
// value plus the reflection of every lit emitter aimed at that channel.
//
// Completion is raised by Finish, either called directly for step-by-step
// tests or from Run.
type Converter struct {
	mu sync.Mutex

	ambient    map[core.ChannelID]uint16
	reflection map[beam]uint16
	emitters   map[core.EmitterPin]bool

	handler    func()
	irqEnabled bool
	inFlight   bool
	ready      bool
	result     uint16

	initErr     error
	initialized bool
	conversions uint64
	kick        chan struct{}
}

func NewConverter() *Converter {
	return &Converter{
		ambient:    make(map[core.ChannelID]uint16),
		reflection: make(map[beam]uint16),
		emitters:   make(map[core.EmitterPin]bool),
		kick:       make(chan struct{}, 1),
	}
}

// Attach sets the completion interrupt handler.
func (c *Converter) Attach(handler func()) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// SetAmbient sets the value a channel reads with no emitter lit.
func (c *Converter) SetAmbient(ch core.ChannelID, value uint16) {
	c.mu.Lock()
	c.ambient[ch] = value
	c.mu.Unlock()
}

// SetReflection sets what a lit emitter adds to a channel's reading.
func (c *Converter) SetReflection(pin core.EmitterPin, ch core.ChannelID, value uint16) {
	c.mu.Lock()
	c.reflection[beam{pin: pin, channel: ch}] = value
	c.mu.Unlock()
}

// FailInit makes the next Init return err.
func (c *Converter) FailInit(err error) {
	c.mu.Lock()
	c.initErr = err
	c.mu.Unlock()
}

func (c *Converter) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initErr != nil {
		err := c.initErr
		c.initErr = nil
		return err
	}
	c.initialized = true
	return nil
}

func (c *Converter) StartConversion(ch core.ChannelID) {
	c.mu.Lock()
	value := uint32(c.ambient[ch])
	for pin, on := range c.emitters {
		if on {
			value += uint32(c.reflection[beam{pin: pin, channel: ch}])
		}
	}
	if value > MaxCount {
		value = MaxCount
	}
	c.result = uint16(value)
	c.inFlight = true
	c.ready = false
	c.conversions++
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *Converter) EnableInterrupt() {
	c.mu.Lock()
	c.irqEnabled = true
	c.mu.Unlock()
}

func (c *Converter) DisableInterrupt() {
	c.mu.Lock()
	c.irqEnabled = false
	c.mu.Unlock()
}

func (c *Converter) ReadResult() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = false
	return c.result
}

func (c *Converter) SetEmitter(pin core.EmitterPin, on bool) {
	c.mu.Lock()
	c.emitters[pin] = on
	c.mu.Unlock()
}

// Emitter reports whether an emitter output is on.
func (c *Converter) Emitter(pin core.EmitterPin) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitters[pin]
}

// Busy reports whether a conversion is in flight.
func (c *Converter) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Conversions returns how many conversions have been started.
func (c *Converter) Conversions() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversions
}

// Finish completes the conversion in flight and raises the completion
// interrupt if it is enabled. It reports whether the handler ran.
func (c *Converter) Finish() bool {
	c.mu.Lock()
	if !c.inFlight {
		c.mu.Unlock()
		return false
	}
	c.inFlight = false
	c.ready = true
	handler := c.handler
	fire := c.irqEnabled && handler != nil
	c.mu.Unlock()

	// The handler calls back into the converter.
	if fire {
		handler()
	}
	return fire
}

// Complete finishes conversions until none is in flight or limit is reached.
// It returns how many completions were raised.
func (c *Converter) Complete(limit int) int {
	n := 0
	for n < limit && c.Finish() {
		n++
	}
	return n
}

// Run finishes each conversion latency after it starts until ctx is done.
func (c *Converter) Run(ctx context.Context, clk clock.Clock, latency time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.kick:
		}
		if latency > 0 {
			select {
			case <-ctx.Done():
				return
			case <-clk.After(latency):
			}
		}
		c.Finish()
	}
}

// Ready reports whether a finished result has not been read yet.
func (c *Converter) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Initialized reports whether Init has succeeded.
func (c *Converter) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}
