// Package collab provides stand-in collaborators for the control tick: motion
// profiles that hold still, battery-only sensor interpretation, a switch
// ladder reader and motors that keep their outputs off. They let the core run
// on the bench and in simulation before the real controllers are attached.
//
// Update methods run in the tick; every getter may be called from any other
// context.
package collab

import (
	"math"
	"sync/atomic"
)

// Reader gives access to the last completed acquisition cycle.
// core.Acquisition satisfies it.
type Reader interface {
	Raw(sensor int) uint16
}

// IdleProfile is a motion profile that never moves.
type IdleProfile struct {
	updates uint32
}

func (p *IdleProfile) Update() {
	atomic.AddUint32(&p.updates, 1)
}

// Updates returns how many ticks the profile has seen.
func (p *IdleProfile) Updates() uint32 {
	return atomic.LoadUint32(&p.updates)
}

// storeFloat and loadFloat keep a float32 in a uint32 so it can be
// published atomically.
func storeFloat(addr *uint32, v float32) {
	atomic.StoreUint32(addr, math.Float32bits(v))
}

func loadFloat(addr *uint32) float32 {
	return math.Float32frombits(atomic.LoadUint32(addr))
}

// BatteryConfig scales the battery divider reading.
type BatteryConfig struct {
	Sensor        int     // Index of the battery sensor
	VoltsPerCount float32 // Converter counts to battery volts
	NominalVolts  float32 // Voltage the motor controllers are tuned for
}

// minBatteryVolts is the reading below which the battery is treated as
// absent and no compensation is applied.
const minBatteryVolts = 1.0

// BatterySensors interprets only the battery reading. It reports no steering
// correction.
type BatterySensors struct {
	reader Reader
	cfg    BatteryConfig

	volts uint32 // float32 bits
	comp  uint32 // float32 bits
}

func NewBatterySensors(reader Reader, cfg BatteryConfig) *BatterySensors {
	s := &BatterySensors{reader: reader, cfg: cfg}
	storeFloat(&s.comp, 1)
	return s
}

// Update converts the latest battery reading.
func (s *BatterySensors) Update() {
	volts := float32(s.reader.Raw(s.cfg.Sensor)) * s.cfg.VoltsPerCount
	comp := float32(1)
	if volts >= minBatteryVolts {
		comp = s.cfg.NominalVolts / volts
	}
	storeFloat(&s.volts, volts)
	storeFloat(&s.comp, comp)
}

// BatteryComp is the factor that scales motor voltages for a sagging battery.
func (s *BatterySensors) BatteryComp() float32 {
	return loadFloat(&s.comp)
}

func (s *BatterySensors) SteeringFeedback() float32 {
	return 0
}

// Volts returns the battery voltage from the last update.
func (s *BatterySensors) Volts() float32 {
	return loadFloat(&s.volts)
}

// SwitchLadder decodes four function switches read through a resistor ladder
// on one analogue channel. The 16 positions are evenly spaced over FullScale.
type SwitchLadder struct {
	reader    Reader
	sensor    int
	fullScale uint16

	value uint32
}

func NewSwitchLadder(reader Reader, sensor int, fullScale uint16) *SwitchLadder {
	return &SwitchLadder{reader: reader, sensor: sensor, fullScale: fullScale}
}

func (s *SwitchLadder) Update() {
	atomic.StoreUint32(&s.value, uint32(decodeLadder(s.reader.Raw(s.sensor), s.fullScale)))
}

// Value returns the switch positions as a 4 bit number.
func (s *SwitchLadder) Value() uint8 {
	return uint8(atomic.LoadUint32(&s.value))
}

func decodeLadder(raw, fullScale uint16) uint8 {
	if fullScale == 0 {
		return 0
	}
	if raw >= fullScale {
		return 15
	}
	step := uint32(fullScale) / 15
	pos := (uint32(raw) + step/2) / step
	if pos > 15 {
		pos = 15
	}
	return uint8(pos)
}

// HeldMotors keeps the motors off and records what it is asked to do.
type HeldMotors struct {
	comp     uint32 // float32 bits
	steering uint32 // float32 bits
	updates  uint32
}

func (m *HeldMotors) SetBatteryCompensation(comp float32) {
	storeFloat(&m.comp, comp)
}

func (m *HeldMotors) UpdateControllers(steering float32) {
	storeFloat(&m.steering, steering)
	atomic.AddUint32(&m.updates, 1)
}

// Compensation returns the last battery compensation received.
func (m *HeldMotors) Compensation() float32 {
	return loadFloat(&m.comp)
}

// Steering returns the last steering feedback received.
func (m *HeldMotors) Steering() float32 {
	return loadFloat(&m.steering)
}

// Updates returns how many controller updates were requested.
func (m *HeldMotors) Updates() uint32 {
	return atomic.LoadUint32(&m.updates)
}
