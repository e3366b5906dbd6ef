// Package config holds the robot calibration: wheel geometry, sensor layout
// and loop timing. Default is compiled into the firmware; host tools can
// overlay a YAML file on top of it.
package config

import (
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"mazerunner/core"
)

// Physical constants of the reference robot.
const (
	wheelDiameter = 32.0  // mm
	encoderPulses = 12.0  // clk edges per motor revolution
	gearRatio     = 19.54 // motor turns per wheel turn
	mouseRadius   = 37.85 // mm, half the wheel track

	defaultMMPerCount         = math.Pi * wheelDiameter / (encoderPulses * gearRatio)
	defaultDegPerMMDifference = 180.0 / (2 * mouseRadius * math.Pi)
)

// NoEmitter marks a sensor without an emitter.
const NoEmitter uint8 = uint8(core.NoEmitter)

// Converter families understood by the firmware.
const (
	ConverterOnChip  = "onchip"
	ConverterMCP3008 = "mcp3008"
)

// converterChannels is the number of analogue inputs of each converter. The
// RP2040's fifth input is the temperature sensor.
var converterChannels = map[string]uint8{
	ConverterOnChip:  5,
	ConverterMCP3008: 8,
}

// Wheel is the calibration of one wheel.
type Wheel struct {
	Polarity   int8    `yaml:"polarity"`
	MMPerCount float32 `yaml:"mm_per_count"`
}

// Sensor is one analogue input. Emitter is NoEmitter when the sensor is
// passive, such as the battery divider.
type Sensor struct {
	Name    string `yaml:"name"`
	Channel uint8  `yaml:"channel"`
	Emitter uint8  `yaml:"emitter"`
}

// Battery describes how the battery reading is scaled.
type Battery struct {
	Sensor        int     `yaml:"sensor"` // index into Sensors
	VoltsPerCount float32 `yaml:"volts_per_count"`
	NominalVolts  float32 `yaml:"nominal_volts"`
}

// Robot is the complete calibration.
type Robot struct {
	LoopFrequency      float32 `yaml:"loop_frequency"`
	TickBudgetPercent  uint32  `yaml:"tick_budget_percent"`
	DegPerMMDifference float32 `yaml:"deg_per_mm_difference"`

	Left  Wheel `yaml:"left"`
	Right Wheel `yaml:"right"`

	Converter       string   `yaml:"converter"`
	Sensors         []Sensor `yaml:"sensors"`
	WarmupChannel   uint8    `yaml:"warmup_channel"`
	EmittersEnabled bool     `yaml:"emitters_enabled"`
	Battery         Battery  `yaml:"battery"`

	// TelemetryInterval is the number of ticks between telemetry reports.
	TelemetryInterval uint32 `yaml:"telemetry_interval"`
}

// Default returns the calibration of the reference robot: four reflective
// wall sensors on an MCP3008, the battery divider on channel 6 and the
// function switch ladder on channel 7.
func Default() Robot {
	return Robot{
		LoopFrequency:      core.LoopFrequency,
		TickBudgetPercent:  40,
		DegPerMMDifference: defaultDegPerMMDifference,
		Left:               Wheel{Polarity: -1, MMPerCount: defaultMMPerCount},
		Right:              Wheel{Polarity: 1, MMPerCount: defaultMMPerCount},
		Converter:          ConverterMCP3008,
		Sensors: []Sensor{
			{Name: "left_front", Channel: 0, Emitter: 14},
			{Name: "left_side", Channel: 1, Emitter: 15},
			{Name: "right_side", Channel: 2, Emitter: 15},
			{Name: "right_front", Channel: 3, Emitter: 14},
			{Name: "battery", Channel: 6, Emitter: NoEmitter},
			{Name: "switches", Channel: 7, Emitter: NoEmitter},
		},
		WarmupChannel:   7,
		EmittersEnabled: true,
		Battery: Battery{
			Sensor:        4,
			VoltsPerCount: 3.0 * 3.3 / 1023.0, // 3:1 divider, 3.3V reference
			NominalVolts:  7.4,
		},
		TelemetryInterval: 50,
	}
}

// OnChip returns the calibration for boards without the external converter:
// three wall sensors on the RP2040's own inputs and the battery on ADC3,
// which the Pico wires to VSYS/3. The temperature input is the warm-up
// channel. Results are scaled to 10 bits so the battery scaling matches
// Default.
func OnChip() Robot {
	r := Default()
	r.Converter = ConverterOnChip
	r.Sensors = []Sensor{
		{Name: "left_side", Channel: 0, Emitter: 15},
		{Name: "front", Channel: 1, Emitter: 14},
		{Name: "right_side", Channel: 2, Emitter: 15},
		{Name: "battery", Channel: 3, Emitter: NoEmitter},
	}
	r.WarmupChannel = 4
	r.Battery.Sensor = 3
	return r
}

// Validate reports every problem with the calibration at once.
func (r Robot) Validate() error {
	var err error
	if r.LoopFrequency <= 0 {
		err = multierr.Append(err, errors.Errorf("loop_frequency must be positive, got %v", r.LoopFrequency))
	}
	if r.TickBudgetPercent == 0 || r.TickBudgetPercent > 100 {
		err = multierr.Append(err, errors.Errorf("tick_budget_percent must be in 1..100, got %d", r.TickBudgetPercent))
	}
	err = multierr.Append(err, r.Left.validate("left"))
	err = multierr.Append(err, r.Right.validate("right"))

	channels, known := converterChannels[r.Converter]
	if !known {
		err = multierr.Append(err, errors.Errorf("unknown converter %q", r.Converter))
	} else if r.WarmupChannel >= channels {
		err = multierr.Append(err, errors.Errorf("warmup_channel %d out of range for %s (0..%d)", r.WarmupChannel, r.Converter, channels-1))
	}

	steps := len(core.BuildTable(r.coreSensors()))
	if len(r.Sensors) == 0 {
		err = multierr.Append(err, errors.New("no sensors configured"))
	} else if steps > core.MaxSteps {
		err = multierr.Append(err, errors.Errorf("%d sensors need %d steps, at most %d fit", len(r.Sensors), steps, core.MaxSteps))
	}
	for i, s := range r.Sensors {
		if known && s.Channel >= channels {
			err = multierr.Append(err, errors.Errorf("sensor %d (%s): channel %d out of range for %s (0..%d)", i, s.Name, s.Channel, r.Converter, channels-1))
		}
		if s.Emitter != NoEmitter && s.Emitter > 29 {
			err = multierr.Append(err, errors.Errorf("sensor %d (%s): emitter pin %d out of range", i, s.Name, s.Emitter))
		}
	}
	if r.Battery.Sensor < 0 || r.Battery.Sensor >= len(r.Sensors) {
		err = multierr.Append(err, errors.Errorf("battery sensor index %d out of range", r.Battery.Sensor))
	}
	if r.Battery.VoltsPerCount <= 0 || r.Battery.NominalVolts <= 0 {
		err = multierr.Append(err, errors.New("battery scaling must be positive"))
	}
	return err
}

func (w Wheel) validate(name string) error {
	var err error
	if w.Polarity != 1 && w.Polarity != -1 {
		err = multierr.Append(err, errors.Errorf("%s: polarity must be 1 or -1, got %d", name, w.Polarity))
	}
	if w.MMPerCount <= 0 {
		err = multierr.Append(err, errors.Errorf("%s: mm_per_count must be positive, got %v", name, w.MMPerCount))
	}
	return err
}

// OdometryConfig maps the calibration onto the odometry integrator.
func (r Robot) OdometryConfig() core.OdometryConfig {
	return core.OdometryConfig{
		Left:               core.WheelConfig{Polarity: r.Left.Polarity, MMPerCount: r.Left.MMPerCount},
		Right:              core.WheelConfig{Polarity: r.Right.Polarity, MMPerCount: r.Right.MMPerCount},
		DegPerMMDifference: r.DegPerMMDifference,
		LoopFrequency:      r.LoopFrequency,
	}
}

// AcquisitionConfig maps the sensor layout onto the acquisition engine.
func (r Robot) AcquisitionConfig() core.AcquisitionConfig {
	return core.AcquisitionConfig{
		Sensors:       r.coreSensors(),
		WarmupChannel: core.ChannelID(r.WarmupChannel),
	}
}

func (r Robot) coreSensors() []core.Sensor {
	sensors := make([]core.Sensor, len(r.Sensors))
	for i, s := range r.Sensors {
		sensors[i] = core.Sensor{Channel: core.ChannelID(s.Channel), Emitter: core.EmitterPin(s.Emitter)}
	}
	return sensors
}

// SensorIndex returns the index of the named sensor, or -1.
func (r Robot) SensorIndex(name string) int {
	for i, s := range r.Sensors {
		if s.Name == name {
			return i
		}
	}
	return -1
}
