//go:build rp2040

// Firmware for the RP2040 robot: wires the control core to the encoders,
// the sensor converter, the PIO tick and the USB telemetry link.
package main

import (
	"machine"
	"time"

	"mazerunner/collab"
	"mazerunner/config"
	"mazerunner/core"
	"mazerunner/link"
	"mazerunner/protocol"
)

// Selects the converter fitted to the board.
const converter = config.ConverterMCP3008

const switchPin = machine.GPIO22

// switchValuer is either switch variant.
type switchValuer interface {
	core.Updater
	Value() uint8
}

func calibration() config.Robot {
	if converter == config.ConverterOnChip {
		return config.OnChip()
	}
	return config.Default()
}

func main() {
	// Clear a watchdog left running by a previous image.
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}
	initUSB()

	robot := calibration()
	if err := robot.Validate(); err != nil {
		halt(err)
	}

	ring := core.NewTimingRing(hardwareClock)
	odometry := core.NewOdometry(robot.OdometryConfig())

	// Converter
	var conv interface {
		core.Converter
		attach(func())
	} = external
	if robot.Converter == config.ConverterOnChip {
		conv = onChip
	}
	setupEmitters(robot)
	acq, err := core.NewAcquisition(conv, robot.AcquisitionConfig())
	if err != nil {
		halt(err)
	}
	acq.SetTimingRing(ring)
	conv.attach(acq.HandleCompletion)

	// Stand-in collaborators
	sensors := collab.NewBatterySensors(acq, collab.BatteryConfig{
		Sensor:        robot.Battery.Sensor,
		VoltsPerCount: robot.Battery.VoltsPerCount,
		NominalVolts:  robot.Battery.NominalVolts,
	})
	var switches switchValuer
	if i := robot.SensorIndex("switches"); i >= 0 {
		switches = collab.NewSwitchLadder(acq, i, 1023)
	} else {
		switches = newGPIOSwitch(switchPin)
	}

	systick := core.NewSystick(core.SystickConfig{
		Odometry:      odometry,
		Forward:       &collab.IdleProfile{},
		Rotation:      &collab.IdleProfile{},
		Sensors:       sensors,
		Switches:      switches,
		Motors:        &collab.HeldMotors{},
		ADC:           acq,
		Clock:         hardwareClock,
		Ring:          ring,
		LoopFrequency: robot.LoopFrequency,
		BudgetPercent: robot.TickBudgetPercent,
	})
	if err := ticker.configure(core.PeriodUS(robot.LoopFrequency)); err != nil {
		halt(err)
	}

	resetOdometry := func() error {
		systick.Stop()
		odometry.Reset()
		ring.Record(core.EvtOdometryReset, systick.Stats().Ticks, 0)
		return systick.Begin(ticker)
	}

	// Telemetry
	input := protocol.NewFifoBuffer(256)
	output := protocol.NewScratchOutput()
	l := link.New(output, link.Config{
		Odometry:      odometry,
		Acquisition:   acq,
		Systick:       systick,
		Interval:      robot.TelemetryInterval,
		ResetOdometry: resetOdometry,
	})
	l.Transport().SetFlushCallback(func() {
		flush(output)
	})
	// Telemetry queued for the previous host session is stale.
	l.Transport().SetResetCallback(output.Reset)

	// Encoders last: from here on edges are counted.
	if err := setupEncoder(leftEncoderPins, odometry.Left(), odometry.LeftInputChange); err != nil {
		halt(err)
	}
	if err := setupEncoder(rightEncoderPins, odometry.Right(), odometry.RightInputChange); err != nil {
		halt(err)
	}

	if err := acq.Begin(); err != nil {
		halt(err)
	}
	acq.SetEmittersEnabled(robot.EmittersEnabled)
	if err := systick.Begin(ticker); err != nil {
		halt(err)
	}

	var buf [64]byte
	var wasPressed bool
	for {
		if n := readUSB(buf[:]); n > 0 {
			input.Write(buf[:n])
			l.Receive(input)
		}

		if robot.Converter == config.ConverterMCP3008 {
			for external.poll() {
			}
		}

		// A button press zeroes the pose, ready for a run.
		pressed := switches.Value() != 0
		if pressed && !wasPressed {
			if err := resetOdometry(); err != nil {
				halt(err)
			}
		}
		wasPressed = pressed

		l.Poll()
		time.Sleep(50 * time.Microsecond)
	}
}

// flush writes the output buffer to USB. A failed write drops the data: the
// host retransmits commands and telemetry is only ever current.
func flush(output *protocol.ScratchOutput) {
	data := output.Result()
	for len(data) > 0 {
		n, err := writeUSB(data)
		if err != nil || n == 0 {
			break
		}
		data = data[n:]
	}
	output.Reset()
}

// halt parks the firmware after a setup failure, reporting it on USB.
func halt(err error) {
	for {
		writeUSB([]byte("setup failed: " + err.Error() + "\r\n"))
		time.Sleep(time.Second)
	}
}
