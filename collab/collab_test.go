package collab

import (
	"sync"
	"testing"
)

type fixedReader map[int]uint16

func (r fixedReader) Raw(sensor int) uint16 {
	return r[sensor]
}

func TestBatterySensors(t *testing.T) {
	reader := fixedReader{2: 500}
	sensors := NewBatterySensors(reader, BatteryConfig{Sensor: 2, VoltsPerCount: 0.01, NominalVolts: 7.5})

	if got := sensors.BatteryComp(); got != 1 {
		t.Errorf("Expected compensation 1 before update, got %f", got)
	}
	sensors.Update()
	if got := sensors.Volts(); got != 5 {
		t.Errorf("Expected 5V, got %f", got)
	}
	if got := sensors.BatteryComp(); got != 1.5 {
		t.Errorf("Expected compensation 1.5, got %f", got)
	}
	if got := sensors.SteeringFeedback(); got != 0 {
		t.Errorf("Expected no steering, got %f", got)
	}

	reader[2] = 0
	sensors.Update()
	if got := sensors.BatteryComp(); got != 1 {
		t.Errorf("Expected compensation 1 with no battery, got %f", got)
	}
}

func TestSwitchLadder(t *testing.T) {
	tests := []struct {
		raw  uint16
		want uint8
	}{
		{0, 0},
		{30, 0},
		{68, 1},
		{512, 8},
		{1000, 15},
		{1023, 15},
		{4095, 15},
	}
	reader := fixedReader{}
	ladder := NewSwitchLadder(reader, 5, 1023)
	for _, tt := range tests {
		reader[5] = tt.raw
		ladder.Update()
		if got := ladder.Value(); got != tt.want {
			t.Errorf("raw %d: expected %d, got %d", tt.raw, tt.want, got)
		}
	}
}

func TestHeldMotors(t *testing.T) {
	var motors HeldMotors
	motors.SetBatteryCompensation(1.2)
	motors.UpdateControllers(-0.3)
	if motors.Compensation() != 1.2 || motors.Steering() != -0.3 || motors.Updates() != 1 {
		t.Errorf("Unexpected motor state: comp %f steering %f updates %d",
			motors.Compensation(), motors.Steering(), motors.Updates())
	}

	var profile IdleProfile
	profile.Update()
	profile.Update()
	if profile.Updates() != 2 {
		t.Errorf("Expected 2 updates, got %d", profile.Updates())
	}
}

// Getters run outside the tick while Update runs in it. Run with -race.
func TestConcurrentReaders(t *testing.T) {
	reader := fixedReader{0: 740, 1: 512}
	sensors := NewBatterySensors(reader, BatteryConfig{Sensor: 0, VoltsPerCount: 0.01, NominalVolts: 7.4})
	ladder := NewSwitchLadder(reader, 1, 1023)
	var motors HeldMotors

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sensors.Update()
			ladder.Update()
			motors.SetBatteryCompensation(sensors.BatteryComp())
			motors.UpdateControllers(sensors.SteeringFeedback())
		}
	}()
	for i := 0; i < 1000; i++ {
		_ = sensors.Volts()
		_ = ladder.Value()
		_ = motors.Compensation()
	}
	wg.Wait()

	if got := sensors.Volts(); got < 7.399 || got > 7.401 {
		t.Errorf("Expected 7.4V, got %f", got)
	}
	if got := ladder.Value(); got != 8 {
		t.Errorf("Expected ladder position 8, got %d", got)
	}
	if got := motors.Updates(); got != 1000 {
		t.Errorf("Expected 1000 updates, got %d", got)
	}
}
