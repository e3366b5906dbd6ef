package core

// ChannelID identifies an analogue input as understood by the converter.
type ChannelID uint8

// EmitterPin identifies the output that lights a sensor's emitter.
type EmitterPin uint8

// NoEmitter marks a channel without an emitter.
const NoEmitter EmitterPin = 255

// Converter is the abstract analogue converter that the acquisition engine
// drives. Targets implement it for their converter family; the engine only
// ever uses this capability set.
type Converter interface {
	// Init powers up and configures the converter.
	Init() error

	// StartConversion selects a channel and starts one conversion. The
	// completion interrupt, when enabled, fires once it has finished.
	StartConversion(ch ChannelID)

	// EnableInterrupt enables the conversion-complete interrupt.
	EnableInterrupt()

	// DisableInterrupt disables the conversion-complete interrupt.
	DisableInterrupt()

	// ReadResult returns the last result. Reading also clears the
	// result-ready condition so the interrupt does not fire again.
	ReadResult() uint16

	// SetEmitter drives an emitter output.
	SetEmitter(pin EmitterPin, on bool)
}
