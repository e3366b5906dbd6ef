// Wheel encoder decoding and odometry
// Edge handlers run in interrupt context; the tick drains them once per period
package core

// WheelConfig holds the calibration of one wheel.
type WheelConfig struct {
	Polarity   int8    // +1 or -1, flips the decoded direction
	MMPerCount float32 // Distance travelled per decoded edge
}

// OdometryConfig holds the calibration for the odometry integrator.
type OdometryConfig struct {
	Left  WheelConfig
	Right WheelConfig

	// DegPerMMDifference converts the difference between right and left
	// wheel travel into a change of heading.
	DegPerMMDifference float32

	// LoopFrequency is the tick rate used to turn per-tick changes into speeds.
	LoopFrequency float32
}

// Encoder decodes one wheel's quadrature signal.
//
// The hardware presents the wheel as two lines: clk, the XOR of the A and B
// phases, which raises an interrupt on every edge, and the B phase itself.
// The count is written only by InputChange and only drained by Odometry.
type Encoder struct {
	polarity int32
	count    int32 // Edges since the last drain

	oldA bool
	oldB bool
}

// NewEncoder creates an encoder with the given polarity (+1 or -1).
func NewEncoder(polarity int8) *Encoder {
	e := &Encoder{}
	e.setPolarity(polarity)
	return e
}

func (e *Encoder) setPolarity(polarity int8) {
	e.polarity = 1
	if polarity < 0 {
		e.polarity = -1
	}
}

// Sync seeds the previous line levels from the current pin state.
// Call before the edge interrupt is attached.
func (e *Encoder) Sync(clk, b bool) {
	state := disableInterrupts()
	e.oldB = b
	e.oldA = clk != b
	restoreInterrupts(state)
}

// InputChange is the edge interrupt handler. It takes the current levels of
// the clk and B lines and adds -1, 0 or +1 to the count.
// Runs in constant time.
func (e *Encoder) InputChange(clk, b bool) {
	state := disableInterrupts()
	newB := b
	newA := clk != newB
	delta := bit(e.oldA != newB) - bit(newA != e.oldB)
	e.count += e.polarity * delta
	e.oldA = newA
	e.oldB = newB
	restoreInterrupts(state)
}

// drain returns and clears the count. Caller must hold the critical section.
func (e *Encoder) drain() int32 {
	n := e.count
	e.count = 0
	return n
}

func bit(v bool) int32 {
	if v {
		return 1
	}
	return 0
}

// Pose is a consistent snapshot of the cumulative odometry.
type Pose struct {
	Distance float32 // mm
	Angle    float32 // degrees
}

// Odometry fuses the two wheel encoders into robot distance and heading.
//
// None of the fields may be touched outside a critical section: the edge
// handlers preempt the tick and the readers may run in any context.
type Odometry struct {
	cfg OdometryConfig

	left  Encoder
	right Encoder

	distance float32
	angle    float32

	// Change in distance and angle during the last tick
	fwdChange float32
	rotChange float32

	// Cumulative drained counts, for wheel calibration
	leftTotal  int64
	rightTotal int64
}

// NewOdometry creates an odometry integrator with the given calibration.
func NewOdometry(cfg OdometryConfig) *Odometry {
	if cfg.LoopFrequency <= 0 {
		cfg.LoopFrequency = LoopFrequency
	}
	o := &Odometry{cfg: cfg}
	o.left.setPolarity(cfg.Left.Polarity)
	o.right.setPolarity(cfg.Right.Polarity)
	return o
}

// Left returns the left wheel encoder.
func (o *Odometry) Left() *Encoder {
	return &o.left
}

// Right returns the right wheel encoder.
func (o *Odometry) Right() *Encoder {
	return &o.right
}

// LeftInputChange is the left wheel edge interrupt handler.
func (o *Odometry) LeftInputChange(clk, b bool) {
	o.left.InputChange(clk, b)
}

// RightInputChange is the right wheel edge interrupt handler.
func (o *Odometry) RightInputChange(clk, b bool) {
	o.right.InputChange(clk, b)
}

// Update drains both encoders and folds the change into the robot pose.
// Called exactly once per tick, before anything else in the tick.
func (o *Odometry) Update() {
	// Be quick: the edge interrupts are held off while this runs.
	state := disableInterrupts()
	leftDelta := o.left.drain()
	rightDelta := o.right.drain()
	restoreInterrupts(state)

	leftChange := float32(leftDelta) * o.cfg.Left.MMPerCount
	rightChange := float32(rightDelta) * o.cfg.Right.MMPerCount
	fwd := 0.5 * (rightChange + leftChange)
	rot := (rightChange - leftChange) * o.cfg.DegPerMMDifference

	state = disableInterrupts()
	o.fwdChange = fwd
	o.rotChange = rot
	o.distance += fwd
	o.angle += rot
	o.leftTotal += int64(leftDelta)
	o.rightTotal += int64(rightDelta)
	restoreInterrupts(state)
}

// Reset zeroes the counts and the accumulated pose. Only call while the tick
// is stopped. The previous line levels are kept since they mirror the pins.
func (o *Odometry) Reset() {
	state := disableInterrupts()
	o.left.count = 0
	o.right.count = 0
	o.distance = 0
	o.angle = 0
	o.fwdChange = 0
	o.rotChange = 0
	o.leftTotal = 0
	o.rightTotal = 0
	restoreInterrupts(state)
}

// Distance returns the total distance travelled in mm.
func (o *Odometry) Distance() float32 {
	state := disableInterrupts()
	distance := o.distance
	restoreInterrupts(state)
	return distance
}

// Angle returns the total rotation in degrees.
func (o *Odometry) Angle() float32 {
	state := disableInterrupts()
	angle := o.angle
	restoreInterrupts(state)
	return angle
}

// Pose returns distance and angle from the same tick.
func (o *Odometry) Pose() Pose {
	state := disableInterrupts()
	p := Pose{Distance: o.distance, Angle: o.angle}
	restoreInterrupts(state)
	return p
}

// Speed returns the forward speed in mm/s over the last tick.
func (o *Odometry) Speed() float32 {
	state := disableInterrupts()
	speed := o.cfg.LoopFrequency * o.fwdChange
	restoreInterrupts(state)
	return speed
}

// Omega returns the angular speed in deg/s over the last tick.
func (o *Odometry) Omega() float32 {
	state := disableInterrupts()
	omega := o.cfg.LoopFrequency * o.rotChange
	restoreInterrupts(state)
	return omega
}

// FwdChange returns the distance travelled during the last tick.
func (o *Odometry) FwdChange() float32 {
	state := disableInterrupts()
	change := o.fwdChange
	restoreInterrupts(state)
	return change
}

// RotChange returns the rotation during the last tick.
func (o *Odometry) RotChange() float32 {
	state := disableInterrupts()
	change := o.rotChange
	restoreInterrupts(state)
	return change
}

// Counts returns the cumulative drained edge counts of each wheel.
func (o *Odometry) Counts() (left, right int64) {
	state := disableInterrupts()
	left, right = o.leftTotal, o.rightTotal
	restoreInterrupts(state)
	return left, right
}

// LoopFrequency returns the tick rate used for speed calculations.
func (o *Odometry) LoopFrequency() float32 {
	return o.cfg.LoopFrequency
}
