package pump

import (
	"errors"
	"time"

	"github.com/thatsimonsguy/pump-controller/internal/bus"
	"github.com/thatsimonsguy/pump-controller/internal/model"
)

var (
	ErrDeviceNotFound = errors.New("pump device not found")
	ErrNotConnected   = errors.New("pump not connected")
	ErrInvalidSpeed   = errors.New("rpm must not be negative")
	ErrCommunication  = errors.New("pump communication failure")
)

// Register map of the pump's Modbus interface.
const (
	CoilStartStop    uint16 = 0
	RegTargetRPM     uint16 = 2
	RegMaxRPM        uint16 = 4
	RegOperationMode uint16 = 9
	RegDirection     uint16 = 12
	RegCommunication uint16 = 14

	ModeContinuous uint16 = 0
	DirectionCW    uint16 = 1
	DirectionCCW   uint16 = 0
	CommRS485      uint16 = 1
)

// delay between register writes, overridable for tests
var writeSettle = 100 * time.Millisecond

// Driver is one addressed pump. Run returns as soon as the pump is started;
// the caller owns the timing and must call Stop.
type Driver interface {
	Role() model.Role
	Connect() error
	// Attach shares a link opened by another driver. The attaching driver
	// never closes it.
	Attach(link bus.Link) error
	Link() bus.Link
	Run(rpm int, reverse bool) error
	// RunFor blocks for d and stops the pump afterwards.
	RunFor(rpm int, d time.Duration, reverse bool) error
	// Stop is a no-op when the pump is not connected.
	Stop() error
	Disconnect()
	Status() model.PumpStatus
}

// clamp limits rpm to max; negative speeds are rejected rather than clamped.
func clamp(rpm, max int) (int, error) {
	if rpm < 0 {
		return 0, ErrInvalidSpeed
	}
	if rpm > max {
		return max, nil
	}
	return rpm, nil
}

func direction(reverse bool) string {
	if reverse {
		return "CCW"
	}
	return "CW"
}

// state is the bookkeeping shared by both driver variants.
type state struct {
	connected bool
	running   bool
	rpm       int
	reverse   bool
	startedAt time.Time
}

// rpmPair splits rpm*100 into the high and low words of a 32-bit register pair.
func rpmPair(rpm int) (hi, lo uint16) {
	v := uint32(rpm) * 100
	return uint16(v >> 16), uint16(v)
}

func (s *state) started(rpm int, reverse bool) {
	s.running = true
	s.rpm = rpm
	s.reverse = reverse
	s.startedAt = time.Now()
}

func (s *state) stopped() {
	s.running = false
	s.rpm = 0
	s.startedAt = time.Time{}
}

func (s *state) status(role model.Role, unitID, maxRPM int) model.PumpStatus {
	st := model.PumpStatus{
		Role:      role,
		UnitID:    unitID,
		MaxRPM:    maxRPM,
		Connected: s.connected,
		Running:   s.running,
		RPM:       s.rpm,
		Direction: direction(s.reverse),
	}
	if s.running {
		st.RuntimeSeconds = time.Since(s.startedAt).Seconds()
	}
	return st
}
