package pump

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pump-controller/internal/bus"
	"github.com/thatsimonsguy/pump-controller/internal/config"
	"github.com/thatsimonsguy/pump-controller/internal/datadog"
	"github.com/thatsimonsguy/pump-controller/internal/model"
)

// overridable for tests
var (
	findPort = bus.FindPort
	openLink = func(opts bus.RTUOptions) (bus.Link, error) { return bus.OpenRTU(opts) }
)

// Hardware drives a pump over Modbus RTU.
type Hardware struct {
	role   model.Role
	hw     config.PumpHardware
	unitID uint8

	mu    sync.Mutex
	link  bus.Link
	owner bool
	state
}

func NewHardware(role model.Role, hw config.PumpHardware, unitID int) *Hardware {
	return &Hardware{
		role:   role,
		hw:     hw,
		unitID: uint8(unitID),
	}
}

func (p *Hardware) Role() model.Role { return p.role }

// Connect locates the port by serial number unless one is configured, opens
// it and initialises the pump. The driver owns the resulting link.
func (p *Hardware) Connect() error {
	port := p.hw.Port
	if port == "" {
		found, err := findPort(p.hw.SerialNumber)
		if err != nil {
			log.Error().Err(err).Str("pump", string(p.role)).Str("serial_number", p.hw.SerialNumber).Msg("Pump port lookup failed")
			return fmt.Errorf("%w: %w", ErrDeviceNotFound, err)
		}
		port = found
	}

	link, err := openLink(bus.RTUOptions{
		Port:     port,
		Baudrate: p.hw.Baudrate,
		DataBits: p.hw.DataBits,
		StopBits: p.hw.StopBits,
		Parity:   p.hw.Parity,
		Timeout:  p.hw.Timeout(),
	})
	if err != nil {
		log.Error().Err(err).Str("pump", string(p.role)).Str("port", port).Msg("Failed to open pump link")
		return fmt.Errorf("%w: %w", ErrCommunication, err)
	}

	p.mu.Lock()
	p.link = link
	p.owner = true
	p.connected = true
	p.mu.Unlock()

	log.Info().
		Str("pump", string(p.role)).
		Str("port", port).
		Uint8("unit_id", p.unitID).
		Msg("Connected to pump")

	return p.initialize()
}

func (p *Hardware) Attach(link bus.Link) error {
	if link == nil {
		return ErrNotConnected
	}
	p.mu.Lock()
	p.link = link
	p.owner = false
	p.connected = true
	p.mu.Unlock()

	log.Info().Str("pump", string(p.role)).Uint8("unit_id", p.unitID).Msg("Attached pump to shared link")
	return p.initialize()
}

func (p *Hardware) Link() bus.Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link
}

// initialize puts the pump in bus-controlled continuous mode with its max
// speed ceiling. The pump stays connected when a write fails.
func (p *Hardware) initialize() error {
	link := p.Link()
	steps := []struct {
		what string
		fn   func() error
	}{
		{"set communication mode", func() error { return link.WriteRegister(p.unitID, RegCommunication, CommRS485) }},
		{"set operation mode", func() error { return link.WriteRegister(p.unitID, RegOperationMode, ModeContinuous) }},
		{"set max rpm", func() error {
			hi, lo := rpmPair(p.hw.MaxRPM)
			return link.WriteRegisterPair(p.unitID, RegMaxRPM, hi, lo)
		}},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return p.commFailure(s.what, err)
		}
	}
	time.Sleep(writeSettle)
	return nil
}

func (p *Hardware) Run(rpm int, reverse bool) error {
	p.mu.Lock()
	connected, link := p.connected, p.link
	p.mu.Unlock()
	if !connected || link == nil {
		return ErrNotConnected
	}

	commanded, err := clamp(rpm, p.hw.MaxRPM)
	if err != nil {
		log.Warn().Str("pump", string(p.role)).Int("rpm", rpm).Msg("Rejected negative pump speed")
		return err
	}
	if commanded != rpm {
		log.Warn().
			Str("pump", string(p.role)).
			Int("rpm", rpm).
			Int("max_rpm", p.hw.MaxRPM).
			Msg("Requested RPM exceeds max, clamping")
	}

	dir := DirectionCW
	if reverse {
		dir = DirectionCCW
	}
	// direction first so the pump never spins up the wrong way
	if err := link.WriteRegister(p.unitID, RegDirection, dir); err != nil {
		return p.abort("set direction", err)
	}
	hi, lo := rpmPair(commanded)
	if err := link.WriteRegisterPair(p.unitID, RegTargetRPM, hi, lo); err != nil {
		return p.abort("set target rpm", err)
	}
	time.Sleep(writeSettle)
	if err := link.WriteCoil(p.unitID, CoilStartStop, true); err != nil {
		return p.abort("start", err)
	}

	p.mu.Lock()
	p.started(commanded, reverse)
	p.mu.Unlock()

	log.Info().
		Str("pump", string(p.role)).
		Int("rpm", commanded).
		Bool("reverse", reverse).
		Msg("Pump started")
	return nil
}

func (p *Hardware) RunFor(rpm int, d time.Duration, reverse bool) error {
	if err := p.Run(rpm, reverse); err != nil {
		return err
	}
	time.Sleep(d)
	return p.Stop()
}

func (p *Hardware) Stop() error {
	p.mu.Lock()
	connected, link := p.connected, p.link
	p.mu.Unlock()
	if !connected || link == nil {
		return nil
	}

	if err := link.WriteCoil(p.unitID, CoilStartStop, false); err != nil {
		return p.commFailure("stop", err)
	}

	p.mu.Lock()
	wasRunning := p.running
	p.stopped()
	p.mu.Unlock()

	if wasRunning {
		log.Info().Str("pump", string(p.role)).Msg("Pump stopped")
	}
	return nil
}

func (p *Hardware) Disconnect() {
	if err := p.Stop(); err != nil {
		log.Warn().Err(err).Str("pump", string(p.role)).Msg("Stop before disconnect failed")
	}

	p.mu.Lock()
	link, owner := p.link, p.owner
	p.link = nil
	p.owner = false
	p.connected = false
	p.stopped()
	p.mu.Unlock()

	if owner && link != nil {
		if err := link.Close(); err != nil {
			log.Warn().Err(err).Str("pump", string(p.role)).Msg("Failed to close pump link")
		}
	}
	log.Info().Str("pump", string(p.role)).Msg("Disconnected from pump")
}

func (p *Hardware) Status() model.PumpStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status(p.role, int(p.unitID), p.hw.MaxRPM)
}

// abort makes a best-effort attempt to leave the pump stopped after a
// failed write.
func (p *Hardware) abort(what string, err error) error {
	if link := p.Link(); link != nil {
		if stopErr := link.WriteCoil(p.unitID, CoilStartStop, false); stopErr != nil {
			log.Warn().Err(stopErr).Str("pump", string(p.role)).Msg("Best-effort stop after failure also failed")
		} else {
			p.mu.Lock()
			p.stopped()
			p.mu.Unlock()
		}
	}
	return p.commFailure(what, err)
}

func (p *Hardware) commFailure(what string, err error) error {
	datadog.Incr("pump.write.failure", "pump:"+string(p.role))
	log.Error().
		Err(err).
		Str("pump", string(p.role)).
		Uint8("unit_id", p.unitID).
		Msg("Pump " + what + " failed")
	return fmt.Errorf("%w: %s: %w", ErrCommunication, what, err)
}
