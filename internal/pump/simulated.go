package pump

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pump-controller/internal/bus"
	"github.com/thatsimonsguy/pump-controller/internal/model"
)

type Command struct {
	Action  string // "run" or "stop"
	RPM     int
	Reverse bool
	At      time.Time
}

// Simulated keeps pump state in memory and records every command it
// accepts.
type Simulated struct {
	role   model.Role
	unitID int
	maxRPM int

	mu      sync.Mutex
	link    bus.Link
	history []Command
	state
}

func NewSimulated(role model.Role, unitID, maxRPM int) *Simulated {
	return &Simulated{role: role, unitID: unitID, maxRPM: maxRPM}
}

func (p *Simulated) Role() model.Role { return p.role }

func (p *Simulated) Connect() error {
	p.mu.Lock()
	p.connected = true
	if p.link == nil {
		p.link = bus.NewRecorder()
	}
	p.mu.Unlock()
	log.Info().Str("pump", string(p.role)).Int("unit_id", p.unitID).Msg("[SIMULATED] Connected to pump")
	return nil
}

func (p *Simulated) Attach(link bus.Link) error {
	p.mu.Lock()
	p.link = link
	p.connected = true
	p.mu.Unlock()
	return nil
}

func (p *Simulated) Link() bus.Link {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link
}

func (p *Simulated) Run(rpm int, reverse bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return ErrNotConnected
	}
	commanded, err := clamp(rpm, p.maxRPM)
	if err != nil {
		return err
	}
	p.started(commanded, reverse)
	p.history = append(p.history, Command{Action: "run", RPM: commanded, Reverse: reverse, At: time.Now()})
	log.Info().Str("pump", string(p.role)).Int("rpm", commanded).Bool("reverse", reverse).Msg("[SIMULATED] Pump started")
	return nil
}

func (p *Simulated) RunFor(rpm int, d time.Duration, reverse bool) error {
	if err := p.Run(rpm, reverse); err != nil {
		return err
	}
	time.Sleep(d)
	return p.Stop()
}

func (p *Simulated) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil
	}
	p.stopped()
	p.history = append(p.history, Command{Action: "stop", At: time.Now()})
	return nil
}

func (p *Simulated) Disconnect() {
	p.Stop()

	p.mu.Lock()
	p.connected = false
	p.link = nil
	p.mu.Unlock()
	log.Info().Str("pump", string(p.role)).Msg("[SIMULATED] Disconnected from pump")
}

func (p *Simulated) Status() model.PumpStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.status(p.role, p.unitID, p.maxRPM)
	st.Simulated = true
	return st
}

func (p *Simulated) History() []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Command(nil), p.history...)
}

func (p *Simulated) ResetHistory() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
}
