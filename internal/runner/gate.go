package runner

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pump-controller/internal/pump"
)

var errRunClosed = errors.New("run already closed")

// gatedPump forwards commands to a pump only while its run is open. Once
// the watchdog has closed a run, a late command from its goroutine is
// dropped so it cannot reach the pumps of the run that follows.
type gatedPump struct {
	pump.Driver
	rn *run
}

func (g gatedPump) Run(rpm int, reverse bool) error {
	if g.closed("run") {
		return errRunClosed
	}
	return g.Driver.Run(rpm, reverse)
}

func (g gatedPump) RunFor(rpm int, d time.Duration, reverse bool) error {
	if g.closed("run") {
		return errRunClosed
	}
	return g.Driver.RunFor(rpm, d, reverse)
}

// Stop from a closed run is dropped without error; whoever closed it has
// already stopped the pumps.
func (g gatedPump) Stop() error {
	if g.closed("stop") {
		return nil
	}
	return g.Driver.Stop()
}

func (g gatedPump) closed(cmd string) bool {
	g.rn.mu.Lock()
	closed := g.rn.closed
	g.rn.mu.Unlock()
	if closed {
		log.Debug().
			Str("run_id", g.rn.id).
			Str("pump", string(g.Driver.Role())).
			Str("command", cmd).
			Msg("Dropped pump command from closed run")
	}
	return closed
}
