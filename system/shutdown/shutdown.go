package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pump-controller/internal/pump"
)

// SafeStop force-stops every pump, then disconnects them in the given
// order. Pass attached drivers before the one that owns the link. It is
// safe to call when nothing is running or connected.
func SafeStop(pumps ...pump.Driver) {
	for _, p := range pumps {
		if p == nil {
			continue
		}
		if err := p.Stop(); err != nil {
			log.Error().Err(err).Str("pump", string(p.Role())).Msg("Failed to stop pump during shutdown")
		}
	}
	for _, p := range pumps {
		if p != nil {
			p.Disconnect()
		}
	}
	log.Info().Msg("Pumps stopped and disconnected")
}

// overridable for tests
var exit = os.Exit

func ShutdownWithError(err error, msg string, pumps ...pump.Driver) {
	log.Error().Err(err).Msg(msg)
	SafeStop(pumps...)
	exit(1)
}
