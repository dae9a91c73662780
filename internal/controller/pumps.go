package controller

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pump-controller/internal/config"
	"github.com/thatsimonsguy/pump-controller/internal/model"
	"github.com/thatsimonsguy/pump-controller/internal/pump"
)

// NewPumps builds the dispenser and retractor drivers described by cfg.
func NewPumps(cfg *config.Config) (dispenser, retractor pump.Driver) {
	hw := cfg.PumpHardware
	if cfg.Runtime.Simulate {
		log.Warn().Msg("SIMULATION ENABLED - no pump hardware will be driven")
		return pump.NewSimulated(model.RoleDispenser, cfg.PumpDispenser.UnitID, hw.MaxRPM),
			pump.NewSimulated(model.RoleRetractor, cfg.PumpRetractor.UnitID, hw.MaxRPM)
	}
	return pump.NewHardware(model.RoleDispenser, hw, cfg.PumpDispenser.UnitID),
		pump.NewHardware(model.RoleRetractor, hw, cfg.PumpRetractor.UnitID)
}

// ConnectPumps opens the bus through the dispenser and attaches the
// retractor to the same link.
func ConnectPumps(dispenser, retractor pump.Driver) error {
	if err := dispenser.Connect(); err != nil {
		return fmt.Errorf("connect dispenser: %w", err)
	}
	if err := retractor.Attach(dispenser.Link()); err != nil {
		return fmt.Errorf("attach retractor: %w", err)
	}
	return nil
}
