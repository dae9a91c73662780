package operation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thatsimonsguy/pump-controller/internal/config"
	"github.com/thatsimonsguy/pump-controller/internal/model"
)

var ErrUnknownOperation = errors.New("unknown operation")

// Plan is one operation resolved against configuration. Both pumps start
// together, the dispenser stops after Duration and the retractor after a
// further Settle.
type Plan struct {
	Name             model.Operation
	RetractorRPM     int
	DispenserRPM     int
	Duration         time.Duration
	Settle           time.Duration
	RetractorReverse bool
	DispenserReverse bool
}

func (p Plan) Total() time.Duration {
	return p.Duration + p.Settle
}

// Parse accepts an operation name in any case.
func Parse(name string) (model.Operation, error) {
	for _, op := range model.Operations {
		if strings.EqualFold(string(op), strings.TrimSpace(name)) {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, name)
}

// Resolve builds the plan for op. A positive override replaces the
// configured dispenser-phase duration.
func Resolve(op model.Operation, s config.OperationSettings, override time.Duration) (Plan, error) {
	settle := seconds(s.OperationSleep)

	var p Plan
	switch op {
	case model.OpFill:
		p = Plan{
			RetractorRPM:     s.RetractorRPM,
			DispenserRPM:     s.FillDispenserRPM,
			Duration:         seconds(s.FillDuration),
			Settle:           settle,
			RetractorReverse: orDefault(s.FillRetractorReverse, true),
			DispenserReverse: orDefault(s.FillDispenserReverse, false),
		}
	case model.OpDispense:
		p = Plan{
			RetractorRPM:     s.RetractorRPM,
			DispenserRPM:     s.DispenseDispenserRPM,
			Duration:         seconds(s.DispenseDuration),
			Settle:           settle,
			RetractorReverse: orDefault(s.DispenseRetractorReverse, true),
			DispenserReverse: orDefault(s.DispenseDispenserReverse, false),
		}
	case model.OpDrain:
		// no settle phase, both pumps stop together
		p = Plan{
			RetractorRPM:     s.RetractorRPM,
			DispenserRPM:     s.DrainDispenserRPM,
			Duration:         seconds(s.DrainDuration),
			RetractorReverse: orDefault(s.DrainRetractorReverse, true),
			DispenserReverse: orDefault(s.DrainDispenserReverse, true),
		}
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}

	p.Name = op
	if override > 0 {
		p.Duration = override
	}
	return p, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func orDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
