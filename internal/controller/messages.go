package controller

import (
	"errors"
	"fmt"

	"github.com/thatsimonsguy/pump-controller/internal/model"
	"github.com/thatsimonsguy/pump-controller/internal/operation"
	"github.com/thatsimonsguy/pump-controller/internal/pump"
	"github.com/thatsimonsguy/pump-controller/internal/runner"
	"github.com/thatsimonsguy/pump-controller/internal/scheduler"
)

// StatusMessage turns a rejected request into the short text shown to the
// operator.
func StatusMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrManualDisabled):
		return "Fill and Drain are disabled while the schedule is active"
	case errors.Is(err, runner.ErrOperationInProgress):
		return "Another operation is already running"
	case errors.Is(err, scheduler.ErrScheduleConflict):
		return "Cannot start the schedule while an operation is running"
	case errors.Is(err, scheduler.ErrAlreadyActive):
		return "Schedule is already active"
	case errors.Is(err, scheduler.ErrInvalidSchedule):
		return "Interval and duration must be positive"
	case errors.Is(err, runner.ErrNotRunning):
		return "No operation is running"
	case errors.Is(err, operation.ErrUnknownOperation):
		return "Unknown operation"
	case errors.Is(err, pump.ErrDeviceNotFound):
		return "Pump not found"
	case errors.Is(err, pump.ErrNotConnected):
		return "Pump not connected"
	case errors.Is(err, pump.ErrCommunication):
		return "Pump communication failure"
	default:
		return err.Error()
	}
}

// CompletionMessage is the terminal status line for a finished run.
func CompletionMessage(c model.Completion) string {
	switch {
	case c.Operation == model.OpTerminated:
		return "Operation terminated after stop timeout"
	case c.Outcome == model.OutcomeStopped:
		return fmt.Sprintf("%s stopped", c.Operation)
	case c.Success:
		return fmt.Sprintf("%s completed", c.Operation)
	default:
		return fmt.Sprintf("%s failed", c.Operation)
	}
}
