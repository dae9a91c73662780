package operation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pump-controller/internal/model"
	"github.com/thatsimonsguy/pump-controller/internal/pump"
)

const DefaultTick = 100 * time.Millisecond

// ProgressFunc receives non-decreasing elapsed values, never above total.
type ProgressFunc func(elapsed, total time.Duration)

type Result struct {
	Outcome model.Outcome
	Err     error
}

func (r Result) Success() bool {
	return r.Outcome == model.OutcomeSucceeded
}

// Sequencer drives a dispenser and retractor through a Plan.
type Sequencer struct {
	Dispenser pump.Driver
	Retractor pump.Driver
	Tick      time.Duration
}

func NewSequencer(dispenser, retractor pump.Driver, tick time.Duration) *Sequencer {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Sequencer{Dispenser: dispenser, Retractor: retractor, Tick: tick}
}

type execution struct {
	seq      *Sequencer
	plan     Plan
	start    time.Time
	last     time.Duration
	progress ProgressFunc
	errs     []error
}

// Execute runs plan until it completes or ctx is cancelled. Pump failures
// do not cut the timing short; they turn the outcome into a failure.
func (s *Sequencer) Execute(ctx context.Context, plan Plan, progress ProgressFunc) Result {
	e := &execution{seq: s, plan: plan, start: time.Now(), progress: progress}
	logger := log.With().Str("operation", string(plan.Name)).Logger()

	logger.Info().
		Int("retractor_rpm", plan.RetractorRPM).
		Int("dispenser_rpm", plan.DispenserRPM).
		Dur("duration", plan.Duration).
		Dur("settle", plan.Settle).
		Msg("Starting operation")

	e.check("start retractor", s.Retractor.Run(plan.RetractorRPM, plan.RetractorReverse))
	if ctx.Err() != nil {
		return e.cancelled()
	}
	e.check("start dispenser", s.Dispenser.Run(plan.DispenserRPM, plan.DispenserReverse))
	// phases are timed from the moment both pumps have been commanded
	e.start = time.Now()

	if !e.waitUntil(ctx, plan.Duration) {
		return e.cancelled()
	}
	e.check("stop dispenser", s.Dispenser.Stop())

	if !e.waitUntil(ctx, plan.Total()) {
		return e.cancelled()
	}
	e.check("stop retractor", s.Retractor.Stop())

	e.report(plan.Total())

	if err := errors.Join(e.errs...); err != nil {
		logger.Error().Err(err).Msg("Operation finished with pump errors")
		return Result{Outcome: model.OutcomeFailed, Err: err}
	}
	logger.Info().Dur("elapsed", time.Since(e.start)).Msg("Operation completed")
	return Result{Outcome: model.OutcomeSucceeded}
}

// StopAll commands both pumps to stop and reports every failure.
func (s *Sequencer) StopAll() error {
	return errors.Join(s.Dispenser.Stop(), s.Retractor.Stop())
}

func (e *execution) check(what string, err error) {
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", what, err))
	}
}

func (e *execution) cancelled() Result {
	if err := e.seq.StopAll(); err != nil {
		log.Warn().Err(err).Str("operation", string(e.plan.Name)).Msg("Stop after cancel failed")
	}
	log.Info().
		Str("operation", string(e.plan.Name)).
		Dur("elapsed", time.Since(e.start)).
		Msg("Operation stopped")
	return Result{Outcome: model.OutcomeStopped, Err: errors.Join(e.errs...)}
}

// waitUntil ticks until the run has been going for at least until. It
// returns false as soon as ctx is cancelled.
func (e *execution) waitUntil(ctx context.Context, until time.Duration) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		elapsed := time.Since(e.start)
		if elapsed >= until {
			return true
		}
		step := e.seq.Tick
		if remaining := until - elapsed; remaining < step {
			step = remaining
		}
		t := time.NewTimer(step)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		e.report(time.Since(e.start))
	}
}

func (e *execution) report(elapsed time.Duration) {
	total := e.plan.Total()
	if elapsed > total {
		elapsed = total
	}
	if elapsed < e.last {
		elapsed = e.last
	}
	e.last = elapsed
	if e.progress != nil {
		e.progress(elapsed, total)
	}
}
