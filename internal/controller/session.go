package controller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pump-controller/db"
	"github.com/thatsimonsguy/pump-controller/internal/config"
	"github.com/thatsimonsguy/pump-controller/internal/events"
	"github.com/thatsimonsguy/pump-controller/internal/model"
	"github.com/thatsimonsguy/pump-controller/internal/notifications"
	"github.com/thatsimonsguy/pump-controller/internal/operation"
	"github.com/thatsimonsguy/pump-controller/internal/pump"
	"github.com/thatsimonsguy/pump-controller/internal/runner"
	"github.com/thatsimonsguy/pump-controller/internal/scheduler"
	"github.com/thatsimonsguy/pump-controller/system/shutdown"
)

var ErrManualDisabled = fmt.Errorf("%w: manual fill and drain are disabled", scheduler.ErrScheduleConflict)

// Session owns both pumps and routes every operator intent through one lock
// so a schedule start and a manual Fill or Drain cannot interleave.
type Session struct {
	cfg       *config.Config
	dispenser pump.Driver
	retractor pump.Driver
	runner    *runner.Runner
	scheduler *scheduler.Scheduler
	hub       *events.Hub
	db        *sql.DB

	mu sync.Mutex
}

// NewSession wires a session around already constructed pumps. dbConn may be
// nil, in which case schedule state is not persisted.
func NewSession(cfg *config.Config, dispenser, retractor pump.Driver, dbConn *sql.DB) *Session {
	s := &Session{
		cfg:       cfg,
		dispenser: dispenser,
		retractor: retractor,
		hub:       events.NewHub(events.DefaultBuffer),
		db:        dbConn,
	}
	seq := operation.NewSequencer(dispenser, retractor, cfg.Tick())
	s.runner = runner.New(seq, cfg.OperationSettings, cfg.StopGrace(), s)

	var save scheduler.SaveFunc
	if dbConn != nil {
		save = func(st model.ScheduleState) error { return db.SaveSchedule(dbConn, st) }
	}
	s.scheduler = scheduler.New(s.runner, s.hub, save)
	return s
}

func (s *Session) Connect() error {
	return ConnectPumps(s.dispenser, s.retractor)
}

func (s *Session) Hub() *events.Hub { return s.hub }

// StartOperation runs op in the background. Fill and Drain are refused while
// the schedule is active; a manual Dispense is allowed alongside it.
func (s *Session) StartOperation(op model.Operation, override time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op != model.OpDispense && s.scheduler.Active() {
		log.Warn().Str("operation", string(op)).Msg("Rejected manual operation while schedule is active")
		return "", ErrManualDisabled
	}
	return s.runner.Start(runner.Request{Operation: op, Override: override})
}

func (s *Session) RequestStop() error {
	return s.runner.RequestStop()
}

func (s *Session) StartSchedule(intervalMinutes, durationSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduler.Start(intervalMinutes, durationSeconds)
}

func (s *Session) StopSchedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduler.Stop()
}

// ResumeSchedule re-arms a schedule persisted as active. The next fire is a
// full interval from now.
func (s *Session) ResumeSchedule() error {
	if s.db == nil || !s.cfg.ScheduledSettings.ResumeOnStart {
		return nil
	}
	st, err := db.GetSchedule(s.db)
	if err != nil {
		return err
	}
	if !st.Active {
		return nil
	}
	log.Info().
		Int("interval", st.IntervalMinutes).
		Int("duration", st.DurationSeconds).
		Msg("Resuming persisted schedule")
	return s.StartSchedule(st.IntervalMinutes, st.DurationSeconds)
}

type Status struct {
	Pumps            []model.PumpStatus  `json:"pumps"`
	Run              *model.RunStatus    `json:"run,omitempty"`
	Schedule         model.ScheduleState `json:"schedule"`
	Countdown        string              `json:"countdown"`
	FillDrainEnabled bool                `json:"fill_drain_enabled"`
}

func (s *Session) Status() Status {
	st := Status{
		Pumps:     []model.PumpStatus{s.dispenser.Status(), s.retractor.Status()},
		Schedule:  s.scheduler.State(),
		Countdown: s.scheduler.Countdown(),
	}
	st.FillDrainEnabled = !st.Schedule.Active
	if run, ok := s.runner.Active(); ok {
		st.Run = &run
	}
	return st
}

// Wait blocks until the active run, if any, has finished.
func (s *Session) Wait(ctx context.Context) error {
	return s.runner.Wait(ctx)
}

// Shutdown disarms the schedule, stops any run within the grace period and
// then unconditionally stops and disconnects both pumps.
func (s *Session) Shutdown(ctx context.Context) {
	s.StopSchedule()
	s.scheduler.Close()

	if err := s.runner.RequestStop(); err == nil {
		// the runner's own watchdog may still need to fire, so allow a little
		// more than the grace period
		waitCtx, cancel := context.WithTimeout(ctx, s.cfg.StopGrace()+time.Second)
		if err := s.runner.Wait(waitCtx); err != nil {
			log.Warn().Err(err).Msg("Operation did not finish before shutdown")
		}
		cancel()
	} else if !errors.Is(err, runner.ErrNotRunning) {
		log.Warn().Err(err).Msg("Stop request during shutdown failed")
	}

	shutdown.SafeStop(s.retractor, s.dispenser)
	s.hub.Close()
}

func (s *Session) OnProgress(p model.Progress) {
	s.hub.OnProgress(p)
}

func (s *Session) OnCompleted(c model.Completion) {
	s.hub.OnCompleted(c)

	switch {
	case c.Operation == model.OpTerminated:
		notifications.Alert("Pump operation terminated", fmt.Sprintf("A stop request did not complete in time: %s", c.Error))
	case c.Scheduled && c.Outcome == model.OutcomeFailed:
		notifications.Alert("Scheduled dispense failed", c.Error)
	}
}
