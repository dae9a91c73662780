package scheduler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pump-controller/internal/datadog"
	"github.com/thatsimonsguy/pump-controller/internal/model"
	"github.com/thatsimonsguy/pump-controller/internal/runner"
)

var (
	ErrScheduleConflict = errors.New("cannot start schedule while an operation is running")
	ErrAlreadyActive    = errors.New("schedule is already active")
	ErrInvalidSchedule  = errors.New("interval and duration must be positive")
)

// Starter is the part of the runner the scheduler drives.
type Starter interface {
	Start(runner.Request) (string, error)
	Running() bool
}

type Listener interface {
	Schedule(model.ScheduleState)
	Countdown(remaining string, next time.Time)
}

// SaveFunc persists the schedule state after every change.
type SaveFunc func(model.ScheduleState) error

// Scheduler fires a Dispense every interval while active. Firing time is
// owned by cron; next_fire is recomputed from the clock after each fire.
type Scheduler struct {
	starter  Starter
	listener Listener
	save     SaveFunc
	cron     *cron.Cron
	now      func() time.Time

	mu        sync.Mutex
	state     model.ScheduleState
	fireID    cron.EntryID
	tickID    cron.EntryID
	scheduled bool
}

func New(starter Starter, listener Listener, save SaveFunc) *Scheduler {
	s := &Scheduler{
		starter:  starter,
		listener: listener,
		save:     save,
		cron:     cron.New(),
		now:      time.Now,
	}
	s.cron.Start()
	return s
}

// Start arms the schedule. It is refused while an operation is running or
// when the schedule is already active.
func (s *Scheduler) Start(intervalMinutes, durationSeconds int) error {
	if intervalMinutes <= 0 || durationSeconds <= 0 {
		return fmt.Errorf("%w: interval=%d duration=%d", ErrInvalidSchedule, intervalMinutes, durationSeconds)
	}

	s.mu.Lock()
	if s.state.Active {
		s.mu.Unlock()
		log.Warn().Msg("Rejected schedule start, already active")
		return ErrAlreadyActive
	}
	if s.starter.Running() {
		s.mu.Unlock()
		log.Warn().Msg("Rejected schedule start, operation in progress")
		return ErrScheduleConflict
	}

	interval := time.Duration(intervalMinutes) * time.Minute
	s.state = model.ScheduleState{
		Active:          true,
		IntervalMinutes: intervalMinutes,
		DurationSeconds: durationSeconds,
		NextFire:        s.now().Add(interval),
	}
	s.fireID = s.cron.Schedule(cron.Every(interval), cron.FuncJob(s.fire))
	s.tickID = s.cron.Schedule(cron.Every(time.Second), cron.FuncJob(s.tick))
	s.scheduled = true
	st := s.state
	s.mu.Unlock()

	log.Info().
		Int("interval", intervalMinutes).
		Int("duration", durationSeconds).
		Time("next_fire", st.NextFire).
		Msg("Schedule started")
	s.changed(st)
	return nil
}

// Stop disarms the schedule. Stopping an inactive schedule is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.state.Active {
		s.mu.Unlock()
		return
	}
	s.disarmLocked()
	s.state = model.ScheduleState{
		IntervalMinutes: s.state.IntervalMinutes,
		DurationSeconds: s.state.DurationSeconds,
	}
	st := s.state
	s.mu.Unlock()

	log.Info().Msg("Schedule stopped")
	s.changed(st)
}

func (s *Scheduler) disarmLocked() {
	if s.scheduled {
		s.cron.Remove(s.fireID)
		s.cron.Remove(s.tickID)
		s.scheduled = false
	}
}

// Close stops the cron loop. Any running job is left to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.disarmLocked()
	s.mu.Unlock()
	<-s.cron.Stop().Done()
}

func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Active
}

func (s *Scheduler) State() model.ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Countdown is the time left until the next fire, empty when inactive.
func (s *Scheduler) Countdown() string {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if !st.Active || st.NextFire.IsZero() {
		return ""
	}
	return formatRemaining(st.NextFire.Sub(s.now()))
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if !s.state.Active {
		s.mu.Unlock()
		return
	}
	duration := time.Duration(s.state.DurationSeconds) * time.Second
	s.mu.Unlock()

	id, err := s.starter.Start(runner.Request{
		Operation: model.OpDispense,
		Override:  duration,
		Scheduled: true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Scheduled dispense not started")
	} else {
		log.Info().Str("run_id", id).Dur("duration", duration).Msg("Scheduled dispense started")
	}

	// next_fire moves on whether or not the dispense started
	s.mu.Lock()
	if !s.state.Active {
		s.mu.Unlock()
		return
	}
	s.state.NextFire = s.now().Add(time.Duration(s.state.IntervalMinutes) * time.Minute)
	st := s.state
	s.mu.Unlock()

	log.Debug().Time("next_fire", st.NextFire).Msg("Next scheduled dispense")
	s.changed(st)
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if !st.Active || s.listener == nil {
		return
	}
	s.listener.Countdown(s.Countdown(), st.NextFire)
}

func (s *Scheduler) changed(st model.ScheduleState) {
	active := 0.0
	if st.Active {
		active = 1
	}
	datadog.Gauge("pump.schedule.active", active)

	if s.save != nil {
		if err := s.save(st); err != nil {
			log.Error().Err(err).Msg("Failed to persist schedule state")
		}
	}
	if s.listener != nil {
		s.listener.Schedule(st)
	}
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	h, m, sec := secs/3600, (secs%3600)/60, secs%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}
