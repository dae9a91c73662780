package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pump-controller/internal/config"
	"github.com/thatsimonsguy/pump-controller/internal/datadog"
	"github.com/thatsimonsguy/pump-controller/internal/model"
	"github.com/thatsimonsguy/pump-controller/internal/operation"
)

var (
	ErrOperationInProgress = errors.New("another operation is already running")
	ErrStopTimeout         = errors.New("operation did not stop within the grace period")
	ErrNotRunning          = errors.New("no operation is running")
)

// Listener receives the events of every run. Calls are made while the
// run's state is locked, so implementations must not block.
type Listener interface {
	OnProgress(model.Progress)
	OnCompleted(model.Completion)
}

type Request struct {
	Operation model.Operation
	// Override replaces the configured duration when positive.
	Override  time.Duration
	Scheduled bool
}

// Runner executes at most one operation at a time in its own goroutine.
type Runner struct {
	seq      *operation.Sequencer
	settings config.OperationSettings
	grace    time.Duration
	listener Listener

	mu     sync.Mutex
	active *run
	// set while a forced termination is still stopping the pumps
	stopping bool
}

type run struct {
	id        string
	plan      operation.Plan
	seq       *operation.Sequencer
	scheduled bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu            sync.Mutex
	closed        bool
	stopRequested bool
	elapsed       time.Duration
	watchdog      *time.Timer
}

func New(seq *operation.Sequencer, settings config.OperationSettings, grace time.Duration, listener Listener) *Runner {
	if grace <= 0 {
		grace = config.DefaultStopGrace
	}
	if listener == nil {
		listener = nopListener{}
	}
	return &Runner{seq: seq, settings: settings, grace: grace, listener: listener}
}

// Start launches the operation and returns its run id without waiting for
// it. Overlapping requests are rejected, never queued.
func (r *Runner) Start(req Request) (string, error) {
	plan, err := operation.Resolve(req.Operation, r.settings, req.Override)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	if r.active != nil {
		current := r.active.plan.Name
		r.mu.Unlock()
		log.Warn().
			Str("operation", string(req.Operation)).
			Str("running", string(current)).
			Msg("Rejected operation, another is running")
		return "", ErrOperationInProgress
	}
	if r.stopping {
		r.mu.Unlock()
		log.Warn().
			Str("operation", string(req.Operation)).
			Msg("Rejected operation, pumps are still being stopped")
		return "", ErrOperationInProgress
	}
	ctx, cancel := context.WithCancel(context.Background())
	rn := &run{
		id:        uuid.NewString(),
		plan:      plan,
		scheduled: req.Scheduled,
		startedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	rn.seq = &operation.Sequencer{
		Dispenser: gatedPump{Driver: r.seq.Dispenser, rn: rn},
		Retractor: gatedPump{Driver: r.seq.Retractor, rn: rn},
		Tick:      r.seq.Tick,
	}
	r.active = rn
	r.mu.Unlock()

	log.Info().
		Str("run_id", rn.id).
		Str("operation", string(plan.Name)).
		Bool("scheduled", req.Scheduled).
		Dur("total", plan.Total()).
		Msg("Operation started")
	datadog.Incr("pump.operation.started", "operation:"+string(plan.Name))

	go r.execute(ctx, rn)
	return rn.id, nil
}

func (r *Runner) execute(ctx context.Context, rn *run) {
	res := rn.seq.Execute(ctx, rn.plan, func(elapsed, total time.Duration) {
		r.progress(rn, elapsed, total)
	})

	c := model.Completion{
		RunID:     rn.id,
		Operation: rn.plan.Name,
		Success:   res.Success(),
		Outcome:   res.Outcome,
		Scheduled: rn.scheduled,
	}
	if res.Err != nil {
		c.Error = res.Err.Error()
	}
	if !r.finish(rn, c) {
		log.Warn().
			Str("run_id", rn.id).
			Str("operation", string(rn.plan.Name)).
			Msg("Dropped completion of terminated operation")
	}
}

func (r *Runner) progress(rn *run, elapsed, total time.Duration) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.closed {
		return
	}
	rn.elapsed = elapsed
	r.listener.OnProgress(model.Progress{
		RunID:     rn.id,
		Operation: rn.plan.Name,
		Elapsed:   elapsed,
		Total:     total,
	})
}

// finish emits the terminal event for rn exactly once. The run is released
// before the event goes out so a listener may start the next one.
func (r *Runner) finish(rn *run, c model.Completion) bool {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.closed {
		return false
	}
	rn.closed = true
	if rn.watchdog != nil {
		rn.watchdog.Stop()
	}
	rn.cancel()

	r.mu.Lock()
	if r.active == rn {
		r.active = nil
	}
	r.mu.Unlock()

	datadog.Incr("pump.operation.completed", "operation:"+string(rn.plan.Name), "outcome:"+string(c.Outcome))
	datadog.Timing("pump.operation.duration", time.Since(rn.startedAt), "operation:"+string(rn.plan.Name))

	log.Info().
		Str("run_id", rn.id).
		Str("operation", string(c.Operation)).
		Bool("success", c.Success).
		Str("outcome", string(c.Outcome)).
		Msg("Operation finished")

	r.listener.OnCompleted(c)
	close(rn.done)
	return true
}

// RequestStop cancels the active run and stops both pumps straight away.
// If the run has not finished within the grace period it is abandoned and
// a Terminated completion is emitted in its place.
func (r *Runner) RequestStop() error {
	r.mu.Lock()
	rn := r.active
	r.mu.Unlock()
	if rn == nil {
		return ErrNotRunning
	}

	rn.mu.Lock()
	if rn.closed {
		rn.mu.Unlock()
		return ErrNotRunning
	}
	first := !rn.stopRequested
	if first {
		rn.stopRequested = true
		rn.watchdog = time.AfterFunc(r.grace, func() { r.terminate(rn) })
	}
	rn.mu.Unlock()

	rn.cancel()
	if first {
		log.Info().Str("run_id", rn.id).Str("operation", string(rn.plan.Name)).Msg("Stop requested")
	}
	// a wedged write holds the link, so never wait on it here
	go func() {
		if err := rn.seq.StopAll(); err != nil {
			log.Warn().Err(err).Str("run_id", rn.id).Msg("Immediate pump stop failed")
		}
	}()
	return nil
}

func (r *Runner) terminate(rn *run) {
	log.Error().
		Err(ErrStopTimeout).
		Str("run_id", rn.id).
		Str("operation", string(rn.plan.Name)).
		Dur("grace", r.grace).
		Msg("Forcing termination of operation")

	r.setStopping(true)
	ok := r.finish(rn, model.Completion{
		RunID:     rn.id,
		Operation: model.OpTerminated,
		Success:   false,
		Outcome:   model.OutcomeStopped,
		Scheduled: rn.scheduled,
		Error:     fmt.Sprintf("%s: %s", rn.plan.Name, ErrStopTimeout),
	})
	if !ok {
		r.setStopping(false)
		return
	}
	// the run goroutine may be the one stuck, so stop from here
	go func() {
		defer r.setStopping(false)
		if err := r.seq.StopAll(); err != nil {
			log.Error().Err(err).Str("run_id", rn.id).Msg("Out-of-band pump stop failed")
		}
	}()
}

func (r *Runner) setStopping(v bool) {
	r.mu.Lock()
	r.stopping = v
	r.mu.Unlock()
}

// Wait blocks until no run is active or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	rn := r.active
	r.mu.Unlock()
	if rn == nil {
		return nil
	}
	select {
	case <-rn.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *Runner) Active() (model.RunStatus, bool) {
	r.mu.Lock()
	rn := r.active
	r.mu.Unlock()
	if rn == nil {
		return model.RunStatus{}, false
	}

	rn.mu.Lock()
	defer rn.mu.Unlock()
	return model.RunStatus{
		ID:        rn.id,
		Operation: rn.plan.Name,
		Scheduled: rn.scheduled,
		StartedAt: rn.startedAt,
		Elapsed:   rn.elapsed.Seconds(),
		Total:     rn.plan.Total().Seconds(),
	}, true
}

// StopPumps commands both pumps to stop regardless of run state.
func (r *Runner) StopPumps() error {
	return r.seq.StopAll()
}

type nopListener struct{}

func (nopListener) OnProgress(model.Progress) {}
func (nopListener) OnCompleted(model.Completion) {}
