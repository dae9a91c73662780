package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/pump-controller/internal/config"
	"github.com/thatsimonsguy/pump-controller/internal/model"
	"github.com/thatsimonsguy/pump-controller/internal/operation"
	"github.com/thatsimonsguy/pump-controller/internal/pump"
)

type recorder struct {
	mu        sync.Mutex
	events    []interface{}
	completed chan model.Completion
}

func newRecorder() *recorder {
	return &recorder{completed: make(chan model.Completion, 8)}
}

func (r *recorder) OnProgress(p model.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *recorder) OnCompleted(c model.Completion) {
	r.mu.Lock()
	r.events = append(r.events, c)
	r.mu.Unlock()
	r.completed <- c
}

func (r *recorder) snapshot() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interface{}(nil), r.events...)
}

func (r *recorder) completions() []model.Completion {
	var out []model.Completion
	for _, e := range r.snapshot() {
		if c, ok := e.(model.Completion); ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *recorder) await(t *testing.T) model.Completion {
	t.Helper()
	select {
	case c := <-r.completed:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for completion")
		return model.Completion{}
	}
}

// stuckPump blocks inside Run until released, like a pump wedged in I/O.
type stuckPump struct {
	*pump.Simulated
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// only the first call wedges
func (p *stuckPump) Run(rpm int, reverse bool) error {
	first := false
	p.once.Do(func() {
		first = true
		close(p.entered)
	})
	if first {
		<-p.release
	}
	return p.Simulated.Run(rpm, reverse)
}

// slowStopPump blocks in Stop until released, like a write waiting on a busy link.
type slowStopPump struct {
	*pump.Simulated
	release chan struct{}
}

func (p *slowStopPump) Stop() error {
	<-p.release
	return p.Simulated.Stop()
}

func testSettings() config.OperationSettings {
	return config.OperationSettings{
		RetractorRPM:         200,
		FillDispenserRPM:     20,
		FillDuration:         0.04,
		DispenseDispenserRPM: 20,
		DispenseDuration:     60,
		DrainDispenserRPM:    200,
		DrainDuration:        0.03,
		OperationSleep:       0.01,
	}
}

func setup(t *testing.T) (*Runner, *recorder, *pump.Simulated, *pump.Simulated) {
	d := pump.NewSimulated(model.RoleDispenser, 1, 600)
	r := pump.NewSimulated(model.RoleRetractor, 2, 600)
	require.NoError(t, d.Connect())
	require.NoError(t, r.Attach(d.Link()))

	rec := newRecorder()
	seq := operation.NewSequencer(d, r, 5*time.Millisecond)
	return New(seq, testSettings(), 50*time.Millisecond, rec), rec, d, r
}

func TestStart_RunsToCompletion(t *testing.T) {
	rn, rec, _, _ := setup(t)

	id, err := rn.Start(Request{Operation: model.OpFill})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, rn.Running())

	c := rec.await(t)
	assert.Equal(t, model.Completion{RunID: id, Operation: model.OpFill, Success: true, Outcome: model.OutcomeSucceeded}, c)
	assert.False(t, rn.Running())

	events := rec.snapshot()
	require.NotEmpty(t, events)
	_, last := events[len(events)-1].(model.Completion)
	assert.True(t, last, "completion must be the final event")
}

func TestStart_RejectsOverlap(t *testing.T) {
	rn, rec, _, _ := setup(t)

	id, err := rn.Start(Request{Operation: model.OpDispense})
	require.NoError(t, err)
	before, ok := rn.Active()
	require.True(t, ok)

	for _, op := range model.Operations {
		_, err := rn.Start(Request{Operation: op})
		assert.ErrorIs(t, err, ErrOperationInProgress)
	}

	after, ok := rn.Active()
	require.True(t, ok)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, model.OpDispense, after.Operation)

	require.NoError(t, rn.RequestStop())
	c := rec.await(t)
	assert.Equal(t, id, c.RunID)
}

func TestStart_UnknownOperation(t *testing.T) {
	rn, _, _, _ := setup(t)
	_, err := rn.Start(Request{Operation: "Flush"})
	assert.ErrorIs(t, err, operation.ErrUnknownOperation)
	assert.False(t, rn.Running())
}

func TestStart_AcceptedRightAfterCompletion(t *testing.T) {
	rn, rec, _, _ := setup(t)

	_, err := rn.Start(Request{Operation: model.OpDrain})
	require.NoError(t, err)
	rec.await(t)

	_, err = rn.Start(Request{Operation: model.OpDrain})
	require.NoError(t, err)
	c := rec.await(t)
	assert.True(t, c.Success)
}

func TestRequestStop_CancelsAndStopsPumps(t *testing.T) {
	rn, rec, d, r := setup(t)

	_, err := rn.Start(Request{Operation: model.OpDispense})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, rn.RequestStop())
	c := rec.await(t)
	assert.False(t, d.Status().Running)
	assert.False(t, r.Status().Running)

	assert.Equal(t, model.OpDispense, c.Operation)
	assert.False(t, c.Success)
	assert.Equal(t, model.OutcomeStopped, c.Outcome)

	// the grace period passes without a second terminal event
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.completions(), 1)
}

func TestRequestStop_NothingRunning(t *testing.T) {
	rn, _, _, _ := setup(t)
	assert.ErrorIs(t, rn.RequestStop(), ErrNotRunning)
}

func TestRequestStop_EscalatesWhenStuck(t *testing.T) {
	d := pump.NewSimulated(model.RoleDispenser, 1, 600)
	require.NoError(t, d.Connect())
	stuck := &stuckPump{
		Simulated: pump.NewSimulated(model.RoleRetractor, 2, 600),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	require.NoError(t, stuck.Attach(d.Link()))

	rec := newRecorder()
	rn := New(operation.NewSequencer(d, stuck, 5*time.Millisecond), testSettings(), 30*time.Millisecond, rec)

	id, err := rn.Start(Request{Operation: model.OpFill})
	require.NoError(t, err)
	<-stuck.entered

	start := time.Now()
	require.NoError(t, rn.RequestStop())

	c := rec.await(t)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, id, c.RunID)
	assert.Equal(t, model.OpTerminated, c.Operation)
	assert.False(t, c.Success)
	assert.Contains(t, c.Error, ErrStopTimeout.Error())
	assert.False(t, rn.Running())

	// both pumps were told to stop even though the run is wedged
	assert.Eventually(t, func() bool {
		return countStops(d.History()) >= 2 && countStops(stuck.History()) >= 2
	}, time.Second, 5*time.Millisecond)

	// a new operation is accepted while the old one is still stuck
	require.Eventually(t, func() bool {
		_, err = rn.Start(Request{Operation: model.OpDrain})
		return err == nil
	}, time.Second, 5*time.Millisecond)
	next := rec.await(t)
	assert.Equal(t, model.OpDrain, next.Operation)

	// the abandoned run unblocks later and its completion is dropped
	close(stuck.release)
	time.Sleep(50 * time.Millisecond)
	for _, got := range rec.completions() {
		if got.RunID == id {
			assert.Equal(t, model.OpTerminated, got.Operation)
		}
	}
	assert.Len(t, rec.completions(), 2)
}

func TestRequestStop_AbandonedRunCannotStopNextRun(t *testing.T) {
	d := pump.NewSimulated(model.RoleDispenser, 1, 600)
	require.NoError(t, d.Connect())
	stuck := &stuckPump{
		Simulated: pump.NewSimulated(model.RoleRetractor, 2, 600),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	require.NoError(t, stuck.Attach(d.Link()))

	rec := newRecorder()
	rn := New(operation.NewSequencer(d, stuck, 5*time.Millisecond), testSettings(), 30*time.Millisecond, rec)

	_, err := rn.Start(Request{Operation: model.OpFill})
	require.NoError(t, err)
	<-stuck.entered
	require.NoError(t, rn.RequestStop())
	assert.Equal(t, model.OpTerminated, rec.await(t).Operation)

	var id string
	require.Eventually(t, func() bool {
		id, err = rn.Start(Request{Operation: model.OpDispense})
		return err == nil
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return d.Status().Running && stuck.Status().Running
	}, time.Second, 5*time.Millisecond)

	// the wedged Fill returns and runs its cancel path
	close(stuck.release)
	time.Sleep(50 * time.Millisecond)

	assert.True(t, d.Status().Running, "dispenser of the next run was stopped")
	assert.True(t, stuck.Status().Running, "retractor of the next run was stopped")
	active, ok := rn.Active()
	require.True(t, ok)
	assert.Equal(t, id, active.ID)
	assert.Len(t, rec.completions(), 1)

	require.NoError(t, rn.RequestStop())
	c := rec.await(t)
	assert.Equal(t, id, c.RunID)
	assert.Equal(t, model.OutcomeStopped, c.Outcome)
}

func TestRequestStop_DoesNotWaitOnPumpIO(t *testing.T) {
	d := pump.NewSimulated(model.RoleDispenser, 1, 600)
	require.NoError(t, d.Connect())
	slow := &slowStopPump{Simulated: pump.NewSimulated(model.RoleRetractor, 2, 600), release: make(chan struct{})}
	require.NoError(t, slow.Attach(d.Link()))
	defer close(slow.release)

	rec := newRecorder()
	rn := New(operation.NewSequencer(d, slow, 5*time.Millisecond), testSettings(), time.Second, rec)
	_, err := rn.Start(Request{Operation: model.OpDispense})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	returned := make(chan struct{})
	go func() {
		assert.NoError(t, rn.RequestStop())
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("RequestStop blocked on a pump write")
	}
}

func TestRequestStop_Repeated(t *testing.T) {
	rn, rec, _, _ := setup(t)
	_, err := rn.Start(Request{Operation: model.OpDispense})
	require.NoError(t, err)

	require.NoError(t, rn.RequestStop())
	_ = rn.RequestStop()
	rec.await(t)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.completions(), 1)
}

func TestProgress_OrderedAndBounded(t *testing.T) {
	rn, rec, _, _ := setup(t)

	_, err := rn.Start(Request{Operation: model.OpFill})
	require.NoError(t, err)
	rec.await(t)

	var last time.Duration
	var progress []model.Progress
	for _, e := range rec.snapshot() {
		if p, ok := e.(model.Progress); ok {
			progress = append(progress, p)
		}
	}
	require.NotEmpty(t, progress)
	for _, p := range progress {
		assert.GreaterOrEqual(t, p.Elapsed, last)
		assert.LessOrEqual(t, p.Elapsed, p.Total)
		last = p.Elapsed
	}
	final := progress[len(progress)-1]
	assert.Equal(t, final.Total, final.Elapsed)
}

func TestStart_OverrideAndScheduled(t *testing.T) {
	rn, rec, _, _ := setup(t)

	_, err := rn.Start(Request{Operation: model.OpDispense, Override: 20 * time.Millisecond, Scheduled: true})
	require.NoError(t, err)

	st, ok := rn.Active()
	require.True(t, ok)
	assert.True(t, st.Scheduled)
	assert.InDelta(t, 0.03, st.Total, 0.0001)

	c := rec.await(t)
	assert.True(t, c.Success)
	assert.True(t, c.Scheduled)
}

func TestWait(t *testing.T) {
	rn, _, _, _ := setup(t)
	assert.NoError(t, rn.Wait(context.Background()))

	_, err := rn.Start(Request{Operation: model.OpDispense})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rn.Wait(ctx), context.DeadlineExceeded)

	require.NoError(t, rn.RequestStop())
	assert.NoError(t, rn.Wait(context.Background()))
	assert.False(t, rn.Running())
}

func countStops(history []pump.Command) int {
	n := 0
	for _, c := range history {
		if c.Action == "stop" {
			n++
		}
	}
	return n
}
