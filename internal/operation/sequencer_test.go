package operation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/pump-controller/internal/model"
	"github.com/thatsimonsguy/pump-controller/internal/pump"
)

type failingPump struct {
	*pump.Simulated
	runErr error
}

func (p *failingPump) Run(rpm int, reverse bool) error {
	if p.runErr != nil {
		return p.runErr
	}
	return p.Simulated.Run(rpm, reverse)
}

type progressLog struct {
	mu     sync.Mutex
	points [][2]time.Duration
}

func (l *progressLog) record(elapsed, total time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.points = append(l.points, [2]time.Duration{elapsed, total})
}

func (l *progressLog) all() [][2]time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][2]time.Duration(nil), l.points...)
}

func newPumps(t *testing.T) (*pump.Simulated, *pump.Simulated) {
	d := pump.NewSimulated(model.RoleDispenser, 1, 600)
	r := pump.NewSimulated(model.RoleRetractor, 2, 600)
	require.NoError(t, d.Connect())
	require.NoError(t, r.Attach(d.Link()))
	return d, r
}

func fillPlan() Plan {
	return Plan{
		Name:             model.OpFill,
		RetractorRPM:     200,
		DispenserRPM:     20,
		Duration:         40 * time.Millisecond,
		Settle:           20 * time.Millisecond,
		RetractorReverse: true,
	}
}

func TestExecute_FillSequence(t *testing.T) {
	d, r := newPumps(t)
	seq := NewSequencer(d, r, 5*time.Millisecond)
	progress := &progressLog{}

	res := seq.Execute(context.Background(), fillPlan(), progress.record)
	assert.True(t, res.Success())
	assert.NoError(t, res.Err)

	rh := r.History()
	dh := d.History()
	require.Len(t, rh, 2)
	require.Len(t, dh, 2)

	assert.Equal(t, pump.Command{Action: "run", RPM: 200, Reverse: true, At: rh[0].At}, rh[0])
	assert.Equal(t, pump.Command{Action: "run", RPM: 20, Reverse: false, At: dh[0].At}, dh[0])

	// dispenser stops after its phase, retractor after the settle
	dispenserRan := dh[1].At.Sub(dh[0].At)
	assert.GreaterOrEqual(t, dispenserRan, 40*time.Millisecond)
	assert.GreaterOrEqual(t, rh[1].At.Sub(dh[0].At), 60*time.Millisecond)
	assert.False(t, rh[1].At.Before(dh[1].At))
}

func TestExecute_DrainStopsBothTogether(t *testing.T) {
	d, r := newPumps(t)
	seq := NewSequencer(d, r, 5*time.Millisecond)

	plan := Plan{
		Name:             model.OpDrain,
		RetractorRPM:     200,
		DispenserRPM:     200,
		Duration:         30 * time.Millisecond,
		RetractorReverse: true,
		DispenserReverse: true,
	}
	res := seq.Execute(context.Background(), plan, nil)
	assert.True(t, res.Success())

	dh, rh := d.History(), r.History()
	require.Len(t, dh, 2)
	require.Len(t, rh, 2)
	assert.True(t, dh[0].Reverse)
	assert.True(t, rh[0].Reverse)
	assert.Less(t, rh[1].At.Sub(dh[1].At), 10*time.Millisecond)
}

func TestExecute_ProgressIsMonotonicAndBounded(t *testing.T) {
	d, r := newPumps(t)
	seq := NewSequencer(d, r, 5*time.Millisecond)
	progress := &progressLog{}

	plan := fillPlan()
	seq.Execute(context.Background(), plan, progress.record)

	points := progress.all()
	require.NotEmpty(t, points)
	var last time.Duration
	for _, p := range points {
		assert.GreaterOrEqual(t, p[0], last)
		assert.LessOrEqual(t, p[0], plan.Total())
		assert.Equal(t, plan.Total(), p[1])
		last = p[0]
	}
	assert.Equal(t, plan.Total(), points[len(points)-1][0])
	assert.Greater(t, len(points), 3)
}

func TestExecute_CancelStopsBothPumps(t *testing.T) {
	d, r := newPumps(t)
	seq := NewSequencer(d, r, 5*time.Millisecond)

	plan := fillPlan()
	plan.Duration = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	res := seq.Execute(ctx, plan, nil)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, model.OutcomeStopped, res.Outcome)
	assert.False(t, res.Success())

	assert.False(t, d.Status().Running)
	assert.False(t, r.Status().Running)
	assert.Equal(t, "stop", d.History()[len(d.History())-1].Action)
	assert.Equal(t, "stop", r.History()[len(r.History())-1].Action)
}

func TestExecute_CancelDuringSettle(t *testing.T) {
	d, r := newPumps(t)
	seq := NewSequencer(d, r, 5*time.Millisecond)

	plan := fillPlan()
	plan.Duration = 10 * time.Millisecond
	plan.Settle = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	res := seq.Execute(ctx, plan, nil)
	assert.Equal(t, model.OutcomeStopped, res.Outcome)
	assert.False(t, r.Status().Running)
}

func TestExecute_PumpErrorKeepsTiming(t *testing.T) {
	d, r := newPumps(t)
	boom := errors.New("crc error")
	bad := &failingPump{Simulated: r, runErr: boom}
	seq := NewSequencer(d, bad, 5*time.Millisecond)

	plan := fillPlan()
	start := time.Now()
	res := seq.Execute(context.Background(), plan, nil)

	assert.GreaterOrEqual(t, time.Since(start), plan.Total())
	assert.Equal(t, model.OutcomeFailed, res.Outcome)
	assert.ErrorIs(t, res.Err, boom)
	assert.False(t, d.Status().Running)
}

func TestExecute_AlreadyCancelled(t *testing.T) {
	d, r := newPumps(t)
	seq := NewSequencer(d, r, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := seq.Execute(ctx, fillPlan(), nil)
	assert.Equal(t, model.OutcomeStopped, res.Outcome)
	assert.False(t, d.Status().Running)
	assert.False(t, r.Status().Running)
}

func TestNewSequencer_DefaultTick(t *testing.T) {
	d, r := newPumps(t)
	assert.Equal(t, DefaultTick, NewSequencer(d, r, 0).Tick)
}
