package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/pump-controller/internal/model"
)

func TestHub_FansOut(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe()
	b := h.Subscribe()
	assert.Equal(t, 2, h.Subscribers())

	h.OnProgress(model.Progress{RunID: "r1", Operation: model.OpFill, Elapsed: 1500 * time.Millisecond, Total: 11 * time.Second})

	for _, s := range []*Subscription{a, b} {
		e := <-s.C
		assert.Equal(t, TypeProgress, e.Type)
		assert.False(t, e.Time.IsZero())
		assert.Equal(t, ProgressData{RunID: "r1", Operation: model.OpFill, Elapsed: 1, Total: 11, ElapsedMS: 1500, TotalMS: 11000}, e.Data)
	}
}

func TestHub_DropsProgressWhenFull(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe()

	h.OnProgress(model.Progress{Elapsed: time.Second})
	h.OnProgress(model.Progress{Elapsed: 2 * time.Second})
	h.Countdown("29:59", time.Now())

	assert.Equal(t, 1, h.Subscribers())
	e := <-s.C
	assert.Equal(t, 1, e.Data.(ProgressData).Elapsed)
}

func TestHub_ClosesSlowSubscriberOnCompletion(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe()

	h.OnProgress(model.Progress{})
	h.OnCompleted(model.Completion{Operation: model.OpFill, Success: true})

	assert.Zero(t, h.Subscribers())
	_, ok := <-s.C
	assert.True(t, ok)
	_, ok = <-s.C
	assert.False(t, ok)
}

func TestHub_CompletionDelivered(t *testing.T) {
	h := NewHub(4)
	s := h.Subscribe()

	h.OnCompleted(model.Completion{RunID: "r1", Operation: model.OpDrain, Success: true, Outcome: model.OutcomeSucceeded})
	e := <-s.C
	require.Equal(t, TypeCompleted, e.Type)
	assert.Equal(t, model.OpDrain, e.Data.(model.Completion).Operation)
}

func TestSubscription_CloseTwice(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe()
	s.Close()
	s.Close()
	assert.Zero(t, h.Subscribers())
}

func TestHub_Close(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe()
	h.Close()

	_, ok := <-s.C
	assert.False(t, ok)

	late := h.Subscribe()
	_, ok = <-late.C
	assert.False(t, ok)
	late.Close()
}
