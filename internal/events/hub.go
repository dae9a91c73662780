package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pump-controller/internal/model"
)

type Type string

const (
	TypeProgress  Type = "progress"
	TypeCompleted Type = "completed"
	TypeCountdown Type = "countdown"
	TypeSchedule  Type = "schedule"
)

type Event struct {
	Type Type        `json:"type"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

type ProgressData struct {
	RunID     string          `json:"run_id"`
	Operation model.Operation `json:"operation"`
	Elapsed   int             `json:"elapsed"`
	Total     int             `json:"total"`
	ElapsedMS int64           `json:"elapsed_ms"`
	TotalMS   int64           `json:"total_ms"`
}

type CountdownData struct {
	Remaining string    `json:"remaining"`
	NextFire  time.Time `json:"next_fire,omitempty"`
}

const DefaultBuffer = 64

// Hub fans events out to subscribers. Progress and countdown events are
// dropped for a subscriber whose buffer is full; any other event that
// cannot be delivered closes the subscription instead.
type Hub struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

type Subscription struct {
	C    <-chan Event
	ch   chan Event
	hub  *Hub
	once sync.Once
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(ch) })
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	s.once.Do(func() {
		delete(s.hub.subs, s)
		close(s.ch)
	})
}

func (h *Hub) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	lossy := e.Type == TypeProgress || e.Type == TypeCountdown

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		select {
		case s.ch <- e:
		default:
			if lossy {
				continue
			}
			log.Warn().Str("event", string(e.Type)).Msg("Dropping slow event subscriber")
			s.closeLocked()
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		s.closeLocked()
	}
}

func (h *Hub) OnProgress(p model.Progress) {
	h.Publish(Event{Type: TypeProgress, Data: ProgressData{
		RunID:     p.RunID,
		Operation: p.Operation,
		Elapsed:   int(p.Elapsed / time.Second),
		Total:     int(p.Total / time.Second),
		ElapsedMS: p.Elapsed.Milliseconds(),
		TotalMS:   p.Total.Milliseconds(),
	}})
}

func (h *Hub) OnCompleted(c model.Completion) {
	h.Publish(Event{Type: TypeCompleted, Data: c})
}

func (h *Hub) Countdown(remaining string, next time.Time) {
	h.Publish(Event{Type: TypeCountdown, Data: CountdownData{Remaining: remaining, NextFire: next}})
}

func (h *Hub) Schedule(st model.ScheduleState) {
	h.Publish(Event{Type: TypeSchedule, Data: st})
}
