package bus

import (
	"fmt"
	"sync"
)

type WriteKind string

const (
	KindRegister WriteKind = "register"
	KindPair     WriteKind = "pair"
	KindCoil     WriteKind = "coil"
)

type Write struct {
	Unit   uint8
	Kind   WriteKind
	Addr   uint16
	Values []uint16
}

func (w Write) String() string {
	return fmt.Sprintf("unit=%d %s@%d %v", w.Unit, w.Kind, w.Addr, w.Values)
}

// Recorder is an in-memory Link that keeps every write. Fail, when set, is
// consulted before a write is recorded and its error is returned instead.
type Recorder struct {
	mu     sync.Mutex
	writes []Write
	closed bool
	Fail   func(Write) error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(w Write) error {
	r.mu.Lock()
	fail := r.Fail
	r.mu.Unlock()
	if fail != nil {
		if err := fail(w); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, w)
	return nil
}

func (r *Recorder) WriteRegister(unit uint8, addr, value uint16) error {
	return r.record(Write{Unit: unit, Kind: KindRegister, Addr: addr, Values: []uint16{value}})
}

func (r *Recorder) WriteRegisterPair(unit uint8, addr, hi, lo uint16) error {
	return r.record(Write{Unit: unit, Kind: KindPair, Addr: addr, Values: []uint16{hi, lo}})
}

func (r *Recorder) WriteCoil(unit uint8, addr uint16, on bool) error {
	var v uint16
	if on {
		v = 1
	}
	return r.record(Write{Unit: unit, Kind: KindCoil, Addr: addr, Values: []uint16{v}})
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *Recorder) SetFail(fail func(Write) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Fail = fail
}

func (r *Recorder) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Write(nil), r.writes...)
}

// WritesFor filters the history to one unit.
func (r *Recorder) WritesFor(unit uint8) []Write {
	var out []Write
	for _, w := range r.Writes() {
		if w.Unit == unit {
			out = append(out, w)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = nil
}

func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
