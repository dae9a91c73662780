package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorder_RecordsAndFails(t *testing.T) {
	r := NewRecorder()
	assert.NoError(t, r.WriteRegister(1, 14, 1))
	assert.NoError(t, r.WriteRegisterPair(2, 4, 0, 60000))
	assert.NoError(t, r.WriteCoil(1, 0, true))

	boom := errors.New("crc mismatch")
	r.SetFail(func(w Write) error {
		if w.Kind == KindCoil {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, r.WriteCoil(1, 0, false), boom)

	assert.Equal(t, []Write{
		{Unit: 1, Kind: KindRegister, Addr: 14, Values: []uint16{1}},
		{Unit: 1, Kind: KindCoil, Addr: 0, Values: []uint16{1}},
	}, r.WritesFor(1))
	assert.Len(t, r.Writes(), 3)

	assert.NoError(t, r.Close())
	assert.True(t, r.Closed())
}
