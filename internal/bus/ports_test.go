package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

func mockPorts(t *testing.T, ports []*enumerator.PortDetails, err error) {
	original := listPorts
	listPorts = func() ([]*enumerator.PortDetails, error) {
		return ports, err
	}
	t.Cleanup(func() { listPorts = original })
}

func TestFindPort_MatchesSerialNumber(t *testing.T) {
	mockPorts(t, []*enumerator.PortDetails{
		{Name: "/dev/ttyUSB0", IsUSB: true, SerialNumber: "OTHER"},
		{Name: "/dev/ttyUSB1", IsUSB: true, SerialNumber: "A10ZX4", Product: "USB-RS485"},
	}, nil)

	port, err := FindPort("A10ZX4")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", port)
}

func TestFindPort_FallsBackToProduct(t *testing.T) {
	mockPorts(t, []*enumerator.PortDetails{
		{Name: "/dev/ttyACM0", Product: "Pump Driver A10ZX4 Rev2"},
	}, nil)

	port, err := FindPort("A10ZX4")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", port)
}

func TestFindPort_NoMatch(t *testing.T) {
	mockPorts(t, []*enumerator.PortDetails{
		{Name: "/dev/ttyUSB0", SerialNumber: "OTHER"},
	}, nil)

	_, err := FindPort("A10ZX4")
	assert.ErrorIs(t, err, ErrPortNotFound)

	_, err = FindPort("")
	assert.ErrorIs(t, err, ErrPortNotFound)
}

func TestListPorts_EnumerationError(t *testing.T) {
	boom := errors.New("no sysfs")
	mockPorts(t, nil, boom)

	_, err := ListPorts()
	assert.ErrorIs(t, err, boom)
}

func TestListPorts_CopiesDetails(t *testing.T) {
	mockPorts(t, []*enumerator.PortDetails{
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1A86", PID: "7523", SerialNumber: "SN1", Product: "CH340"},
	}, nil)

	ports, err := ListPorts()
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, PortInfo{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1A86", PID: "7523", SerialNumber: "SN1", Product: "CH340"}, ports[0])
}
