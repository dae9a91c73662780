package bus

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	mb "github.com/goburrow/modbus"
	"github.com/rs/zerolog/log"
)

// Link is an open register/coil connection shared by every pump on one
// physical bus. Each call addresses a single unit.
type Link interface {
	WriteRegister(unit uint8, addr, value uint16) error
	WriteRegisterPair(unit uint8, addr, hi, lo uint16) error
	WriteCoil(unit uint8, addr uint16, on bool) error
	Close() error
}

type RTUOptions struct {
	Port     string
	Baudrate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

// RTULink is a Modbus RTU Link. The handler carries a single slave id, so
// writes are serialised and the id is swapped per request.
type RTULink struct {
	mu      sync.Mutex
	port    string
	handler *mb.RTUClientHandler
	client  mb.Client
}

func OpenRTU(opts RTUOptions) (*RTULink, error) {
	if strings.TrimSpace(opts.Port) == "" {
		return nil, fmt.Errorf("serial port is required for RTU")
	}
	h := mb.NewRTUClientHandler(opts.Port)
	if opts.Baudrate > 0 {
		h.BaudRate = opts.Baudrate
	}
	if opts.DataBits > 0 {
		h.DataBits = opts.DataBits
	}
	if opts.StopBits > 0 {
		h.StopBits = opts.StopBits
	}
	if p := strings.ToUpper(strings.TrimSpace(opts.Parity)); p != "" {
		h.Parity = p
	}
	h.Timeout = opts.Timeout
	if h.Timeout <= 0 {
		h.Timeout = time.Second
	}

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.Port, err)
	}

	log.Info().
		Str("port", opts.Port).
		Int("baudrate", h.BaudRate).
		Str("parity", h.Parity).
		Msg("Opened Modbus RTU link")

	return &RTULink{
		port:    opts.Port,
		handler: h,
		client:  mb.NewClient(h),
	}, nil
}

func (l *RTULink) WriteRegister(unit uint8, addr, value uint16) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler.SlaveId = unit
	if _, err := l.client.WriteSingleRegister(addr, value); err != nil {
		return fmt.Errorf("write register %d on unit %d: %w", addr, unit, err)
	}
	return nil
}

func (l *RTULink) WriteRegisterPair(unit uint8, addr, hi, lo uint16) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:], hi)
	binary.BigEndian.PutUint16(buf[2:], lo)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler.SlaveId = unit
	if _, err := l.client.WriteMultipleRegisters(addr, 2, buf); err != nil {
		return fmt.Errorf("write registers %d-%d on unit %d: %w", addr, addr+1, unit, err)
	}
	return nil
}

func (l *RTULink) WriteCoil(unit uint8, addr uint16, on bool) error {
	var value uint16
	if on {
		value = 0xFF00
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler.SlaveId = unit
	if _, err := l.client.WriteSingleCoil(addr, value); err != nil {
		return fmt.Errorf("write coil %d on unit %d: %w", addr, unit, err)
	}
	return nil
}

func (l *RTULink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	log.Info().Str("port", l.port).Msg("Closing Modbus RTU link")
	return l.handler.Close()
}
