package bus

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

var ErrPortNotFound = errors.New("no serial port matches serial number")

type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// overridable for tests
var listPorts = enumerator.GetDetailedPortsList

func ListPorts() ([]PortInfo, error) {
	details, err := listPorts()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
	}
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	return ports, nil
}

// FindPort returns the first port whose USB serial number equals sn or whose
// product description contains it.
func FindPort(sn string) (string, error) {
	if sn == "" {
		return "", fmt.Errorf("%w: empty serial number", ErrPortNotFound)
	}
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.SerialNumber == sn {
			return p.Name, nil
		}
	}
	for _, p := range ports {
		if strings.Contains(p.Product, sn) {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPortNotFound, sn)
}
