package adapter

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

var ErrNoPorts = errors.New("no serial ports found")

// PortInfo describes a serial port an adapter can be attached to.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID, PID     string
	SerialNumber string
	Product      string
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	return fmt.Sprintf("%s (USB %s:%s %s)", p.Name, p.VID, p.PID, p.SerialNumber)
}

// ListPorts returns the serial ports present, sorted by name.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, ErrNoPorts
	}
	out := make([]PortInfo, 0, len(ports))
	for _, port := range ports {
		out = append(out, PortInfo{
			Name:         port.Name,
			IsUSB:        port.IsUSB,
			VID:          port.VID,
			PID:          port.PID,
			SerialNumber: port.SerialNumber,
			Product:      port.Product,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindPort checks that portName exists.
func FindPort(portName string) (PortInfo, error) {
	if runtime.GOOS == "windows" {
		portName = strings.ToUpper(portName)
	}
	ports, err := ListPorts()
	if err != nil {
		return PortInfo{}, err
	}
	for _, port := range ports {
		if port.Name == portName {
			return port, nil
		}
	}
	return PortInfo{}, fmt.Errorf("port %q not found", portName)
}
