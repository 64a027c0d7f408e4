// Package serial opens a BLED112-style USB dongle as a connector.Stream.
package serial

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/AngelSensor/angel-sdk/internal/log"
)

const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 10 * time.Millisecond

	dongleVID     = "2458"
	donglePID     = "0001"
	dongleProduct = "Low Energy"
)

var ErrNoDongle = errors.New("no BLE dongle found")

// Port is a serial connection to a dongle. It implements connector.Stream.
type Port struct {
	name      string
	port      serial.Port
	closeOnce sync.Once
}

// Open opens the named serial port. A baudRate of zero selects DefaultBaudRate.
func Open(name string, baudRate int) (*Port, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.TwoStopBits,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := port.SetReadTimeout(DefaultReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}
	_ = port.SetRTS(true)
	if err := port.ResetInputBuffer(); err != nil {
		log.Warning("Could not flush stale input on %s: %s", name, err)
	}
	log.Info("Opened %s at %d baud", name, baudRate)
	return &Port{name: name, port: port}, nil
}

// Name returns the name the port was opened with.
func (p *Port) Name() string {
	return p.name
}

// Read returns 0, nil if no data arrives within DefaultReadTimeout.
func (p *Port) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// Close releases the port. Repeated calls are harmless.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.port.Close()
	})
	return err
}

// PortInfo describes a candidate serial port.
type PortInfo struct {
	Name    string
	Product string
	VID     string
	PID     string
	Dongle  bool
}

func isDongle(d *enumerator.PortDetails) bool {
	if !d.IsUSB {
		return false
	}
	if strings.EqualFold(d.VID, dongleVID) && strings.EqualFold(d.PID, donglePID) {
		return true
	}
	return strings.Contains(d.Product, dongleProduct)
}

// List enumerates serial ports, flagging those that look like a BLE dongle.
func List() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	var ports []PortInfo
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:    d.Name,
			Product: d.Product,
			VID:     d.VID,
			PID:     d.PID,
			Dongle:  isDongle(d),
		})
	}
	return ports, nil
}

// Find returns the name of the first port that looks like a BLE dongle.
func Find() (string, error) {
	ports, err := List()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.Dongle {
			log.Debug("Found dongle on %s (%s)", p.Name, p.Product)
			return p.Name, nil
		}
	}
	return "", ErrNoDongle
}
