// Package psu talks Modbus RTU to the motor supply controller: the
// relay box that switches drive power per axis, reports supply health,
// and carries the hardwired stop chain.
package psu

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/satmount/tracker/internal/modbus"
)

type Status struct {
	CommandSpinupDelay int

	CommandAzEnabled bool
	CommandElEnabled bool

	SupplyActive bool
	AzActive     bool
	ElActive     bool
	// StopChainClosed is false when the hardwired stop loop is open;
	// the station treats the opening edge as an emergency stop.
	StopChainClosed bool
}

type StatusCallback func(status Status)

type PSU struct {
	statusCallback StatusCallback
	mu             sync.Mutex
	conn           *modbus.Conn
}

func Connect(ctx context.Context, port string, baud int, unit byte, statusCallback StatusCallback) (*PSU, error) {
	p := &PSU{
		conn: &modbus.Conn{
			Device:   port,
			Baud:     baud,
			Unit:     unit,
			Interval: 200 * time.Millisecond,
		},
		statusCallback: statusCallback,
	}
	p.conn.Poll = p.pollOnce
	p.conn.Start(ctx)
	return p, nil
}

func (p *PSU) pollOnce() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	regs, err := p.conn.ReadInputRegisters(0, 1)
	if err != nil {
		return err
	}
	relays := binary.BigEndian.Uint16(regs)

	regs, err = p.conn.ReadHoldingRegisters(0, 1)
	if err != nil {
		return err
	}
	delay := int(binary.BigEndian.Uint16(regs))

	rawCoils, err := p.conn.ReadCoils(0, relays)
	if err != nil {
		return err
	}
	rawInputs, err := p.conn.ReadDiscreteInputs(0, relays+2)
	if err != nil {
		return err
	}
	coils := modbus.Bits(rawCoils)
	inputs := modbus.Bits(rawInputs)

	p.statusCallback(Status{
		CommandSpinupDelay: delay,

		CommandAzEnabled: coils[0],
		CommandElEnabled: coils[1],

		SupplyActive:    inputs[0],
		AzActive:        inputs[1],
		ElActive:        inputs[2],
		StopChainClosed: inputs[3],
	})
	return nil
}

// SetDrivesEnabled switches both axes' drive relays. The controller
// box inserts the configured spinup delay before the supply reports
// active.
func (p *PSU) SetDrivesEnabled(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.conn.SetCoil(0, enabled); err != nil {
		return err
	}
	return p.conn.SetCoil(1, enabled)
}

// SetSpinupDelay writes the supply spinup delay in milliseconds.
func (p *PSU) SetSpinupDelay(ms int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.conn.WriteSingleRegister(0, uint16(ms))
	return err
}
