// Package modbus keeps an RTU serial connection alive and polled for
// the supply controller.
package modbus

import (
	"context"
	"log"
	"time"

	"github.com/goburrow/modbus"
)

// Conn owns a goburrow RTU handler and redials it whenever the poll
// callback reports an error. Register access goes through the embedded
// modbus.Client; it is safe to call even before the first successful
// dial, requests simply fail until the port opens.
type Conn struct {
	Device string
	Baud   int
	Unit   byte

	// Poll is invoked repeatedly while the port is open. Returning an
	// error closes the port and schedules a redial.
	Poll func() error

	// Interval between Poll calls. Zero means poll back to back.
	Interval time.Duration

	handler *modbus.RTUClientHandler
	modbus.Client
}

const redialDelay = time.Second

// Start configures the handler and launches the redial loop. The
// context cancels the loop and closes the port.
func (c *Conn) Start(ctx context.Context) {
	if c.Baud == 0 {
		c.Baud = 19200
	}
	h := modbus.NewRTUClientHandler(c.Device)
	h.BaudRate = c.Baud
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	h.Timeout = time.Second
	h.SlaveId = c.Unit
	c.handler = h
	c.Client = modbus.NewClient(h)
	go c.run(ctx)
}

func (c *Conn) run(ctx context.Context) {
	t := time.NewTimer(redialDelay)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := c.handler.Connect(); err != nil {
			log.Printf("modbus: open %s: %v", c.Device, err)
		} else if err := c.poll(ctx); err != nil && err != ctx.Err() {
			log.Printf("modbus: %s: %v", c.Device, err)
		}
		t.Reset(redialDelay)
	}
}

func (c *Conn) poll(ctx context.Context) error {
	defer c.handler.Close()
	var tick *time.Ticker
	if c.Interval > 0 {
		tick = time.NewTicker(c.Interval)
		defer tick.Stop()
	}
	for {
		if err := c.Poll(); err != nil {
			return err
		}
		if tick == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// SetCoil writes a single coil using the 0xFF00/0x0000 convention.
func (c *Conn) SetCoil(addr int, on bool) error {
	var v uint16
	if on {
		v = 0xFF00
	}
	_, err := c.WriteSingleCoil(uint16(addr), v)
	return err
}

// Bits unpacks a coil or discrete-input response, least significant
// bit first within each byte.
func Bits(bs []byte) []bool {
	out := make([]bool, 0, len(bs)*8)
	for _, b := range bs {
		for i := uint(0); i < 8; i++ {
			out = append(out, b>>i&1 == 1)
		}
	}
	return out
}
