// Package hwrpio is the Raspberry Pi GPIO backend: quadrature and
// index inputs for both encoders, hardware PWM for the motor
// half-bridges, and the emergency-stop input.
package hwrpio

import (
	"context"
	"fmt"
	"time"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/satmount/tracker/encoder"
	"github.com/satmount/tracker/internal/config"
	"github.com/satmount/tracker/motor"
)

const (
	// pwmHz is the motor PWM carrier. go-rpio wants the clock as
	// frequency times cycle length.
	pwmHz    = 20000
	pwmCycle = 255

	// samplePeriod paces the encoder poll. At 1.2 degrees per count
	// the pulse rate stays far below the sample rate.
	samplePeriod = time.Millisecond
)

type axis struct {
	a, b, idx rpio.Pin
	dec       *encoder.Decoder
}

func newAxis(pins config.PinsConfig, dec *encoder.Decoder) axis {
	ax := axis{
		a:   rpio.Pin(pins.EncoderA),
		b:   rpio.Pin(pins.EncoderB),
		idx: rpio.Pin(pins.Index),
		dec: dec,
	}
	ax.a.Input()
	ax.a.PullUp()
	ax.b.Input()
	ax.b.PullUp()
	ax.idx.Input()
	ax.idx.PullUp()
	ax.idx.Detect(rpio.FallEdge)
	return ax
}

func (ax *axis) sample() {
	ax.dec.Sample(ax.a.Read() == rpio.High, ax.b.Read() == rpio.High)
	if ax.idx.EdgeDetected() {
		ax.dec.Index()
	}
}

// AxisPWM drives one motor's half-bridge pair. It implements the
// driver backend interface.
type AxisPWM struct {
	fwd, rev  rpio.Pin
	enable    rpio.Pin
	hasEnable bool
}

func newAxisPWM(pins config.PinsConfig) *AxisPWM {
	p := &AxisPWM{
		fwd:       rpio.Pin(pins.Forward),
		rev:       rpio.Pin(pins.Reverse),
		enable:    rpio.Pin(pins.Enable),
		hasEnable: pins.Enable != 0,
	}
	for _, pin := range []rpio.Pin{p.fwd, p.rev} {
		pin.Mode(rpio.Pwm)
		pin.Freq(pwmHz * pwmCycle)
		pin.DutyCycle(0, pwmCycle)
	}
	if p.hasEnable {
		p.enable.Output()
		p.enable.Low()
	}
	return p
}

func (p *AxisPWM) Write(fwd, rev int) {
	p.fwd.DutyCycle(uint32(fwd), pwmCycle)
	p.rev.DutyCycle(uint32(rev), pwmCycle)
}

func (p *AxisPWM) Enable(on bool) {
	if !p.hasEnable {
		return
	}
	if on {
		p.enable.High()
	} else {
		p.enable.Low()
	}
}

// Backend owns the mapped GPIO ranges and the encoder poll loop.
type Backend struct {
	az, el axisBundle
	estop  rpio.Pin
}

type axisBundle struct {
	axis
	pwm *AxisPWM
}

// Open maps the GPIO registers and configures every pin. The stop
// input is active low: a falling edge calls the trip hook passed to
// Run.
func Open(cfg *config.Config, azDec, elDec *encoder.Decoder, estopPin int) (*Backend, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("mapping gpio registers: %w", err)
	}
	b := &Backend{
		az: axisBundle{newAxis(cfg.Azimuth.Pins, azDec), newAxisPWM(cfg.Azimuth.Pins)},
		el: axisBundle{newAxis(cfg.Elevation.Pins, elDec), newAxisPWM(cfg.Elevation.Pins)},
	}
	if estopPin != 0 {
		b.estop = rpio.Pin(estopPin)
		b.estop.Input()
		b.estop.PullUp()
		b.estop.Detect(rpio.FallEdge)
	}
	return b, nil
}

// Az returns the azimuth motor output.
func (b *Backend) Az() motor.PWM { return b.az.pwm }

// El returns the elevation motor output.
func (b *Backend) El() motor.PWM { return b.el.pwm }

// Run polls the encoder and stop inputs until ctx is canceled, then
// zeroes the outputs and unmaps the registers. trip fires on the stop
// input's falling edge.
func (b *Backend) Run(ctx context.Context, trip func()) error {
	defer b.Close()
	t := time.NewTicker(samplePeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		b.az.sample()
		b.el.sample()
		if b.estop != 0 && b.estop.EdgeDetected() {
			trip()
		}
	}
}

// Close forces the outputs safe and releases the GPIO mapping.
func (b *Backend) Close() error {
	b.az.pwm.Write(0, 0)
	b.el.pwm.Write(0, 0)
	b.az.pwm.Enable(false)
	b.el.pwm.Enable(false)
	return rpio.Close()
}
