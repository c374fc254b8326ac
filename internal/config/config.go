// Package config loads the station configuration from YAML and fills
// in the defaults of the reference mount.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MechanicsConfig describes one axis's gear train and encoder.
type MechanicsConfig struct {
	GearRatio  float64 `yaml:"gear_ratio"`  // motor turns per axis turn
	EncoderPPR float64 `yaml:"encoder_ppr"` // pulses per motor turn, per channel
	OffsetDeg  float64 `yaml:"offset_deg"`  // calibration added to the measured angle
	MinDeg     float64 `yaml:"min_deg"`
	MaxDeg     float64 `yaml:"max_deg"`
	MarginDeg  float64 `yaml:"margin_deg"` // out-of-range fault margin beyond min/max
	Wrap       bool    `yaml:"wrap"`       // continuous 0-360 axis, limits unenforced
}

// DegreesPerPulse converts encoder counts to degrees with 4x
// quadrature decoding.
func (m MechanicsConfig) DegreesPerPulse() float64 {
	return 360 / (m.GearRatio * m.EncoderPPR * 4)
}

// PIDConfig holds one axis's loop gains.
type PIDConfig struct {
	Kp           float64 `yaml:"kp"`
	Ki           float64 `yaml:"ki"`
	Kd           float64 `yaml:"kd"`
	MaxIntegral  float64 `yaml:"max_integral"`
	ToleranceDeg float64 `yaml:"tolerance_deg"` // deadband half-width
}

// PinsConfig maps one axis to BCM pin numbers.
type PinsConfig struct {
	EncoderA int `yaml:"encoder_a"`
	EncoderB int `yaml:"encoder_b"`
	Index    int `yaml:"index"`
	Forward  int `yaml:"forward"` // PWM pin, forward half-bridge
	Reverse  int `yaml:"reverse"` // PWM pin, reverse half-bridge
	Enable   int `yaml:"enable"`  // 0 = not used
}

// AxisConfig aggregates everything about one axis.
type AxisConfig struct {
	Mechanics MechanicsConfig `yaml:"mechanics"`
	PID       PIDConfig       `yaml:"pid"`
	Pins      PinsConfig      `yaml:"pins"`
}

// MotorConfig holds the driver policy shared by both axes.
type MotorConfig struct {
	MinPWM int  `yaml:"min_pwm"` // weakest duty cycle that overcomes stiction
	Brake  bool `yaml:"brake"`   // short the windings at zero instead of coasting
}

// HomingConfig shapes the index-seek sequence.
type HomingConfig struct {
	Speed      int `yaml:"speed"` // signed seek command
	TimeoutSec int `yaml:"timeout_sec"`
}

// RatesConfig sets the two loop periods and the tracking lookahead.
type RatesConfig struct {
	ControlPeriodMs int     `yaml:"control_period_ms"`
	TrackPeriodMs   int     `yaml:"track_period_ms"`
	LeadSec         float64 `yaml:"lead_sec"`
	MaxRateDegSec   float64 `yaml:"max_rate_deg_sec"`
}

// GPSConfig describes the NMEA receiver.
type GPSConfig struct {
	Port     string `yaml:"port"`
	Baud     int    `yaml:"baud"`
	StaleSec int    `yaml:"stale_sec"` // fix invalidated after this silence
}

// PSUConfig describes the Modbus-controlled motor supply. Disabled
// when the device is empty.
type PSUConfig struct {
	Device      string `yaml:"device"`
	Baud        int    `yaml:"baud"`
	SlaveID     int    `yaml:"slave_id"`
	SpinupMs    int    `yaml:"spinup_ms"`
	EstopInput  int    `yaml:"estop_input"` // discrete input polled for the external stop chain
	PollPeriodS int    `yaml:"poll_period_s"`
}

// ServerConfig holds the network listen addresses.
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	RotctldAddr string `yaml:"rotctld_addr"`
}

// Config aggregates the whole station configuration.
type Config struct {
	Azimuth   AxisConfig   `yaml:"azimuth"`
	Elevation AxisConfig   `yaml:"elevation"`
	Motor     MotorConfig  `yaml:"motor"`
	Homing    HomingConfig `yaml:"homing"`
	Rates     RatesConfig  `yaml:"rates"`
	GPS       GPSConfig    `yaml:"gps"`
	PSU       PSUConfig    `yaml:"psu"`
	Server    ServerConfig `yaml:"server"`
	// Sim replaces the GPIO backend with the physics model.
	Sim bool `yaml:"sim"`
}

// Default returns the reference mount's configuration: a 75:1 worm
// drive with 1 PPR motor encoders on both axes.
func Default() *Config {
	axis := AxisConfig{
		Mechanics: MechanicsConfig{GearRatio: 75, EncoderPPR: 1, MarginDeg: 5},
		PID:       PIDConfig{Kp: 3, Ki: 0.15, Kd: 0.8, MaxIntegral: 50, ToleranceDeg: 0.3},
	}
	cfg := &Config{
		Azimuth:   axis,
		Elevation: axis,
		Motor:     MotorConfig{MinPWM: 50, Brake: true},
		Homing:    HomingConfig{Speed: -80, TimeoutSec: 30},
		Rates: RatesConfig{
			ControlPeriodMs: 10,
			TrackPeriodMs:   100,
			LeadSec:         2,
			MaxRateDegSec:   10,
		},
		GPS: GPSConfig{Port: "/dev/ttyAMA0", Baud: 9600, StaleSec: 5},
		Server: ServerConfig{
			HTTPAddr:    ":8502",
			RotctldAddr: ":4533",
		},
	}
	cfg.Azimuth.Mechanics.Wrap = true
	cfg.Elevation.Mechanics.MinDeg = 0
	cfg.Elevation.Mechanics.MaxDeg = 90
	return cfg
}

// Load reads path into a default-initialized Config. An empty path
// returns the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for name, a := range map[string]AxisConfig{"azimuth": c.Azimuth, "elevation": c.Elevation} {
		if a.Mechanics.GearRatio <= 0 {
			return fmt.Errorf("%s.mechanics.gear_ratio must be > 0", name)
		}
		if a.Mechanics.EncoderPPR <= 0 {
			return fmt.Errorf("%s.mechanics.encoder_ppr must be > 0", name)
		}
		if a.PID.ToleranceDeg < 0 {
			return fmt.Errorf("%s.pid.tolerance_deg must be >= 0", name)
		}
	}
	if !c.Elevation.Mechanics.Wrap && c.Elevation.Mechanics.MinDeg >= c.Elevation.Mechanics.MaxDeg {
		return fmt.Errorf("elevation.mechanics min_deg must be below max_deg")
	}
	if c.Motor.MinPWM < 0 || c.Motor.MinPWM > 255 {
		return fmt.Errorf("motor.min_pwm must be within 0-255, got %d", c.Motor.MinPWM)
	}
	if c.Homing.Speed == 0 {
		return fmt.Errorf("homing.speed must be nonzero")
	}
	if c.Rates.ControlPeriodMs <= 0 || c.Rates.TrackPeriodMs <= 0 {
		return fmt.Errorf("rates periods must be > 0")
	}
	return nil
}

// ControlPeriod returns the position-loop tick interval.
func (c *Config) ControlPeriod() time.Duration {
	return time.Duration(c.Rates.ControlPeriodMs) * time.Millisecond
}

// TrackPeriod returns the tracking-engine tick interval.
func (c *Config) TrackPeriod() time.Duration {
	return time.Duration(c.Rates.TrackPeriodMs) * time.Millisecond
}

// Lead returns the target lookahead duration.
func (c *Config) Lead() time.Duration {
	return time.Duration(c.Rates.LeadSec * float64(time.Second))
}

// HomingTimeout returns the per-axis index-seek deadline.
func (c *Config) HomingTimeout() time.Duration {
	return time.Duration(c.Homing.TimeoutSec) * time.Second
}

// GPSStaleAfter returns how long a silent receiver keeps its fix.
func (c *Config) GPSStaleAfter() time.Duration {
	return time.Duration(c.GPS.StaleSec) * time.Second
}
