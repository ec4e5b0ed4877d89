// Package dynamics integrates joint torque into a one-degree-of-freedom
// wrist angle.
package dynamics

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("dynamics: invalid config")

// Config describes the hand segment and the joint. Angles are in degrees,
// velocities in degrees per second.
type Config struct {
	Dt               time.Duration `yaml:"dt"`
	Inertia          float64       `yaml:"inertia"`           // kg·m²
	Damping          float64       `yaml:"damping"`           // N·m·s
	StaticFriction   float64       `yaml:"static_friction"`   // N·m
	FrictionDeadband float64       `yaml:"friction_deadband"` // |v| at or below this has no friction
	AngleMin         float64       `yaml:"angle_min"`
	AngleMax         float64       `yaml:"angle_max"`
}

// Hand segment modelled as a uniform rod rotating about the wrist.
const (
	HandMass   = 0.3  // kg
	HandLength = 0.10 // m, shortened since the center of mass sits close to the wrist
)

// RodInertia returns the moment of inertia of a rod about one end.
func RodInertia(mass, length float64) float64 {
	return mass * length * length / 3
}

// DefaultConfig returns the wrist parameters for a step of dt.
func DefaultConfig(dt time.Duration) Config {
	return Config{
		Dt:               dt,
		Inertia:          RodInertia(HandMass, HandLength),
		Damping:          0.01,
		StaticFriction:   0.07,
		FrictionDeadband: 0.1,
		AngleMin:         -69,
		AngleMax:         69,
	}
}

// Validate reports a config the integrator cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Dt <= 0:
		return fmt.Errorf("%w: dt %v", ErrInvalidConfig, c.Dt)
	case !(c.Inertia > 0):
		return fmt.Errorf("%w: inertia %v", ErrInvalidConfig, c.Inertia)
	case c.Damping < 0 || c.StaticFriction < 0 || c.FrictionDeadband < 0:
		return fmt.Errorf("%w: negative damping or friction", ErrInvalidConfig)
	case !(c.AngleMin < c.AngleMax):
		return fmt.Errorf("%w: angle range [%v, %v]", ErrInvalidConfig, c.AngleMin, c.AngleMax)
	}
	return nil
}

// Option configures an Integrator.
type Option func(*Integrator)

// WithInitialState starts the joint at angle with velocity instead of at rest.
func WithInitialState(angle, velocity float64) Option {
	return func(in *Integrator) {
		in.angle = angle
		in.velocity = velocity
	}
}

// Integrator advances the joint with semi-implicit Euler. It has no reset:
// a new session creates a new Integrator.
type Integrator struct {
	cfg      Config
	dt       float64
	angle    float64
	velocity float64
}

// New creates an integrator at rest at angle zero.
func New(cfg Config, opts ...Option) (*Integrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	in := &Integrator{cfg: cfg, dt: cfg.Dt.Seconds()}
	for _, opt := range opts {
		opt(in)
	}
	in.clamp()
	return in, nil
}

// Update applies torque for one step and returns the new angle.
func (in *Integrator) Update(torque float64) float64 {
	acc := (torque - in.friction() - in.cfg.Damping*in.velocity) / in.cfg.Inertia
	in.velocity += acc * in.dt
	in.angle += in.velocity * in.dt
	in.clamp()
	return in.angle
}

// friction is Coulomb friction opposing the current velocity.
func (in *Integrator) friction() float64 {
	switch {
	case in.velocity > in.cfg.FrictionDeadband:
		return in.cfg.StaticFriction
	case in.velocity < -in.cfg.FrictionDeadband:
		return -in.cfg.StaticFriction
	}
	return 0
}

// clamp is an inelastic stop at the joint limits.
func (in *Integrator) clamp() {
	if in.angle < in.cfg.AngleMin {
		in.angle = in.cfg.AngleMin
		in.velocity = 0
	}
	if in.angle > in.cfg.AngleMax {
		in.angle = in.cfg.AngleMax
		in.velocity = 0
	}
}

func (in *Integrator) Angle() float64 {
	return in.angle
}

func (in *Integrator) Velocity() float64 {
	return in.velocity
}

func (in *Integrator) Config() Config {
	return in.cfg
}
