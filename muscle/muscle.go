// Package muscle implements a Hill-type muscle-tendon model of the wrist
// driven by normalized EMG.
//
// Lengths are in meters, forces in newtons, angles in radians and torques in
// newton meters. No input validation is performed: NaN or out-of-range
// activations propagate through the arithmetic.
package muscle

import (
	"fmt"
	"math"
)

// Params are the physiological constants of one muscle.
type Params struct {
	Name               string  `yaml:"name"`
	OptimalFiberLength float64 `yaml:"optimal_fiber_length"` // lo
	MaxIsometricForce  float64 `yaml:"max_isometric_force"`  // Fmax
	PennationAtOptimal float64 `yaml:"pennation_at_optimal"` // phi0
	TendonSlackLength  float64 `yaml:"tendon_slack_length"`  // lt
	// ActivationShape is the curvature A of the EMG-to-activation mapping.
	// Negative values give a concave, saturating curve.
	ActivationShape float64 `yaml:"activation_shape"`
}

// ForceLength holds the normalized active and passive force-length curves.
// One instance is shared read-only by every muscle.
type ForceLength struct {
	Active  *Curve
	Passive *Curve
}

// NewForceLength fits both force-length curves.
func NewForceLength(active, passive Table) (*ForceLength, error) {
	a, err := NewCurveFromTable(active)
	if err != nil {
		return nil, fmt.Errorf("active force-length: %w", err)
	}
	p, err := NewCurveFromTable(passive)
	if err != nil {
		return nil, fmt.Errorf("passive force-length: %w", err)
	}
	return &ForceLength{Active: a, Passive: p}, nil
}

// Geometry maps joint angle to muscle-tendon length and to moment arm. The
// sign of the moment arm decides whether the muscle flexes or extends.
type Geometry struct {
	Length    *Curve
	MomentArm *Curve
}

// Muscle is immutable after New.
type Muscle struct {
	params Params
	fl  *ForceLength
	geo Geometry

	// lo·sin(phi0), the fiber height, constant under the fixed-width model
	height float64
}

// New creates a muscle sharing the given force-length curves.
func New(p Params, fl *ForceLength, geo Geometry) *Muscle {
	return &Muscle{
		params: p,
		fl:     fl,
		geo:    geo,
		height: p.OptimalFiberLength * math.Sin(p.PennationAtOptimal),
	}
}

// Activation maps normalized EMG u to activation with shape constant a:
// (exp(a·u) - 1) / (exp(a) - 1). For a == 0 the mapping is the identity.
func Activation(u, a float64) float64 {
	if a == 0 {
		return u
	}
	return math.Expm1(a*u) / math.Expm1(a)
}

// Params returns a copy of the muscle's constants.
func (m *Muscle) Params() Params {
	return m.params
}

// Activation maps normalized EMG through this muscle's recruitment curve.
func (m *Muscle) Activation(u float64) float64 {
	return Activation(u, m.params.ActivationShape)
}

// FiberLength returns the fiber length for a muscle-tendon length lmt.
func (m *Muscle) FiberLength(lmt float64) float64 {
	d := lmt - m.params.TendonSlackLength
	return math.Sqrt(m.height*m.height + d*d)
}

// Forces returns the active and passive fiber forces at the given joint
// angle and activation, and the current pennation angle.
func (m *Muscle) Forces(angle, activation float64) (active, passive, pennation float64) {
	lm := m.FiberLength(m.geo.Length.At(angle))
	norm := lm / m.params.OptimalFiberLength

	active = m.fl.Active.At(norm) * m.params.MaxIsometricForce * activation
	passive = m.fl.Passive.At(norm) * m.params.MaxIsometricForce
	pennation = math.Asin(m.height / lm)
	return active, passive, pennation
}

// TendonForce returns the fiber force projected on the tendon axis.
func (m *Muscle) TendonForce(angle, activation float64) float64 {
	active, passive, phi := m.Forces(angle, activation)
	return (active + passive) * math.Cos(phi)
}

// MomentArm returns the moment arm at angle.
func (m *Muscle) MomentArm(angle float64) float64 {
	return m.geo.MomentArm.At(angle)
}

// Torque returns the joint torque from this muscle for normalized EMG u.
func (m *Muscle) Torque(angle, u float64) float64 {
	return m.TendonForce(angle, m.Activation(u)) * m.MomentArm(angle)
}
