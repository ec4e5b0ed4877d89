package muscle

import "fmt"

// MuscleConfig is the static description of one muscle. Angle tables are in
// radians.
type MuscleConfig struct {
	Params    `yaml:",inline"`
	Length    Table `yaml:"length"`
	MomentArm Table `yaml:"moment_arm"`
}

// WristConfig holds everything needed to build the two-muscle wrist.
type WristConfig struct {
	ActiveForceLength  Table        `yaml:"active_force_length"`
	PassiveForceLength Table        `yaml:"passive_force_length"`
	Flexor             MuscleConfig `yaml:"flexor"`
	Extensor           MuscleConfig `yaml:"extensor"`
}

// wrist angles at which the musculoskeletal geometry was sampled, radians
var wristAngles = []float64{
	-0.99959767, -0.75278343, -0.50596919, -0.25915495, -0.01234071,
	0.23447353, 0.48128776, 0.72810200, 0.97491624, 1.22173048,
}

// DefaultWristConfig returns the flexor carpi radialis (FCR) and extensor
// carpi radialis longus (ECRL) of an adult wrist.
func DefaultWristConfig() WristConfig {
	angles := func() []float64 { return append([]float64(nil), wristAngles...) }

	return WristConfig{
		ActiveForceLength: Table{
			X: []float64{-35, 0, 0.401, 0.402, 0.4035, 0.52725, 0.62875, 0.71875, 0.86125, 1.045, 1.2175, 1.43875, 1.61875, 1.62, 1.621, 2.2, 35},
			Y: []float64{0, 0, 0, 0, 0, 0.226667, 0.636667, 0.856667, 0.95, 0.993333, 0.77, 0.246667, 0, 0, 0, 0, 0},
		},
		PassiveForceLength: Table{
			X: []float64{-35, 0.998, 0.999, 1.15, 1.25, 1.35, 1.45, 1.55, 1.65, 1.75, 1.7501, 1.7502, 35},
			Y: []float64{0, 0, 0, 0, 0.035, 0.12, 0.26, 0.55, 1.17, 2, 2, 2, 2},
		},
		Flexor: MuscleConfig{
			Params: Params{
				Name:               "FCR",
				OptimalFiberLength: 0.0628,
				MaxIsometricForce:  59.7,
				PennationAtOptimal: 0.05410521,
				TendonSlackLength:  0.2185,
				ActivationShape:    -0.002,
			},
			Length: Table{
				X: angles(),
				Y: []float64{0.29935362, 0.29641423, 0.29315810, 0.28963728, 0.28590906, 0.28203596, 0.27808623, 0.27413594, 0.27027482, 0.26662228},
			},
			MomentArm: Table{
				X: angles(),
				Y: []float64{0.01120295, 0.01258428, 0.01376582, 0.01472566, 0.01544287, 0.01589591, 0.01605878, 0.01589178, 0.01531788, 0.01415557},
			},
		},
		Extensor: MuscleConfig{
			Params: Params{
				Name:               "ECRL",
				OptimalFiberLength: 0.0936,
				MaxIsometricForce:  65.7,
				PennationAtOptimal: 0.04363323,
				TendonSlackLength:  0.2026,
				ActivationShape:    -0.001,
			},
			Length: Table{
				X: angles(),
				Y: []float64{0.29104195, 0.29376832, 0.29648413, 0.29914435, 0.30170628, 0.30412959, 0.30637666, 0.30841293, 0.31020735, 0.31173271},
			},
			MomentArm: Table{
				X: angles(),
				Y: []float64{-0.01100436, -0.01105605, -0.01092046, -0.01060718, -0.01012554, -0.00948575, -0.00869947, -0.00777998, -0.00674223, -0.00560273},
			},
		},
	}
}

// NewWristModel builds the flexor and extensor. The force-length curves are
// fitted once and shared by both muscles.
func NewWristModel(cfg WristConfig) (*Model, error) {
	fl, err := NewForceLength(cfg.ActiveForceLength, cfg.PassiveForceLength)
	if err != nil {
		return nil, err
	}
	flexor, err := newMuscle(cfg.Flexor, fl)
	if err != nil {
		return nil, fmt.Errorf("flexor: %w", err)
	}
	extensor, err := newMuscle(cfg.Extensor, fl)
	if err != nil {
		return nil, fmt.Errorf("extensor: %w", err)
	}
	return NewModel(flexor, extensor), nil
}

func newMuscle(c MuscleConfig, fl *ForceLength) (*Muscle, error) {
	length, err := NewCurveFromTable(c.Length)
	if err != nil {
		return nil, fmt.Errorf("%s length: %w", c.Name, err)
	}
	arm, err := NewCurveFromTable(c.MomentArm)
	if err != nil {
		return nil, fmt.Errorf("%s moment arm: %w", c.Name, err)
	}
	return New(c.Params, fl, Geometry{Length: length, MomentArm: arm}), nil
}
