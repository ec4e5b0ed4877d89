package muscle

// TorqueProvider maps a joint angle (radians) and the normalized EMG of the
// flexor and extensor to a net joint torque.
type TorqueProvider interface {
	Torque(angle, flexor, extensor float64) float64
}

// Model is the two-muscle Hill-type wrist. Flexion and extension oppose
// through the signs of the moment-arm curves.
type Model struct {
	flexor, extensor *Muscle
}

// NewModel pairs two muscles. Neither can be replaced afterwards.
func NewModel(flexor, extensor *Muscle) *Model {
	return &Model{flexor: flexor, extensor: extensor}
}

func (m *Model) Flexor() *Muscle { return m.flexor }

func (m *Model) Extensor() *Muscle { return m.extensor }

// Torque returns the sum of both muscle contributions. Fiber length and
// pennation are evaluated once from the current angle; there is no
// equilibrium solve.
func (m *Model) Torque(angle, flexor, extensor float64) float64 {
	return m.flexor.Torque(angle, flexor) + m.extensor.Torque(angle, extensor)
}

// ProportionalModel ignores geometry and returns (flexor - extensor)·Gain.
type ProportionalModel struct {
	Gain float64
}

func (p ProportionalModel) Torque(_, flexor, extensor float64) float64 {
	return (flexor - extensor) * p.Gain
}

// TorqueFunc adapts a plain function to TorqueProvider.
type TorqueFunc func(angle, flexor, extensor float64) float64

func (f TorqueFunc) Torque(angle, flexor, extensor float64) float64 {
	return f(angle, flexor, extensor)
}
