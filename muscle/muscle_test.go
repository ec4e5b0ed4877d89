package muscle

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wrist(t *testing.T) *Model {
	t.Helper()
	m, err := NewWristModel(DefaultWristConfig())
	require.NoError(t, err)
	return m
}

func TestActivation(t *testing.T) {
	for _, a := range []float64{-3, -0.002, 0, 1.5} {
		assert.InDelta(t, 0.0, Activation(0, a), 1e-12, "A=%v", a)
		assert.InDelta(t, 1.0, Activation(1, a), 1e-12, "A=%v", a)
	}
	assert.Equal(t, 0.3, Activation(0.3, 0))
	// negative shape saturates
	assert.Greater(t, Activation(0.5, -3), 0.5)
	assert.Less(t, Activation(0.5, 3), 0.5)
	assert.True(t, math.IsNaN(Activation(math.NaN(), -1)))
}

func TestCurveNeverOvershoots(t *testing.T) {
	cfg := DefaultWristConfig()
	for name, tbl := range map[string]Table{
		"active":  cfg.ActiveForceLength,
		"passive": cfg.PassiveForceLength,
		"length":  cfg.Flexor.Length,
		"arm":     cfg.Extensor.MomentArm,
	} {
		c, err := NewCurveFromTable(tbl)
		require.NoError(t, err, name)
		for i := 1; i < len(tbl.X); i++ {
			lo := math.Min(tbl.Y[i-1], tbl.Y[i])
			hi := math.Max(tbl.Y[i-1], tbl.Y[i])
			for k := 1; k < 20; k++ {
				x := tbl.X[i-1] + (tbl.X[i]-tbl.X[i-1])*float64(k)/20
				y := c.At(x)
				require.GreaterOrEqual(t, y, lo-1e-12, "%s at %v", name, x)
				require.LessOrEqual(t, y, hi+1e-12, "%s at %v", name, x)
			}
		}
		for i, x := range tbl.X {
			require.InDelta(t, tbl.Y[i], c.At(x), 1e-12, "%s knot %d", name, i)
		}
	}
}

func TestCurveClampsOutsideDomain(t *testing.T) {
	c, err := NewCurve([]float64{0, 1, 2}, []float64{1, 2, 4})
	require.NoError(t, err)
	lo, hi := c.Domain()
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 2.0, hi)
	assert.Equal(t, 1.0, c.At(-100))
	assert.Equal(t, 4.0, c.At(100))
	assert.Equal(t, 4.0, c.At(math.Inf(1)))
	assert.True(t, math.IsNaN(c.At(math.NaN())))
}

func TestCurveRejectsBadTables(t *testing.T) {
	_, err := NewCurve([]float64{0, 1, 2}, []float64{0, 1})
	require.ErrorIs(t, err, ErrTableLength)
	_, err = NewCurve([]float64{0, 1}, []float64{0, 1})
	require.ErrorIs(t, err, ErrTableTooShort)
	_, err = NewCurve([]float64{0, 2, 1}, []float64{0, 1, 2})
	require.ErrorIs(t, err, ErrTableOrder)

	cfg := DefaultWristConfig()
	cfg.Extensor.MomentArm.Y = cfg.Extensor.MomentArm.Y[:3]
	_, err = NewWristModel(cfg)
	require.ErrorIs(t, err, ErrTableLength)
}

func TestZeroActivationIsPassiveOnly(t *testing.T) {
	m := wrist(t)
	var nonZero bool
	for angle := -0.99; angle <= 1.22; angle += 0.01 {
		var want float64
		for _, mu := range []*Muscle{m.Flexor(), m.Extensor()} {
			active, passive, phi := mu.Forces(angle, mu.Activation(0))
			require.Equal(t, 0.0, active, "%s at %v", mu.Params().Name, angle)
			want += passive * math.Cos(phi) * mu.MomentArm(angle)
		}
		got := m.Torque(angle, 0, 0)
		require.InDelta(t, want, got, 1e-12, "angle %v", angle)
		if got != 0 {
			nonZero = true
		}
	}
	// the flexor is stretched past rest length in full extension
	assert.True(t, nonZero)
}

func TestTorqueContinuousAtAngleLimit(t *testing.T) {
	m := wrist(t)
	_, hi := m.Flexor().geo.Length.Domain()
	for _, act := range [][2]float64{{0, 0}, {1, 0}, {0, 1}, {0.4, 0.7}} {
		below := m.Torque(hi-1e-9, act[0], act[1])
		at := m.Torque(hi, act[0], act[1])
		above := m.Torque(hi+1e-9, act[0], act[1])
		assert.InDelta(t, at, below, 1e-6)
		assert.InDelta(t, at, above, 1e-6)
		assert.Equal(t, at, m.Torque(hi+10, act[0], act[1]))
	}
}

func TestMusclesOppose(t *testing.T) {
	m := wrist(t)
	rest := m.Torque(0, 0, 0)
	assert.Greater(t, m.Torque(0, 1, 0), rest)
	assert.Less(t, m.Torque(0, 0, 1), rest)

	f := m.Flexor()
	lm := f.FiberLength(f.geo.Length.At(0))
	assert.Greater(t, lm, f.height)
	_, _, phi := f.Forces(0, 1)
	assert.Greater(t, phi, 0.0)
	assert.Less(t, phi, f.Params().PennationAtOptimal)
}

func TestMuscleParamsAreCopies(t *testing.T) {
	m := wrist(t)
	before := m.Torque(0.2, 0.6, 0.1)

	p := m.Flexor().Params()
	require.Equal(t, DefaultWristConfig().Flexor.Params, p)
	p.MaxIsometricForce *= 10
	p.OptimalFiberLength = 0

	require.Equal(t, DefaultWristConfig().Flexor.Params, m.Flexor().Params())
	require.Equal(t, before, m.Torque(0.2, 0.6, 0.1))
}

func TestTorquePropagatesNaN(t *testing.T) {
	m := wrist(t)
	assert.True(t, math.IsNaN(m.Torque(math.NaN(), 0.5, 0.5)))
	assert.True(t, math.IsNaN(m.Torque(0, math.NaN(), 0)))
	assert.False(t, math.IsNaN(m.Torque(0, -0.5, 0)))
}

func TestProportionalModel(t *testing.T) {
	var p TorqueProvider = ProportionalModel{Gain: 2}
	assert.Equal(t, 1.0, p.Torque(123, 0.75, 0.25))

	var f TorqueProvider = TorqueFunc(func(a, fl, ex float64) float64 { return a + fl + ex })
	assert.Equal(t, 6.0, f.Torque(1, 2, 3))
}
