package filters

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func noise(n int, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = r.NormFloat64()
	}
	return out
}

func TestIIRImpulseResponse(t *testing.T) {
	f, err := NewIIR(Coefficients{B: []float64{1}, A: []float64{1, -0.5}})
	require.NoError(t, err)
	require.Equal(t, 1, f.Order())

	want := []float64{1, 0.5, 0.25, 0.125}
	for i, w := range want {
		x := 0.0
		if i == 0 {
			x = 1
		}
		require.InDelta(t, w, f.Sample(x), 1e-12, "sample %d", i)
	}
}

func TestIIRNormalizesA0(t *testing.T) {
	f, err := NewIIR(Coefficients{B: []float64{2}, A: []float64{2, -1}})
	require.NoError(t, err)
	require.InDelta(t, 1.0, f.Sample(1), 1e-12)
	require.InDelta(t, 0.5, f.Sample(0), 1e-12)
}

func TestIIRZeroInputZeroOutput(t *testing.T) {
	spec := DefaultEMGChain()
	for name, c := range map[string]Coefficients{
		"notch":    spec.Notch,
		"highpass": spec.HighPass,
		"lowpass":  spec.LowPass,
	} {
		f, err := NewIIR(c)
		require.NoError(t, err, name)
		for i := 0; i < 1000; i++ {
			require.Equal(t, 0.0, f.Sample(0), "%s sample %d", name, i)
		}
	}
}

func TestIIRLinearity(t *testing.T) {
	spec := DefaultEMGChain()
	x := noise(2000, 1)
	const k = -3.7

	f1, err := NewIIR(spec.HighPass)
	require.NoError(t, err)
	f2, err := NewIIR(spec.HighPass)
	require.NoError(t, err)

	for i, v := range x {
		y1 := f1.Sample(v)
		y2 := f2.Sample(k * v)
		require.InDelta(t, k*y1, y2, 1e-9, "sample %d", i)
	}
}

func TestIIRPrimeSteadyState(t *testing.T) {
	f, err := NewIIR(DefaultEMGChain().LowPass)
	require.NoError(t, err)

	f.Prime(2.0)
	for i := 0; i < 100; i++ {
		require.InDelta(t, 2.0, f.Sample(2.0), 1e-9, "sample %d", i)
	}

	f.Prime(0)
	require.Equal(t, 0.0, f.Sample(0))
}

func TestIIRIntegratorHasNoSteadyState(t *testing.T) {
	// pole at z=1
	f, err := NewIIR(Coefficients{B: []float64{1, 0}, A: []float64{1, -1}})
	require.NoError(t, err)
	f.Prime(5)
	require.Equal(t, 1.0, f.Sample(1))
	require.Equal(t, 2.0, f.Sample(1))
}

func TestIIRSampleDoesNotAllocate(t *testing.T) {
	f, err := NewIIR(DefaultEMGChain().Notch)
	require.NoError(t, err)
	allocs := testing.AllocsPerRun(1000, func() {
		f.Sample(0.5)
	})
	require.Equal(t, 0.0, allocs)
}

func TestIIRCopiesCoefficients(t *testing.T) {
	b := []float64{1}
	a := []float64{1, -0.5}
	f, err := NewIIR(Coefficients{B: b, A: a})
	require.NoError(t, err)
	a[1] = 0.9
	f.Sample(1)
	require.InDelta(t, 0.5, f.Sample(0), 1e-12)
}

func TestInvalidCoefficients(t *testing.T) {
	_, err := NewIIR(Coefficients{B: []float64{1}})
	require.ErrorIs(t, err, ErrInvalidCoefficients)

	_, err = NewIIR(Coefficients{B: []float64{1}, A: []float64{0, 1}})
	require.ErrorIs(t, err, ErrInvalidCoefficients)

	_, err = NewSOS([][]float64{{1, 2, 3}})
	require.ErrorIs(t, err, ErrInvalidCoefficients)

	_, err = NewSOS([][]float64{{1, 0, 0, 0, 0, 0}})
	require.ErrorIs(t, err, ErrInvalidCoefficients)
}

func TestSOSMatchesTransferFunction(t *testing.T) {
	c := DefaultEMGChain().HighPass
	row := append(append([]float64{}, c.B...), c.A...)

	tf, err := NewIIR(c)
	require.NoError(t, err)
	sos, err := NewSOS([][]float64{row})
	require.NoError(t, err)

	for i, v := range noise(500, 2) {
		require.InDelta(t, tf.Sample(v), sos.Sample(v), 1e-12, "sample %d", i)
	}
}

func TestNewStagePrefersSOS(t *testing.T) {
	st, err := NewStage(Coefficients{
		B:   []float64{1},
		A:   []float64{1},
		SOS: [][]float64{{0.5, 0, 0, 1, 0, 0}},
	})
	require.NoError(t, err)
	require.IsType(t, &SOS{}, st)
	require.Equal(t, 0.5, st.Sample(1))
}

func TestStatelessStages(t *testing.T) {
	require.Equal(t, 3.0, Rectify{}.Sample(-3))
	require.Equal(t, 0.5, Scale{Divisor: 4}.Sample(2))
	require.Equal(t, 6.0, StageFunc(func(x float64) float64 { return 2 * x }).Sample(3))
}

func TestChainNormalizesEnvelope(t *testing.T) {
	c, err := NewEMGChain(DefaultEMGChain(), 0.18)
	require.NoError(t, err)

	var y float64
	for i, v := range noise(3000, 3) {
		y = c.Sample(0.1 * v)
		require.False(t, math.IsNaN(y), "sample %d", i)
	}
	require.InDelta(t, c.Envelope()/0.18, y, 1e-12)
	require.Greater(t, c.Envelope(), 0.0)

	c.SetMVC(-1)
	require.Equal(t, 0.18, c.MVC())
	c.SetMVC(0.5)
	require.Equal(t, 0.5, c.MVC())
}

func TestChainRejectsBadMVC(t *testing.T) {
	_, err := NewEMGChain(DefaultEMGChain(), 0)
	require.ErrorIs(t, err, ErrInvalidMVC)
	_, err = NewEMGChain(DefaultEMGChain(), math.NaN())
	require.ErrorIs(t, err, ErrInvalidMVC)
}

func TestChainSkipsDisabledStages(t *testing.T) {
	c, err := NewEMGChain(ChainSpec{}, 2)
	require.NoError(t, err)
	// rectify and normalize only
	require.Equal(t, 1.5, c.Sample(-3))
}

func TestBankChannelsAreIndependent(t *testing.T) {
	b, err := NewBank(DefaultEMGChain(), []float64{0.18, 0.065}, 3)
	require.NoError(t, err)
	require.Equal(t, 3, b.Len())
	require.Equal(t, 0.18, b.Chain(0).MVC())
	require.Equal(t, 0.065, b.Chain(1).MVC())
	require.Equal(t, 1.0, b.Chain(2).MVC())

	in := make([]float64, 3)
	out := make([]float64, 3)
	for _, v := range noise(1000, 4) {
		in[0] = v
		b.Process(in, out)
		require.Equal(t, 0.0, out[1])
		require.Equal(t, 0.0, out[2])
	}
	require.Greater(t, out[0], 0.0)
}

func TestPeakHold(t *testing.T) {
	p := NewPeakHold(0.01)
	require.Equal(t, 0.01, p.Peak())

	p.Observe(0.005)
	require.Equal(t, 0.01, p.Peak())

	p.Observe(0.2)
	p.Observe(-0.5)
	p.Observe(0.1)
	require.Equal(t, 0.5, p.Peak())
}
