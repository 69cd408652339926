package measure

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/tve/yc600bridge/registry"
)

// canned2Panel is a synthetic payload long enough for the 2-panel decode
// path; it isn't a capture off real hardware, it's built to exercise every
// offset Decode reads without tripping the length check.
func canned2Panel() []byte {
	b := make([]byte, 70)
	for i := range b {
		b[i] = 0x11
	}
	return b
}

func TestDecodeRejectsUnsupportedPanelCount(t *testing.T) {
	_, err := Decode(canned2Panel(), 3)
	require.Error(t, err)
}

func TestDecodeRejectsShortPayload(t *testing.T) {
	_, err := Decode(make([]byte, 5), registry.Panels2)
	require.Error(t, err)
}

func TestDecode2PanelShapeAndRanges(t *testing.T) {
	m, err := Decode(canned2Panel(), registry.Panels2)
	require.NoError(t, err)
	assert.Len(t, m.VoltageDC, 2)
	assert.Len(t, m.CurrentDC, 2)
	assert.Len(t, m.WattPanel, 2)
	assert.Len(t, m.EnergyPanel, 2)
	for i := range m.WattPanel {
		assert.GreaterOrEqual(t, m.WattPanel[i], 0.0)
	}
}

func TestDecode4PanelShape(t *testing.T) {
	b := make([]byte, 80)
	for i := range b {
		b[i] = 0x22
	}
	m, err := Decode(b, registry.Panels4)
	require.NoError(t, err)
	assert.Len(t, m.VoltageDC, 4)
	assert.Len(t, m.EnergyPanel, 4)
}

// realistic2PanelPayload is a hand-built (not captured) payload with the
// 15-byte AF_INCOMING_MSG header zeroed out and realistic field values
// packed at every nibble offset Decode reads for a 2-panel inverter,
// including the nibbles 60:64 = 4E20 example from spec.md §8 scenario 4.
// The expected values below were derived independently from Decode's
// formulas, not copied from spec.md's illustrative (and slightly
// imprecise) "≈3766.06" figure for voltage_ac.
func realistic2PanelPayload(t *testing.T) []byte {
	t.Helper()
	b, err := hex.DecodeString("00000000000000000000000000000000000000000000000000000004070f42400000000000000074115d0ce1564e200000000000000000c35000000186a0")
	require.NoError(t, err)
	return b
}

func TestDecode2PanelConcreteValues(t *testing.T) {
	m, err := Decode(realistic2PanelPayload(t), registry.Panels2)
	require.NoError(t, err)

	assert.InDelta(t, 25.03, m.Temperature, 0.001)
	assert.InDelta(t, 50.0, m.FreqAC, 0.001)
	assert.InDelta(t, 3765.91, m.VoltageAC, 0.001)

	assert.InDelta(t, 2.5, m.CurrentDC[0], 0.001)
	assert.InDelta(t, 29.99, m.VoltageDC[0], 0.001)
	assert.InDelta(t, 74.9, m.WattPanel[0], 0.001)

	assert.InDelta(t, 1.8, m.CurrentDC[1], 0.001)
	assert.InDelta(t, 28.0, m.VoltageDC[1], 0.001)
	assert.InDelta(t, 50.38, m.WattPanel[1], 0.001)

	assert.InDelta(t, 230.861, m.EnergyPanel[0], 0.001)
	assert.InDelta(t, 115.431, m.EnergyPanel[1], 0.001)
}

func TestImplausibleZeroVoltage(t *testing.T) {
	m := Measurement{VoltageDC: []float64{0, 0}}
	assert.True(t, Implausible(m))
}

func TestPlausibleNonZeroVoltage(t *testing.T) {
	m := Measurement{VoltageDC: []float64{120, 118}}
	assert.False(t, Implausible(m))
}

func TestReconcileAccumulatesNormally(t *testing.T) {
	st := &registry.EnergyState{Last: []float64{0, 0}, Offset: []float64{0, 0}}
	out := Reconcile(st, []float64{1.0, 2.0})
	assert.Equal(t, []float64{1.0, 2.0}, out)
	out = Reconcile(st, []float64{1.5, 2.5})
	assert.Equal(t, []float64{1.5, 2.5}, out)
}

func TestReconcileFreezesOnRestartDrop(t *testing.T) {
	st := &registry.EnergyState{Last: []float64{10, 10}, Offset: []float64{0, 0}}
	// Raw readings dropped hard, as if the inverter's own counters reset.
	out := Reconcile(st, []float64{0.5, 0.5})
	assert.Equal(t, []float64{10.5, 10.5}, out)
}

func TestReconcileNeverGoesBackwards(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := 2
		st := &registry.EnergyState{Last: make([]float64, n), Offset: make([]float64, n)}
		prevSum := 0.0
		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			raw := make([]float64, n)
			for j := range raw {
				raw[j] = rapid.Float64Range(0, 500).Draw(t, "raw")
			}
			out := Reconcile(st, raw)
			sum := 0.0
			for _, v := range out {
				sum += v
			}
			assert.GreaterOrEqual(t, sum, prevSum)
			prevSum = sum
		}
	})
}
