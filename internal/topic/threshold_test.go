package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEWMAThresholdValueClampedToFloor(t *testing.T) {
	th := NewEWMAThreshold(SensitivityBalanced)
	th.Mean = 0
	th.Variance = 0
	assert.Equal(t, thresholdFloor, th.Value())
}

func TestEWMAThresholdValueClampedToCeiling(t *testing.T) {
	th := NewEWMAThreshold(SensitivityRelaxed)
	th.Mean = 10
	th.Variance = 100
	assert.Equal(t, thresholdCeil, th.Value())
}

func TestEWMAThresholdFirstUpdateSeedsMean(t *testing.T) {
	th := NewEWMAThreshold(SensitivityBalanced)
	th.Update(0.4)
	assert.Equal(t, 0.4, th.Mean)
	assert.Equal(t, 0.0, th.Variance)
}

func TestEWMAThresholdSeedSetsState(t *testing.T) {
	th := NewEWMAThreshold(SensitivityBalanced)
	th.Seed(0.25, 0.01)
	assert.Equal(t, 0.25, th.Mean)
	assert.Equal(t, 0.01, th.Variance)
}

func TestEWMAThresholdTracksSustainedDrift(t *testing.T) {
	th := NewEWMAThreshold(SensitivityBalanced)
	for i := 0; i < 50; i++ {
		th.Update(0.5)
	}
	// after many stable updates, mean converges near the steady input and
	// variance should shrink toward zero.
	assert.InDelta(t, 0.5, th.Mean, 0.05)
	assert.Less(t, th.Variance, 0.01)
}

func TestEWMAThresholdSensitivityPresetsOrdering(t *testing.T) {
	assert.Less(t, SensitivitySensitive, SensitivityBalanced)
	assert.Less(t, SensitivityBalanced, SensitivityRelaxed)
}

func TestEWMAThresholdValueAlwaysWithinBounds(t *testing.T) {
	th := NewEWMAThreshold(SensitivitySensitive)
	inputs := []float64{0.0, 0.9, 0.3, 1.5, 0.05, 2.0}
	for _, d := range inputs {
		th.Update(d)
		v := th.Value()
		assert.GreaterOrEqual(t, v, thresholdFloor)
		assert.LessOrEqual(t, v, thresholdCeil)
	}
}
