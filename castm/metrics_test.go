package castm_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZephyrVia/CaSTM/castm"
)

func TestAtomicallyIncrementsCommitsAndEpochAdvancesMetrics(t *testing.T) {
	e := castm.New(castm.FlavorMVOCC)
	v := castm.NewVar(e, 0)
	ms := e.MetricsSet()

	for i := 1; i <= 5; i++ {
		_, err := castm.Atomically(e, func(tx *castm.Tx) (struct{}, error) {
			return struct{}{}, castm.Store(tx, v, i)
		})
		require.NoError(t, err)
	}

	assert.Equal(t, float64(5), testutil.ToFloat64(ms.Commits))
	assert.Equal(t, float64(5), testutil.ToFloat64(ms.EpochAdvances),
		"with no other active participant, every post-commit TryAdvance call succeeds")
}

func TestAtomicallyLeavesWoundsMetricAtZeroWithoutConflict(t *testing.T) {
	e := castm.New(castm.FlavorWW)
	v := castm.NewVar(e, 0)
	ms := e.MetricsSet()

	_, err := castm.Atomically(e, func(tx *castm.Tx) (struct{}, error) {
		return struct{}{}, castm.Store(tx, v, 1)
	})
	require.NoError(t, err)

	assert.Equal(t, float64(0), testutil.ToFloat64(ms.Wounds))
}
