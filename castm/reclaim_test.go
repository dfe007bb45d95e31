package castm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZephyrVia/CaSTM/castm"
)

func TestStartBackgroundReclaimStopsCleanlyWithoutLeakingGoroutines(t *testing.T) {
	e := castm.New(castm.FlavorMVOCC)
	v := castm.NewVar(e, 0)

	for i := 1; i <= 50; i++ {
		_, err := castm.Atomically(e, func(tx *castm.Tx) (struct{}, error) {
			return struct{}{}, castm.Store(tx, v, i)
		})
		require.NoError(t, err)
	}

	stop := e.StartBackgroundReclaim(context.Background(), time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	stop()

	got, err := castm.Atomically(e, func(tx *castm.Tx) (int, error) {
		return castm.Load(tx, v)
	})
	require.NoError(t, err)
	assert.Equal(t, 50, got)
}

func TestStartBackgroundReclaimHonorsContextCancellation(t *testing.T) {
	e := castm.New(castm.FlavorSVOCC)
	ctx, cancel := context.WithCancel(context.Background())

	stopCalled := make(chan struct{})
	stop := e.StartBackgroundReclaim(ctx, time.Millisecond)
	go func() {
		stop()
		close(stopCalled)
	}()

	cancel()
	select {
	case <-stopCalled:
	case <-time.After(time.Second):
		t.Fatal("stop() did not return after context cancellation")
	}
}
