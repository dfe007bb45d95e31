package castm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ZephyrVia/CaSTM/castm"
)

func TestMVOCCSingleThreadedCounter(t *testing.T) {
	e := castm.New(castm.FlavorMVOCC)
	counter := castm.NewVar(e, 0)

	for i := 0; i < 10; i++ {
		_, err := castm.Atomically(e, func(tx *castm.Tx) (struct{}, error) {
			v, err := castm.Load(tx, counter)
			if err != nil {
				return struct{}{}, err
			}
			return struct{}{}, castm.Store(tx, counter, v+1)
		})
		require.NoError(t, err)
	}

	got, err := castm.Atomically(e, func(tx *castm.Tx) (int, error) {
		return castm.Load(tx, counter)
	})
	require.NoError(t, err)
	assert.Equal(t, 10, got)
}

func TestConcurrentIncrementsUnderEachFlavor(t *testing.T) {
	for _, flavor := range []castm.Flavor{castm.FlavorMVOCC, castm.FlavorSVOCC, castm.FlavorWW} {
		flavor := flavor
		t.Run(flavor.String(), func(t *testing.T) {
			e := castm.New(flavor)
			counter := castm.NewVar(e, 0)

			const goroutines = 8
			const perGoroutine = 200

			var g errgroup.Group
			for i := 0; i < goroutines; i++ {
				g.Go(func() error {
					for i := 0; i < perGoroutine; i++ {
						_, err := castm.Atomically(e, func(tx *castm.Tx) (struct{}, error) {
							v, err := castm.Load(tx, counter)
							if err != nil {
								return struct{}{}, err
							}
							return struct{}{}, castm.Store(tx, counter, v+1)
						})
						if err != nil {
							return err
						}
					}
					return nil
				})
			}
			require.NoError(t, g.Wait())

			got, err := castm.Atomically(e, func(tx *castm.Tx) (int, error) {
				return castm.Load(tx, counter)
			})
			require.NoError(t, err)
			assert.Equal(t, goroutines*perGoroutine, got)
		})
	}
}

func TestLostUpdateForcesRetryUnderEachFlavor(t *testing.T) {
	for _, flavor := range []castm.Flavor{castm.FlavorMVOCC, castm.FlavorSVOCC, castm.FlavorWW} {
		flavor := flavor
		t.Run(flavor.String(), func(t *testing.T) {
			e := castm.New(flavor)
			v := castm.NewVar(e, 0)

			attempts := 0
			got, err := castm.Atomically(e, func(tx *castm.Tx) (int, error) {
				attempts++
				cur, err := castm.Load(tx, v)
				if err != nil {
					return 0, err
				}
				if attempts == 1 {
					// A competing transaction slips in and commits between
					// our read and our write; our first attempt's update
					// would be lost if it were allowed to commit.
					_, err := castm.Atomically(e, func(in *castm.Tx) (struct{}, error) {
						return struct{}{}, castm.Store(in, v, 100)
					})
					if err != nil {
						return 0, err
					}
				}
				if err := castm.Store(tx, v, cur+100); err != nil {
					return 0, err
				}
				return cur + 100, nil
			})
			require.NoError(t, err)
			assert.Equal(t, 200, got, "the retried attempt must observe the competing commit")
			assert.Equal(t, 2, attempts)

			final, err := castm.Atomically(e, func(tx *castm.Tx) (int, error) {
				return castm.Load(tx, v)
			})
			require.NoError(t, err)
			assert.Equal(t, 200, final)
		})
	}
}

func TestReadYourOwnWrites(t *testing.T) {
	e := castm.New(castm.FlavorMVOCC)
	v := castm.NewVar(e, "initial")

	got, err := castm.Atomically(e, func(tx *castm.Tx) (string, error) {
		if err := castm.Store(tx, v, "drafted"); err != nil {
			return "", err
		}
		return castm.Load(tx, v)
	})
	require.NoError(t, err)
	assert.Equal(t, "drafted", got)
}

func TestBodyErrorAbortsWithoutRetry(t *testing.T) {
	e := castm.New(castm.FlavorSVOCC)
	v := castm.NewVar(e, 1)
	boom := errors.New("boom")

	_, err := castm.Atomically(e, func(tx *castm.Tx) (struct{}, error) {
		if err := castm.Store(tx, v, 2); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := castm.Atomically(e, func(tx *castm.Tx) (int, error) {
		return castm.Load(tx, v)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got, "aborted transaction must not have published its draft")
}

func TestAllocFreeRoundTripUnderMVOCC(t *testing.T) {
	e := castm.New(castm.FlavorMVOCC)

	type payload struct{ n int }
	ptr, err := castm.Atomically(e, func(tx *castm.Tx) (*payload, error) {
		p, err := castm.Alloc[payload](tx)
		if err != nil {
			return nil, err
		}
		p.n = 7
		return p, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, ptr.n)

	_, err = castm.Atomically(e, func(tx *castm.Tx) (struct{}, error) {
		return struct{}{}, castm.Free(tx, ptr)
	})
	require.NoError(t, err)
}

func TestAllocNotSupportedUnderWoundWait(t *testing.T) {
	e := castm.New(castm.FlavorWW)

	_, err := castm.Atomically(e, func(tx *castm.Tx) (*int, error) {
		return castm.Alloc[int](tx)
	})
	require.ErrorIs(t, err, castm.ErrAllocNotSupported)
}

