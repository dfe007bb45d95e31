package castm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMVHeadLoadVisibleWalksToOlderVersion(t *testing.T) {
	h := newMVHead(10, 8)

	h.committer(20, 1, h.head.Load())
	h.committer(30, 2, h.head.Load())

	v, err := h.loadVisible(0)
	assert.NoError(t, err)
	assert.Equal(t, 10, v)

	v, err = h.loadVisible(1)
	assert.NoError(t, err)
	assert.Equal(t, 20, v)

	v, err = h.loadVisible(2)
	assert.NoError(t, err)
	assert.Equal(t, 30, v)
}

func TestMVHeadValidateRejectsStaleReadVersion(t *testing.T) {
	h := newMVHead(0, 8)
	h.committer(1, 5, h.head.Load())

	assert.False(t, h.validate(4))
	assert.True(t, h.validate(5))
	assert.True(t, h.validate(6))
}

func TestMVHeadCommitterDetachesTailBeyondHistoryCap(t *testing.T) {
	h := newMVHead(0, 2)

	var detached []*mvNode[int]
	for i := 1; i <= 5; i++ {
		_, d := h.committer(i, uint64(i), h.head.Load())
		if d != nil {
			detached = append(detached, d)
		}
	}

	assert.NotEmpty(t, detached, "a chain longer than historyCap must detach its tail")

	n := 0
	for cur := h.head.Load(); cur != nil; cur = cur.prev.Load() {
		n++
	}
	assert.LessOrEqual(t, n, 3, "retained chain should never exceed historyCap+1 (the new head plus historyCap ancestors)")
}
