package castm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWWCellReadProxyFallsBackToOldNodeWhileOwnerActive(t *testing.T) {
	cell := newWWCell(1)
	owner := &Descriptor{}

	rec, _, err := cell.tryWrite(owner, 2)
	require.NoError(t, err)
	require.NotNil(t, rec)

	reader := &Descriptor{id: owner.id + 1}
	val, dv := cell.readProxy(reader)
	assert.Equal(t, 1, val, "a non-owner must see the old value while the writer is still active")
	assert.Equal(t, uint64(0), dv)
}

func TestWWCellReadProxySeesNewNodeOnceOwnerCommitted(t *testing.T) {
	cell := newWWCell(1)
	owner := &Descriptor{}

	rec, _, err := cell.tryWrite(owner, 2)
	require.NoError(t, err)

	rec.stamp(7)
	owner.status.Store(uint32(txCommitted))

	reader := &Descriptor{id: owner.id + 1}
	val, dv := cell.readProxy(reader)
	assert.Equal(t, 2, val)
	assert.Equal(t, uint64(7), dv)
}

func TestWWCellTryWriteStealsAnAbortedOwnersRecord(t *testing.T) {
	cell := newWWCell(1)
	first := &Descriptor{}

	_, _, err := cell.tryWrite(first, 2)
	require.NoError(t, err)
	first.status.Store(uint32(txAborted))

	second := &Descriptor{id: first.id + 1}
	rec, displaced, err := cell.tryWrite(second, 3)
	require.NoError(t, err)
	assert.NotNil(t, displaced, "stealing an aborted owner's record must surface its draft for reclamation")
	assert.Equal(t, second, rec.owner)
	assert.Equal(t, 1, rec.oldNode.payload, "old_node must still be the last stable committed value, not the aborted draft")
}

func TestWWCellTryWriteIsReentrantForTheSameOwner(t *testing.T) {
	cell := newWWCell(1)
	owner := &Descriptor{}

	first, _, err := cell.tryWrite(owner, 2)
	require.NoError(t, err)

	second, displaced, err := cell.tryWrite(owner, 3)
	require.NoError(t, err)
	assert.Same(t, first.oldNode, second.oldNode, "a reentrant write keeps the original old_node snapshot")
	assert.Equal(t, first.newNode, displaced)
	assert.Equal(t, 3, second.newNode.payload)
}

func TestDescriptorOlderThanBreaksTiesByID(t *testing.T) {
	a := &Descriptor{startTS: 5, id: 1}
	b := &Descriptor{startTS: 5, id: 2}
	assert.True(t, a.olderThan(b))
	assert.False(t, b.olderThan(a))

	c := &Descriptor{startTS: 4, id: 100}
	assert.True(t, c.olderThan(a), "an earlier start_ts always wins regardless of id")
}
