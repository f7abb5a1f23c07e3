package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormsync/stormsync/internal/core/mathx"
)

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()

	id := reg.Create()
	assert.True(t, reg.Alive(id))

	reg.Destroy(id)
	assert.False(t, reg.Alive(id))

	// Idempotent: a second destroy is a no-op.
	reg.Destroy(id)
	assert.False(t, reg.Alive(id))

	err := reg.Add(id, NewTransform())
	require.ErrorIs(t, err, ErrEntityDestroyed)

	err = reg.Add(EntityID(9999), NewTransform())
	require.ErrorIs(t, err, ErrEntityNotFound)
}

func TestRegistryDuplicateComponent(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create()

	require.NoError(t, reg.Add(id, NewTransform()))
	err := reg.Add(id, NewTransform())
	require.ErrorIs(t, err, ErrDuplicateComponent)

	// The original component survives the failed add.
	tr, ok := reg.Transform(id)
	require.True(t, ok)
	assert.Equal(t, mathx.Vec3{X: 1, Y: 1, Z: 1}, tr.Scale)
}

func TestRegistryAddRejectsInvalidComponent(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create()

	bad := NewPhysics()
	bad.Friction = 2
	err := reg.Add(id, bad)
	require.ErrorIs(t, err, ErrInvalidComponent)
	assert.False(t, reg.Has(id, KindPhysics))
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create()

	require.NoError(t, reg.Add(id, NewPhysics()))
	require.NoError(t, reg.Remove(id, KindPhysics))
	assert.False(t, reg.Has(id, KindPhysics))

	err := reg.Remove(id, KindPhysics)
	require.ErrorIs(t, err, ErrComponentNotFound)
}

func TestRegistryHasRequiresAll(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create()

	require.NoError(t, reg.Add(id, NewTransform()))
	assert.True(t, reg.Has(id, KindTransform))
	assert.False(t, reg.Has(id, KindTransform, KindPhysics))
}

func TestRegistryComponentLookupAfterDestroy(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create()
	require.NoError(t, reg.Add(id, NewTransform()))

	reg.Destroy(id)
	_, ok := reg.Transform(id)
	assert.False(t, ok)
	assert.False(t, reg.Has(id, KindTransform))
}

func TestRegistryEntityByNetworkID(t *testing.T) {
	reg := NewRegistry()
	id := reg.Create()
	require.NoError(t, reg.Add(id, NewNetwork("player-1", AuthorityClient)))

	found, ok := reg.EntityByNetworkID("player-1")
	require.True(t, ok)
	assert.Equal(t, id, found)

	_, ok = reg.EntityByNetworkID("missing")
	assert.False(t, ok)

	reg.Destroy(id)
	_, ok = reg.EntityByNetworkID("player-1")
	assert.False(t, ok)
}
