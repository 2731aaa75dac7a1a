package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidemark/flotilla/pkg/storage"
	"github.com/tidemark/flotilla/pkg/types"
)

func TestMemoryRegistryFiltering(t *testing.T) {
	r := NewMemoryRegistry()
	r.Put(&types.Node{ID: "a", Region: "us-east", Status: types.NodeStatusReady})
	r.Put(&types.Node{ID: "b", Region: "us-east", Status: types.NodeStatusDown})
	r.Put(&types.Node{ID: "c", Region: "eu-west", Status: types.NodeStatusReady})

	ready, err := r.ListNodes(types.NodeStatusReady)
	require.NoError(t, err)
	assert.Len(t, ready, 2)

	all, err := r.ListNodes("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	east, err := r.ListByRegion("us-east")
	require.NoError(t, err)
	assert.Len(t, east, 2)

	node, err := r.Get("c")
	require.NoError(t, err)
	assert.Equal(t, "eu-west", node.Region)

	_, err = r.Get("missing")
	assert.Error(t, err)
}

func TestMemoryRegistryReturnsCopies(t *testing.T) {
	r := NewMemoryRegistry()
	r.Put(&types.Node{ID: "a", Status: types.NodeStatusReady})

	node, err := r.Get("a")
	require.NoError(t, err)
	node.Status = types.NodeStatusDown

	again, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusReady, again.Status)
}

func TestStoreRegistry(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	r := NewStoreRegistry(store)

	require.NoError(t, r.Register(&types.Node{ID: "n1", Region: "us-east"}))

	node, err := r.Get("n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusReady, node.Status)
	assert.False(t, node.LastHeartbeat.IsZero())

	require.NoError(t, r.Heartbeat("n1", types.NodeStatusDraining))
	node, err = r.Get("n1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusDraining, node.Status)

	nodes, err := r.ListByRegion("us-east")
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	require.NoError(t, r.Remove("n1"))
	_, err = r.Get("n1")
	assert.Error(t, err)
}

func TestStoreRegistryRejectsEmptyID(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	r := NewStoreRegistry(store)
	assert.Error(t, r.Register(&types.Node{}))
}
