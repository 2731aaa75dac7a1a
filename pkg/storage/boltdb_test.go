package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidemark/flotilla/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNodeCRUD(t *testing.T) {
	store := newTestStore(t)

	node := &types.Node{
		ID:        "node-1",
		Region:    "us-east",
		Address:   "10.0.0.5",
		Status:    types.NodeStatusReady,
		CreatedAt: time.Now().UTC(),
	}

	require.NoError(t, store.CreateNode(node))

	got, err := store.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, "us-east", got.Region)
	assert.Equal(t, types.NodeStatusReady, got.Status)

	node.Status = types.NodeStatusDown
	require.NoError(t, store.UpdateNode(node))

	got, err = store.GetNode("node-1")
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusDown, got.Status)

	nodes, err := store.ListNodes()
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	require.NoError(t, store.DeleteNode("node-1"))
	_, err = store.GetNode("node-1")
	assert.Error(t, err)
}

func TestGetNode_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetNode("missing")
	assert.ErrorContains(t, err, "node not found")
}

func TestArtifactPersistence(t *testing.T) {
	store := newTestStore(t)

	meta := &types.Artifact{
		ID:          "art-1",
		JobID:       "job-1",
		Name:        "build.log",
		ContentType: "text/plain",
		SizeBytes:   5,
		Checksum:    "abc123",
		StoredAt:    time.Now().UTC(),
	}

	require.NoError(t, store.PutArtifact(meta, []byte("hello")))

	content, err := store.GetArtifactContent("art-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), content)

	list, err := store.ListArtifacts()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "build.log", list[0].Name)
	assert.Equal(t, "job-1", list[0].JobID)

	require.NoError(t, store.DeleteArtifact("art-1"))
	_, err = store.GetArtifactContent("art-1")
	assert.ErrorContains(t, err, "artifact not found")

	list, err = store.ListArtifacts()
	require.NoError(t, err)
	assert.Empty(t, list)
}
