package storage

import (
	"github.com/tidemark/flotilla/pkg/types"
)

// Store defines the interface for control plane state that outlives the
// process: node rows backing the registry and artifact blobs persisted by
// the artifact store.
type Store interface {
	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Artifacts
	PutArtifact(meta *types.Artifact, content []byte) error
	GetArtifactContent(id string) ([]byte, error)
	ListArtifacts() ([]*types.Artifact, error)
	DeleteArtifact(id string) error

	// Utility
	Close() error
}
