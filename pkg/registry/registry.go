package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidemark/flotilla/pkg/storage"
	"github.com/tidemark/flotilla/pkg/types"
)

// NodeRegistry is the read surface the control plane uses to look up live
// nodes. The failover prober and idle manager only read through this
// interface; writes come from the adapters that admit nodes.
type NodeRegistry interface {
	Get(nodeID string) (*types.Node, error)
	// ListNodes returns all nodes, or only those with the given status when
	// status is non-empty.
	ListNodes(status types.NodeStatus) ([]*types.Node, error)
	ListByRegion(region string) ([]*types.Node, error)
}

// StoreRegistry implements NodeRegistry on top of a storage.Store and adds
// the write operations used by node admission.
type StoreRegistry struct {
	store storage.Store
}

// NewStoreRegistry creates a registry backed by persistent storage
func NewStoreRegistry(store storage.Store) *StoreRegistry {
	return &StoreRegistry{store: store}
}

func (r *StoreRegistry) Get(nodeID string) (*types.Node, error) {
	return r.store.GetNode(nodeID)
}

func (r *StoreRegistry) ListNodes(status types.NodeStatus) ([]*types.Node, error) {
	nodes, err := r.store.ListNodes()
	if err != nil {
		return nil, err
	}
	return filterNodes(nodes, status, ""), nil
}

func (r *StoreRegistry) ListByRegion(region string) ([]*types.Node, error) {
	nodes, err := r.store.ListNodes()
	if err != nil {
		return nil, err
	}
	return filterNodes(nodes, "", region), nil
}

// Register admits a node, recording its first heartbeat
func (r *StoreRegistry) Register(node *types.Node) error {
	if node.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if node.Status == "" {
		node.Status = types.NodeStatusReady
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}
	node.LastHeartbeat = time.Now().UTC()
	return r.store.CreateNode(node)
}

// Heartbeat updates a node's last heartbeat timestamp and status
func (r *StoreRegistry) Heartbeat(nodeID string, status types.NodeStatus) error {
	node, err := r.store.GetNode(nodeID)
	if err != nil {
		return err
	}
	node.LastHeartbeat = time.Now().UTC()
	if status != "" {
		node.Status = status
	}
	return r.store.UpdateNode(node)
}

// Remove deletes a node row
func (r *StoreRegistry) Remove(nodeID string) error {
	return r.store.DeleteNode(nodeID)
}

// MemoryRegistry is an in-memory NodeRegistry used by tests and by
// deployments that feed node state from an external inventory.
type MemoryRegistry struct {
	mu    sync.RWMutex
	nodes map[string]*types.Node
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{nodes: make(map[string]*types.Node)}
}

// Put inserts or replaces a node
func (r *MemoryRegistry) Put(node *types.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *node
	r.nodes[node.ID] = &copied
}

// Delete removes a node
func (r *MemoryRegistry) Delete(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, nodeID)
}

func (r *MemoryRegistry) Get(nodeID string) (*types.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", nodeID)
	}
	copied := *node
	return &copied, nil
}

func (r *MemoryRegistry) ListNodes(status types.NodeStatus) ([]*types.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return filterNodes(r.snapshot(), status, ""), nil
}

func (r *MemoryRegistry) ListByRegion(region string) ([]*types.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return filterNodes(r.snapshot(), "", region), nil
}

// snapshot copies the node set; caller holds at least a read lock
func (r *MemoryRegistry) snapshot() []*types.Node {
	nodes := make([]*types.Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		copied := *node
		nodes = append(nodes, &copied)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// filterNodes keeps nodes matching the non-empty criteria
func filterNodes(nodes []*types.Node, status types.NodeStatus, region string) []*types.Node {
	var out []*types.Node
	for _, node := range nodes {
		if status != "" && node.Status != status {
			continue
		}
		if region != "" && node.Region != region {
			continue
		}
		out = append(out, node)
	}
	return out
}
