package graphstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aeluslabs/tenantgate/internal/domain"
)

// InMemoryGraphStore backs tests and local development. Queries are not
// executed against a SQL engine; QueryGraph only runs the same validation
// as the Postgres store and returns all of the tenant's nodes.
type InMemoryGraphStore struct {
	mu    sync.RWMutex
	nodes map[string][]Node // tenantID -> nodes
	edges map[string][]Edge
}

func NewInMemoryGraphStore() *InMemoryGraphStore {
	return &InMemoryGraphStore{
		nodes: make(map[string][]Node),
		edges: make(map[string][]Edge),
	}
}

func (s *InMemoryGraphStore) InsertNodes(ctx context.Context, tenantID string, nodes []Node) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, node := range nodes {
		node.Properties = stampTenant(node.Properties, tenantID)
		replaced := false
		for i, existing := range s.nodes[tenantID] {
			if existing.RepoID == node.RepoID && existing.QualifiedName == node.QualifiedName {
				s.nodes[tenantID][i] = node
				replaced = true
				break
			}
		}
		if !replaced {
			s.nodes[tenantID] = append(s.nodes[tenantID], node)
		}
	}
	return nil
}

func (s *InMemoryGraphStore) InsertEdges(ctx context.Context, tenantID string, edges []Edge) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, edge := range edges {
		edge.Properties = stampTenant(edge.Properties, tenantID)
		replaced := false
		for i, existing := range s.edges[tenantID] {
			if existing.FromNode == edge.FromNode && existing.ToNode == edge.ToNode && existing.EdgeType == edge.EdgeType {
				s.edges[tenantID][i] = edge
				replaced = true
				break
			}
		}
		if !replaced {
			s.edges[tenantID] = append(s.edges[tenantID], edge)
		}
	}
	return nil
}

func (s *InMemoryGraphStore) QueryGraph(ctx context.Context, tenantID, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	if err := validateTenantQuery(tenantID, query, params); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []map[string]interface{}
	for _, node := range s.nodes[tenantID] {
		out = append(out, map[string]interface{}{
			"repo_id":        node.RepoID,
			"qualified_name": node.QualifiedName,
			"node_type":      node.NodeType,
			"properties":     node.Properties,
		})
	}
	return out, nil
}

func (s *InMemoryGraphStore) DeleteNodes(ctx context.Context, tenantID, repoID string) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []Node
	var removed int64
	for _, node := range s.nodes[tenantID] {
		if node.RepoID == repoID {
			removed++
			continue
		}
		kept = append(kept, node)
	}
	s.nodes[tenantID] = kept
	return removed, nil
}

func (s *InMemoryGraphStore) DeleteEdges(ctx context.Context, tenantID, repoID string) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []Edge
	var removed int64
	for _, edge := range s.edges[tenantID] {
		if edgeRepo(edge) == repoID {
			removed++
			continue
		}
		kept = append(kept, edge)
	}
	s.edges[tenantID] = kept
	return removed, nil
}

func (s *InMemoryGraphStore) GetNode(ctx context.Context, tenantID, qualifiedName string) (*Node, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, node := range s.nodes[tenantID] {
		if node.QualifiedName == qualifiedName {
			found := node
			return &found, nil
		}
	}
	return nil, nil
}

func (s *InMemoryGraphStore) GetNeighbors(ctx context.Context, tenantID, qualifiedName string, edgeType string) ([]Node, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Node
	for _, edge := range s.edges[tenantID] {
		if edge.FromNode != qualifiedName {
			continue
		}
		if edgeType != "" && edge.EdgeType != edgeType {
			continue
		}
		for _, node := range s.nodes[tenantID] {
			if node.QualifiedName == edge.ToNode {
				out = append(out, node)
				break
			}
		}
	}
	return out, nil
}

func (s *InMemoryGraphStore) CountNodes(ctx context.Context, tenantID, repoID string) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, node := range s.nodes[tenantID] {
		if repoID == "" || node.RepoID == repoID {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryGraphStore) CountEdges(ctx context.Context, tenantID, repoID string) (int64, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, edge := range s.edges[tenantID] {
		if repoID == "" || edgeRepo(edge) == repoID {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryGraphStore) Close() error { return nil }

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenant_id cannot be empty", domain.ErrStorageScope)
	}
	return nil
}

func edgeRepo(edge Edge) string {
	v, ok := edge.Properties["repo_id"]
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return strings.TrimSpace(str)
}
