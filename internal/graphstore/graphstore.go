// Package graphstore is the storage abstraction over the code graph
// (nodes, edges, embeddings). Every operation takes the authenticated
// tenant id as an explicit argument and is validated to be scoped to that
// tenant before anything reaches the backend; tenant identifiers embedded
// in untrusted node or edge payloads are never trusted.
package graphstore

import "context"

// Node is one code graph vertex. Properties may carry a tenant_id entry
// from upstream payloads; the store always overwrites it with the
// authenticated tenant.
type Node struct {
	RepoID        string                 `json:"repo_id"`
	QualifiedName string                 `json:"qualified_name"`
	NodeType      string                 `json:"node_type"`
	Properties    map[string]interface{} `json:"properties,omitempty"`
}

// Edge is one relationship between two qualified node names.
type Edge struct {
	FromNode   string                 `json:"from_node"`
	ToNode     string                 `json:"to_node"`
	EdgeType   string                 `json:"edge_type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// GraphStore is the closed set of graph backends. Callers depend on this
// interface, never on the concrete type.
type GraphStore interface {
	InsertNodes(ctx context.Context, tenantID string, nodes []Node) error
	InsertEdges(ctx context.Context, tenantID string, edges []Edge) error

	// QueryGraph executes a read query with named :param placeholders.
	// The query text must contain a tenant_id condition and any tenant_id
	// parameter must equal the tenantID argument, or the query is rejected
	// before any network call.
	QueryGraph(ctx context.Context, tenantID, query string, params map[string]interface{}) ([]map[string]interface{}, error)

	DeleteNodes(ctx context.Context, tenantID, repoID string) (int64, error)
	DeleteEdges(ctx context.Context, tenantID, repoID string) (int64, error)
	GetNode(ctx context.Context, tenantID, qualifiedName string) (*Node, error)
	GetNeighbors(ctx context.Context, tenantID, qualifiedName string, edgeType string) ([]Node, error)
	CountNodes(ctx context.Context, tenantID, repoID string) (int64, error)
	CountEdges(ctx context.Context, tenantID, repoID string) (int64, error)
	Close() error
}
