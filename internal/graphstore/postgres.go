package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aeluslabs/tenantgate/internal/domain"
	"github.com/aeluslabs/tenantgate/internal/metrics"
	"github.com/aeluslabs/tenantgate/internal/repository"
)

// PostgresGraphStore keeps the code graph in two JSONB-backed tables with
// unique keys on (tenant_id, repo_id, qualified_name) for nodes and
// (tenant_id, from_node, to_node, edge_type) for edges.
//
// Every operation runs inside repository.WithTenant: the tables carry
// FORCE row-level-security policies that compare against the transaction's
// app.current_tenant_id, so a statement issued outside that scope sees no
// rows and can insert none.
type PostgresGraphStore struct {
	db *sql.DB
}

func NewPostgresGraphStore(db *sql.DB) *PostgresGraphStore {
	return &PostgresGraphStore{db: db}
}

// InsertNodes upserts a batch of nodes. The tenant_id column and the
// tenant_id entry inside the JSONB properties are both taken from the
// authenticated tenantID argument, never from the node payload.
func (s *PostgresGraphStore) InsertNodes(ctx context.Context, tenantID string, nodes []Node) error {
	id, err := parseTenant(tenantID)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}

	const query = `
		INSERT INTO code_nodes (tenant_id, repo_id, qualified_name, node_type, properties)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, repo_id, qualified_name)
		DO UPDATE SET node_type = EXCLUDED.node_type, properties = EXCLUDED.properties
	`
	return repository.WithTenant(ctx, s.db, id, func(tx *sql.Tx) error {
		for _, node := range nodes {
			props := stampTenant(node.Properties, tenantID)
			raw, err := json.Marshal(props)
			if err != nil {
				return fmt.Errorf("encode node properties: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, tenantID, node.RepoID, node.QualifiedName, node.NodeType, raw); err != nil {
				return fmt.Errorf("insert node %s: %w", node.QualifiedName, err)
			}
		}
		return nil
	})
}

// InsertEdges upserts a batch of edges, stamping the authenticated tenant
// the same way as InsertNodes.
func (s *PostgresGraphStore) InsertEdges(ctx context.Context, tenantID string, edges []Edge) error {
	id, err := parseTenant(tenantID)
	if err != nil {
		return err
	}
	if len(edges) == 0 {
		return nil
	}

	const query = `
		INSERT INTO code_edges (tenant_id, from_node, to_node, edge_type, properties)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, from_node, to_node, edge_type)
		DO UPDATE SET properties = EXCLUDED.properties
	`
	return repository.WithTenant(ctx, s.db, id, func(tx *sql.Tx) error {
		for _, edge := range edges {
			props := stampTenant(edge.Properties, tenantID)
			raw, err := json.Marshal(props)
			if err != nil {
				return fmt.Errorf("encode edge properties: %w", err)
			}
			if _, err := tx.ExecContext(ctx, query, tenantID, edge.FromNode, edge.ToNode, edge.EdgeType, raw); err != nil {
				return fmt.Errorf("insert edge %s->%s: %w", edge.FromNode, edge.ToNode, err)
			}
		}
		return nil
	})
}

func (s *PostgresGraphStore) QueryGraph(ctx context.Context, tenantID, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	if err := validateTenantQuery(tenantID, query, params); err != nil {
		metrics.RecordScopeViolation(tenantID)
		slog.Error("graph query rejected before execution",
			"tenant_id", tenantID,
			"error", err,
		)
		return nil, err
	}
	id, err := parseTenant(tenantID)
	if err != nil {
		return nil, err
	}

	if params == nil {
		params = make(map[string]interface{})
	}
	if _, ok := params["tenant_id"]; !ok {
		params["tenant_id"] = tenantID
	}

	bound, args, err := bindNamedParams(query, params)
	if err != nil {
		return nil, fmt.Errorf("bind graph query: %w", err)
	}

	var out []map[string]interface{}
	err = repository.WithTenant(ctx, s.db, id, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, bound, args...)
		if err != nil {
			return fmt.Errorf("graph query: %w", err)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("graph query columns: %w", err)
		}

		for rows.Next() {
			values := make([]interface{}, len(cols))
			ptrs := make([]interface{}, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return fmt.Errorf("scan graph row: %w", err)
			}

			row := make(map[string]interface{}, len(cols))
			for i, col := range cols {
				if b, ok := values[i].([]byte); ok {
					row[col] = string(b)
				} else {
					row[col] = values[i]
				}
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresGraphStore) DeleteNodes(ctx context.Context, tenantID, repoID string) (int64, error) {
	return s.deleteScoped(ctx, tenantID,
		`DELETE FROM code_nodes WHERE tenant_id = $1 AND repo_id = $2`, repoID)
}

func (s *PostgresGraphStore) DeleteEdges(ctx context.Context, tenantID, repoID string) (int64, error) {
	return s.deleteScoped(ctx, tenantID,
		`DELETE FROM code_edges WHERE tenant_id = $1 AND properties->>'repo_id' = $2`, repoID)
}

func (s *PostgresGraphStore) deleteScoped(ctx context.Context, tenantID, query, repoID string) (int64, error) {
	id, err := parseTenant(tenantID)
	if err != nil {
		return 0, err
	}

	var deleted int64
	err = repository.WithTenant(ctx, s.db, id, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query, tenantID, repoID)
		if err != nil {
			return fmt.Errorf("delete graph rows: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (s *PostgresGraphStore) GetNode(ctx context.Context, tenantID, qualifiedName string) (*Node, error) {
	id, err := parseTenant(tenantID)
	if err != nil {
		return nil, err
	}

	var node *Node
	err = repository.WithTenant(ctx, s.db, id, func(tx *sql.Tx) error {
		var found Node
		var raw []byte
		err := tx.QueryRowContext(ctx,
			`SELECT repo_id, qualified_name, node_type, properties
			 FROM code_nodes WHERE tenant_id = $1 AND qualified_name = $2`,
			tenantID, qualifiedName,
		).Scan(&found.RepoID, &found.QualifiedName, &found.NodeType, &raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get node: %w", err)
		}
		if err := json.Unmarshal(raw, &found.Properties); err != nil {
			return fmt.Errorf("decode node properties: %w", err)
		}
		node = &found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (s *PostgresGraphStore) GetNeighbors(ctx context.Context, tenantID, qualifiedName, edgeType string) ([]Node, error) {
	id, err := parseTenant(tenantID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT n.repo_id, n.qualified_name, n.node_type, n.properties
		FROM code_edges e
		JOIN code_nodes n
		  ON n.tenant_id = e.tenant_id AND n.qualified_name = e.to_node
		WHERE e.tenant_id = $1 AND e.from_node = $2
	`
	args := []interface{}{tenantID, qualifiedName}
	if edgeType != "" {
		query += ` AND e.edge_type = $3`
		args = append(args, edgeType)
	}

	var out []Node
	err = repository.WithTenant(ctx, s.db, id, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("get neighbors: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var node Node
			var raw []byte
			if err := rows.Scan(&node.RepoID, &node.QualifiedName, &node.NodeType, &raw); err != nil {
				return fmt.Errorf("scan neighbor: %w", err)
			}
			if err := json.Unmarshal(raw, &node.Properties); err != nil {
				return fmt.Errorf("decode neighbor properties: %w", err)
			}
			out = append(out, node)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresGraphStore) CountNodes(ctx context.Context, tenantID, repoID string) (int64, error) {
	if repoID != "" {
		return s.countScoped(ctx, tenantID,
			`SELECT count(*) FROM code_nodes WHERE tenant_id = $1 AND repo_id = $2`, repoID)
	}
	return s.countScoped(ctx, tenantID,
		`SELECT count(*) FROM code_nodes WHERE tenant_id = $1`)
}

func (s *PostgresGraphStore) CountEdges(ctx context.Context, tenantID, repoID string) (int64, error) {
	if repoID != "" {
		return s.countScoped(ctx, tenantID,
			`SELECT count(*) FROM code_edges WHERE tenant_id = $1 AND properties->>'repo_id' = $2`, repoID)
	}
	return s.countScoped(ctx, tenantID,
		`SELECT count(*) FROM code_edges WHERE tenant_id = $1`)
}

func (s *PostgresGraphStore) countScoped(ctx context.Context, tenantID, query string, extra ...interface{}) (int64, error) {
	id, err := parseTenant(tenantID)
	if err != nil {
		return 0, err
	}

	args := append([]interface{}{tenantID}, extra...)
	var n int64
	err = repository.WithTenant(ctx, s.db, id, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return fmt.Errorf("count graph rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresGraphStore) Close() error {
	return s.db.Close()
}

// parseTenant rejects empty or non-UUID tenant ids before any statement
// runs; the RLS session variable only ever receives a validated UUID.
func parseTenant(tenantID string) (uuid.UUID, error) {
	if tenantID == "" {
		return uuid.Nil, fmt.Errorf("%w: tenant_id cannot be empty", domain.ErrStorageScope)
	}
	id, err := uuid.Parse(tenantID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: tenant_id must be a UUID", domain.ErrStorageScope)
	}
	return id, nil
}

// stampTenant returns props with tenant_id overwritten by the
// authenticated tenant, copying so the caller's map is untouched.
func stampTenant(props map[string]interface{}, tenantID string) map[string]interface{} {
	out := make(map[string]interface{}, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out["tenant_id"] = tenantID
	return out
}
