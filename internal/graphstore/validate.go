package graphstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/aeluslabs/tenantgate/internal/domain"
)

// validateTenantQuery enforces the storage scope invariant on a query
// before it is sent anywhere: the query text must reference tenant_id in a
// filter or join condition, and a tenant_id parameter, if supplied, must
// equal the authenticated tenant. A violation here is a programming bug in
// the caller, not user input; it is rejected with ErrStorageScope.
func validateTenantQuery(tenantID, query string, params map[string]interface{}) error {
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("%w: tenant_id cannot be empty", domain.ErrStorageScope)
	}

	lower := strings.ToLower(query)

	if strings.Contains(lower, "select") {
		if !strings.Contains(lower, "tenant_id") {
			return fmt.Errorf("%w: query must filter on tenant_id", domain.ErrStorageScope)
		}
		// tenant_id may appear in a JOIN condition instead of WHERE.
		if !strings.Contains(lower, "where") && !strings.Contains(lower, "join") {
			return fmt.Errorf("%w: SELECT must carry a WHERE or JOIN clause with tenant_id", domain.ErrStorageScope)
		}
	}

	if raw, ok := params["tenant_id"]; ok {
		supplied := fmt.Sprintf("%v", raw)
		if supplied != tenantID {
			return fmt.Errorf("%w: tenant_id parameter %q does not match caller %q",
				domain.ErrStorageScope, supplied, tenantID)
		}
	}

	return nil
}

// bindNamedParams rewrites :name placeholders into $n positional
// placeholders and returns the matching argument slice. Unreferenced
// params are ignored; referenced params must be present.
func bindNamedParams(query string, params map[string]interface{}) (string, []interface{}, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	// Longest first so :tenant_id is not clobbered by a :tenant param.
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	var args []interface{}
	bound := query
	for _, name := range names {
		placeholder := ":" + name
		if !strings.Contains(bound, placeholder) {
			continue
		}
		args = append(args, params[name])
		bound = strings.ReplaceAll(bound, placeholder, "$"+strconv.Itoa(len(args)))
	}

	for i := 0; i < len(bound)-1; i++ {
		if bound[i] != ':' {
			continue
		}
		// "::" is a Postgres cast, not a parameter.
		if bound[i+1] == ':' {
			i++
			continue
		}
		if isIdentByte(bound[i+1]) {
			end := i + 16
			if end > len(bound) {
				end = len(bound)
			}
			return "", nil, fmt.Errorf("unbound query parameter near %q", bound[i:end])
		}
	}

	return bound, args, nil
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
