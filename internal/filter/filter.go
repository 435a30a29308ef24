// ABOUTME: MongoDB-style operator tree compiler, turning portable filter trees into SQL predicates
// ABOUTME: and into an in-process evaluator used for residual (non-SQL-expressible) predicates

package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/2389/claude-slack/internal/coreerr"
)

// Node is a bare filter tree, matching the JSON shape callers send:
// map[string]any at every level, leaves being either a bare value (sugar for
// $eq) or an operator map.
type Node = map[string]any

var comparisonOps = map[string]bool{
	"$eq": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true, "$lte": true,
}

var setOps = map[string]bool{"$in": true, "$nin": true}
var existenceOps = map[string]bool{"$exists": true, "$null": true}

func isOperator(key string) bool {
	return strings.HasPrefix(key, "$")
}

// Validate runs the pre-flight pass spec.md §4.3 requires: unknown operators,
// type-mismatched arguments, and empty $and/$or all fail before any store is
// touched.
func Validate(tree Node) error {
	return validateNode(tree, "")
}

func validateNode(tree Node, path string) error {
	hasField, hasLogical := false, false

	for key, val := range tree {
		switch {
		case key == "$and" || key == "$or":
			hasLogical = true
			clauses, ok := val.([]any)
			if !ok {
				return coreerr.New(coreerr.BadRequest, "%s: %s requires an array of clauses", path, key)
			}
			if len(clauses) == 0 {
				return coreerr.New(coreerr.BadRequest, "%s: %s must not be empty", path, key)
			}
			for i, c := range clauses {
				sub, ok := asNode(c)
				if !ok {
					return coreerr.New(coreerr.BadRequest, "%s: %s[%d] must be an object", path, key, i)
				}
				if err := validateNode(sub, fmt.Sprintf("%s.%s[%d]", path, key, i)); err != nil {
					return err
				}
			}
		case key == "$not":
			hasLogical = true
			sub, ok := asNode(val)
			if !ok {
				return coreerr.New(coreerr.BadRequest, "%s: $not requires an object clause", path)
			}
			if err := validateNode(sub, path+".$not"); err != nil {
				return err
			}
		case isOperator(key):
			return coreerr.New(coreerr.BadRequest, "%s: unknown top-level operator %q", path, key)
		default:
			hasField = true
			if err := validateFieldClause(key, val, path+"."+key); err != nil {
				return err
			}
		}
	}

	if hasField && hasLogical {
		return coreerr.New(coreerr.BadRequest, "%s: cannot mix a field clause with a logical operator at the same level", path)
	}
	return nil
}

func asNode(v any) (Node, bool) {
	n, ok := v.(map[string]any)
	return n, ok
}

func validateFieldClause(field string, val any, path string) error {
	opMap, ok := asNode(val)
	if !ok {
		// bare value: sugar for $eq, always valid.
		return nil
	}

	for op, arg := range opMap {
		switch {
		case comparisonOps[op]:
			// any scalar is acceptable.
		case setOps[op]:
			if _, ok := arg.([]any); !ok {
				return coreerr.New(coreerr.BadRequest, "%s: %s requires an array argument", path, op)
			}
		case op == "$contains" || op == "$all":
			if op == "$all" {
				if _, ok := arg.([]any); !ok {
					return coreerr.New(coreerr.BadRequest, "%s: $all requires an array argument", path)
				}
			}
		case op == "$size":
			switch arg.(type) {
			case int, int64, float64:
			default:
				return coreerr.New(coreerr.BadRequest, "%s: $size requires a numeric argument", path)
			}
		case existenceOps[op]:
			if _, ok := arg.(bool); !ok {
				return coreerr.New(coreerr.BadRequest, "%s: %s requires a boolean argument", path, op)
			}
		default:
			return coreerr.New(coreerr.BadRequest, "%s: unknown operator %q", path, op)
		}
	}
	return nil
}

// sortedKeys returns tree's keys in deterministic order, so SQL compilation
// output (and therefore test expectations) never depends on map iteration
// order.
func sortedKeys(tree Node) []string {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
