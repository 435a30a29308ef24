package filter

import (
	"fmt"
	"strings"
)

// Eval evaluates tree against record in-process. The hybrid store uses it to
// apply a search filter to each fetched record, on top of whatever
// CompileNative pushed down to the vector store.
func Eval(tree Node, record map[string]any) (bool, error) {
	keys := sortedKeys(tree)

	if len(keys) == 1 && (keys[0] == "$and" || keys[0] == "$or") {
		clauses, _ := tree[keys[0]].([]any)
		results := make([]bool, 0, len(clauses))
		for _, raw := range clauses {
			sub, ok := asNode(raw)
			if !ok {
				return false, fmt.Errorf("filter: %s clause must be an object", keys[0])
			}
			ok2, err := Eval(sub, record)
			if err != nil {
				return false, err
			}
			results = append(results, ok2)
		}
		if keys[0] == "$and" {
			for _, r := range results {
				if !r {
					return false, nil
				}
			}
			return true, nil
		}
		for _, r := range results {
			if r {
				return true, nil
			}
		}
		return false, nil
	}

	if len(keys) == 1 && keys[0] == "$not" {
		sub, _ := asNode(tree["$not"])
		ok, err := Eval(sub, record)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}

	for _, field := range keys {
		ok, err := evalField(field, tree[field], record)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func lookup(record map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = record
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func evalField(field string, val any, record map[string]any) (bool, error) {
	actual, present := lookup(record, field)

	opMap, ok := asNode(val)
	if !ok {
		return present && equal(actual, val), nil
	}

	for _, op := range sortedKeys(opMap) {
		arg := opMap[op]
		ok, err := evalOp(op, arg, actual, present)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalOp(op string, arg, actual any, present bool) (bool, error) {
	switch op {
	case "$eq":
		return present && equal(actual, arg), nil
	case "$ne":
		return !present || !equal(actual, arg), nil
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false, nil
		}
		return compareNumeric(op, actual, arg)
	case "$in":
		items, _ := arg.([]any)
		if !present {
			return false, nil
		}
		for _, item := range items {
			if equal(actual, item) {
				return true, nil
			}
		}
		return false, nil
	case "$nin":
		items, _ := arg.([]any)
		if !present {
			return true, nil
		}
		for _, item := range items {
			if equal(actual, item) {
				return false, nil
			}
		}
		return true, nil
	case "$contains":
		if !present {
			return false, nil
		}
		arr, ok := actual.([]any)
		if !ok {
			return false, nil
		}
		for _, item := range arr {
			if equal(item, arg) {
				return true, nil
			}
		}
		return false, nil
	case "$all":
		if !present {
			return false, nil
		}
		arr, ok := actual.([]any)
		if !ok {
			return false, nil
		}
		items, _ := arg.([]any)
		for _, want := range items {
			found := false
			for _, got := range arr {
				if equal(got, want) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		}
		return true, nil
	case "$size":
		if !present {
			return false, nil
		}
		arr, ok := actual.([]any)
		if !ok {
			return false, nil
		}
		want, err := asFloat(arg)
		if err != nil {
			return false, err
		}
		return float64(len(arr)) == want, nil
	case "$exists":
		want, _ := arg.(bool)
		return (present && actual != nil) == want, nil
	case "$null":
		want, _ := arg.(bool)
		isNull := !present || actual == nil
		return isNull == want, nil
	default:
		return false, fmt.Errorf("filter: unknown operator %q", op)
	}
}

func equal(a, b any) bool {
	af, aok := asFloatLoose(a)
	bf, bok := asFloatLoose(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloatLoose(v any) (float64, bool) {
	f, err := asFloat(v)
	return f, err == nil
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("filter: expected numeric value, got %T", v)
	}
}

func compareNumeric(op string, actual, arg any) (bool, error) {
	a, err := asFloat(actual)
	if err != nil {
		return false, nil // non-numeric actual never satisfies an ordering comparison
	}
	b, err := asFloat(arg)
	if err != nil {
		return false, err
	}
	switch op {
	case "$gt":
		return a > b, nil
	case "$gte":
		return a >= b, nil
	case "$lt":
		return a < b, nil
	case "$lte":
		return a <= b, nil
	}
	return false, fmt.Errorf("filter: unreachable comparison operator %q", op)
}
