package filter

import "github.com/2389/claude-slack/internal/vectorstore"

// nativeOps is the subset of operators a backend without full MongoDB parity
// can be expected to push down: equality, range, and set membership. Logical
// composition ($or, $not), array predicates, and negation are not split out
// and fall entirely to the residual, since a conjunction-only native filter
// can't represent them without risking a wrong answer.
var nativeOps = map[string]bool{
	"$eq": true, "$gt": true, "$gte": true, "$lt": true, "$lte": true, "$in": true,
}

// CompileNative splits tree into the portion expressible as a simple
// conjunction of equality/range/in clauses (returned as a vectorstore
// NativeFilter, itself just a Node) and everything else (the residual,
// evaluated in-process by the hybrid store via Eval). If tree's top level
// contains $or, $not, or any field clause using an operator outside
// nativeOps, that clause moves to residual instead of native.
//
// Only a flat, implicit-AND top level is split this way; a top-level $and
// is unwrapped one level (each clause considered independently) since that's
// semantically equivalent to the implicit-AND case. A top-level $or or $not
// is not decomposable without changing its meaning, so the whole tree
// becomes residual in that case.
func CompileNative(tree Node) (native vectorstore.NativeFilter, residual Node) {
	keys := sortedKeys(tree)
	if len(keys) == 1 && keys[0] == "$and" {
		clauses, _ := tree["$and"].([]any)
		nativePart := Node{}
		residualParts := make([]any, 0)
		for _, raw := range clauses {
			sub, ok := asNode(raw)
			if !ok {
				residualParts = append(residualParts, raw)
				continue
			}
			n, ok := splitFlatClause(sub)
			for k := range n {
				if _, dup := nativePart[k]; dup {
					ok = false // a second clause on one field must not overwrite the first
				}
			}
			if ok {
				for k, v := range n {
					nativePart[k] = v
				}
			} else {
				residualParts = append(residualParts, raw)
			}
		}
		return finalizeSplit(nativePart, residualParts)
	}

	if len(keys) == 1 && (keys[0] == "$or" || keys[0] == "$not") {
		return nil, tree
	}

	if n, ok := splitFlatClause(tree); ok {
		return n, nil
	}

	// Mixed: some fields native-able, others not.
	nativePart := Node{}
	residualPart := Node{}
	for _, field := range keys {
		single := Node{field: tree[field]}
		if n, ok := splitFlatClause(single); ok {
			nativePart[field] = n[field]
		} else {
			residualPart[field] = tree[field]
		}
	}
	if len(residualPart) == 0 {
		residual = nil
	} else {
		residual = residualPart
	}
	if len(nativePart) == 0 {
		return nil, residual
	}
	return nativePart, residual
}

func finalizeSplit(nativePart Node, residualParts []any) (vectorstore.NativeFilter, Node) {
	var native vectorstore.NativeFilter
	if len(nativePart) > 0 {
		native = nativePart
	}
	var residual Node
	if len(residualParts) > 0 {
		residual = Node{"$and": residualParts}
	}
	return native, residual
}

// splitFlatClause reports whether every field clause in tree uses only
// nativeOps (or bare-value sugar, which is $eq), in which case tree itself
// is returned unchanged as the native filter.
func splitFlatClause(tree Node) (Node, bool) {
	for field, val := range tree {
		if isOperator(field) {
			return nil, false
		}
		opMap, ok := asNode(val)
		if !ok {
			continue // bare value == $eq, always native
		}
		for op := range opMap {
			if !nativeOps[op] {
				return nil, false
			}
		}
	}
	return tree, true
}
