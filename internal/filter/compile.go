package filter

import (
	"fmt"
	"strings"

	"github.com/2389/claude-slack/internal/coreerr"
)

// Compiled is the result of compiling a filter tree against the relational
// store: a SQL boolean expression plus its positional arguments, ready to be
// embedded into a WHERE clause the caller already has a connection open for.
type Compiled struct {
	SQL  string
	Args []any
}

// CompileSQL turns tree into a SQL boolean expression reading from column
// (a TEXT column holding a JSON object, e.g. "metadata_json"). Validate must
// be called first; CompileSQL assumes tree is already well-formed and only
// returns an error for an unknown operator or an $in/$nin argument that is
// not an array.
func CompileSQL(tree Node, column string) (Compiled, error) {
	c := &sqlCompiler{column: column}
	sql, err := c.compile(tree)
	if err != nil {
		return Compiled{}, err
	}
	return Compiled{SQL: sql, Args: c.args}, nil
}

type sqlCompiler struct {
	column string
	args   []any
}

func (c *sqlCompiler) compile(tree Node) (string, error) {
	keys := sortedKeys(tree)

	if len(keys) == 1 && (keys[0] == "$and" || keys[0] == "$or") {
		return c.compileLogical(keys[0], tree[keys[0]])
	}
	if len(keys) == 1 && keys[0] == "$not" {
		sub, _ := asNode(tree["$not"])
		inner, err := c.compile(sub)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	}

	// Implicit AND of field clauses at this level.
	clauses := make([]string, 0, len(keys))
	for _, field := range keys {
		clause, err := c.compileField(field, tree[field])
		if err != nil {
			return "", err
		}
		clauses = append(clauses, clause)
	}
	return strings.Join(clauses, " AND "), nil
}

func (c *sqlCompiler) compileLogical(op string, val any) (string, error) {
	clauses, _ := val.([]any)
	parts := make([]string, 0, len(clauses))
	for _, raw := range clauses {
		sub, _ := asNode(raw)
		part, err := c.compile(sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+part+")")
	}
	joiner := " AND "
	if op == "$or" {
		joiner = " OR "
	}
	return strings.Join(parts, joiner), nil
}

func (c *sqlCompiler) path(field string) string {
	return fmt.Sprintf("json_extract(%s, '$.%s')", c.column, field)
}

func (c *sqlCompiler) compileField(field string, val any) (string, error) {
	path := c.path(field)

	opMap, ok := asNode(val)
	if !ok {
		// Bare value sugar: {field: value} == {field: {$eq: value}}.
		c.args = append(c.args, val)
		return path + " = ?", nil
	}

	keys := sortedKeys(opMap)
	parts := make([]string, 0, len(keys))
	for _, op := range keys {
		arg := opMap[op]
		part, err := c.compileOp(path, op, arg)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " AND "), nil
}

func (c *sqlCompiler) compileOp(path, op string, arg any) (string, error) {
	switch op {
	case "$eq":
		c.args = append(c.args, arg)
		return path + " = ?", nil
	case "$ne":
		c.args = append(c.args, arg)
		return path + " != ?", nil
	case "$gt":
		c.args = append(c.args, arg)
		return path + " > ?", nil
	case "$gte":
		c.args = append(c.args, arg)
		return path + " >= ?", nil
	case "$lt":
		c.args = append(c.args, arg)
		return path + " < ?", nil
	case "$lte":
		c.args = append(c.args, arg)
		return path + " <= ?", nil
	case "$in":
		return c.compileInOp(path, arg, "IN")
	case "$nin":
		return c.compileInOp(path, arg, "NOT IN")
	case "$contains":
		c.args = append(c.args, arg)
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = ?)", path), nil
	case "$all":
		items, _ := arg.([]any)
		parts := make([]string, 0, len(items))
		for _, item := range items {
			c.args = append(c.args, item)
			parts = append(parts, fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value = ?)", path))
		}
		return strings.Join(parts, " AND "), nil
	case "$size":
		c.args = append(c.args, arg)
		return fmt.Sprintf("(SELECT COUNT(*) FROM json_each(%s)) = ?", path), nil
	case "$exists":
		want, _ := arg.(bool)
		if want {
			return path + " IS NOT NULL", nil
		}
		return path + " IS NULL", nil
	case "$null":
		want, _ := arg.(bool)
		if want {
			return path + " IS NULL", nil
		}
		return path + " IS NOT NULL", nil
	default:
		return "", coreerr.New(coreerr.BadRequest, "unknown operator %q", op)
	}
}

func (c *sqlCompiler) compileInOp(path string, arg any, sqlOp string) (string, error) {
	items, ok := arg.([]any)
	if !ok {
		return "", coreerr.New(coreerr.BadRequest, "%s requires an array argument", sqlOp)
	}
	placeholders := make([]string, len(items))
	for i, item := range items {
		placeholders[i] = "?"
		c.args = append(c.args, item)
	}
	return fmt.Sprintf("%s %s (%s)", path, sqlOp, strings.Join(placeholders, ", ")), nil
}
