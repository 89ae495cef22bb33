package evaluator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// condition is one leaf comparison in a filter expression file,
// generalizing the teacher's map-shaped {"field", "operator", "value"}
// condition (pkg/evaluator/evaluator.go's EvaluateConditions) into a
// typed struct decoded straight off YAML instead of an any-typed map.
type condition struct {
	Var   string `yaml:"var"`
	Op    string `yaml:"op"`
	Value string `yaml:"value"`
	Type  string `yaml:"type"` // "str" (default), "num", or "bool"
}

// filterFile is the on-disk shape of a sink "filter" param target: a
// flat list of conditions combined by Any (OR) or, by default, All
// (AND), optionally wrapped in Not.
type filterFile struct {
	Any        bool        `yaml:"any"`
	Not        bool        `yaml:"not"`
	Conditions []condition `yaml:"conditions"`
}

var opNames = map[string]Op{
	"eq": Eq, "ne": Ne, "gt": Gt, "ge": Ge, "lt": Lt, "le": Le, "we": We,
}

func conditionValue(c condition) (Value, error) {
	switch c.Type {
	case "", "str":
		return Str(c.Value), nil
	case "num":
		var f float64
		if _, err := fmt.Sscanf(c.Value, "%g", &f); err != nil {
			return Value{}, fmt.Errorf("evaluator: condition %q: not a number: %v", c.Var, err)
		}
		return Num(f), nil
	case "bool":
		return Bool(c.Value == "true"), nil
	default:
		return Value{}, fmt.Errorf("evaluator: condition %q: unknown type %q", c.Var, c.Type)
	}
}

func conditionExpr(c condition) (Expr, error) {
	op, ok := opNames[c.Op]
	if !ok {
		return nil, fmt.Errorf("evaluator: condition %q: unknown op %q", c.Var, c.Op)
	}
	val, err := conditionValue(c)
	if err != nil {
		return nil, err
	}
	return Compare(c.Var, op, val), nil
}

// buildTree folds a filterFile's condition list into a Compare/Logic
// tree: And when Any is false, Or when true, then wraps the result in
// Not if requested. An empty condition list (with or without Not)
// matches nothing meaningful, so it is rejected rather than silently
// treated as "always true" or "always false".
func buildTree(f filterFile) (Expr, error) {
	if len(f.Conditions) == 0 {
		return nil, fmt.Errorf("evaluator: filter file has no conditions")
	}
	op := And
	if f.Any {
		op = Or
	}
	var tree Expr
	for _, c := range f.Conditions {
		leaf, err := conditionExpr(c)
		if err != nil {
			return nil, err
		}
		tree = Logic(op, tree, leaf)
	}
	if f.Not {
		tree = Logic(Not, nil, tree)
	}
	return tree, nil
}

// ParseFilterFile decodes a YAML filter expression file (the target of a
// sink route entry's "filter" param, per spec.md §6) into an Expr tree
// ready for Evaluate.
func ParseFilterFile(path string) (Expr, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("evaluator: read filter file %s: %w", path, err)
	}
	var f filterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("evaluator: parse filter file %s: %w", path, err)
	}
	return buildTree(f)
}
