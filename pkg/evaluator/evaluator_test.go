package evaluator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareMissingVariableIsFalse(t *testing.T) {
	g := MapGetter{}
	require.False(t, Evaluate(Compare("status", Eq, Str("ok")), g))
}

func TestCompareOperators(t *testing.T) {
	g := MapGetter{"n": Num(5)}
	require.True(t, Evaluate(Compare("n", Eq, Num(5)), g))
	require.True(t, Evaluate(Compare("n", Ne, Num(4)), g))
	require.True(t, Evaluate(Compare("n", Gt, Num(1)), g))
	require.True(t, Evaluate(Compare("n", Ge, Num(5)), g))
	require.True(t, Evaluate(Compare("n", Lt, Num(9)), g))
	require.True(t, Evaluate(Compare("n", Le, Num(5)), g))
}

func TestLogicNilLeftIsIdentity(t *testing.T) {
	g := MapGetter{"x": Bool(true)}
	right := Compare("x", Eq, Bool(true))
	require.Equal(t, Evaluate(right, g), Evaluate(Logic(And, nil, right), g))
	require.Equal(t, Evaluate(right, g), Evaluate(Logic(Or, nil, right), g))
}

func TestLogicNotIgnoresLeft(t *testing.T) {
	g := MapGetter{"x": Bool(true)}
	right := Compare("x", Eq, Bool(true))
	left := Compare("x", Eq, Bool(false))
	require.Equal(t, !Evaluate(right, g), Evaluate(Logic(Not, left, right), g))
}

func TestLogicAndOrCombine(t *testing.T) {
	g := MapGetter{"a": Bool(false)}
	falseLeft := Compare("a", Eq, Bool(true))
	missingRight := Compare("missing", Eq, Bool(true))
	require.False(t, Evaluate(Logic(And, falseLeft, missingRight), g))

	trueLeft := Compare("a", Eq, Bool(false))
	require.True(t, Evaluate(Logic(Or, trueLeft, missingRight), g))
}

func TestWildcardMatch(t *testing.T) {
	require.True(t, wildcardMatch("*", "anything"))
	require.True(t, wildcardMatch("foo*", "foobar"))
	require.True(t, wildcardMatch("*bar", "foobar"))
	require.True(t, wildcardMatch("foo*bar", "foo-middle-bar"))
	require.False(t, wildcardMatch("foo*bar", "foo-middle"))
	require.True(t, wildcardMatch("exact", "exact"))
	require.False(t, wildcardMatch("exact", "exactly"))
}

func TestWildcardOperator(t *testing.T) {
	g := MapGetter{"path": Str("/usr/local/bin")}
	require.True(t, Evaluate(Compare("path", We, Str("/usr/*")), g))
	require.False(t, Evaluate(Compare("path", We, Str("/etc/*")), g))
}

func TestGetterFuncMatchesMapGetterBehavior(t *testing.T) {
	m := MapGetter{"k": Str("v")}
	f := GetterFunc(func(name string) (Value, bool) { return m.Get(name) })
	expr := Compare("k", Eq, Str("v"))
	require.Equal(t, Evaluate(expr, m), Evaluate(expr, f))
}

func TestParseFilterFileAllMatchesAllConditions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
conditions:
  - var: status
    op: eq
    value: ready
  - var: code
    op: we
    value: "5*"
`), 0o644))

	expr, err := ParseFilterFile(path)
	require.NoError(t, err)

	ok := MapGetter{"status": Str("ready"), "code": Str("503")}
	require.True(t, Evaluate(expr, ok))

	bad := MapGetter{"status": Str("ready"), "code": Str("200")}
	require.False(t, Evaluate(expr, bad))
}

func TestParseFilterFileAnyMatchesOneCondition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
any: true
conditions:
  - var: a
    op: eq
    value: "1"
  - var: b
    op: eq
    value: "2"
`), 0o644))

	expr, err := ParseFilterFile(path)
	require.NoError(t, err)

	require.True(t, Evaluate(expr, MapGetter{"a": Str("1"), "b": Str("x")}))
	require.False(t, Evaluate(expr, MapGetter{"a": Str("x"), "b": Str("y")}))
}

func TestParseFilterFileNotInverts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
not: true
conditions:
  - var: status
    op: eq
    value: ready
`), 0o644))

	expr, err := ParseFilterFile(path)
	require.NoError(t, err)
	require.False(t, Evaluate(expr, MapGetter{"status": Str("ready")}))
	require.True(t, Evaluate(expr, MapGetter{"status": Str("busy")}))
}

func TestParseFilterFileRejectsEmptyConditions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`any: true`), 0o644))

	_, err := ParseFilterFile(path)
	require.Error(t, err)
}
