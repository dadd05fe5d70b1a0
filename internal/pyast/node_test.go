package pyast

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Output of the helper for `import os as x`.
const importFixture = `{
  "_t": "Module",
  "body": [
    {"_t": "Import", "_p": [1, 0, 1, 14], "names": [
      {"_t": "alias", "name": "os", "asname": "x"}
    ]}
  ]
}`

func TestNodeUnmarshal(t *testing.T) {
	var mod Node
	require.NoError(t, json.Unmarshal([]byte(importFixture), &mod))

	assert.Equal(t, "Module", mod.Type)
	assert.Nil(t, mod.Pos)
	require.Len(t, mod.Fields, 1)
	assert.Equal(t, "body", mod.Fields[0].Name)
	assert.Equal(t, KindNull, mod.Field("type_ignores").Kind, "empty lists are omitted")

	body := mod.Children("body")
	require.Len(t, body, 1)
	imp := body[0]
	assert.True(t, imp.Is("Import"))
	assert.Equal(t, &Pos{Line: 1, Col: 0, EndLine: 1, EndCol: 14}, imp.Pos)

	names := imp.Children("names")
	require.Len(t, names, 1)
	assert.Nil(t, names[0].Pos)
	assert.Equal(t, "os", names[0].Ident("name"))
	assert.Equal(t, "x", names[0].Ident("asname"))
}

func TestNodeUnmarshalKeepsFieldOrder(t *testing.T) {
	var n Node
	require.NoError(t, json.Unmarshal([]byte(`{"_t": "Call", "func": {"_t": "Name", "id": "f"}, "args": [], "keywords": [1]}`), &n))

	var got []string
	for _, f := range n.Fields {
		got = append(got, f.Name)
	}
	assert.Equal(t, []string{"func", "args", "keywords"}, got)
}

func TestValueVariants(t *testing.T) {
	var n Node
	require.NoError(t, json.Unmarshal([]byte(`{
		"_t": "Constant",
		"value": 12345678901234567890, "kind": null, "flag": true, "items": [1, "a", null]
	}`), &n))

	v := n.Field("value")
	assert.Equal(t, KindScalar, v.Kind)
	assert.Equal(t, json.Number("12345678901234567890"), v.Scalar)

	assert.Equal(t, KindNull, n.Field("kind").Kind)
	assert.Equal(t, true, n.Field("flag").Scalar)

	items := n.Field("items")
	require.Equal(t, KindList, items.Kind)
	require.Len(t, items.List, 3)
	assert.Equal(t, KindScalar, items.List[1].Kind)
	assert.Equal(t, KindNull, items.List[2].Kind)

	assert.Equal(t, KindNull, n.Field("missing").Kind)
	assert.Equal(t, "", n.Ident("value"), "non-string scalars are not identifiers")
	assert.Nil(t, n.Child("value"))
}

func TestNodeUnmarshalDeepChain(t *testing.T) {
	const depth = 20000
	var b strings.Builder
	for i := 0; i < depth; i++ {
		b.WriteString(`{"_t": "Attribute", "value": `)
	}
	b.WriteString(`{"_t": "Name", "id": "x"}`)
	b.WriteString(strings.Repeat(`, "attr": "a"}`, depth))

	// Deeper than encoding/json lets json.Unmarshal nest.
	var n Node
	require.NoError(t, n.UnmarshalJSON([]byte(b.String())))

	count := 0
	require.NoError(t, Walk(&n, func(*Node) error { count++; return nil }))
	assert.Equal(t, depth+1, count)
}

func TestDecodeResults(t *testing.T) {
	out, err := decodeResults(strings.NewReader(`{"results":[
		{"tree": {"_t": "Expression", "body": {"_t": "Name", "id": "x"}}},
		{"error": "invalid syntax", "line": 2, "offset": 5}
	]}`))
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.NotNil(t, out[0].Tree)
	assert.Equal(t, "x", out[0].Tree.Child("body").Ident("id"))
	assert.Nil(t, out[0].Err)

	assert.Nil(t, out[1].Tree)
	assert.Equal(t, &SyntaxError{Msg: "invalid syntax", Line: 2, Offset: 5}, out[1].Err)

	_, err = decodeResults(strings.NewReader(`{"results":[{}]}`))
	assert.ErrorContains(t, err, "neither tree nor error")

	_, err = decodeResults(strings.NewReader(`{"results":[`))
	assert.Error(t, err)
}

func TestNodeUnmarshalRejectsUntyped(t *testing.T) {
	var n Node
	assert.Error(t, json.Unmarshal([]byte(`{"id": "x"}`), &n))
}

func TestWalkOrder(t *testing.T) {
	// f(a.b, g(c))
	tree := NewNode("Call",
		F("func", NodeVal(NewNode("Name", F("id", StrVal("f"))))),
		F("args", ListVal(
			NodeVal(NewNode("Attribute",
				F("value", NodeVal(NewNode("Name", F("id", StrVal("a"))))),
				F("attr", StrVal("b")),
			)),
			NodeVal(NewNode("Call",
				F("func", NodeVal(NewNode("Name", F("id", StrVal("g"))))),
				F("args", ListVal(NodeVal(NewNode("Name", F("id", StrVal("c")))))),
			)),
		)),
		F("keywords", ListVal()),
	)

	var seen []string
	err := Walk(tree, func(n *Node) error {
		label := n.Type
		if id := n.Ident("id"); id != "" {
			label += ":" + id
		}
		seen = append(seen, label)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Call", "Name:f", "Attribute", "Name:a", "Call", "Name:g", "Name:c",
	}, seen)
}

func TestWalkStops(t *testing.T) {
	stop := errors.New("stop")
	tree := NewNode("Module", F("body", ListVal(
		NodeVal(NewNode("Expr")),
		NodeVal(NewNode("Pass")),
		NodeVal(NewNode("Expr")),
	)))

	count := 0
	err := Walk(tree, func(n *Node) error {
		count++
		if n.Type == "Pass" {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, count)
}
