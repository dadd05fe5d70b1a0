package pyast

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser(t *testing.T) *Interpreter {
	t.Helper()
	path, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not on PATH")
	}
	return NewInterpreter(path, 10*time.Second)
}

func TestParseModule(t *testing.T) {
	p := newTestParser(t)

	tree, err := p.Parse(context.Background(), "import math\nx = f\"{math.pi:.2f}\"\nprint(x)\n", ModeExec)
	require.NoError(t, err)
	require.True(t, tree.Is("Module"))

	body := tree.Children("body")
	require.Len(t, body, 3)
	assert.Equal(t, "Import", body[0].Type)
	assert.Equal(t, "Assign", body[1].Type)
	assert.Equal(t, "Expr", body[2].Type)
	assert.Equal(t, 3, body[2].Pos.Line)
	assert.Equal(t, 0, body[2].Pos.Col)

	var attrs []string
	require.NoError(t, Walk(tree, func(n *Node) error {
		if n.Is("Attribute") {
			attrs = append(attrs, n.Ident("attr"))
		}
		return nil
	}))
	assert.Equal(t, []string{"pi"}, attrs, "walk reaches into f-string parts")
}

func TestParseSyntaxError(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse(context.Background(), "def f(:\n", ModeExec)
	var se *SyntaxError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, 1, se.Line)
	assert.NotEmpty(t, se.Msg)
}

func TestParseAllMixed(t *testing.T) {
	p := newTestParser(t)

	results, err := p.ParseAll(context.Background(), []string{"1 + 2", "1 +", "x.y"}, ModeEval)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.NotNil(t, results[0].Tree)
	assert.Equal(t, "Expression", results[0].Tree.Type)
	assert.Equal(t, "BinOp", results[0].Tree.Child("body").Type)

	assert.Nil(t, results[1].Tree)
	assert.NotNil(t, results[1].Err)

	require.NotNil(t, results[2].Tree)
	assert.Equal(t, "Attribute", results[2].Tree.Child("body").Type)
}

func TestParseNullBytes(t *testing.T) {
	p := newTestParser(t)

	_, err := p.Parse(context.Background(), "x = 1\x00", ModeExec)
	var se *SyntaxError
	assert.True(t, errors.As(err, &se), "null bytes are a parse failure, got %v", err)
}

func TestParseMissingInterpreter(t *testing.T) {
	p := NewInterpreter("/nonexistent/python3", time.Second)

	_, err := p.Parse(context.Background(), "x = 1", ModeExec)
	require.Error(t, err)
	var se *SyntaxError
	assert.False(t, errors.As(err, &se))
}

func TestParseAllEmpty(t *testing.T) {
	p := NewInterpreter("/nonexistent/python3", time.Second)

	results, err := p.ParseAll(context.Background(), nil, ModeExec)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestParseHonoursCodingDeclaration(t *testing.T) {
	p := newTestParser(t)

	// Under UTF-7, +AAo- is a newline, so the comment hides an import.
	tree, err := p.Parse(context.Background(), "# coding: utf-7\nx = 1 #+AAo-import os\n", ModeExec)
	require.NoError(t, err)

	body := tree.Children("body")
	require.Len(t, body, 2)
	assert.Equal(t, "Import", body[1].Type)
}

func TestParseOmitsContexts(t *testing.T) {
	p := newTestParser(t)

	tree, err := p.Parse(context.Background(), "x = y\n", ModeExec)
	require.NoError(t, err)

	assign := tree.Children("body")[0]
	target := assign.Children("targets")[0]
	assert.Equal(t, "x", target.Ident("id"))
	assert.Equal(t, KindNull, target.Field("ctx").Kind)
	assert.Nil(t, target.Pos, "only statements carry positions")
}
