package lint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wrogo/wro/pkg/resource"
)

func TestCSSRules(t *testing.T) {
	e, err := NewEngine(resource.TypeCSS, CSSRules)
	require.NoError(t, err)

	findings, err := e.Lint(context.Background(), ".a{color:red !important}\n.b{}\n.c{ *zoom: 1; }\n.d{margin: 0px}\n.ok{color:red}")
	require.NoError(t, err)
	require.Equal(t, []Finding{
		{Rule: "important", Line: 1, Message: "avoid !important"},
		{Rule: "empty-rules", Line: 2, Message: "empty rule"},
		{Rule: "star-property-hack", Line: 3, Message: "star property hack"},
		{Rule: "zero-units", Line: 4, Message: "unit on zero value"},
	}, findings)
}

func TestJSRules(t *testing.T) {
	e, err := NewEngine(resource.TypeJS, JSRules)
	require.NoError(t, err)

	findings, err := e.Lint(context.Background(), "eval('x');\nif (a == b) {}\nif (a === b) {}\ndebugger;")
	require.NoError(t, err)
	require.Len(t, findings, 3)
	require.Equal(t, "evil", findings[0].Rule)
	require.Equal(t, 2, findings[1].Line)
	require.Equal(t, "debug", findings[2].Rule)
	require.Equal(t, "4: debugger statement (debug)", findings[2].String())
}

func TestRuleVariables(t *testing.T) {
	e, err := NewEngine(resource.TypeJS, []Rule{
		{Name: "second-line", Expression: `number == 2 && kind == "js"`, Message: "second"},
	})
	require.NoError(t, err)

	findings, err := e.Lint(context.Background(), "a\nb\nc")
	require.NoError(t, err)
	require.Equal(t, []Finding{{Rule: "second-line", Line: 2, Message: "second"}}, findings)
}

func TestCompilationErrors(t *testing.T) {
	_, err := NewEngine(resource.TypeCSS, []Rule{{Name: "broken", Expression: `line.contains(`}})
	var compErr *CompilationError
	require.ErrorAs(t, err, &compErr)
	require.Equal(t, "broken", compErr.Rule)

	_, err = NewEngine(resource.TypeCSS, []Rule{{Name: "not-bool", Expression: `line.size()`}})
	require.ErrorAs(t, err, &compErr)
	require.ErrorContains(t, err, "expected a bool rule output")
}

func TestLintHonorsCancellation(t *testing.T) {
	e, err := NewEngine(resource.TypeCSS, CSSRules)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Lint(ctx, ".a{}")
	require.ErrorIs(t, err, context.Canceled)
}
