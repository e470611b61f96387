// Package lint implements a small rule engine used by the lint processors.
// Rules are CEL expressions evaluated against every line of a resource; a
// rule that evaluates to true reports a finding on that line.
//
// Compiling the rules is the expensive part, so engines are meant to be
// reused through an engine pool.
package lint

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common"

	"github.com/wrogo/wro/pkg/resource"
)

// Rule is a named CEL expression over the variables `line` (string),
// `number` (int, 1 based) and `kind` (string, "css" or "js").
type Rule struct {
	Name       string
	Expression string
	Message    string
}

// Finding is a rule match on one line.
type Finding struct {
	Rule    string
	Line    int
	Message string
}

func (f Finding) String() string {
	return fmt.Sprintf("%d: %s (%s)", f.Line, f.Message, f.Rule)
}

// CSSRules are the rules applied by the cssLint processor.
var CSSRules = []Rule{
	{Name: "important", Expression: `line.contains("!important")`, Message: "avoid !important"},
	{Name: "empty-rules", Expression: `line.matches("\\{\\s*\\}")`, Message: "empty rule"},
	{Name: "star-property-hack", Expression: `line.matches("(^|[{;])\\s*\\*[a-zA-Z-]+\\s*:")`, Message: "star property hack"},
	{Name: "zero-units", Expression: `line.matches("[:\\s]0(px|em|rem|%)")`, Message: "unit on zero value"},
}

// JSRules are the rules applied by the jsLint processor.
var JSRules = []Rule{
	{Name: "evil", Expression: `line.matches("\\beval\\s*\\(")`, Message: "eval is evil"},
	{Name: "debug", Expression: `line.matches("\\bdebugger\\b")`, Message: "debugger statement"},
	{Name: "eqeqeq", Expression: `line.matches("[^=!]==[^=]")`, Message: "use === instead of =="},
	{Name: "with", Expression: `line.matches("\\bwith\\s*\\(")`, Message: "with statement"},
}

// CompilationError is returned when a rule cannot be compiled.
type CompilationError struct {
	Rule  string
	Cause error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("failed to compile lint rule '%s': %v", e.Rule, e.Cause)
}

func (e *CompilationError) Unwrap() error {
	return e.Cause
}

type program struct {
	rule Rule
	prg  cel.Program
}

// Engine evaluates a compiled rule set. An Engine must not be used by more
// than one goroutine at a time.
type Engine struct {
	typ      resource.Type
	programs []program
}

// NewEngine compiles rules into an engine linting resources of type typ.
func NewEngine(typ resource.Type, rules []Rule) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("line", cel.StringType),
		cel.Variable("number", cel.IntType),
		cel.Variable("kind", cel.StringType),
		cel.EagerlyValidateDeclarations(true),
	)
	if err != nil {
		return nil, err
	}

	e := &Engine{typ: typ, programs: make([]program, 0, len(rules))}
	for _, rule := range rules {
		ast, issues := env.CompileSource(common.NewStringSource(rule.Expression, rule.Name))
		if issues != nil {
			if err := issues.Err(); err != nil {
				return nil, &CompilationError{Rule: rule.Name, Cause: err}
			}
		}

		if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
			return nil, &CompilationError{
				Rule:  rule.Name,
				Cause: fmt.Errorf("expected a bool rule output, but got '%s'", ast.OutputType()),
			}
		}

		prg, err := env.Program(ast)
		if err != nil {
			return nil, &CompilationError{Rule: rule.Name, Cause: fmt.Errorf("rule program construction: %w", err)}
		}
		e.programs = append(e.programs, program{rule: rule, prg: prg})
	}
	return e, nil
}

// Factory returns a constructor suitable for an engine pool.
func Factory(typ resource.Type, rules []Rule) func(context.Context) (*Engine, error) {
	return func(context.Context) (*Engine, error) {
		return NewEngine(typ, rules)
	}
}

// Lint evaluates every rule on every line of text. Cancellation is checked
// between lines.
func (e *Engine) Lint(ctx context.Context, text string) ([]Finding, error) {
	var findings []Finding
	for i, line := range strings.Split(text, "\n") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		activation := map[string]any{
			"line":   line,
			"number": int64(i + 1),
			"kind":   string(e.typ),
		}
		for _, p := range e.programs {
			out, _, err := p.prg.Eval(activation)
			if err != nil {
				return nil, fmt.Errorf("failed to evaluate lint rule '%s': %w", p.rule.Name, err)
			}
			if matched, ok := out.Value().(bool); ok && matched {
				findings = append(findings, Finding{Rule: p.rule.Name, Line: i + 1, Message: p.rule.Message})
			}
		}
	}
	return findings, nil
}
