package processor

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/wrogo/wro/pkg/enginepool"
	"github.com/wrogo/wro/pkg/inject"
	"github.com/wrogo/wro/pkg/logger"
	"github.com/wrogo/wro/pkg/processor/lint"
	"github.com/wrogo/wro/pkg/resource"
)

var errNotInjected = errors.New("lint processor used before injection")

// LintProcessor reports rule findings on a resource and never changes it.
// Engines are borrowed from a pool shared by every instance of the same alias.
type LintProcessor struct {
	alias string
	typ   resource.Type
	rules []lint.Rule

	logger logger.Logger
	pool   *enginepool.Pool[*lint.Engine]
}

var (
	_ PreProcessor      = (*LintProcessor)(nil)
	_ Typed             = (*LintProcessor)(nil)
	_ inject.Injectable = (*LintProcessor)(nil)
)

func NewCSSLint() *LintProcessor {
	return &LintProcessor{alias: AliasCSSLint, typ: resource.TypeCSS, rules: lint.CSSRules, logger: logger.NewNoopLogger()}
}

func NewJSLint() *LintProcessor {
	return &LintProcessor{alias: AliasJSLint, typ: resource.TypeJS, rules: lint.JSRules, logger: logger.NewNoopLogger()}
}

func (p *LintProcessor) SupportedTypes() []resource.Type { return []resource.Type{p.typ} }

func (p *LintProcessor) Slots() []inject.Slot {
	return []inject.Slot{inject.SlotLogger, inject.SlotEnginePool}
}

func (p *LintProcessor) Inject(slot inject.Slot, value any) error {
	switch slot {
	case inject.SlotLogger:
		l, err := inject.Value[logger.Logger](slot, value)
		if err != nil {
			return err
		}
		p.logger = l.With(zap.String("processor", p.alias))
	case inject.SlotEnginePool:
		m, err := inject.Value[*enginepool.Manager](slot, value)
		if err != nil {
			return err
		}
		p.pool = enginepool.Shared(m, p.alias, lint.Factory(p.typ, p.rules))
	}
	return nil
}

func (p *LintProcessor) Process(ctx context.Context, res resource.Resource, input string) (string, error) {
	return p.lint(ctx, zap.String("uri", res.URI), input)
}

func (p *LintProcessor) lint(ctx context.Context, subject zap.Field, input string) (string, error) {
	if p.pool == nil {
		return "", errNotInjected
	}

	var findings []lint.Finding
	err := p.pool.Use(ctx, func(e *lint.Engine) error {
		var err error
		findings, err = e.Lint(ctx, input)
		return err
	})
	if err != nil {
		return "", err
	}

	for _, f := range findings {
		p.logger.WarnWithContext(ctx, "lint finding",
			subject,
			zap.Int("line", f.Line),
			zap.String("rule", f.Rule),
			zap.String("message", f.Message))
	}
	return input, nil
}

// LintPostProcessor lints a whole bundle. It shares the engine pool of the
// pre-processor registered under the same alias.
type LintPostProcessor struct {
	*LintProcessor
}

var _ PostProcessor = (*LintPostProcessor)(nil)

func NewCSSLintPost() *LintPostProcessor {
	return &LintPostProcessor{NewCSSLint()}
}

func NewJSLintPost() *LintPostProcessor {
	return &LintPostProcessor{NewJSLint()}
}

func (p *LintPostProcessor) Process(ctx context.Context, key resource.CacheKey, input string) (string, error) {
	return p.lint(ctx, zap.String("key", key.String()), input)
}
