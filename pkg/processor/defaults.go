package processor

import "github.com/wrogo/wro/pkg/resource"

// NewDefaultRegistry returns a registry holding every built-in processor.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	r.MustRegisterPre(AliasCSSMin, func() PreProcessor { return NewMinifyPre(resource.TypeCSS) })
	r.MustRegisterPre(AliasJSMin, func() PreProcessor { return NewMinifyPre(resource.TypeJS) })
	r.MustRegisterPre(AliasCSSLint, func() PreProcessor { return NewCSSLint() })
	r.MustRegisterPre(AliasJSLint, func() PreProcessor { return NewJSLint() })
	r.MustRegisterPre(AliasSemicolonAppender, func() PreProcessor { return SemicolonAppender{} })
	r.MustRegisterPre(AliasStripComments, func() PreProcessor { return StripComments{} })

	r.MustRegisterPost(AliasCSSMin, func() PostProcessor { return NewMinifyPost(resource.TypeCSS) })
	r.MustRegisterPost(AliasJSMin, func() PostProcessor { return NewMinifyPost(resource.TypeJS) })
	r.MustRegisterPost(AliasCSSLint, func() PostProcessor { return NewCSSLintPost() })
	r.MustRegisterPost(AliasJSLint, func() PostProcessor { return NewJSLintPost() })
	r.MustRegisterPost(AliasStripComments, func() PostProcessor { return StripCommentsPost{} })

	return r
}
